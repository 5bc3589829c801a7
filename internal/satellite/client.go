package satellite

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-rootcerts"
	"github.com/rs/zerolog"
	"lastpatch/internal/document"
	"lastpatch/internal/models"
)

// API is the part of the Satellite (Foreman) API needed to run a remote command and collect
// its output
type API interface {
	FindJobTemplate(ctx context.Context, category, name string) (models.JobTemplate, error)
	CreateJobInvocation(ctx context.Context, req models.JobInvocationRequest) (models.JobInvocation, error)
	ListJobInvocations(ctx context.Context, search, order string) ([]models.JobInvocation, error)
	GetJobInvocation(ctx context.Context, id int64) (models.JobInvocation, error)
	GetHostResult(ctx context.Context, jobID int64, host models.Host) (models.HostResult, error)
	HostResultURL(jobID, hostID int64) string
	GetTask(ctx context.Context, id string) (document.Value, error)
	TaskURL(id string) string
}

var _ API = (*Client)(nil)

type Config struct {
	Server   string
	Port     int
	User     string
	Password string
	Insecure bool
	CAFile   string
	CAPath   string
}

// BaseURL is the root every API path is resolved against. The default https port is left out.
func (c Config) BaseURL() string {
	if c.Port == 0 || c.Port == 443 {
		return fmt.Sprintf("https://%s/", c.Server)
	}
	return fmt.Sprintf("https://%s/", net.JoinHostPort(c.Server, strconv.Itoa(c.Port)))
}

// maxErrorBody caps how much of an error response ends up in an HTTPError
const maxErrorBody = 4 << 10

type Client struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
	log      zerolog.Logger
}

// NewClient creates a client that sends basic auth credentials with every request. Certificate
// validation uses the system roots unless CAFile or CAPath are given, or is skipped entirely when
// Insecure is set.
func NewClient(conf Config, log zerolog.Logger) (*Client, error) {
	tlsConf := &tls.Config{MinVersion: tls.VersionTLS12}
	if conf.Insecure {
		tlsConf.InsecureSkipVerify = true
	} else {
		err := rootcerts.ConfigureTLS(tlsConf, &rootcerts.Config{
			CAFile: conf.CAFile,
			CAPath: conf.CAPath,
		})
		if err != nil {
			return nil, fmt.Errorf("could not load CA certificates: %w", err)
		}
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.TLSClientConfig = tlsConf

	c := &Client{
		baseURL:  conf.BaseURL(),
		user:     conf.User,
		password: conf.Password,
		http:     &http.Client{Transport: transport},
		log:      log,
	}

	log.Debug().
		Str("url", c.baseURL).
		Str("user", conf.User).
		Bool("insecure", conf.Insecure).
		Msg("Created Satellite client")

	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) FindJobTemplate(ctx context.Context, category, name string) (models.JobTemplate, error) {
	search := fmt.Sprintf(`job_category = "%s" and name = "%s"`, category, name)
	c.log.Info().Str("search", search).Msg("Getting job template id")

	doc, err := c.get(ctx, "api/job_templates", url.Values{
		"search":   {search},
		"per_page": {"1"},
	})
	if err != nil {
		return models.JobTemplate{}, err
	}

	results, _ := doc.Field("results")
	if results.Len() == 0 {
		return models.JobTemplate{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, search)
	}

	template, err := models.JobTemplateFromDocument(results.Items()[0])
	if err != nil {
		return models.JobTemplate{}, err
	}

	c.log.Debug().Int64("template_id", template.ID).Str("name", template.Name).Msg("Found template")
	return template, nil
}

func (c *Client) CreateJobInvocation(ctx context.Context, req models.JobInvocationRequest) (models.JobInvocation, error) {
	doc, err := c.do(ctx, http.MethodPost, "api/job_invocations", nil, req)
	if err != nil {
		return models.JobInvocation{}, err
	}
	return models.JobInvocationFromDocument(doc)
}

// ListJobInvocations returns the jobs matching search on the first page of results
func (c *Client) ListJobInvocations(ctx context.Context, search, order string) ([]models.JobInvocation, error) {
	query := url.Values{"search": {search}}
	if order != "" {
		query.Set("order", order)
	}

	doc, err := c.get(ctx, "api/job_invocations", query)
	if err != nil {
		return nil, err
	}

	results, _ := doc.Field("results")
	if results.Len() == 0 {
		return nil, fmt.Errorf("%w: search=%s", ErrNoJobs, search)
	}

	jobs := make([]models.JobInvocation, 0, results.Len())
	for _, item := range results.Items() {
		job, err := models.JobInvocationFromDocument(item)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (c *Client) GetJobInvocation(ctx context.Context, id int64) (models.JobInvocation, error) {
	doc, err := c.get(ctx, fmt.Sprintf("api/job_invocations/%d", id), nil)
	if err != nil {
		return models.JobInvocation{}, err
	}
	return models.JobInvocationFromDocument(doc)
}

func (c *Client) GetHostResult(ctx context.Context, jobID int64, host models.Host) (models.HostResult, error) {
	doc, err := c.get(ctx, hostResultPath(jobID, host.ID), nil)
	if err != nil {
		return models.HostResult{}, err
	}
	return models.HostResultFromDocument(host.ID, host.Name, doc), nil
}

func (c *Client) HostResultURL(jobID, hostID int64) string {
	return c.baseURL + hostResultPath(jobID, hostID)
}

func (c *Client) GetTask(ctx context.Context, id string) (document.Value, error) {
	return c.get(ctx, taskPath(id), nil)
}

func (c *Client) TaskURL(id string) string {
	return c.baseURL + taskPath(id)
}

func hostResultPath(jobID, hostID int64) string {
	return fmt.Sprintf("api/job_invocations/%d/hosts/%d", jobID, hostID)
}

func taskPath(id string) string {
	return "foreman_tasks/api/tasks/" + url.PathEscape(id)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (document.Value, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

// do sends one request and decodes the JSON response into a document
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (document.Value, error) {
	endpoint := c.baseURL + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return document.Value{}, fmt.Errorf("could not encode request for %s: %w", endpoint, err)
		}
		c.log.Trace().RawJSON("data", data).Str("url", endpoint).Msg("Request payload")
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return document.Value{}, err
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.log.Debug().Str("method", method).Str("url", endpoint).Msg("Request")

	resp, err := c.http.Do(req)
	if err != nil {
		return document.Value{}, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Error().Err(err).Str("url", endpoint).Msg("Could not close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return document.Value{}, &HTTPError{
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return document.Value{}, fmt.Errorf("could not read response of %s: %w", endpoint, err)
	}

	c.log.Debug().
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Msg("Response")

	doc, err := document.Parse(data)
	if err != nil {
		return document.Value{}, fmt.Errorf("could not decode response of %s: %w", endpoint, err)
	}

	c.log.Trace().Str("url", endpoint).Stringer("json", doc).Msg("Response data")
	return doc, nil
}
