// Package satellitetest provides an in-process Satellite API for tests
package satellitetest

import (
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"lastpatch/internal/models"
	"lastpatch/internal/satellite"
)

const (
	User     = "admin"
	Password = "chang:eme"
)

// Job is a job invocation known to the server
type Job struct {
	ID          int64
	Description string
	StatusLabel string
	Succeeded   int
	Failed      int
	Total       int
	StartAt     string
	SearchQuery string
	TaskID      string
	Hosts       []models.Host

	// Outputs holds the output chunks per host id. Hosts without an entry report no output.
	Outputs map[int64][]models.OutputChunk
}

// Server fakes the job template, job invocation and task endpoints of a Satellite server. Task
// statuses are scripted per task id: every fetch returns the next one and the last one repeats.
// Tasks without a script are reported as stopped.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	templates []models.JobTemplate
	jobs      []*Job
	tasks     map[string][]map[string]any
	fetches   map[string]int
	created   []models.JobInvocationRequest
	queries   map[string][]url.Values
	nextJobID int64

	// NewJob shapes the job registered for a created invocation. ID and TaskID are filled in
	// when left empty.
	NewJob func(req models.JobInvocationRequest) Job
}

// New starts a TLS server that accepts the User and Password credentials. It is closed when the
// test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		tasks:     make(map[string][]map[string]any),
		fetches:   make(map[string]int),
		queries:   make(map[string][]url.Values),
		nextJobID: 100,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.BasicAuth("satellite", map[string]string{User: Password}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/job_templates", s.listTemplates)
		r.Get("/job_invocations", s.listJobs)
		r.Post("/job_invocations", s.createJob)
		r.Get("/job_invocations/{jobID}", s.getJob)
		r.Get("/job_invocations/{jobID}/hosts/{hostID}", s.getHostResult)
	})
	r.Get("/foreman_tasks/api/tasks/{taskID}", s.getTask)

	s.Server = httptest.NewTLSServer(r)
	t.Cleanup(s.Close)

	return s
}

// Config returns client settings that reach the server and trust its certificate
func (s *Server) Config(t testing.TB) satellite.Config {
	t.Helper()

	u, err := url.Parse(s.URL)
	if err != nil {
		t.Fatalf("could not parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("could not parse server port: %v", err)
	}

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.Certificate().Raw})
	if err := os.WriteFile(caFile, block, 0o600); err != nil {
		t.Fatalf("could not write CA file: %v", err)
	}

	return satellite.Config{
		Server:   u.Hostname(),
		Port:     port,
		User:     User,
		Password: Password,
		CAFile:   caFile,
	}
}

func (s *Server) AddTemplate(tpl models.JobTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append(s.templates, tpl)
}

// AddJob registers a job. Jobs are listed in the order they were added.
func (s *Server) AddJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &job)
}

// ScriptTask sets the statuses returned by consecutive fetches of a task
func (s *Server) ScriptTask(taskID string, statuses ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskID] = statuses
}

// TaskStatus builds a task status document
func TaskStatus(taskID, state string, progress float64, duration string) map[string]any {
	return map[string]any{
		"id":       taskID,
		"label":    "Actions::RemoteExecution::RunHostsJob",
		"state":    state,
		"result":   "pending",
		"progress": progress,
		"duration": duration,
	}
}

// TaskFetches returns how often a task status was fetched
func (s *Server) TaskFetches(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[taskID]
}

// Created returns the create requests received so far
func (s *Server) Created() []models.JobInvocationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.JobInvocationRequest(nil), s.created...)
}

// Queries returns the query strings received on a path, such as "/api/job_invocations"
func (s *Server) Queries(path string) []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.queries[path]...)
}

func (s *Server) record(r *http.Request) {
	s.queries[r.URL.Path] = append(s.queries[r.URL.Path], r.URL.Query())
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r)

	search := r.URL.Query().Get("search")
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	results := make([]any, 0)
	for _, tpl := range s.templates {
		if !strings.Contains(search, fmt.Sprintf(`name = "%s"`, tpl.Name)) ||
			!strings.Contains(search, fmt.Sprintf(`job_category = "%s"`, tpl.JobCategory)) {
			continue
		}
		if perPage > 0 && len(results) == perPage {
			break
		}
		results = append(results, map[string]any{
			"id":           tpl.ID,
			"name":         tpl.Name,
			"job_category": tpl.JobCategory,
		})
	}

	serveJson(w, page(search, results))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r)

	search := r.URL.Query().Get("search")
	_, description, filtered := strings.Cut(search, "description=")
	description = strings.Trim(description, `"`)

	results := make([]any, 0)
	for _, job := range s.jobs {
		if filtered && job.Description != description {
			continue
		}
		results = append(results, renderJob(job, false))
	}

	serveJson(w, page(search, results))
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req models.JobInvocationRequest
	if err := readJson(w, r, &req); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r)
	s.created = append(s.created, req)

	var job Job
	if s.NewJob != nil {
		job = s.NewJob(req)
	}
	if job.ID == 0 {
		s.nextJobID++
		job.ID = s.nextJobID
	}
	if job.TaskID == "" {
		job.TaskID = fmt.Sprintf("task-%d", job.ID)
	}
	if job.Description == "" {
		job.Description = "Run " + req.JobInvocation.Inputs["command"]
	}
	if job.SearchQuery == "" {
		job.SearchQuery = req.JobInvocation.SearchQuery
	}
	s.jobs = append(s.jobs, &job)

	serveJsonStatus(w, http.StatusCreated, renderJob(&job, true))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r)

	job := s.findJob(chi.URLParam(r, "jobID"))
	if job == nil {
		notFound(w, "job invocation")
		return
	}

	serveJson(w, renderJob(job, true))
}

func (s *Server) getHostResult(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r)

	job := s.findJob(chi.URLParam(r, "jobID"))
	if job == nil {
		notFound(w, "job invocation")
		return
	}

	hostID, err := strconv.ParseInt(chi.URLParam(r, "hostID"), 10, 64)
	if err != nil {
		notFound(w, "host")
		return
	}

	output := make([]any, 0)
	for _, chunk := range job.Outputs[hostID] {
		output = append(output, map[string]any{
			"output_type": chunk.Type,
			"output":      chunk.Output,
			"timestamp":   1.7e9,
		})
	}

	serveJson(w, map[string]any{
		"complete": true,
		"output":   output,
	})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r)

	taskID := chi.URLParam(r, "taskID")
	n := s.fetches[taskID]
	s.fetches[taskID] = n + 1

	script, ok := s.tasks[taskID]
	if !ok || len(script) == 0 {
		serveJson(w, TaskStatus(taskID, string(models.TsStopped), 1, "1.0"))
		return
	}

	serveJson(w, script[min(n, len(script)-1)])
}

func (s *Server) findJob(rawID string) *Job {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil
	}
	for _, job := range s.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

func renderJob(job *Job, detail bool) map[string]any {
	out := map[string]any{
		"id":           job.ID,
		"description":  job.Description,
		"job_category": "Commands",
		"status_label": job.StatusLabel,
		"succeeded":    job.Succeeded,
		"failed":       job.Failed,
		"total":        job.Total,
		"start_at":     job.StartAt,
	}
	if !detail {
		return out
	}

	hosts := make([]any, 0, len(job.Hosts))
	for _, h := range job.Hosts {
		hosts = append(hosts, map[string]any{"id": h.ID, "name": h.Name})
	}
	out["targeting"] = map[string]any{
		"search_query":   job.SearchQuery,
		"targeting_type": models.TargetingStaticQuery,
		"hosts":          hosts,
	}
	out["task"] = map[string]any{"id": job.TaskID, "state": "planned"}
	return out
}

func page(search string, results []any) map[string]any {
	return map[string]any{
		"total":    len(results),
		"subtotal": len(results),
		"page":     1,
		"per_page": 20,
		"search":   search,
		"results":  results,
	}
}

func notFound(w http.ResponseWriter, resource string) {
	serveJsonStatus(w, http.StatusNotFound, map[string]any{
		"error": map[string]any{"message": resource + " not found"},
	})
}

func readJson(w http.ResponseWriter, r *http.Request, payload any) error {
	defer func() { _ = r.Body.Close() }()

	err := json.NewDecoder(r.Body).Decode(payload)
	if err != nil {
		http.Error(w, "could not parse request body to payload", http.StatusBadRequest)
	}
	return err
}

func serveJson(w http.ResponseWriter, payload any) {
	serveJsonStatus(w, http.StatusOK, payload)
}

func serveJsonStatus(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Failed to encode payload", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
