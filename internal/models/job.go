package models

import (
	"errors"
	"fmt"

	"github.com/guregu/null/v6"
	"lastpatch/internal/document"
)

// This file contains the models of the `api/job_templates` and `api/job_invocations` resources

// JobTemplate is a reusable remote command definition, found by category and name
type JobTemplate struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	JobCategory string `json:"job_category"`
}

// Host is one target of a job invocation
type Host struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// JobInvocation is a remote execution request against the hosts matched by a search query.
// Counters are kept as text since the API reports "N/A" while a job is still planning.
type JobInvocation struct {
	ID             int64       `json:"id"`
	Description    string      `json:"description"`
	StatusLabel    string      `json:"status_label"`
	Succeeded      string      `json:"succeeded"`
	Failed         string      `json:"failed"`
	Total          string      `json:"total"`
	StartAt        null.String `json:"start_at"`
	TemplateID     null.Int    `json:"job_template_id"`
	SearchQuery    null.String `json:"search_query"`
	OrganizationID null.Int    `json:"organization_id"`
	LocationID     null.Int    `json:"location_id"`
	TaskID         null.String `json:"task_id"`
	Hosts          []Host      `json:"hosts"`
}

// SuccessFailTotal renders the counters as "succeeded/failed/total"
func (j JobInvocation) SuccessFailTotal() string {
	return fmt.Sprintf("%s/%s/%s", j.Succeeded, j.Failed, j.Total)
}

// UniqueHosts returns the targeted hosts in order, keeping the first entry of a repeated name
func (j JobInvocation) UniqueHosts() []Host {
	seen := make(map[string]bool, len(j.Hosts))
	hosts := make([]Host, 0, len(j.Hosts))
	for _, h := range j.Hosts {
		if seen[h.Name] {
			continue
		}
		seen[h.Name] = true
		hosts = append(hosts, h)
	}
	return hosts
}

// JobInvocationRequest is the payload posted to create a job invocation
type JobInvocationRequest struct {
	OrganizationID int64              `json:"organization_id"`
	LocationID     null.Int           `json:"location_id,omitzero"`
	JobInvocation  JobInvocationInput `json:"job_invocation"`
}

type JobInvocationInput struct {
	JobTemplateID int64             `json:"job_template_id"`
	Inputs        map[string]string `json:"inputs"`
	TargetingType string            `json:"targeting_type"`
	SearchQuery   string            `json:"search_query"`
}

const TargetingStaticQuery = "static_query"

// NewJobInvocationRequest builds the request that runs command on every host matching query
func NewJobInvocationRequest(templateID int64, command, query string, organizationID int64, locationID null.Int) JobInvocationRequest {
	return JobInvocationRequest{
		OrganizationID: organizationID,
		LocationID:     locationID,
		JobInvocation: JobInvocationInput{
			JobTemplateID: templateID,
			Inputs:        map[string]string{"command": command},
			TargetingType: TargetingStaticQuery,
			SearchQuery:   query,
		},
	}
}

func JobTemplateFromDocument(doc document.Value) (JobTemplate, error) {
	id, err := requiredID(doc)
	if err != nil {
		return JobTemplate{}, fmt.Errorf("job template: %w", err)
	}

	return JobTemplate{
		ID:          id,
		Name:        optionalString(doc, "name").ValueOrZero(),
		JobCategory: optionalString(doc, "job_category").ValueOrZero(),
	}, nil
}

// JobInvocationFromDocument projects a job invocation, from either the list or the detail
// endpoint. The detail endpoint nests hosts under targeting and the task under task.
func JobInvocationFromDocument(doc document.Value) (JobInvocation, error) {
	id, err := requiredID(doc)
	if err != nil {
		return JobInvocation{}, fmt.Errorf("job invocation: %w", err)
	}

	job := JobInvocation{
		ID:             id,
		Description:    optionalString(doc, "description").ValueOrZero(),
		StatusLabel:    optionalString(doc, "status_label").ValueOrZero(),
		Succeeded:      optionalString(doc, "succeeded").ValueOrZero(),
		Failed:         optionalString(doc, "failed").ValueOrZero(),
		Total:          optionalString(doc, "total").ValueOrZero(),
		StartAt:        optionalString(doc, "start_at"),
		TemplateID:     optionalInt(doc, "job_template_id"),
		SearchQuery:    optionalString(doc, "targeting.search_query"),
		OrganizationID: optionalInt(doc, "organization_id"),
		LocationID:     optionalInt(doc, "location_id"),
		TaskID:         optionalString(doc, "task.id"),
	}

	if hosts, ok := doc.Lookup("targeting.hosts"); ok {
		for i, h := range hosts.Items() {
			hostID, err := requiredID(h)
			if err != nil {
				return JobInvocation{}, fmt.Errorf("job invocation %d host %d: %w", id, i, err)
			}
			job.Hosts = append(job.Hosts, Host{
				ID:   hostID,
				Name: optionalString(h, "name").ValueOrZero(),
			})
		}
	}

	return job, nil
}

func requiredID(doc document.Value) (int64, error) {
	v, ok := doc.Field("id")
	if !ok {
		return 0, errors.New("missing id")
	}
	id, ok := v.Int64()
	if !ok {
		return 0, fmt.Errorf("id %s is not an integer", v)
	}
	return id, nil
}
