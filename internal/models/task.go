package models

import (
	"errors"

	"github.com/guregu/null/v6"
	"lastpatch/internal/document"
)

// This file contains the models of the `foreman_tasks/api/tasks` resource

type TaskState string

const (
	TsPlanning TaskState = "planning"
	TsPlanned  TaskState = "planned"
	TsPending  TaskState = "pending"
	TsRunning  TaskState = "running"
	TsPaused   TaskState = "paused"
	TsStopped  TaskState = "stopped"
)

// IsTerminal reports whether no further transitions happen after this state. The remote side
// only ever finishes a task by stopping it.
func (s TaskState) IsTerminal() bool {
	return s == TsStopped
}

// Task is one snapshot of a remote task status. Every poll fetches a new one.
type Task struct {
	ID        string      `json:"id"`
	Label     null.String `json:"label"`
	State     TaskState   `json:"state"`
	Result    null.String `json:"result"`
	Progress  null.Float  `json:"progress"`
	Duration  null.String `json:"duration"`
	StartedAt null.String `json:"started_at"`
	EndedAt   null.String `json:"ended_at"`
}

// TaskFromDocument projects the fields the poller reports on out of a task status document
func TaskFromDocument(doc document.Value) (Task, error) {
	if doc.Kind() != document.Object {
		return Task{}, errors.New("task status is not an object")
	}

	id, ok := doc.Field("id")
	if !ok || id.IsNull() {
		return Task{}, errors.New("task status has no id")
	}

	task := Task{
		ID:        id.Text(),
		Label:     optionalString(doc, "label"),
		State:     TaskState(optionalString(doc, "state").ValueOrZero()),
		Result:    optionalString(doc, "result"),
		Duration:  optionalString(doc, "duration"),
		StartedAt: optionalString(doc, "started_at"),
		EndedAt:   optionalString(doc, "ended_at"),
	}

	if p, ok := doc.Field("progress"); ok {
		if f, ok := p.Float64(); ok {
			task.Progress = null.FloatFrom(f)
		}
	}

	return task, nil
}

// optionalString reads a scalar field as text, invalid when the field is absent or null
func optionalString(doc document.Value, path string) null.String {
	v, ok := doc.Lookup(path)
	if !ok || v.IsNull() {
		return null.String{}
	}
	return null.StringFrom(v.Text())
}

func optionalInt(doc document.Value, path string) null.Int {
	v, ok := doc.Lookup(path)
	if !ok {
		return null.Int{}
	}
	n, ok := v.Int64()
	if !ok {
		return null.Int{}
	}
	return null.IntFrom(n)
}
