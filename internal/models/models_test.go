package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lastpatch/internal/document"
	"lastpatch/internal/models"
)

func mustParse(t *testing.T, s string) document.Value {
	t.Helper()
	doc, err := document.Parse([]byte(s))
	require.NoError(t, err)
	return doc
}

func TestTaskFromDocument(t *testing.T) {
	doc := mustParse(t, `{
		"id": "a1b2c3d4-0000-4000-8000-000000000001",
		"label": "Actions::RemoteExecution::RunHostsJob",
		"state": "running",
		"result": "pending",
		"progress": 0.5,
		"duration": "12.5",
		"started_at": "2024-01-01 10:00:00 UTC",
		"ended_at": null
	}`)

	task, err := models.TaskFromDocument(doc)
	require.NoError(t, err)

	assert.Equal(t, "a1b2c3d4-0000-4000-8000-000000000001", task.ID)
	assert.Equal(t, models.TsRunning, task.State)
	assert.False(t, task.State.IsTerminal())
	assert.Equal(t, null.StringFrom("pending"), task.Result)
	assert.Equal(t, null.FloatFrom(0.5), task.Progress)
	assert.Equal(t, null.StringFrom("12.5"), task.Duration)
	assert.False(t, task.EndedAt.Valid)

	t.Run("missing id", func(t *testing.T) {
		_, err := models.TaskFromDocument(mustParse(t, `{"state":"stopped"}`))
		assert.Error(t, err)
	})

	t.Run("not an object", func(t *testing.T) {
		_, err := models.TaskFromDocument(mustParse(t, `[]`))
		assert.Error(t, err)
	})

	t.Run("stopped is terminal", func(t *testing.T) {
		task, err := models.TaskFromDocument(mustParse(t, `{"id": 3, "state": "stopped"}`))
		require.NoError(t, err)
		assert.Equal(t, "3", task.ID)
		assert.True(t, task.State.IsTerminal())
	})
}

func TestJobInvocationFromDocument(t *testing.T) {
	doc := mustParse(t, `{
		"id": 42,
		"description": "Run rpm -qa --last",
		"status_label": "succeeded",
		"succeeded": 2,
		"failed": 0,
		"total": 2,
		"start_at": "2024-03-01 08:00:00 UTC",
		"job_template_id": 185,
		"organization_id": 1,
		"location_id": null,
		"targeting": {
			"search_query": "os ~ RedHat",
			"hosts": [
				{"id": 7, "name": "web01"},
				{"id": 8, "name": "web02"},
				{"id": 7, "name": "web01"}
			]
		},
		"task": {"id": "task-uuid", "state": "stopped"}
	}`)

	job, err := models.JobInvocationFromDocument(doc)
	require.NoError(t, err)

	assert.Equal(t, int64(42), job.ID)
	assert.Equal(t, "succeeded", job.StatusLabel)
	assert.Equal(t, "2/0/2", job.SuccessFailTotal())
	assert.Equal(t, null.IntFrom(185), job.TemplateID)
	assert.Equal(t, null.StringFrom("os ~ RedHat"), job.SearchQuery)
	assert.False(t, job.LocationID.Valid)
	assert.Equal(t, null.StringFrom("task-uuid"), job.TaskID)
	assert.Len(t, job.Hosts, 3)
	assert.Equal(t, []models.Host{{ID: 7, Name: "web01"}, {ID: 8, Name: "web02"}}, job.UniqueHosts())

	t.Run("list entries report N/A counters", func(t *testing.T) {
		job, err := models.JobInvocationFromDocument(mustParse(t,
			`{"id": 5, "succeeded": 0, "failed": 0, "total": "N/A", "status_label": "pending"}`))
		require.NoError(t, err)
		assert.Equal(t, "0/0/N/A", job.SuccessFailTotal())
		assert.Empty(t, job.Hosts)
	})

	t.Run("host without id", func(t *testing.T) {
		_, err := models.JobInvocationFromDocument(mustParse(t, `{"id": 5, "targeting": {"hosts": [{"name": "x"}]}}`))
		assert.Error(t, err)
	})
}

func TestJobTemplateFromDocument(t *testing.T) {
	tpl, err := models.JobTemplateFromDocument(mustParse(t,
		`{"id": 185, "name": "Run Command - Script Default", "job_category": "Commands"}`))
	require.NoError(t, err)
	assert.Equal(t, models.JobTemplate{ID: 185, Name: "Run Command - Script Default", JobCategory: "Commands"}, tpl)

	_, err = models.JobTemplateFromDocument(mustParse(t, `{"id": "abc"}`))
	assert.Error(t, err)
}

func TestJobInvocationRequest_JSON(t *testing.T) {
	t.Run("without location", func(t *testing.T) {
		req := models.NewJobInvocationRequest(185, "rpm -qa --last", "*", 1, null.Int{})
		data, err := json.Marshal(req)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"organization_id": 1,
			"job_invocation": {
				"job_template_id": 185,
				"inputs": {"command": "rpm -qa --last"},
				"targeting_type": "static_query",
				"search_query": "*"
			}
		}`, string(data))
	})

	t.Run("with location", func(t *testing.T) {
		req := models.NewJobInvocationRequest(185, "rpm -qa --last", "name ~ web", 3, null.IntFrom(2))
		data, err := json.Marshal(req)
		require.NoError(t, err)

		doc := mustParse(t, string(data))
		loc, ok := doc.Field("location_id")
		require.True(t, ok)
		n, _ := loc.Int64()
		assert.Equal(t, int64(2), n)
	})
}

func TestHostResult_Stdout(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		want   string
		wantOK bool
	}{
		{
			name:   "single stdout chunk",
			doc:    `{"output": [{"output_type": "stdout", "output": "pkg-a  Mon 01 Jan 2024\n"}]}`,
			want:   "pkg-a  Mon 01 Jan 2024\n",
			wantOK: true,
		},
		{
			name: "chunks joined in order, other streams skipped",
			doc: `{"output": [
				{"output_type": "debug", "output": "Exit status: 0"},
				{"output_type": "stdout", "output": "pkg-a 1\n"},
				{"output_type": "stderr", "output": "warning"},
				{"output_type": "stdout", "output": "pkg-b 2\n"}
			]}`,
			want:   "pkg-a 1\npkg-b 2\n",
			wantOK: true,
		},
		{name: "no output key", doc: `{}`},
		{name: "null output", doc: `{"output": null}`},
		{name: "only stderr", doc: `{"output": [{"output_type": "stderr", "output": "boom"}]}`},
		{name: "empty stdout", doc: `{"output": [{"output_type": "stdout", "output": ""}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := models.HostResultFromDocument(7, "web01", mustParse(t, tt.doc))
			assert.Equal(t, int64(7), res.HostID)
			assert.Equal(t, "web01", res.Hostname)

			out, ok := res.Stdout()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestPackageRecord_Fields(t *testing.T) {
	rec := models.PackageRecord{
		Hostname:  "host1",
		Package:   "pkg-foo-1.2.3-4.x86_64",
		Timestamp: time.Date(2019, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, []string{"host1", "pkg-foo-1.2.3-4.x86_64", "2019-01-01T12:00:00"}, rec.Fields())
}
