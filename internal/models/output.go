package models

import (
	"strings"
	"time"

	"lastpatch/internal/document"
)

type OutputType string

const (
	OtStdout OutputType = "stdout"
	OtStderr OutputType = "stderr"
	OtDebug  OutputType = "debug"
)

type OutputChunk struct {
	Type   OutputType `json:"output_type"`
	Output string     `json:"output"`
}

// HostResult is the raw output a single host produced for a job invocation
type HostResult struct {
	HostID   int64         `json:"host_id"`
	Hostname string        `json:"hostname"`
	Chunks   []OutputChunk `json:"output"`
}

// Stdout joins every stdout chunk in order. It reports false when the host produced none.
func (h HostResult) Stdout() (string, bool) {
	var sb strings.Builder
	found := false
	for _, c := range h.Chunks {
		if c.Type != OtStdout {
			continue
		}
		found = true
		sb.WriteString(c.Output)
	}
	if !found || sb.Len() == 0 {
		return "", false
	}
	return sb.String(), true
}

// HostResultFromDocument reads the `output` array of a host result. A missing or null array
// gives a result without chunks.
func HostResultFromDocument(hostID int64, hostname string, doc document.Value) HostResult {
	res := HostResult{HostID: hostID, Hostname: hostname}

	chunks, ok := doc.Field("output")
	if !ok {
		return res
	}
	for _, c := range chunks.Items() {
		res.Chunks = append(res.Chunks, OutputChunk{
			Type:   OutputType(optionalString(c, "output_type").ValueOrZero()),
			Output: optionalString(c, "output").ValueOrZero(),
		})
	}
	return res
}

// TimestampLayout is the date-time form spreadsheets import without help
const TimestampLayout = "2006-01-02T15:04:05"

// PackageRecord is one line of `rpm -qa --last` output on one host
type PackageRecord struct {
	Hostname  string
	Package   string
	Timestamp time.Time
}

// Fields returns the CSV fields of the record: hostname, package, timestamp
func (p PackageRecord) Fields() []string {
	return []string{p.Hostname, p.Package, p.Timestamp.Format(TimestampLayout)}
}
