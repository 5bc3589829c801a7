package report

import (
	"bufio"
	"io"
	"strings"

	"lastpatch/internal/models"
)

var (
	ReportHeader = []string{"hostname", "package name", "last updated"}
	JobsHeader   = []string{"id", "description", "status", "success_fail_total", "date_time"}
)

// Quote renders fields as one CSV line with every field in double quotes. Embedded quotes are
// doubled. The line has no terminator.
func Quote(fields ...string) string {
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('"')
		sb.WriteString(strings.ReplaceAll(f, `"`, `""`))
		sb.WriteByte('"')
	}
	return sb.String()
}

// Writer writes always-quoted CSV lines. The first error sticks and is returned by every later
// call, so callers can check once after Flush.
type Writer struct {
	w   *bufio.Writer
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) WriteRow(fields ...string) error {
	return w.writeLine(Quote(fields...))
}

// WriteBlank writes an empty line, which stands in for a host without output
func (w *Writer) WriteBlank() error {
	return w.writeLine("")
}

func (w *Writer) WriteRecords(records []models.PackageRecord) error {
	for _, r := range records {
		if err := w.WriteRow(r.Fields()...); err != nil {
			return err
		}
	}
	return w.err
}

func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	w.err = w.w.Flush()
	return w.err
}

func (w *Writer) writeLine(line string) error {
	if w.err != nil {
		return w.err
	}
	if _, err := w.w.WriteString(line); err != nil {
		w.err = err
		return err
	}
	w.err = w.w.WriteByte('\n')
	return w.err
}
