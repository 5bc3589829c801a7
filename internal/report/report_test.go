package report_test

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lastpatch/internal/models"
	"lastpatch/internal/report"
)

var timestampFormat = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}$`)

func TestParseLine_Example(t *testing.T) {
	p := report.NewParser(zerolog.Nop())

	rec, ok := p.ParseLine("host1", "  pkg-foo-1.2.3-4.x86_64    Tue 01 Jan 2019 12:00:00 UTC")
	require.True(t, ok)

	assert.Equal(t, `"host1","pkg-foo-1.2.3-4.x86_64","2019-01-01T12:00:00"`, report.Quote(rec.Fields()...))
}

func TestParseDate_RPMLayouts(t *testing.T) {
	tests := []struct {
		phrase string
		want   string
	}{
		{"Tue 01 Jan 2019 12:00:00 UTC", "2019-01-01T12:00:00"},
		{"Tue 1 Jan 2019 12:00:00 UTC", "2019-01-01T12:00:00"},
		{"Wed 14 Feb 2024 03:27:41 PM UTC", "2024-02-14T15:27:41"},
		{"Wed 14 Feb 2024 03:27:41 AM", "2024-02-14T03:27:41"},
		{"Thu 15 Feb 2024 09:00:01", "2024-02-15T09:00:01"},
		{"Tue Jan 1 12:00:00 2019", "2019-01-01T12:00:00"},
		{"Fri Mar 22 07:15:00 UTC 2019", "2019-03-22T07:15:00"},
		{"Mon 04 Mar 2024 10:11:12 +0100", "2024-03-04T10:11:12"},
		{"2023-08-09 23:59:59", "2023-08-09T23:59:59"},
	}

	now := time.Now()
	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			got, ok := report.ParseDate(tt.phrase, now)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Format(models.TimestampLayout))
		})
	}
}

func TestParseDate_NaturalLanguage(t *testing.T) {
	now := time.Date(2024, time.June, 10, 8, 30, 0, 0, time.UTC)

	got, ok := report.ParseDate("January 5, 2019", now)
	require.True(t, ok)
	assert.Equal(t, 2019, got.Year())
	assert.Equal(t, time.January, got.Month())
	assert.Equal(t, 5, got.Day())

	got, ok = report.ParseDate("2 days ago", now)
	require.True(t, ok)
	assert.WithinDuration(t, now.Add(-48*time.Hour), got, 2*time.Minute)
}

func TestParseDate_Empty(t *testing.T) {
	_, ok := report.ParseDate("   ", time.Now())
	assert.False(t, ok)
}

func TestParseLine_UnparseableDateFallsBackToNow(t *testing.T) {
	p := report.NewParser(zerolog.Nop())
	p.ParseDate = func(string, time.Time) (time.Time, bool) { return time.Time{}, false }

	rec, ok := p.ParseLine("host1", "kernel-5.14.0-1.el9.x86_64 sometime last spring probably")
	require.True(t, ok)

	assert.Equal(t, "kernel-5.14.0-1.el9.x86_64", rec.Package)
	assert.WithinDuration(t, time.Now(), rec.Timestamp, 5*time.Second)
	assert.Regexp(t, timestampFormat, rec.Fields()[2])
}

func TestParseLine_PackageWithoutDate(t *testing.T) {
	p := report.NewParser(zerolog.Nop())

	rec, ok := p.ParseLine("host1", "gpg-pubkey-fd431d51-4ae0493b")
	require.True(t, ok)

	assert.Equal(t, "gpg-pubkey-fd431d51-4ae0493b", rec.Package)
	assert.WithinDuration(t, time.Now(), rec.Timestamp, 5*time.Second)
}

func TestParseLine_UsesInjectedClock(t *testing.T) {
	fixed := time.Date(2020, time.February, 29, 23, 59, 59, 0, time.UTC)

	p := report.NewParser(zerolog.Nop())
	p.Now = func() time.Time { return fixed }

	rec, ok := p.ParseLine("host1", "bash-5.1.8-6.el9.x86_64")
	require.True(t, ok)
	assert.Equal(t, "2020-02-29T23:59:59", rec.Fields()[2])
}

func TestParseLine_Blank(t *testing.T) {
	p := report.NewParser(zerolog.Nop())

	for _, line := range []string{"", " ", "\t", "  \t  \r"} {
		_, ok := p.ParseLine("host1", line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestParseOutput(t *testing.T) {
	output := strings.Join([]string{
		"tzdata-2024a-1.el9.noarch                     Tue 01 Jan 2019 12:00:00 UTC",
		"",
		"   ",
		"openssl-libs-3.0.7-25.el9.x86_64\t\tWed 14 Feb 2024 03:27:41 PM UTC",
		"gpg-pubkey-fd431d51-4ae0493b                  not a date at all",
		"",
	}, "\n")

	p := report.NewParser(zerolog.Nop())
	records := p.ParseOutput("web01", output)

	require.Len(t, records, 3, "one record per non-blank line")
	for _, r := range records {
		assert.Equal(t, "web01", r.Hostname)
		ts := r.Fields()[2]
		assert.Len(t, ts, 19)
		assert.Regexp(t, timestampFormat, ts)
	}

	assert.Equal(t, "tzdata-2024a-1.el9.noarch", records[0].Package)
	assert.Equal(t, "2019-01-01T12:00:00", records[0].Fields()[2])
	assert.Equal(t, "openssl-libs-3.0.7-25.el9.x86_64", records[1].Package)
	assert.Equal(t, "2024-02-14T15:27:41", records[1].Fields()[2])
	assert.Equal(t, "gpg-pubkey-fd431d51-4ae0493b", records[2].Package)
}

func TestParseOutput_OnlyBlankLines(t *testing.T) {
	p := report.NewParser(zerolog.Nop())
	assert.Empty(t, p.ParseOutput("web01", "\n\n  \n"))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"a","b c",""`, report.Quote("a", "b c", ""))
	assert.Equal(t, `"say ""hi""","x,y"`, report.Quote(`say "hi"`, "x,y"))
	assert.Equal(t, "", report.Quote())
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := report.NewWriter(&buf)

	ts := time.Date(2019, time.January, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, w.WriteRow(report.ReportHeader...))
	require.NoError(t, w.WriteRecords([]models.PackageRecord{
		{Hostname: "host1", Package: "pkg-a-1.0-1.noarch", Timestamp: ts},
		{Hostname: "host1", Package: "pkg-b-2.0-1.noarch", Timestamp: ts.Add(time.Hour)},
	}))
	require.NoError(t, w.WriteBlank())
	require.NoError(t, w.Flush())

	want := `"hostname","package name","last updated"
"host1","pkg-a-1.0-1.noarch","2019-01-01T12:00:00"
"host1","pkg-b-2.0-1.noarch","2019-01-01T13:00:00"

`
	assert.Equal(t, want, buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriter_StickyError(t *testing.T) {
	w := report.NewWriter(failingWriter{})

	// buffered, so the failure shows up on flush
	require.NoError(t, w.WriteRow("a"))
	err := w.Flush()
	require.Error(t, err)

	assert.Equal(t, err, w.WriteRow("b"))
	assert.Equal(t, err, w.Flush())
}
