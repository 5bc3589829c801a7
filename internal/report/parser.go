package report

import (
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"lastpatch/internal/models"
)

var spaces = regexp.MustCompile(`\s+`)

// Parser converts `rpm -qa --last` output into package records
type Parser struct {
	log zerolog.Logger

	ParseDate DateParser
	Now       func() time.Time
}

func NewParser(log zerolog.Logger) *Parser {
	return &Parser{
		log:       log,
		ParseDate: ParseDate,
		Now:       time.Now,
	}
}

// ParseLine turns one output line into a record. The first token is the package, the rest of the
// line is the install date. A date that can not be parsed becomes the current time, so only blank
// lines report false.
func (p *Parser) ParseLine(hostname, line string) (models.PackageRecord, bool) {
	line = strings.TrimSpace(spaces.ReplaceAllString(line, " "))
	if line == "" {
		return models.PackageRecord{}, false
	}

	pkg, phrase, _ := strings.Cut(line, " ")

	now := p.Now()
	ts, ok := p.ParseDate(phrase, now)
	if !ok {
		ts = now
	}

	return models.PackageRecord{
		Hostname:  hostname,
		Package:   pkg,
		Timestamp: ts,
	}, true
}

// ParseOutput returns one record per non-blank line of output
func (p *Parser) ParseOutput(hostname, output string) []models.PackageRecord {
	lines := strings.Split(output, "\n")
	p.log.Trace().
		Str("host", hostname).
		Int("lines", len(lines)).
		Str("size", humanize.Bytes(uint64(len(output)))).
		Msg("Output lines")

	records := make([]models.PackageRecord, 0, len(lines))
	for _, line := range lines {
		if rec, ok := p.ParseLine(hostname, line); ok {
			records = append(records, rec)
		}
	}

	p.log.Trace().
		Str("host", hostname).
		Int("records", len(records)).
		Msg("Converted lines")

	return records
}
