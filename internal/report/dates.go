package report

import (
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
)

// DateParser turns a human-readable date phrase into a time. Relative phrases are resolved
// against now. It reports false when the phrase holds no date.
type DateParser func(phrase string, now time.Time) (time.Time, bool)

// rpmLayouts are the forms `rpm --last` prints the install time in, after whitespace has been
// collapsed. Newer rpm releases print a zero padded day first, older ones use the ctime form.
var rpmLayouts = []string{
	"Mon _2 Jan 2006 15:04:05 MST",
	"Mon _2 Jan 2006 03:04:05 PM MST",
	"Mon _2 Jan 2006 15:04:05",
	"Mon _2 Jan 2006 03:04:05 PM",
	"Mon Jan _2 15:04:05 MST 2006",
	"Mon Jan _2 15:04:05 2006",
	"Mon _2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// ParseDate tries the layouts rpm prints first and then falls back to natural language parsing,
// which also copes with relative phrases, other locales and partial dates.
func ParseDate(phrase string, now time.Time) (time.Time, bool) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return time.Time{}, false
	}

	if t, ok := parseRPMDate(phrase); ok {
		return t, true
	}

	return parseNaturalDate(phrase, now)
}

func parseRPMDate(phrase string) (time.Time, bool) {
	for _, layout := range rpmLayouts {
		if t, err := time.Parse(layout, phrase); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseNaturalDate(phrase string, now time.Time) (time.Time, bool) {
	cfg := &dps.Configuration{CurrentTime: now}

	dt, err := dps.Parse(cfg, phrase)
	if err != nil || dt.Time.IsZero() {
		return time.Time{}, false
	}
	return dt.Time, true
}
