package satellite

import (
	"errors"
	"fmt"
)

var (
	ErrTemplateNotFound = errors.New("unable to find job template")
	ErrNoJobs           = errors.New("unable to locate any jobs")
)

// HTTPError is returned for any response outside the 2xx range
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}
