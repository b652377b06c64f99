package upstream

import "fmt"

// HTTPError is a non-2xx answer from GitHub or the Copilot API. The body is
// kept verbatim so handlers can forward it to the client after status-code
// mapping.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}
