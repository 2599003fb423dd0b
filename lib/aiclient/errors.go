package aiclient

import "fmt"

// HTTPError is a transport or backend failure: network errors, timeouts and
// non-2xx responses.
type HTTPError struct {
	Code    int // 0 when the request never reached the backend
	Message string
}

func (e *HTTPError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("ai request failed: %s", e.Message)
	}
	return fmt.Sprintf("ai request failed with status %d: %s", e.Code, e.Message)
}

// FormatError is a successful response the client could not interpret,
// missing or empty model output.
type FormatError struct {
	Message string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unexpected ai response format: %s", e.Message)
}
