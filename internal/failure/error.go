package failure

import (
	"fmt"
	"net/http"
)

// Error is the structured failure raised at collaborator boundaries
// (navigation, evaluation, artifact generation, persistence). Kind carries
// the classification decided where the error happened, so downstream code
// never has to sniff message text for errors we produced ourselves.
type Error struct {
	Kind   Category
	Op     string
	URL    string
	Status int
	Err    error
}

// Error renders "op url: detail" with the HTTP status when one is known.
func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: HTTP %d %s: %v", e.Op, e.URL, e.Status, http.StatusText(e.Status), e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s %s: HTTP %d %s", e.Op, e.URL, e.Status, http.StatusText(e.Status))
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Kind)
	}
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap builds a classified Error around err.
func Wrap(kind Category, op, url string, err error) *Error {
	return &Error{Kind: kind, Op: op, URL: url, Err: err}
}

// FromStatus builds an Error for an HTTP response status, classified by code.
func FromStatus(op, url string, status int) *Error {
	return &Error{Kind: CategoryForStatus(status), Op: op, URL: url, Status: status}
}

// CategoryForStatus classifies a bare HTTP status code. 502/503 are transient
// upstream conditions, 504/408 are timeouts, any other 4xx is permanent.
func CategoryForStatus(status int) Category {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return RetryableNetwork
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return RetryableTimeout
	}
	if status >= 400 && status < 500 {
		return PermanentHTTP
	}
	return Unknown
}
