// Package resource is the remote boundary of the sync layer: a small client
// contract over the backend's REST surface (/courses, /courses/{id},
// /courses/search, /courses/{id}/wishlist, /courses/{id}/reviews,
// /instructor/*). Responses come back as decoded JSON; failures surface as
// *StatusError carrying the HTTP status so upstream policy (retry on 429,
// fail fast otherwise) can classify them.
package resource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Client issues HTTP-like requests against the backend. The sync layer only
// ever talks to the server through this interface.
type Client interface {
	// Get fetches path with the given query string and returns the decoded
	// JSON body (nil for an empty body).
	Get(ctx context.Context, path string, query url.Values) (any, error)

	// Do sends a request with the given method and JSON-encoded body.
	Do(ctx context.Context, method, path string, body any) (any, error)
}

// StatusError is a request that reached the server and came back non-2xx.
type StatusError struct {
	Status int
	Method string
	Path   string
	// Body is a truncated snippet of the response body, for diagnostics.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d (%s)", e.Method, e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

// StatusCode returns the HTTP status. The retry policy keys off this.
func (e *StatusError) StatusCode() int { return e.Status }

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

func IsRateLimited(err error) bool { return IsStatus(err, http.StatusTooManyRequests) }

func IsNotFound(err error) bool { return IsStatus(err, http.StatusNotFound) }

// IsUnauthorized flags the 401s an outer re-authentication flow reacts to.
func IsUnauthorized(err error) bool { return IsStatus(err, http.StatusUnauthorized) }
