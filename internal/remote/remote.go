// Package remote is the typed client for the preference and notification
// backend. It performs a single attempt per call; retrying is left to the
// caller.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dukerupert/stormsync/internal/model"
)

// ErrNotFound is matched by a StatusError carrying 404.
var ErrNotFound = errors.New("remote resource not found")

// ErrMalformedPayload is returned when a response cannot be decoded or fails
// validation. It is never retried.
var ErrMalformedPayload = errors.New("malformed remote payload")

// Client is the remote sync surface consumed by the sync layer.
type Client interface {
	FetchPreferences(ctx context.Context, userID string) (model.PreferenceSet, error)
	WritePreferences(ctx context.Context, userID string, prefs model.PreferenceSet) error
	FetchLocationPreference(ctx context.Context, userID, locationID string) (model.LocationPreference, error)
	WriteLocationPreference(ctx context.Context, userID, locationID string, enabled bool) error
	FetchHistory(ctx context.Context, filter model.HistoryFilter) ([]model.NotificationRecord, error)
	RegisterDeviceToken(ctx context.Context, userID, token string) error
}

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Permanent reports whether the backend rejected the request itself. Client
// errors other than request timeout and rate limiting are not worth retrying.
func (e *StatusError) Permanent() bool {
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsRejected reports whether err is a backend rejection or an unusable
// payload, as opposed to a transport failure.
func IsRejected(err error) bool {
	if errors.Is(err, ErrMalformedPayload) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}
