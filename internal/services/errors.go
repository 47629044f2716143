package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIntegrationNotFound means the tenant has no active POS integration.
	ErrIntegrationNotFound = errors.New("no active POS integration for tenant")
	// ErrSyncInProgress is returned when a run for the tenant is already executing.
	ErrSyncInProgress = errors.New("sync already in progress for tenant")
	// ErrMalformedOrder marks raw orders that cannot be normalized.
	ErrMalformedOrder = errors.New("malformed POS order")
)

// AuthenticationError is returned when the POS rejects the client credentials.
type AuthenticationError struct {
	Status int
	Body   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("POS authentication failed: status %d, body: %s", e.Status, e.Body)
}

// UpstreamFetchError is returned when a POS data request fails. Page is zero
// for requests that are not part of a paginated fetch.
type UpstreamFetchError struct {
	Page   int
	Status int
	Body   string
	Err    error
}

func (e *UpstreamFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("POS fetch failed (page %d): %v", e.Page, e.Err)
	}
	return fmt.Sprintf("POS fetch failed (page %d): status %d, body: %s", e.Page, e.Status, e.Body)
}

func (e *UpstreamFetchError) Unwrap() error {
	return e.Err
}

// RateLimitedError reports an HTTP 429. RetryAfter is zero when the server
// did not say how long to wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// PerOrderPersistError describes one order that was skipped during a run.
type PerOrderPersistError struct {
	OrderGUID string
	Stage     string
	Err       error
}

func (e *PerOrderPersistError) Error() string {
	return fmt.Sprintf("order %s: %s: %v", e.OrderGUID, e.Stage, e.Err)
}

func (e *PerOrderPersistError) Unwrap() error {
	return e.Err
}
