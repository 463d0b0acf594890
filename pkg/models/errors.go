package models

import "errors"

// Shared error taxonomy. Callers classify with errors.Is; wrapping sites
// add transport detail with fmt.Errorf("...: %w", Err...).
var (
	// ErrTransientNetwork marks connectivity failures on REST or realtime
	// calls. Surfaced as a non-fatal warning; no automatic retry beyond
	// transport-level reconnection.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrAuthExpired marks a 401-equivalent rejection. Propagates up to
	// force re-authentication; not recoverable locally.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrMalformedPayload marks a raw message or event missing required
	// fields. Such payloads are dropped with a log entry, never stored.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrStorage marks a local cache read/write failure. Treated as a
	// cache miss, never fatal, never surfaced to the end user.
	ErrStorage = errors.New("storage error")
)
