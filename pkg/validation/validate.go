// Package validation checks raw payloads before they reach the
// normalizer. A payload that fails here is dropped with a log entry and
// never inserted into the conversation store.
package validation

import (
	"fmt"

	"chatsync/pkg/models"
)

// Rules holds configurable validation limits beyond the hard required
// fields. Zero values disable the corresponding check.
type Rules struct {
	// MaxContentLen bounds text content length in bytes.
	MaxContentLen int
	// MaxMediaRefs bounds the number of media URLs per message.
	MaxMediaRefs int
	// RequireTimestamp rejects payloads without a server timestamp
	// instead of defaulting to local time at normalization.
	RequireTimestamp bool
}

var rules Rules

// SetRules installs the active rule set (called once at startup).
func SetRules(r Rules) { rules = r }

// ValidateRaw checks a raw message for the fields the core cannot work
// without. Errors wrap models.ErrMalformedPayload for classification.
func ValidateRaw(raw models.RawMessage) error {
	if raw.ID == "" {
		return fmt.Errorf("%w: missing messageId", models.ErrMalformedPayload)
	}
	if raw.SenderID == "" {
		return fmt.Errorf("%w: missing senderId", models.ErrMalformedPayload)
	}
	if raw.Type != "" && !models.KnownType(models.Type(raw.Type)) {
		return fmt.Errorf("%w: unknown type %q", models.ErrMalformedPayload, raw.Type)
	}
	if rules.MaxContentLen > 0 && len(raw.Content) > rules.MaxContentLen {
		return fmt.Errorf("%w: content exceeds %d bytes", models.ErrMalformedPayload, rules.MaxContentLen)
	}
	if rules.MaxMediaRefs > 0 && len(raw.Media()) > rules.MaxMediaRefs {
		return fmt.Errorf("%w: too many media refs", models.ErrMalformedPayload)
	}
	if rules.RequireTimestamp && raw.Timestamp == "" {
		return fmt.Errorf("%w: missing timestamp", models.ErrMalformedPayload)
	}
	return nil
}

// ValidateStatusEvent checks a status event has the fields required to
// apply it.
func ValidateStatusEvent(ev models.StatusEvent) error {
	if ev.MessageID == "" {
		return fmt.Errorf("%w: missing messageId", models.ErrMalformedPayload)
	}
	if ev.Status == "" {
		return fmt.Errorf("%w: missing status", models.ErrMalformedPayload)
	}
	return nil
}
