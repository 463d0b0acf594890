// Package normalize converts heterogeneous raw message payloads from the
// REST and realtime channels into the canonical Message shape.
package normalize

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/validation"
)

// UserDirectory resolves sender display info by id. The REST client
// implements this.
type UserDirectory interface {
	FetchUser(ctx context.Context, userID string) (models.Sender, error)
}

// MessageSource fetches the full raw message list for a conversation.
// Used to backfill media URLs when a realtime event fires before the
// media is persisted server-side.
type MessageSource interface {
	FetchMessages(ctx context.Context, convKey string) ([]models.RawMessage, error)
}

// Normalizer fills in the canonical message shape, resolving senders
// through a memoization cache. One normalizer is shared across session
// apply loops, so the cache is locked.
type Normalizer struct {
	users  UserDirectory
	msgs   MessageSource
	mu     sync.RWMutex
	byID   map[string]models.Sender
	selfID string
}

// New returns a Normalizer resolving unknown senders via users and
// backfilling media via msgs. selfID identifies the current user; local
// sends skip the directory lookup.
func New(users UserDirectory, msgs MessageSource, selfID string) *Normalizer {
	return &Normalizer{
		users:  users,
		msgs:   msgs,
		byID:   make(map[string]models.Sender),
		selfID: selfID,
	}
}

// SeedSender primes the sender cache, e.g. with the current user's or the
// peer's profile already known to the caller.
func (n *Normalizer) SeedSender(userID string, s models.Sender) {
	if userID == "" || s.Name == "" {
		return
	}
	if s.Avatar == "" {
		s.Avatar = PlaceholderAvatar(s.Name)
	}
	n.mu.Lock()
	n.byID[userID] = s
	n.mu.Unlock()
}

// Normalize validates raw and converts it to a canonical Message. Sender
// info is resolved lazily and memoized for the session; a failed lookup
// degrades to a placeholder identity rather than failing the message.
func (n *Normalizer) Normalize(ctx context.Context, convKey string, raw models.RawMessage) (models.Message, error) {
	if err := validation.ValidateRaw(raw); err != nil {
		telemetry.MalformedDropped.Inc()
		return models.Message{}, err
	}

	typ := models.Type(raw.Type)
	if raw.Type == "" {
		typ = models.TypeText
	}

	msg := models.Message{
		ID:       raw.ID,
		ConvKey:  convKey,
		SenderID: raw.SenderID,
		Type:     typ,
		FileName: raw.FileName,
		MimeType: raw.MimeType,
		Status:   normalizeStatus(raw.Status),
		Pinned:   raw.Pinned,
	}
	if typ == models.TypeText {
		msg.Content = raw.Content
	} else {
		msg.MediaURLs = raw.Media()
	}

	// Missing server timestamp: stamp with normalization time. Callers
	// tolerate the resulting clock skew.
	msg.Timestamp = raw.Timestamp
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	msg.Sender = n.resolveSender(ctx, raw)
	return msg, nil
}

// NeedsMediaBackfill reports whether msg is a media message that arrived
// without its media reference.
func NeedsMediaBackfill(msg models.Message) bool {
	return msg.Type.IsMedia() && len(msg.MediaURLs) == 0
}

// BackfillMedia refetches the conversation's message list and extracts
// the media fields for messageID. A failed fetch is a local warning for
// the caller, not a fatal error.
func (n *Normalizer) BackfillMedia(ctx context.Context, convKey, messageID string) (urls []string, fileName, mimeType string, err error) {
	if n.msgs == nil {
		return nil, "", "", fmt.Errorf("no message source configured")
	}
	raws, err := n.msgs.FetchMessages(ctx, convKey)
	if err != nil {
		telemetry.MediaBackfills.WithLabelValues("failed").Inc()
		return nil, "", "", err
	}
	for i := range raws {
		if raws[i].ID != messageID {
			continue
		}
		if m := raws[i].Media(); len(m) > 0 {
			telemetry.MediaBackfills.WithLabelValues("patched").Inc()
			return m, raws[i].FileName, raws[i].MimeType, nil
		}
		break
	}
	// The server does not have the URL yet either; leave the message with
	// a null media reference.
	telemetry.MediaBackfills.WithLabelValues("missing").Inc()
	return nil, "", "", nil
}

func (n *Normalizer) resolveSender(ctx context.Context, raw models.RawMessage) models.Sender {
	// payload already carries display info: memoize and use it
	if raw.SenderName != "" {
		s := models.Sender{Name: raw.SenderName, Avatar: raw.SenderAvatar}
		if s.Avatar == "" {
			s.Avatar = PlaceholderAvatar(s.Name)
		}
		n.mu.Lock()
		n.byID[raw.SenderID] = s
		n.mu.Unlock()
		return s
	}
	n.mu.RLock()
	s, ok := n.byID[raw.SenderID]
	n.mu.RUnlock()
	if ok {
		return s
	}
	if n.users != nil {
		s, err := n.users.FetchUser(ctx, raw.SenderID)
		if err == nil && s.Name != "" {
			if s.Avatar == "" {
				s.Avatar = PlaceholderAvatar(s.Name)
			}
			n.mu.Lock()
			n.byID[raw.SenderID] = s
			n.mu.Unlock()
			return s
		}
		if err != nil {
			logger.Warn("sender_lookup_failed", "sender", raw.SenderID, "error", err)
		}
	}
	// unresolved: deterministic placeholder from the id, not memoized so a
	// later lookup can still upgrade it
	return models.Sender{Name: raw.SenderID, Avatar: PlaceholderAvatar(raw.SenderID)}
}

func normalizeStatus(s string) models.Status {
	switch models.Status(s) {
	case models.StatusSending, models.StatusSent, models.StatusDelivered,
		models.StatusSeen, models.StatusRecalled, models.StatusDeleted,
		models.StatusError:
		return models.Status(s)
	default:
		// server-delivered messages are at least sent
		return models.StatusSent
	}
}
