package models

// Type tags the five message kinds as a closed set. Render and
// normalization sites switch exhaustively on this value.
type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
	TypeVideo Type = "video"
	TypePDF   Type = "pdf"
	TypeZip   Type = "zip"
	TypeFile  Type = "file"
)

// KnownType reports whether t is one of the supported message kinds.
func KnownType(t Type) bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypePDF, TypeZip, TypeFile:
		return true
	}
	return false
}

// IsMedia reports whether the type carries a media reference instead of
// inline text content.
func (t Type) IsMedia() bool {
	return t != TypeText && KnownType(t)
}

// Status is the per-message delivery state.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
	StatusRecalled  Status = "recalled"
	StatusDeleted   Status = "deleted"
	StatusError     Status = "error"
)

// Terminal reports whether a status admits no further transitions.
// Deleted messages are removed from the sequence entirely; recalled
// messages stay in place but masked.
func (s Status) Terminal() bool {
	return s == StatusRecalled || s == StatusDeleted
}

// CanTransition reports whether moving from s to next is allowed.
// Non-terminal forward/backward moves are last-write-wins: the transport
// gives no ordering guarantee, so a late "delivered" after "seen" is
// accepted rather than rejected.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StatusRecalled:
		return s == StatusSent || s == StatusDelivered || s == StatusSeen
	case StatusDeleted:
		return s == StatusSent || s == StatusDelivered || s == StatusSeen
	case StatusError:
		return s == StatusSending
	case StatusSending, StatusSent, StatusDelivered, StatusSeen:
		return true
	}
	return false
}

// Sender is denormalized display info resolved lazily by the normalizer.
type Sender struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Message is the canonical unit of conversation content. Raw payloads from
// REST and realtime channels are converted to this shape before entering
// the conversation store.
type Message struct {
	ID       string `json:"id"`
	ConvKey  string `json:"conv_key"`
	SenderID string `json:"sender_id"`
	Sender   Sender `json:"sender"`
	Type     Type   `json:"type"`
	// Content holds inline text for TypeText; empty otherwise.
	Content string `json:"content,omitempty"`
	// MediaURLs holds one or more media references for non-text types.
	MediaURLs []string `json:"media_urls,omitempty"`
	FileName  string   `json:"file_name,omitempty"`
	MimeType  string   `json:"mime_type,omitempty"`
	Status    Status   `json:"status"`
	// Timestamp is an ISO-8601 string; authoritative ordering key for the
	// backend, informational here (the store is append-ordered).
	Timestamp string `json:"ts"`
	Pinned    bool   `json:"pinned,omitempty"`
}

// RawMessage is the wire shape shared by REST responses and realtime
// newMessage events. Field presence varies by transport; the normalizer
// owns turning this into a Message.
type RawMessage struct {
	ID       string `json:"messageId"`
	SenderID string `json:"senderId"`
	// Sender display info, present on some REST responses only.
	SenderName   string `json:"senderName,omitempty"`
	SenderAvatar string `json:"senderAvatar,omitempty"`
	Type         string `json:"type"`
	Content      string `json:"content,omitempty"`
	// Multi-image messages arrive as mediaUrls; single media as mediaUrl.
	MediaURLs []string `json:"mediaUrls,omitempty"`
	MediaURL  string   `json:"mediaUrl,omitempty"`
	FileName  string   `json:"fileName,omitempty"`
	MimeType  string   `json:"mimeType,omitempty"`
	Status    string   `json:"status,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	Pinned    bool     `json:"isPinned,omitempty"`
}

// Media returns the effective media reference list, merging the two wire
// spellings. Empty when the payload carried no reference (the known
// realtime race the normalizer backfills).
func (r *RawMessage) Media() []string {
	if len(r.MediaURLs) > 0 {
		return r.MediaURLs
	}
	if r.MediaURL != "" {
		return []string{r.MediaURL}
	}
	return nil
}
