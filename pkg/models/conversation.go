package models

import (
	"fmt"
	"strings"
)

// Conversation kinds. A conversation key is either "user:<peerID>" for a
// direct chat or "group:<groupID>" for a group chat.
const (
	KindDirect = "user"
	KindGroup  = "group"
)

// DirectKey returns the conversation key for a direct chat with peerID.
func DirectKey(peerID string) string { return KindDirect + ":" + peerID }

// GroupKey returns the conversation key for a group chat.
func GroupKey(groupID string) string { return KindGroup + ":" + groupID }

// SplitKey parses a conversation key into kind and id.
func SplitKey(key string) (kind, id string, err error) {
	k, rest, ok := strings.Cut(key, ":")
	if !ok || rest == "" || (k != KindDirect && k != KindGroup) {
		return "", "", fmt.Errorf("invalid conversation key: %q", key)
	}
	return k, rest, nil
}

// IsGroupKey reports whether key addresses a group conversation. Group
// chats treat delivery as implicit and do not track per-message seen state.
func IsGroupKey(key string) bool {
	return strings.HasPrefix(key, KindGroup+":")
}

// ConversationMeta is the per-conversation metadata persisted next to the
// message snapshot: display info for the peer or group and last activity.
type ConversationMeta struct {
	Key    string `json:"key"`
	Title  string `json:"title,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	// UpdatedTS is the last local mutation time (ns).
	UpdatedTS int64 `json:"updated_ts,omitempty"`
}
