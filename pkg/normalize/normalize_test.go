package normalize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatsync/pkg/models"
)

type fakeDirectory struct {
	users map[string]models.Sender
	calls int
	err   error
}

func (f *fakeDirectory) FetchUser(_ context.Context, userID string) (models.Sender, error) {
	f.calls++
	if f.err != nil {
		return models.Sender{}, f.err
	}
	s, ok := f.users[userID]
	if !ok {
		return models.Sender{}, errors.New("no such user")
	}
	return s, nil
}

type fakeSource struct {
	raws []models.RawMessage
	err  error
}

func (f *fakeSource) FetchMessages(context.Context, string) ([]models.RawMessage, error) {
	return f.raws, f.err
}

func TestPlaceholderAvatarDeterministic(t *testing.T) {
	a := PlaceholderAvatar("Alice")
	for i := 0; i < 5; i++ {
		if PlaceholderAvatar("Alice") != a {
			t.Fatalf("placeholder avatar not stable")
		}
	}
	if PlaceholderAvatar("alice") != a {
		t.Fatalf("case-folded names diverged")
	}
	if PlaceholderAvatar("Bob") == a {
		t.Fatalf("distinct initials collided")
	}
	if PlaceholderAvatar("") == "" {
		t.Fatalf("empty name produced empty avatar")
	}
}

func TestNormalizeDefaults(t *testing.T) {
	n := New(nil, nil, "me")
	before := time.Now().UTC()
	msg, err := n.Normalize(context.Background(), "user:alice", models.RawMessage{
		ID:       "m1",
		SenderID: "alice",
		Content:  "hi",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if msg.Type != models.TypeText {
		t.Fatalf("missing type did not default to text: %s", msg.Type)
	}
	if msg.Status != models.StatusSent {
		t.Fatalf("missing status did not default to sent: %s", msg.Status)
	}
	ts, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
	if err != nil {
		t.Fatalf("defaulted timestamp unparseable: %v", err)
	}
	if ts.Before(before.Add(-time.Second)) {
		t.Fatalf("defaulted timestamp not local-now: %s", msg.Timestamp)
	}
	// unresolved sender degrades to a placeholder identity, never empty
	if msg.Sender.Name != "alice" || msg.Sender.Avatar == "" {
		t.Fatalf("placeholder sender: %+v", msg.Sender)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	n := New(nil, nil, "me")
	cases := []models.RawMessage{
		{SenderID: "alice", Content: "no id"},
		{ID: "m1", Content: "no sender"},
		{ID: "m1", SenderID: "alice", Type: "sticker"},
	}
	for i, raw := range cases {
		if _, err := n.Normalize(context.Background(), "user:alice", raw); !errors.Is(err, models.ErrMalformedPayload) {
			t.Errorf("case %d: err = %v, want ErrMalformedPayload", i, err)
		}
	}
}

func TestNormalizeMediaFields(t *testing.T) {
	n := New(nil, nil, "me")
	msg, err := n.Normalize(context.Background(), "user:alice", models.RawMessage{
		ID:       "m1",
		SenderID: "alice",
		Type:     "image",
		Content:  "ignored for media",
		MediaURL: "https://cdn/a.png",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if msg.Content != "" {
		t.Fatalf("media message kept text content: %q", msg.Content)
	}
	if len(msg.MediaURLs) != 1 || msg.MediaURLs[0] != "https://cdn/a.png" {
		t.Fatalf("media urls: %v", msg.MediaURLs)
	}
	if NeedsMediaBackfill(msg) {
		t.Fatalf("message with media flagged for backfill")
	}
}

func TestNeedsMediaBackfill(t *testing.T) {
	if !NeedsMediaBackfill(models.Message{Type: models.TypeImage}) {
		t.Fatalf("image without urls not flagged")
	}
	if NeedsMediaBackfill(models.Message{Type: models.TypeText}) {
		t.Fatalf("text flagged for backfill")
	}
}

func TestSenderMemoization(t *testing.T) {
	dir := &fakeDirectory{users: map[string]models.Sender{
		"alice": {Name: "Alice", Avatar: "https://cdn/alice.png"},
	}}
	n := New(dir, nil, "me")
	raw := models.RawMessage{ID: "m1", SenderID: "alice", Content: "hi"}
	msg, err := n.Normalize(context.Background(), "user:alice", raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if msg.Sender.Name != "Alice" {
		t.Fatalf("sender not resolved: %+v", msg.Sender)
	}
	raw.ID = "m2"
	if _, err := n.Normalize(context.Background(), "user:alice", raw); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if dir.calls != 1 {
		t.Fatalf("directory consulted %d times, want 1", dir.calls)
	}
}

func TestSenderLookupFailureNotMemoized(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("backend down")}
	n := New(dir, nil, "me")
	raw := models.RawMessage{ID: "m1", SenderID: "alice", Content: "hi"}
	msg, _ := n.Normalize(context.Background(), "user:alice", raw)
	if msg.Sender.Name != "alice" {
		t.Fatalf("failed lookup did not degrade to placeholder: %+v", msg.Sender)
	}

	// directory recovers: next message upgrades the identity
	dir.err = nil
	dir.users = map[string]models.Sender{"alice": {Name: "Alice"}}
	raw.ID = "m2"
	msg, _ = n.Normalize(context.Background(), "user:alice", raw)
	if msg.Sender.Name != "Alice" {
		t.Fatalf("recovered lookup not used: %+v", msg.Sender)
	}
}

func TestPayloadSenderInfoWins(t *testing.T) {
	dir := &fakeDirectory{}
	n := New(dir, nil, "me")
	msg, err := n.Normalize(context.Background(), "user:alice", models.RawMessage{
		ID: "m1", SenderID: "alice", SenderName: "Alice A.", Content: "hi",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if msg.Sender.Name != "Alice A." {
		t.Fatalf("payload sender info ignored: %+v", msg.Sender)
	}
	if msg.Sender.Avatar == "" {
		t.Fatalf("missing avatar not defaulted")
	}
	if dir.calls != 0 {
		t.Fatalf("directory consulted despite inline sender info")
	}
}

func TestSeedSender(t *testing.T) {
	n := New(nil, nil, "me")
	n.SeedSender("me", models.Sender{Name: "Me"})
	msg, err := n.Normalize(context.Background(), "user:alice", models.RawMessage{
		ID: "m1", SenderID: "me", Content: "hi",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if msg.Sender.Name != "Me" || msg.Sender.Avatar == "" {
		t.Fatalf("seeded sender not used: %+v", msg.Sender)
	}
}

func TestBackfillMedia(t *testing.T) {
	src := &fakeSource{raws: []models.RawMessage{
		{ID: "m1", SenderID: "alice", Type: "image", MediaURL: "https://cdn/a.png", FileName: "a.png", MimeType: "image/png"},
		{ID: "m2", SenderID: "alice", Type: "image"},
	}}
	n := New(nil, src, "me")

	urls, name, mime, err := n.BackfillMedia(context.Background(), "user:alice", "m1")
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if len(urls) != 1 || name != "a.png" || mime != "image/png" {
		t.Fatalf("backfill result: %v %s %s", urls, name, mime)
	}

	// server still has no url either: not an error, just nothing to patch
	urls, _, _, err = n.BackfillMedia(context.Background(), "user:alice", "m2")
	if err != nil || urls != nil {
		t.Fatalf("missing-url backfill: %v %v", urls, err)
	}

	src.err = errors.New("timeout")
	if _, _, _, err := n.BackfillMedia(context.Background(), "user:alice", "m1"); err == nil {
		t.Fatalf("fetch failure not surfaced")
	}
}

// One normalizer is shared across sessions; the sender cache must
// tolerate concurrent resolution.
func TestConcurrentNormalize(t *testing.T) {
	n := New(nil, nil, "me")
	n.SeedSender("alice", models.Sender{Name: "Alice"})
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		convKey := fmt.Sprintf("user:peer%d", g)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				raw := models.RawMessage{
					ID:         fmt.Sprintf("m%d", i),
					SenderID:   "bob",
					SenderName: "Bob",
					Content:    "hi",
				}
				msg, err := n.Normalize(context.Background(), convKey, raw)
				if err != nil {
					t.Errorf("normalize: %v", err)
					return
				}
				if msg.Sender.Name != "Bob" {
					t.Errorf("sender = %+v", msg.Sender)
					return
				}
			}
		}()
	}
	wg.Wait()
}
