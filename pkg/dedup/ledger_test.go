package dedup

import (
	"fmt"
	"sync"
	"testing"
)

func TestMarkAndHasSeen(t *testing.T) {
	l := NewLedger()
	if l.HasSeen("user:alice", "m1") {
		t.Fatalf("empty ledger reported seen")
	}
	l.MarkSeen("user:alice", "m1")
	if !l.HasSeen("user:alice", "m1") {
		t.Fatalf("marked id not reported seen")
	}
	// per-conversation scoping
	if l.HasSeen("user:bob", "m1") {
		t.Fatalf("seen leaked across conversations")
	}
}

func TestReplaceID(t *testing.T) {
	l := NewLedger()
	l.MarkSeen("user:alice", "temp-1")
	l.ReplaceID("user:alice", "temp-1", "srv-1")
	if l.HasSeen("user:alice", "temp-1") {
		t.Fatalf("temp id still recorded after replace")
	}
	if !l.HasSeen("user:alice", "srv-1") {
		t.Fatalf("server id not recorded after replace")
	}
	// replacing an absent id is a no-op
	l.ReplaceID("user:alice", "nope", "other")
	if l.HasSeen("user:alice", "other") {
		t.Fatalf("replace of absent id recorded new id")
	}
}

func TestForget(t *testing.T) {
	l := NewLedger()
	l.MarkSeen("user:alice", "m1")
	l.MarkSeen("user:alice", "m2")
	l.MarkSeen("user:bob", "m1")
	if l.Len("user:alice") != 2 {
		t.Fatalf("len = %d, want 2", l.Len("user:alice"))
	}
	l.Forget("user:alice")
	if l.Len("user:alice") != 0 || l.HasSeen("user:alice", "m1") {
		t.Fatalf("forget did not clear conversation")
	}
	if !l.HasSeen("user:bob", "m1") {
		t.Fatalf("forget cleared the wrong conversation")
	}
}

// One ledger serves every open session; each session writes from its own
// apply loop.
func TestConcurrentConversations(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		key := fmt.Sprintf("user:peer%d", g)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("m%d", i)
				if l.HasSeen(key, id) {
					t.Errorf("%s/%s seen before mark", key, id)
				}
				l.MarkSeen(key, id)
			}
			l.ReplaceID(key, "m0", "srv-0")
		}()
	}
	wg.Wait()
	for g := 0; g < 4; g++ {
		key := fmt.Sprintf("user:peer%d", g)
		if l.Len(key) != 200 {
			t.Fatalf("%s len = %d, want 200", key, l.Len(key))
		}
		if !l.HasSeen(key, "srv-0") || l.HasSeen(key, "m0") {
			t.Fatalf("%s replace lost under concurrency", key)
		}
	}
}
