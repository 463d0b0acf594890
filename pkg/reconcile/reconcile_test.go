package reconcile

import (
	"testing"

	"chatsync/pkg/convstore"
	"chatsync/pkg/models"
)

const conv = "user:alice"

func seeded(t *testing.T, msgs ...models.Message) (*convstore.Store, *Reconciler) {
	t.Helper()
	s := convstore.New(nil)
	for _, m := range msgs {
		if !s.Append(conv, m) {
			t.Fatalf("seed append failed for %s", m.ID)
		}
	}
	return s, New(s)
}

func TestApplyStatus(t *testing.T) {
	s, r := seeded(t, models.Message{ID: "m1", Type: models.TypeText, Status: models.StatusSent})
	if !r.ApplyStatus(conv, models.StatusEvent{MessageID: "m1", Status: "delivered"}) {
		t.Fatalf("delivered rejected")
	}
	got, _ := s.Get(conv, "m1")
	if got.Status != models.StatusDelivered {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestApplyStatusUnknownIDDropped(t *testing.T) {
	s, r := seeded(t, models.Message{ID: "m1", Type: models.TypeText, Status: models.StatusSent})
	// status raced ahead of its message: dropped, not buffered
	if r.ApplyStatus(conv, models.StatusEvent{MessageID: "future", Status: "seen"}) {
		t.Fatalf("unknown id applied")
	}
	if s.Contains(conv, "future") {
		t.Fatalf("unknown id materialized a message")
	}
}

func TestApplyStatusRejectsBadEvents(t *testing.T) {
	_, r := seeded(t, models.Message{ID: "m1", Type: models.TypeText, Status: models.StatusSent})
	cases := []models.StatusEvent{
		{MessageID: "", Status: "seen"},
		{MessageID: "m1", Status: ""},
		{MessageID: "m1", Status: "vanished"},
		// recall and delete have their own events; not valid as status values
		{MessageID: "m1", Status: "recalled"},
		{MessageID: "m1", Status: "deleted"},
	}
	for i, ev := range cases {
		if r.ApplyStatus(conv, ev) {
			t.Errorf("case %d applied: %+v", i, ev)
		}
	}
}

func TestApplyRecall(t *testing.T) {
	s, r := seeded(t, models.Message{ID: "m1", Type: models.TypeText, Content: "secret", Status: models.StatusDelivered})
	if !r.ApplyRecall(conv, models.RecallEvent{MessageID: "m1"}) {
		t.Fatalf("recall rejected")
	}
	got, _ := s.Get(conv, "m1")
	if got.Status != models.StatusRecalled || got.Content == "secret" {
		t.Fatalf("recall not applied: %+v", got)
	}
	// second recall is a no-op, not an error
	if r.ApplyRecall(conv, models.RecallEvent{MessageID: "m1"}) {
		t.Fatalf("double recall applied")
	}
	if r.ApplyRecall(conv, models.RecallEvent{MessageID: "ghost"}) {
		t.Fatalf("recall of unknown id applied")
	}
}

func TestApplyDelete(t *testing.T) {
	s, r := seeded(t,
		models.Message{ID: "m1", Type: models.TypeText, Status: models.StatusSent},
		models.Message{ID: "m2", Type: models.TypeText, Status: models.StatusSeen},
	)
	if !r.ApplyDelete(conv, models.DeleteEvent{MessageID: "m1"}) {
		t.Fatalf("delete rejected")
	}
	if s.Contains(conv, "m1") || s.Len(conv) != 1 {
		t.Fatalf("delete not applied")
	}
	if r.ApplyDelete(conv, models.DeleteEvent{MessageID: "m1"}) {
		t.Fatalf("double delete applied")
	}
	if r.ApplyDelete(conv, models.DeleteEvent{MessageID: ""}) {
		t.Fatalf("empty id delete applied")
	}
}
