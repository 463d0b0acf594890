// Package reconcile applies asynchronous status events from the realtime
// transport against the conversation store.
package reconcile

import (
	"chatsync/pkg/convstore"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/validation"
)

// Reconciler translates transport status events into store operations.
// Events for message ids not yet appended are dropped, not buffered; the
// periodic refetch recovers any state lost to that race.
type Reconciler struct {
	store *convstore.Store
}

// New returns a Reconciler operating on store.
func New(store *convstore.Store) *Reconciler {
	return &Reconciler{store: store}
}

// ApplyStatus handles a messageStatus event. Returns whether the store
// changed.
func (r *Reconciler) ApplyStatus(convKey string, ev models.StatusEvent) bool {
	if err := validation.ValidateStatusEvent(ev); err != nil {
		logger.Warn("status_event_malformed", "conv", convKey, "error", err)
		return false
	}
	status := models.Status(ev.Status)
	switch status {
	case models.StatusSent, models.StatusDelivered, models.StatusSeen, models.StatusError:
	default:
		logger.Warn("status_event_unknown_status", "conv", convKey, "status", ev.Status)
		return false
	}
	if !r.store.Contains(convKey, ev.MessageID) {
		r.dropUnknown(convKey, ev.MessageID, string(status))
		return false
	}
	if r.store.ApplyStatus(convKey, ev.MessageID, status) {
		telemetry.StatusApplied.WithLabelValues(string(status)).Inc()
		return true
	}
	return false
}

// ApplyRecall handles a messageRecalled event: the entry stays in the
// sequence with its content masked.
func (r *Reconciler) ApplyRecall(convKey string, ev models.RecallEvent) bool {
	if ev.MessageID == "" {
		return false
	}
	if !r.store.Contains(convKey, ev.MessageID) {
		r.dropUnknown(convKey, ev.MessageID, string(models.StatusRecalled))
		return false
	}
	if r.store.ApplyStatus(convKey, ev.MessageID, models.StatusRecalled) {
		telemetry.StatusApplied.WithLabelValues(string(models.StatusRecalled)).Inc()
		return true
	}
	return false
}

// ApplyDelete handles a messageDeleted event: hard removal from the
// sequence. Deleting an absent id is a no-op.
func (r *Reconciler) ApplyDelete(convKey string, ev models.DeleteEvent) bool {
	if ev.MessageID == "" {
		return false
	}
	if !r.store.Contains(convKey, ev.MessageID) {
		r.dropUnknown(convKey, ev.MessageID, string(models.StatusDeleted))
		return false
	}
	if r.store.Remove(convKey, ev.MessageID) {
		telemetry.StatusApplied.WithLabelValues(string(models.StatusDeleted)).Inc()
		return true
	}
	return false
}

func (r *Reconciler) dropUnknown(convKey, messageID, status string) {
	telemetry.StatusDropped.Inc()
	logger.Debug("status_event_dropped_unknown_id",
		"conv", convKey, "msg_id", messageID, "status", status)
}
