package cache

import "chatsync/pkg/models"

// Synchronizer adapts the package-level persistence functions to the
// write-through interface the conversation store expects.
type Synchronizer struct{}

func (Synchronizer) Persist(convKey string, msgs []models.Message) {
	Persist(convKey, msgs)
}
