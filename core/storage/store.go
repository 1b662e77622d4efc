// Package storage provides the durable key-value capability the speech output
// controller uses to remember that audio was unlocked.
package storage

import (
	"context"
	"time"
)

// Entry is a stored value together with the time it was written.
type Entry struct {
	Key       string
	Value     string
	Timestamp time.Time
}

// Store persists entries across process restarts. Writes are
// last-writer-wins.
type Store interface {
	// Get returns the entry for key, or nil when there is none.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set creates or replaces the entry for entry.Key.
	Set(ctx context.Context, entry Entry) error

	// Delete removes the entry for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
