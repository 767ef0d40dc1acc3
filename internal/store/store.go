// Package store provides data persistence implementations.
package store

import (
	"context"
	"time"

	"kitefeed/internal/models"
)

// WatchItem is one persisted watchlist entry. A nil Mode means the
// instrument is subscribed at the server default level.
type WatchItem struct {
	Token   uint32
	Symbol  string
	Mode    *models.Mode
	AddedAt time.Time
}

// WatchStore persists the watchlist so subscriptions survive process
// restarts.
type WatchStore interface {
	// Add inserts or updates a watchlist entry.
	Add(ctx context.Context, item WatchItem) error
	// Remove deletes an entry by instrument token.
	Remove(ctx context.Context, token uint32) error
	// SetMode updates the detail level for an existing entry.
	SetMode(ctx context.Context, token uint32, mode models.Mode) error
	// List returns all entries ordered by token.
	List(ctx context.Context) ([]WatchItem, error)
	// Close releases the underlying resources.
	Close() error
}
