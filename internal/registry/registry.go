package registry

import (
	"context"
	"errors"

	"github.com/bakkerme/channelwatch/internal/core"
)

var (
	// ErrUnavailable means the backing store is missing or unreadable.
	ErrUnavailable = errors.New("registry storage unavailable")
	// ErrCorrupt means the backing store exists but its content cannot be
	// parsed into the expected shape.
	ErrCorrupt = errors.New("registry storage corrupt")
	// ErrNotFound means an update targeted a channel the store does not track.
	ErrNotFound = errors.New("source not found in registry")
)

// Store holds the durable mapping from channel ID to last-notified item ID.
//
// LoadAll is called once at the start of a run; Update persists a single
// channel's new item ID durably before returning. Writes must be atomic from
// an external reader's viewpoint.
type Store interface {
	LoadAll(ctx context.Context) (map[string]core.TrackedSource, error)
	Update(ctx context.Context, sourceID, newItemID string) error
	// Ensure inserts a channel with an empty last-notified ID if absent.
	// Used to seed the store from the configured channel list.
	Ensure(ctx context.Context, sourceID string) error
	Close() error
}
