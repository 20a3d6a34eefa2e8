package youtube

import (
	"context"
	"errors"
	"fmt"

	"github.com/bakkerme/channelwatch/internal/core"
)

// ErrorKind classifies fetch failures so the orchestrator can decide
// between skipping one channel and aborting the whole run.
type ErrorKind string

const (
	// ErrorNotFound means the channel ID is unknown to YouTube.
	ErrorNotFound ErrorKind = "not_found"
	// ErrorNoItems means the channel exists but has no uploads.
	ErrorNoItems ErrorKind = "no_items"
	// ErrorTransient covers transport and server failures that are safe to
	// retry on a later run.
	ErrorTransient ErrorKind = "transient"
	// ErrorUnauthorized means the API rejected our credentials. Credentials
	// are run-wide, so this is fatal for the remainder of the run.
	ErrorUnauthorized ErrorKind = "unauthorized"
)

// FetchError is a typed fetch failure for one channel.
type FetchError struct {
	Kind     ErrorKind
	SourceID string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("youtube fetch %s: %s", e.SourceID, e.Kind)
	}
	return fmt.Sprintf("youtube fetch %s: %s: %v", e.SourceID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the error kind of a fetch failure, or ErrorTransient when
// the error carries no classification.
func KindOf(err error) ErrorKind {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	return ErrorTransient
}

// IsUnauthorized reports whether err is a run-fatal credential failure.
func IsUnauthorized(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr) && fetchErr.Kind == ErrorUnauthorized
}

// Fetcher resolves a channel ID to its single most recent upload.
type Fetcher interface {
	FetchLatest(ctx context.Context, channelID string) (core.LatestItem, error)
}

// WatchURL builds the public watch URL for a video ID. The URL is derived,
// never fetched.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
