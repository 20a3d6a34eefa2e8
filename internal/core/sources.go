package core

import "time"

// TrackedSource is one watched channel together with the identifier of the
// last item a notification went out for. An empty LastNotifiedItemID means
// the channel has never produced a notification.
type TrackedSource struct {
	SourceID           string `json:"source_id" yaml:"source_id"`
	LastNotifiedItemID string `json:"last_notified_item_id" yaml:"last_notified_item_id"`
}

// LatestItem is the most recent upload of a channel as reported by a fetch.
// It lives for the duration of one check; only the ID is ever persisted.
type LatestItem struct {
	ItemID      string    `json:"item_id" yaml:"item_id"`
	Title       string    `json:"title" yaml:"title"`
	URL         string    `json:"url" yaml:"url"`
	PublishedAt time.Time `json:"published_at,omitempty" yaml:"published_at,omitempty"`
}

// NotificationEvent pairs a detected new item with the channel it came from.
// Constructed when the detector decides to notify, consumed immediately by
// the notifier, never persisted.
type NotificationEvent struct {
	SourceID string     `json:"source_id" yaml:"source_id"`
	Item     LatestItem `json:"item" yaml:"item"`
}

// TriggerEvent is emitted by a trigger when a run should start.
type TriggerEvent struct {
	Timestamp time.Time
}
