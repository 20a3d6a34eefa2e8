package detect

import "github.com/bakkerme/channelwatch/internal/core"

// Decision is the outcome of comparing stored state with a fetched item.
type Decision int

const (
	Skip Decision = iota
	Notify
)

// Decide reports whether the fetched item is new relative to the stored
// last-notified ID. An empty stored ID means the channel was never notified,
// so its current latest item is announced once.
func Decide(stored string, fetched core.LatestItem) Decision {
	if fetched.ItemID == stored {
		return Skip
	}
	return Notify
}
