package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bakkerme/channelwatch/internal/core"
	"github.com/bakkerme/channelwatch/internal/detect"
	"github.com/bakkerme/channelwatch/internal/notify"
	emailmock "github.com/bakkerme/channelwatch/internal/outputs/email/mock"
	registrymock "github.com/bakkerme/channelwatch/internal/registry/mock"
	"github.com/bakkerme/channelwatch/internal/sources/youtube"
	youtubemock "github.com/bakkerme/channelwatch/internal/sources/youtube/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestNotifier(t *testing.T, sender *emailmock.Sender) notify.Notifier {
	t.Helper()
	notifier, err := notify.NewEmailNotifier(sender, "bot@example.com", "you@example.com", "", 0)
	if err != nil {
		t.Fatalf("failed to build notifier: %v", err)
	}
	return notifier
}

func outcomeFor(t *testing.T, run *core.Run, sourceID string) core.SourceOutcome {
	t.Helper()
	for _, outcome := range run.Outcomes {
		if outcome.SourceID == sourceID {
			return outcome
		}
	}
	t.Fatalf("no outcome for %s in %+v", sourceID, run.Outcomes)
	return core.SourceOutcome{}
}

func TestRunnerNotifiesNewUpload(t *testing.T) {
	store := &registrymock.Store{Sources: map[string]core.TrackedSource{
		"UCabc": {SourceID: "UCabc", LastNotifiedItemID: "vid1"},
	}}
	fetcher := &youtubemock.Fetcher{ItemsByChannel: map[string]core.LatestItem{
		"UCabc": {ItemID: "vid2", Title: "New Upload", URL: "https://www.youtube.com/watch?v=vid2"},
	}}
	sender := &emailmock.Sender{}

	r := New(testLogger(), Config{}, store, fetcher, newTestNotifier(t, sender), nil)
	run, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if run.Status != core.RunStatusCompleted {
		t.Fatalf("unexpected run status %q", run.Status)
	}
	if got := outcomeFor(t, run, "UCabc"); got.Status != core.OutcomeNotified || got.ItemID != "vid2" {
		t.Fatalf("unexpected outcome %+v", got)
	}
	if len(sender.Messages) != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", len(sender.Messages))
	}
	if store.Sources["UCabc"].LastNotifiedItemID != "vid2" {
		t.Fatalf("registry not advanced: %q", store.Sources["UCabc"].LastNotifiedItemID)
	}
}

func TestRunnerSecondRunIsIdempotent(t *testing.T) {
	store := &registrymock.Store{Sources: map[string]core.TrackedSource{
		"UCabc": {SourceID: "UCabc", LastNotifiedItemID: ""},
	}}
	fetcher := &youtubemock.Fetcher{ItemsByChannel: map[string]core.LatestItem{
		"UCabc": {ItemID: "vid1", Title: "First Upload", URL: "https://www.youtube.com/watch?v=vid1"},
	}}
	sender := &emailmock.Sender{}

	r := New(testLogger(), Config{}, store, fetcher, newTestNotifier(t, sender), nil)

	// First observation of a freshly tracked channel announces once.
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if len(sender.Messages) != 1 {
		t.Fatalf("expected 1 notification after first run, got %d", len(sender.Messages))
	}

	run, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if got := outcomeFor(t, run, "UCabc"); got.Status != core.OutcomeSkipped {
		t.Fatalf("expected skip on second run, got %+v", got)
	}
	if len(sender.Messages) != 1 {
		t.Fatalf("second run must not re-notify, got %d messages", len(sender.Messages))
	}
}

func TestRunnerRenotifiesWhenUpdateFailed(t *testing.T) {
	store := &registrymock.Store{
		Sources: map[string]core.TrackedSource{
			"UCabc": {SourceID: "UCabc", LastNotifiedItemID: "vid1"},
		},
		UpdateErr: fmt.Errorf("disk full"),
	}
	fetcher := &youtubemock.Fetcher{ItemsByChannel: map[string]core.LatestItem{
		"UCabc": {ItemID: "vid2", Title: "New Upload", URL: "https://www.youtube.com/watch?v=vid2"},
	}}
	sender := &emailmock.Sender{}

	r := New(testLogger(), Config{}, store, fetcher, newTestNotifier(t, sender), nil)

	// Send succeeds but the registry write fails; the run still completes.
	run, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := outcomeFor(t, run, "UCabc"); got.Status != core.OutcomeNotified {
		t.Fatalf("unexpected outcome %+v", got)
	}
	if store.Sources["UCabc"].LastNotifiedItemID != "vid1" {
		t.Fatalf("registry should not have advanced")
	}

	// With storage healthy again, the next run re-detects the same item and
	// re-notifies rather than losing it.
	store.UpdateErr = nil
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(sender.Messages) != 2 {
		t.Fatalf("expected re-notification, got %d messages", len(sender.Messages))
	}
	if store.Sources["UCabc"].LastNotifiedItemID != "vid2" {
		t.Fatalf("registry not advanced after recovery")
	}
}

func TestRunnerRenotifiesAfterSendFailure(t *testing.T) {
	store := &registrymock.Store{Sources: map[string]core.TrackedSource{
		"UCabc": {SourceID: "UCabc", LastNotifiedItemID: "vid1"},
	}}
	fetcher := &youtubemock.Fetcher{ItemsByChannel: map[string]core.LatestItem{
		"UCabc": {ItemID: "vid2", Title: "New Upload", URL: "https://www.youtube.com/watch?v=vid2"},
	}}
	sender := &emailmock.Sender{ErrOnce: fmt.Errorf("failed to send email: dial tcp: connection refused")}

	r := New(testLogger(), Config{}, store, fetcher, newTestNotifier(t, sender), nil)

	// The send fails, so the registry keeps vid1 and nothing is delivered.
	run, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if got := outcomeFor(t, run, "UCabc"); got.Status != core.OutcomeError {
		t.Fatalf("unexpected outcome %+v", got)
	}
	if len(sender.Messages) != 0 {
		t.Fatalf("expected no delivery on the failed run, got %d", len(sender.Messages))
	}

	// The next run re-detects vid2 and delivers it.
	run, err = r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if got := outcomeFor(t, run, "UCabc"); got.Status != core.OutcomeNotified {
		t.Fatalf("unexpected outcome %+v", got)
	}
	if len(sender.Messages) != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", len(sender.Messages))
	}
	if store.Sources["UCabc"].LastNotifiedItemID != "vid2" {
		t.Fatalf("registry not advanced after successful delivery")
	}
}

func TestRunnerIsolatesTransientFailures(t *testing.T) {
	store := &registrymock.Store{Sources: map[string]core.TrackedSource{
		"UCaaa": {SourceID: "UCaaa", LastNotifiedItemID: "old"},
		"UCbbb": {SourceID: "UCbbb", LastNotifiedItemID: "old"},
		"UCccc": {SourceID: "UCccc", LastNotifiedItemID: "same"},
	}}
	fetcher := &youtubemock.Fetcher{
		ItemsByChannel: map[string]core.LatestItem{
			"UCaaa": {ItemID: "new", Title: "A", URL: "https://www.youtube.com/watch?v=new"},
			"UCccc": {ItemID: "same", Title: "C", URL: "https://www.youtube.com/watch?v=same"},
		},
		ErrByChannel: map[string]error{
			"UCbbb": &youtube.FetchError{Kind: youtube.ErrorTransient, SourceID: "UCbbb", Err: fmt.Errorf("gateway timeout")},
		},
	}
	sender := &emailmock.Sender{}

	r := New(testLogger(), Config{}, store, fetcher, newTestNotifier(t, sender), nil)
	run, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := outcomeFor(t, run, "UCaaa"); got.Status != core.OutcomeNotified {
		t.Fatalf("UCaaa: %+v", got)
	}
	if got := outcomeFor(t, run, "UCbbb"); got.Status != core.OutcomeError {
		t.Fatalf("UCbbb: %+v", got)
	}
	if got := outcomeFor(t, run, "UCccc"); got.Status != core.OutcomeSkipped {
		t.Fatalf("UCccc: %+v", got)
	}
	if len(sender.Messages) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sender.Messages))
	}
}

func TestRunnerAbortsOnUnauthorizedFetch(t *testing.T) {
	store := &registrymock.Store{Sources: map[string]core.TrackedSource{
		"UCaaa": {SourceID: "UCaaa"},
		"UCbbb": {SourceID: "UCbbb"},
	}}
	fetcher := &youtubemock.Fetcher{
		ErrByChannel: map[string]error{
			"UCaaa": &youtube.FetchError{Kind: youtube.ErrorUnauthorized, SourceID: "UCaaa", Err: fmt.Errorf("api key invalid")},
			"UCbbb": &youtube.FetchError{Kind: youtube.ErrorUnauthorized, SourceID: "UCbbb", Err: fmt.Errorf("api key invalid")},
		},
	}
	sender := &emailmock.Sender{}

	r := New(testLogger(), Config{}, store, fetcher, newTestNotifier(t, sender), nil)
	run, err := r.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected run-fatal error")
	}
	if !youtube.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if run.Status != core.RunStatusAborted {
		t.Fatalf("unexpected run status %q", run.Status)
	}
	// Credentials are run-wide; the second channel must not be attempted.
	if len(fetcher.Fetched) != 1 || fetcher.Fetched[0] != "UCaaa" {
		t.Fatalf("expected only UCaaa to be fetched, got %v", fetcher.Fetched)
	}
}

func TestRunnerDoesNotAdvanceOnTransportFailure(t *testing.T) {
	store := &registrymock.Store{Sources: map[string]core.TrackedSource{
		"UCabc": {SourceID: "UCabc", LastNotifiedItemID: "vid1"},
	}}
	fetcher := &youtubemock.Fetcher{ItemsByChannel: map[string]core.LatestItem{
		"UCabc": {ItemID: "vid2", Title: "New Upload", URL: "https://www.youtube.com/watch?v=vid2"},
	}}
	sender := &emailmock.Sender{Err: fmt.Errorf("dial tcp: connection refused")}

	r := New(testLogger(), Config{}, store, fetcher, newTestNotifier(t, sender), nil)
	run, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("transport failure must not abort the run: %v", err)
	}
	if got := outcomeFor(t, run, "UCabc"); got.Status != core.OutcomeError {
		t.Fatalf("unexpected outcome %+v", got)
	}
	if store.Sources["UCabc"].LastNotifiedItemID != "vid1" {
		t.Fatalf("registry must stay on vid1 so the item is retried next run")
	}
	if len(store.Updates) != 0 {
		t.Fatalf("no update should have been attempted, got %v", store.Updates)
	}
}

func TestRunnerAbortsOnAuthFailedSend(t *testing.T) {
	store := &registrymock.Store{Sources: map[string]core.TrackedSource{
		"UCabc": {SourceID: "UCabc", LastNotifiedItemID: "vid1"},
	}}
	fetcher := &youtubemock.Fetcher{ItemsByChannel: map[string]core.LatestItem{
		"UCabc": {ItemID: "vid2", Title: "New Upload", URL: "https://www.youtube.com/watch?v=vid2"},
	}}
	sender := &emailmock.Sender{Err: fmt.Errorf("535 5.7.8 authentication failed")}

	r := New(testLogger(), Config{}, store, fetcher, newTestNotifier(t, sender), nil)
	run, err := r.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected run-fatal error")
	}
	if !notify.IsAuthFailed(err) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if run.Status != core.RunStatusAborted {
		t.Fatalf("unexpected run status %q", run.Status)
	}
	if store.Sources["UCabc"].LastNotifiedItemID != "vid1" {
		t.Fatalf("registry must not advance on failed send")
	}
}

func TestRunnerFilterSuppressesNotificationButAdvancesState(t *testing.T) {
	store := &registrymock.Store{Sources: map[string]core.TrackedSource{
		"UCabc": {SourceID: "UCabc", LastNotifiedItemID: "vid1"},
	}}
	fetcher := &youtubemock.Fetcher{ItemsByChannel: map[string]core.LatestItem{
		"UCabc": {ItemID: "vid2", Title: "quick clip #shorts", URL: "https://www.youtube.com/watch?v=vid2"},
	}}
	sender := &emailmock.Sender{}

	filter, err := detect.NewFilter(`title contains "#shorts"`)
	if err != nil {
		t.Fatalf("failed to compile filter: %v", err)
	}
	filters := map[string]*detect.Filter{"UCabc": filter}

	r := New(testLogger(), Config{}, store, fetcher, newTestNotifier(t, sender), filters)
	run, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := outcomeFor(t, run, "UCabc"); got.Status != core.OutcomeFiltered {
		t.Fatalf("unexpected outcome %+v", got)
	}
	if len(sender.Messages) != 0 {
		t.Fatalf("filtered item must not notify, got %d messages", len(sender.Messages))
	}
	// The state still advances, otherwise the filtered item would be
	// re-evaluated on every run.
	if store.Sources["UCabc"].LastNotifiedItemID != "vid2" {
		t.Fatalf("registry not advanced past filtered item")
	}
}

func TestRunnerLoadFailureAbortsBeforeProcessing(t *testing.T) {
	store := &registrymock.Store{LoadErr: fmt.Errorf("state file unreadable")}
	fetcher := &youtubemock.Fetcher{}
	sender := &emailmock.Sender{}

	r := New(testLogger(), Config{}, store, fetcher, newTestNotifier(t, sender), nil)
	_, err := r.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected load failure to abort the run")
	}
	if len(fetcher.Fetched) != 0 {
		t.Fatalf("no fetches should happen when the registry cannot load")
	}
}

func TestRunnerParallelAbortsOnCredentialFailure(t *testing.T) {
	sources := map[string]core.TrackedSource{}
	errs := map[string]error{}
	for _, id := range []string{"UCaaa", "UCbbb", "UCccc", "UCddd"} {
		sources[id] = core.TrackedSource{SourceID: id}
		errs[id] = &youtube.FetchError{Kind: youtube.ErrorUnauthorized, SourceID: id, Err: fmt.Errorf("api key invalid")}
	}
	store := &registrymock.Store{Sources: sources}
	fetcher := &parallelMockFetcher{errs: errs}
	sender := &emailmock.Sender{}

	r := New(testLogger(), Config{MaxConcurrency: 2}, store, fetcher, newTestNotifier(t, sender), nil)
	run, err := r.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected run-fatal error")
	}
	if !youtube.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if run.Status != core.RunStatusAborted {
		t.Fatalf("unexpected run status %q", run.Status)
	}
	if len(run.Outcomes) == len(sources) && len(sender.Messages) != 0 {
		t.Fatalf("no notifications expected, got %d", len(sender.Messages))
	}
}

func TestRunnerParallelDrainsInFlightWork(t *testing.T) {
	store := &registrymock.Store{Sources: map[string]core.TrackedSource{
		"UCaaa": {SourceID: "UCaaa"},
		"UCbbb": {SourceID: "UCbbb", LastNotifiedItemID: "vid1"},
	}}
	fetcher := &drainMockFetcher{slowStarted: make(chan struct{})}
	sender := &emailmock.Sender{}

	r := New(testLogger(), Config{MaxConcurrency: 2}, store, fetcher, newTestNotifier(t, sender), nil)
	run, err := r.RunOnce(context.Background())
	if !youtube.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if run.Status != core.RunStatusAborted {
		t.Fatalf("unexpected run status %q", run.Status)
	}
	// The slow channel was already dispatched when the fatal error hit;
	// it must finish and deliver rather than being cancelled mid-flight.
	if got := outcomeFor(t, run, "UCbbb"); got.Status != core.OutcomeNotified {
		t.Fatalf("in-flight channel should complete, got %+v", got)
	}
	if len(sender.Messages) != 1 {
		t.Fatalf("expected 1 delivery from the in-flight channel, got %d", len(sender.Messages))
	}
}

// parallelMockFetcher is safe for concurrent use, unlike the recording mock.
type parallelMockFetcher struct {
	errs map[string]error
}

func (f *parallelMockFetcher) FetchLatest(ctx context.Context, channelID string) (core.LatestItem, error) {
	_ = ctx
	if err, ok := f.errs[channelID]; ok {
		return core.LatestItem{}, err
	}
	return core.LatestItem{}, errors.New("unexpected channel")
}

// drainMockFetcher fails one channel and answers the other after a short
// delay, unless its context is cancelled first. The failure waits for the
// slow fetch to start so the slow channel is guaranteed to be in flight.
type drainMockFetcher struct {
	slowStarted chan struct{}
}

func (f *drainMockFetcher) FetchLatest(ctx context.Context, channelID string) (core.LatestItem, error) {
	if channelID == "UCaaa" {
		<-f.slowStarted
		return core.LatestItem{}, &youtube.FetchError{
			Kind:     youtube.ErrorUnauthorized,
			SourceID: channelID,
			Err:      fmt.Errorf("api key invalid"),
		}
	}
	close(f.slowStarted)
	select {
	case <-ctx.Done():
		return core.LatestItem{}, &youtube.FetchError{
			Kind:     youtube.ErrorTransient,
			SourceID: channelID,
			Err:      ctx.Err(),
		}
	case <-time.After(50 * time.Millisecond):
		return core.LatestItem{
			ItemID: "vid2",
			Title:  "New Upload",
			URL:    "https://www.youtube.com/watch?v=vid2",
		}, nil
	}
}
