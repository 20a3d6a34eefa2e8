package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bakkerme/channelwatch/internal/core"
	"github.com/bakkerme/channelwatch/internal/detect"
	"github.com/bakkerme/channelwatch/internal/notify"
	"github.com/bakkerme/channelwatch/internal/registry"
	"github.com/bakkerme/channelwatch/internal/sources/youtube"
)

type Config struct {
	// MaxConcurrency > 1 processes channels on a bounded worker pool.
	// Channels are independent; the registry serializes its own writes.
	MaxConcurrency int
}

// Runner drives one pass over all tracked channels: fetch the latest upload,
// decide whether it is new, notify, then persist the new state. A failure on
// one channel never blocks the others; the only run-fatal conditions are
// credential rejections, which apply to every remaining channel equally.
type Runner struct {
	logger   *slog.Logger
	config   Config
	store    registry.Store
	fetcher  youtube.Fetcher
	notifier notify.Notifier
	filters  map[string]*detect.Filter
	tracer   trace.Tracer
}

func New(logger *slog.Logger, config Config, store registry.Store, fetcher youtube.Fetcher, notifier notify.Notifier, filters map[string]*detect.Filter) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger:   logger,
		config:   config,
		store:    store,
		fetcher:  fetcher,
		notifier: notifier,
		filters:  filters,
		tracer:   otel.Tracer("github.com/bakkerme/channelwatch/internal/runner"),
	}
}

// RunOnce performs a single check cycle. The returned error is non-nil only
// when nothing could be processed (registry load failed) or when the run was
// aborted by a credential failure; isolated per-channel errors are reported
// in the run's outcomes instead.
func (r *Runner) RunOnce(ctx context.Context) (*core.Run, error) {
	run := &core.Run{
		ID:        fmt.Sprintf("run-%d", time.Now().UnixNano()),
		StartedAt: time.Now().UTC(),
		Status:    core.RunStatusRunning,
	}
	ctx = core.WithRunID(ctx, run.ID)
	ctx, span := r.tracer.Start(ctx, "runner.RunOnce")
	defer span.End()
	logger := r.logger.With("run_id", run.ID)
	ctx = core.WithLogger(ctx, logger)

	sources, err := r.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	// Sorted iteration keeps reports and tests reproducible; correctness
	// does not depend on the order.
	ids := make([]string, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var fatal error
	if r.config.MaxConcurrency > 1 && len(ids) > 1 {
		run.Outcomes, fatal = r.processParallel(ctx, sources, ids)
	} else {
		for _, id := range ids {
			outcome, err := r.processSource(ctx, sources[id])
			run.Outcomes = append(run.Outcomes, outcome)
			if err != nil {
				fatal = err
				break
			}
		}
	}

	completedAt := time.Now().UTC()
	run.CompletedAt = &completedAt
	if fatal != nil {
		run.Status = core.RunStatusAborted
		logger.Error("run aborted", "error", fatal)
		return run, fatal
	}
	run.Status = core.RunStatusCompleted
	logger.Info("run completed",
		"channels", len(run.Outcomes),
		"notified", run.Notified(),
		"errors", run.Errored(),
	)
	return run, nil
}

// processSource walks one channel through fetch, decide, notify, update.
// The returned error is non-nil only for run-fatal credential failures;
// everything else lands in the outcome.
func (r *Runner) processSource(ctx context.Context, source core.TrackedSource) (core.SourceOutcome, error) {
	ctx, span := r.tracer.Start(ctx, "runner.processSource",
		trace.WithAttributes(
			attribute.String("run.id", core.RunIDFromContext(ctx)),
			attribute.String("source_id", source.SourceID),
		))
	defer span.End()
	logger := core.LoggerFromContext(ctx).With("source_id", source.SourceID)

	item, err := r.fetcher.FetchLatest(ctx, source.SourceID)
	if err != nil {
		outcome := core.SourceOutcome{
			SourceID: source.SourceID,
			Status:   core.OutcomeError,
			Error:    err.Error(),
		}
		if youtube.IsUnauthorized(err) {
			return outcome, err
		}
		logger.Warn("fetch failed", "kind", string(youtube.KindOf(err)), "error", err)
		return outcome, nil
	}

	if detect.Decide(source.LastNotifiedItemID, item) == detect.Skip {
		logger.Debug("no new upload", "item_id", item.ItemID)
		return core.SourceOutcome{
			SourceID: source.SourceID,
			Status:   core.OutcomeSkipped,
			ItemID:   item.ItemID,
		}, nil
	}

	if filter := r.filters[source.SourceID]; filter != nil {
		matched, err := filter.Match(item)
		if err != nil {
			// A broken rule must not silently swallow uploads.
			logger.Warn("filter rule failed, notifying anyway", "error", err)
		} else if matched {
			logger.Info("new upload suppressed by filter", "item_id", item.ItemID, "title", item.Title)
			r.persist(ctx, logger, source.SourceID, item.ItemID)
			return core.SourceOutcome{
				SourceID: source.SourceID,
				Status:   core.OutcomeFiltered,
				ItemID:   item.ItemID,
			}, nil
		}
	}

	logger.Info("new upload detected",
		"previous_item_id", source.LastNotifiedItemID,
		"item_id", item.ItemID,
		"title", item.Title,
	)
	event := core.NotificationEvent{SourceID: source.SourceID, Item: item}
	if err := r.notifier.Notify(ctx, event); err != nil {
		// The registry stays untouched so the same item is retried as new
		// on the next run. A duplicate notification beats a lost one.
		outcome := core.SourceOutcome{
			SourceID: source.SourceID,
			Status:   core.OutcomeError,
			ItemID:   item.ItemID,
			Error:    err.Error(),
		}
		if notify.IsAuthFailed(err) {
			return outcome, err
		}
		logger.Warn("notification failed", "error", err)
		return outcome, nil
	}

	r.persist(ctx, logger, source.SourceID, item.ItemID)
	return core.SourceOutcome{
		SourceID: source.SourceID,
		Status:   core.OutcomeNotified,
		ItemID:   item.ItemID,
	}, nil
}

// persist records the new last-notified ID. An update failure is reported
// but never fatal: the next run re-detects the item and re-notifies, which
// the at-least-once contract allows.
func (r *Runner) persist(ctx context.Context, logger *slog.Logger, sourceID, itemID string) {
	if err := r.store.Update(ctx, sourceID, itemID); err != nil {
		logger.Error("registry update failed", "item_id", itemID, "error", err)
	}
}

func (r *Runner) processParallel(ctx context.Context, sources map[string]core.TrackedSource, ids []string) ([]core.SourceOutcome, error) {
	workers := r.config.MaxConcurrency
	if workers > len(ids) {
		workers = len(ids)
	}

	jobs := make(chan core.TrackedSource)
	// Closed on the first fatal error. Only dispatch stops; in-flight
	// sources keep their context and finish normally.
	stop := make(chan struct{})
	var (
		mu       sync.Mutex
		outcomes []core.SourceOutcome
		fatal    error
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for source := range jobs {
				outcome, err := r.processSource(ctx, source)
				mu.Lock()
				outcomes = append(outcomes, outcome)
				if err != nil && fatal == nil {
					fatal = err
					close(stop)
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, id := range ids {
		select {
		case <-ctx.Done():
			break dispatch
		case <-stop:
			break dispatch
		case jobs <- sources[id]:
		}
	}
	close(jobs)
	wg.Wait()

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].SourceID < outcomes[j].SourceID
	})
	return outcomes, fatal
}
