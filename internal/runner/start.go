package runner

import (
	"context"

	"github.com/bakkerme/channelwatch/internal/core"
	"github.com/bakkerme/channelwatch/internal/trigger"
)

// Start runs a check cycle on every trigger event until the context is
// cancelled. A credential failure aborts the current run but not the loop:
// the operator may fix the credentials between ticks.
func (r *Runner) Start(ctx context.Context, trig *trigger.CronProcessor) error {
	events, err := trig.Start(ctx)
	if err != nil {
		return err
	}
	go r.listen(ctx, events)
	return nil
}

func (r *Runner) listen(ctx context.Context, events <-chan core.TriggerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.logger.Info("trigger event", "time", event.Timestamp)
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("run failed", "error", err)
			}
		}
	}
}
