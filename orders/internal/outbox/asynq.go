package outbox

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

const TaskRelayScan = "outbox.scan"

// AsynqHandler runs one relay pass per scheduled task. Overlapping passes
// across workers are safe because claims are leased.
func (r *Relay) AsynqHandler() asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, _ *asynq.Task) error {
		res, err := r.RunOnce(ctx)
		if err != nil {
			return err
		}
		if res.Claimed > 0 {
			r.logger.Info(ctx, "relay_pass", "outbox relay pass finished",
				slog.Int("claimed", res.Claimed),
				slog.Int("published", res.Published),
				slog.Int("failed", res.Failed),
			)
		}
		return nil
	})
}

// RegisterAsynq binds the scan task on mux and schedules it every interval.
func (r *Relay) RegisterAsynq(mux *asynq.ServeMux, scheduler *asynq.Scheduler, queue string) error {
	mux.Handle(TaskRelayScan, r.AsynqHandler())
	spec := "@every " + strconv.Itoa(int(r.opts.Interval/time.Second)) + "s"
	if r.opts.Interval < time.Second {
		spec = "@every 1s"
	}
	_, err := scheduler.Register(spec, asynq.NewTask(TaskRelayScan, nil, asynq.Queue(queue), asynq.MaxRetry(0)))
	return err
}
