/*
scheduler.go - Background rebate and reconciliation loops

PURPOSE:
  Starts the two background runners of the server on the generic
  scheduler package:

  rebate:    fires WakeOffset after every business-day boundary and runs
             RunForDay for the day that just closed.
  reconcile: fires every ReconcileInterval and reconciles yesterday and
             today from approved transfers.

  Errors are logged and counted by the runner; the loops keep going.

USAGE:
  s := api.NewSchedulers(handler, api.SchedulerConfig{...})
  s.Start(ctx)
  // ... later
  s.Stop()

SEE ALSO:
  - scheduler/scheduler.go: Runner, retry backoff
  - scheduler/trigger.go: DailyBoundary, Interval
  - handlers.go: RunRebates, Reconcile (manual equivalents)
*/
package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warp/winloss-engine/generic"
	"github.com/warp/winloss-engine/scheduler"
)

// SchedulerConfig selects and times the background runners.
type SchedulerConfig struct {
	RebateEnabled     bool
	WakeOffset        time.Duration
	ReconcileEnabled  bool
	ReconcileInterval time.Duration
	Backoff           scheduler.Backoff
}

// Schedulers owns the background runners.
type Schedulers struct {
	runners []*scheduler.Runner
}

// NewSchedulers builds the enabled runners. Nothing runs until Start.
func NewSchedulers(h *Handler, cfg SchedulerConfig) *Schedulers {
	backoff := cfg.Backoff
	if backoff == (scheduler.Backoff{}) {
		backoff = scheduler.DefaultBackoff
	}
	s := &Schedulers{}

	if cfg.RebateEnabled {
		boundary := scheduler.DailyBoundary{Calendar: h.Calendar, Offset: cfg.WakeOffset}
		s.runners = append(s.runners, &scheduler.Runner{
			Name:    "rebate",
			Trigger: boundary,
			Job:     RebateJob(h, boundary),
			Logger:  h.Logger,
			Backoff: backoff,
		})
	}
	if cfg.ReconcileEnabled && cfg.ReconcileInterval > 0 {
		s.runners = append(s.runners, &scheduler.Runner{
			Name:       "reconcile",
			Trigger:    scheduler.Interval(cfg.ReconcileInterval),
			Job:        ReconcileJob(h),
			Logger:     h.Logger,
			Backoff:    backoff,
			RunOnStart: true,
		})
	}
	return s
}

// RebateJob runs the rebate engine for the day closed by the boundary at firedAt.
func RebateJob(h *Handler, boundary scheduler.DailyBoundary) scheduler.Job {
	return func(ctx context.Context, firedAt time.Time) error {
		day := boundary.ClosedDay(firedAt)
		res, err := h.Rebates.RunForDay(ctx, day, generic.TriggerScheduled)
		if err != nil {
			return err
		}
		h.Logger.Info("scheduled rebate run",
			zap.String("day", h.Calendar.FormatDay(day)),
			zap.Int("created", res.Created),
			zap.Int("skipped", res.Skipped))
		return nil
	}
}

// ReconcileJob reconciles yesterday and today relative to firedAt.
func ReconcileJob(h *Handler) scheduler.Job {
	return func(ctx context.Context, firedAt time.Time) error {
		_, err := h.Reconciler.Run(ctx, firedAt)
		return err
	}
}

// Start launches every runner.
func (s *Schedulers) Start(ctx context.Context) {
	for _, r := range s.runners {
		r.Start(ctx)
	}
}

// Stop stops every runner and waits for in-flight jobs.
func (s *Schedulers) Stop() {
	for _, r := range s.runners {
		r.Stop()
	}
}

// Names returns the names of the configured runners.
func (s *Schedulers) Names() []string {
	names := make([]string, 0, len(s.runners))
	for _, r := range s.runners {
		names = append(names, r.Name)
	}
	return names
}
