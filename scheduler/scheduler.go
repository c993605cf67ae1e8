/*
Package scheduler runs background jobs on a trigger.

PURPOSE:
  Owns the timing concerns of background work (waiting, cancellation,
  retry backoff) so the business logic it triggers stays a plain function
  that tests call directly without a clock.

DESIGN:
  - A Runner pairs one Trigger with one Job and runs them in a goroutine
  - Trigger.Next(now) decides the next fire instant
  - Waits are floored at MinWait
  - A failing job is retried with bounded exponential backoff, then the
    loop moves on to the next trigger instant; errors never end the loop
  - No lock is held while waiting; Stop cancels the context and waits

USAGE:
  r := &scheduler.Runner{
      Name:    "rebate",
      Trigger: scheduler.DailyBoundary{Calendar: cal, Offset: 5 * time.Minute},
      Job:     func(ctx context.Context, firedAt time.Time) error { ... },
      Logger:  logger,
  }
  r.Start(ctx)
  defer r.Stop()

SEE ALSO:
  - trigger.go: Interval, DailyBoundary
  - api/scheduler.go: the rebate and reconcile runners
*/
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/winloss-engine/logging"
	"github.com/warp/winloss-engine/metrics"
)

// DefaultMinWait is the wait floor between two fires.
const DefaultMinWait = time.Second

// Job is the unit of work. firedAt is the trigger instant the run belongs to.
type Job func(ctx context.Context, firedAt time.Time) error

// Backoff bounds the retries of a failing job within one fire.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int
}

// DefaultBackoff retries three times: 5s, 10s, 20s.
var DefaultBackoff = Backoff{Initial: 5 * time.Second, Max: time.Minute, MaxRetries: 3}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Runner runs Job every time Trigger fires until stopped.
type Runner struct {
	Name       string
	Trigger    Trigger
	Job        Job
	Logger     *zap.Logger
	Backoff    Backoff
	MinWait    time.Duration
	RunOnStart bool
	Now        func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Start launches the loop. Calling Start on a running Runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	if r.Now == nil {
		r.Now = func() time.Time { return time.Now().UTC() }
	}
	if r.MinWait <= 0 {
		r.MinWait = DefaultMinWait
	}
	r.Logger = logging.OrNop(r.Logger).With(zap.String("job", r.Name))

	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.wg.Add(1)
	go r.loop(ctx)

	r.Logger.Info("scheduler started")
}

// Stop cancels the loop and waits for an in-flight job to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	r.Logger.Info("scheduler stopped")
}

// Running reports whether the loop is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	if r.RunOnStart {
		r.fire(ctx, r.Now())
	}

	for {
		now := r.Now()
		next := r.Trigger.Next(now)
		wait := next.Sub(now)
		if wait < r.MinWait {
			wait = r.MinWait
		}
		r.Logger.Debug("waiting for next fire", zap.Time("next", next), zap.Duration("wait", wait))

		if !sleep(ctx, wait) {
			return
		}
		r.fire(ctx, next)
	}
}

// fire runs the job, retrying per Backoff. It never returns an error:
// failures are logged and counted, and the loop continues.
func (r *Runner) fire(ctx context.Context, firedAt time.Time) {
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := r.Job(ctx, firedAt)
		if err == nil {
			r.Logger.Info("job completed", zap.Time("fired_at", firedAt), zap.Duration("took", time.Since(start)))
			return
		}
		if ctx.Err() != nil {
			return
		}

		metrics.IncJobError(r.Name)
		if attempt >= r.Backoff.MaxRetries {
			r.Logger.Error("job failed, giving up until next fire",
				zap.Time("fired_at", firedAt), zap.Int("attempts", attempt+1), zap.Error(err))
			return
		}

		delay := r.Backoff.Delay(attempt + 1)
		r.Logger.Warn("job failed, retrying",
			zap.Time("fired_at", firedAt), zap.Int("attempt", attempt+1), zap.Duration("retry_in", delay), zap.Error(err))
		if !sleep(ctx, delay) {
			return
		}
	}
}

// sleep waits d or until ctx is done. Returns false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
