package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/winloss-engine/generic"
)

var manila = generic.MustBusinessCalendar("Asia/Manila")

func TestDailyBoundary_Next(t *testing.T) {
	trigger := DailyBoundary{Calendar: manila, Offset: 5 * time.Minute}

	// 23:00 Manila -> 00:05 Manila next day
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 10, 16, 5, 0, 0, time.UTC), trigger.Next(now))

	// inside the offset window -> same boundary
	now = time.Date(2025, 3, 10, 16, 2, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 10, 16, 5, 0, 0, time.UTC), trigger.Next(now))

	// exactly at the fire instant -> strictly after
	now = time.Date(2025, 3, 10, 16, 5, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 11, 16, 5, 0, 0, time.UTC), trigger.Next(now))
}

func TestDailyBoundary_ClosedDay(t *testing.T) {
	trigger := DailyBoundary{Calendar: manila, Offset: 5 * time.Minute}
	fired := time.Date(2025, 3, 10, 16, 5, 0, 0, time.UTC) // 2025-03-11 00:05 Manila

	assert.True(t, manila.AnchorDate(2025, 3, 10).Equal(trigger.ClosedDay(fired)))
}

func TestInterval_Next(t *testing.T) {
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(time.Minute), Interval(time.Minute).Next(now))
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 5 * time.Second, MaxRetries: 5}
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(4))
	assert.Equal(t, 5*time.Second, b.Delay(10))
}

func TestRunner_FiresRepeatedlyAndStops(t *testing.T) {
	var calls atomic.Int32
	r := &Runner{
		Name:    "tick",
		Trigger: Interval(2 * time.Millisecond),
		MinWait: time.Millisecond,
		Job: func(ctx context.Context, firedAt time.Time) error {
			calls.Add(1)
			return nil
		},
	}
	r.Start(context.Background())
	require.True(t, r.Running())

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)

	r.Stop()
	assert.False(t, r.Running())
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no fires after Stop")
}

func TestRunner_ErrorsNeverEndTheLoop(t *testing.T) {
	// GIVEN: a job that fails twice then succeeds, and no retries
	var calls atomic.Int32
	r := &Runner{
		Name:    "flaky",
		Trigger: Interval(2 * time.Millisecond),
		MinWait: time.Millisecond,
		Job: func(ctx context.Context, firedAt time.Time) error {
			if calls.Add(1) <= 2 {
				return errors.New("store unavailable")
			}
			return nil
		},
	}

	// WHEN: the runner keeps firing
	r.Start(context.Background())
	defer r.Stop()

	// THEN: later fires still happen
	assert.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, time.Millisecond)
}

func TestRunner_RetriesWithBackoff(t *testing.T) {
	var calls atomic.Int32
	done := make(chan time.Time, 1)
	r := &Runner{
		Name:       "retry",
		Trigger:    Interval(time.Hour),
		RunOnStart: true,
		Backoff:    Backoff{Initial: time.Millisecond, Max: 4 * time.Millisecond, MaxRetries: 3},
		Job: func(ctx context.Context, firedAt time.Time) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			done <- firedAt
			return nil
		},
	}
	r.Start(context.Background())
	defer r.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunner_StopInterruptsWait(t *testing.T) {
	r := &Runner{
		Name:    "idle",
		Trigger: Interval(time.Hour),
		Job:     func(ctx context.Context, firedAt time.Time) error { return nil },
	}
	r.Start(context.Background())

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a sleeping runner")
	}
}

func TestRunner_FiredAtIsTriggerInstant(t *testing.T) {
	base := time.Date(2025, 3, 10, 16, 4, 59, 0, time.UTC)
	var clock atomic.Int64
	clock.Store(base.UnixNano())

	fired := make(chan time.Time, 1)
	r := &Runner{
		Name:    "boundary",
		Trigger: DailyBoundary{Calendar: manila, Offset: 5 * time.Minute},
		MinWait: time.Millisecond,
		Now:     func() time.Time { return time.Unix(0, clock.Load()).UTC() },
		Job: func(ctx context.Context, firedAt time.Time) error {
			select {
			case fired <- firedAt:
			default:
			}
			// push the fake clock past this fire so the next wait is long
			clock.Store(firedAt.Add(time.Hour).UnixNano())
			return nil
		},
	}
	r.Start(context.Background())
	defer r.Stop()

	select {
	case got := <-fired:
		assert.Equal(t, time.Date(2025, 3, 10, 16, 5, 0, 0, time.UTC), got)
	case <-time.After(3 * time.Second):
		t.Fatal("boundary job never fired")
	}
}
