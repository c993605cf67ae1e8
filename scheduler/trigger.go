package scheduler

import (
	"time"

	"github.com/warp/winloss-engine/generic"
)

// Trigger computes the next fire instant strictly after now.
type Trigger interface {
	Next(now time.Time) time.Time
}

// Interval fires every d.
type Interval time.Duration

func (i Interval) Next(now time.Time) time.Time { return now.Add(time.Duration(i)) }

// DailyBoundary fires Offset after each business-day boundary.
type DailyBoundary struct {
	Calendar *generic.BusinessCalendar
	Offset   time.Duration
}

func (d DailyBoundary) Next(now time.Time) time.Time {
	return d.Calendar.NextBoundary(now.Add(-d.Offset)).Add(d.Offset)
}

// ClosedDay returns the business day that ended at the boundary behind firedAt.
func (d DailyBoundary) ClosedDay(firedAt time.Time) time.Time {
	return d.Calendar.Previous(firedAt.Add(-d.Offset))
}
