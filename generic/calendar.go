/*
calendar.go - Business day anchoring in the fixed operating timezone

PURPOSE:
  Every win/loss event, ledger entry and rebate belongs to a business day.
  A business day is NOT a UTC day: it starts at local midnight in the
  platform's operating timezone. The anchor of a day is the absolute
  instant (stored in UTC) of that local midnight.

INVARIANTS:
  1. Anchor(Anchor(t)) == Anchor(t)
  2. NextBoundary(t) > t, and NextBoundary(t) is an anchor
  3. DayRange(a) == [a, NextBoundary(a))

DST:
  The deployed timezone has no daylight-saving transitions. Anchoring goes
  through time.Date in the location, which resolves a skipped or repeated
  local midnight to a single instant, so anchors stay unambiguous if a DST
  zone is ever configured. Day lengths would then differ from 24h, which is
  why DayRange uses calendar arithmetic rather than adding 24 hours.

SEE ALSO:
  - ledger.go: Entries are keyed by anchor
  - scheduler/trigger.go: DailyBoundary fires on NextBoundary
*/
package generic

import (
	"fmt"
	"time"
	_ "time/tzdata" // zone database for hosts without one
)

// DayLayout is the wire format for business dates.
const DayLayout = "2006-01-02"

// BusinessCalendar maps instants to business day anchors.
type BusinessCalendar struct {
	loc *time.Location
}

// NewBusinessCalendar loads the named IANA timezone.
func NewBusinessCalendar(name string) (*BusinessCalendar, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load business timezone %q: %w", name, err)
	}
	return &BusinessCalendar{loc: loc}, nil
}

// MustBusinessCalendar is NewBusinessCalendar for static configuration and tests.
func MustBusinessCalendar(name string) *BusinessCalendar {
	c, err := NewBusinessCalendar(name)
	if err != nil {
		panic(err)
	}
	return c
}

// Location returns the business timezone.
func (c *BusinessCalendar) Location() *time.Location { return c.loc }

// Anchor returns the UTC instant of local midnight of the business day containing t.
func (c *BusinessCalendar) Anchor(t time.Time) time.Time {
	local := t.In(c.loc)
	return c.AnchorDate(local.Year(), local.Month(), local.Day())
}

// AnchorDate returns the anchor of a local calendar date.
func (c *BusinessCalendar) AnchorDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, c.loc).UTC()
}

// NextBoundary returns the first local midnight strictly after t.
func (c *BusinessCalendar) NextBoundary(t time.Time) time.Time {
	local := c.Anchor(t).In(c.loc)
	return c.AnchorDate(local.Year(), local.Month(), local.Day()+1)
}

// Previous returns the anchor of the business day before the one containing t.
func (c *BusinessCalendar) Previous(t time.Time) time.Time {
	local := c.Anchor(t).In(c.loc)
	return c.AnchorDate(local.Year(), local.Month(), local.Day()-1)
}

// Today returns the anchor of the business day containing now.
func (c *BusinessCalendar) Today(now time.Time) time.Time { return c.Anchor(now) }

// DayRange returns the half-open UTC range [start, end) of the day anchored at day.
func (c *BusinessCalendar) DayRange(day time.Time) (time.Time, time.Time) {
	start := c.Anchor(day)
	return start, c.NextBoundary(start)
}

// IsAnchor reports whether t is exactly a business day anchor.
func (c *BusinessCalendar) IsAnchor(t time.Time) bool { return c.Anchor(t).Equal(t) }

// ParseDay parses a YYYY-MM-DD business date into its anchor.
func (c *BusinessCalendar) ParseDay(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DayLayout, s, c.loc)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "day", Reason: fmt.Sprintf("malformed business date %q", s), Err: ErrInvalidBusinessDate}
	}
	return c.AnchorDate(d.Year(), d.Month(), d.Day()), nil
}

// FormatDay renders an anchor as its local YYYY-MM-DD date.
func (c *BusinessCalendar) FormatDay(day time.Time) string {
	return day.In(c.loc).Format(DayLayout)
}

// DayKey renders an anchor as its compact local date, e.g. 20250310.
func (c *BusinessCalendar) DayKey(day time.Time) string {
	return day.In(c.loc).Format("20060102")
}
