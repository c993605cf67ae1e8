package generic_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/winloss-engine/generic"
)

var manila = generic.MustBusinessCalendar("Asia/Manila")

func TestCalendar_AnchorIsLocalMidnight(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string // local business date
	}{
		{"last instant of the day", time.Date(2025, 3, 10, 15, 59, 59, 999_999_999, time.UTC), "2025-03-10"},
		{"boundary starts the next day", time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC), "2025-03-11"},
		{"utc midnight is local morning", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), "2025-03-10"},
		{"year end", time.Date(2025, 12, 31, 17, 0, 0, 0, time.UTC), "2026-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anchor := manila.Anchor(tt.at)
			assert.Equal(t, tt.want, manila.FormatDay(anchor))
			assert.True(t, manila.IsAnchor(anchor))
			assert.Equal(t, time.UTC, anchor.Location())
		})
	}
}

func TestCalendar_AnchorIsIdempotent(t *testing.T) {
	moment := time.Date(2025, 3, 10, 7, 30, 0, 0, time.UTC)
	once := manila.Anchor(moment)
	assert.True(t, once.Equal(manila.Anchor(once)))
	assert.True(t, once.Equal(time.Date(2025, 3, 9, 16, 0, 0, 0, time.UTC)))
	assert.False(t, manila.IsAnchor(moment))
}

func TestCalendar_BoundariesAndRanges(t *testing.T) {
	day := manila.AnchorDate(2025, 3, 10)

	start, end := manila.DayRange(day.Add(5 * time.Hour))
	assert.True(t, start.Equal(day))
	assert.True(t, end.Equal(manila.AnchorDate(2025, 3, 11)))
	assert.True(t, manila.NextBoundary(day).Equal(end))
	assert.True(t, manila.Previous(day.Add(time.Hour)).Equal(manila.AnchorDate(2025, 3, 9)))
	assert.True(t, manila.Previous(manila.AnchorDate(2025, 3, 1)).Equal(manila.AnchorDate(2025, 2, 28)))
	assert.Equal(t, "20250310", manila.DayKey(day))
}

func TestCalendar_DSTDayIsShort(t *testing.T) {
	// GIVEN: a zone that springs forward on 2025-03-09
	ny := generic.MustBusinessCalendar("America/New_York")

	// THEN: the business day is 23 hours long and still anchored at local midnight
	start, end := ny.DayRange(ny.AnchorDate(2025, 3, 9))
	assert.Equal(t, 23*time.Hour, end.Sub(start))
	assert.Equal(t, 0, end.In(ny.Location()).Hour())
}

func TestCalendar_ParseDay(t *testing.T) {
	day, err := manila.ParseDay("2025-03-10")
	require.NoError(t, err)
	assert.True(t, day.Equal(manila.AnchorDate(2025, 3, 10)))

	for _, bad := range []string{"", "2025-3-10", "10/03/2025", "2025-02-30"} {
		_, err := manila.ParseDay(bad)
		assert.ErrorIs(t, err, generic.ErrInvalidBusinessDate, bad)
		assert.True(t, generic.IsClientError(err), bad)
	}
}

func TestNewBusinessCalendar_UnknownZone(t *testing.T) {
	_, err := generic.NewBusinessCalendar("Mars/Olympus")
	assert.Error(t, err)
}

func TestErrorHelpers(t *testing.T) {
	validation := &generic.ValidationError{Field: "loss_amount", Reason: "must not be negative", Err: generic.ErrNegativeAmount}
	assert.True(t, generic.IsClientError(validation))
	assert.ErrorIs(t, validation, generic.ErrNegativeAmount)
	assert.Equal(t, "invalid loss_amount: must not be negative", validation.Error())

	conflict := &generic.TransitionError{ID: "t1", From: generic.StatusRejected, To: generic.StatusApproved}
	assert.True(t, generic.IsConflict(conflict))
	assert.ErrorIs(t, conflict, generic.ErrAlreadyRejected)
	assert.False(t, generic.IsClientError(conflict))

	notFound := errors.Join(errors.New("load"), generic.ErrTransactionNotFound)
	assert.True(t, generic.IsNotFound(notFound))
	assert.False(t, generic.IsNotFound(generic.ErrCustomerNotFound))
}
