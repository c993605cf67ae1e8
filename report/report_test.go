package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/winloss-engine/generic"
)

var cal = generic.MustBusinessCalendar("Asia/Manila")

func sampleReport() Daily {
	day := cal.AnchorDate(2025, 3, 10)
	rebates := []generic.Transaction{
		{ID: "a", CustomerID: 1, GameID: generic.GamePtr(2), Reference: "REBATE-20250310-1-2", Amount: decimal.RequireFromString("5"), Status: generic.StatusApproved},
		{ID: "b", CustomerID: 3, GameID: generic.GamePtr(4), Reference: "REBATE-20250310-3-4", Amount: decimal.RequireFromString("2.5"), Status: generic.StatusPending},
	}
	return NewDaily(cal, day, decimal.RequireFromString("0.05"), rebates, time.Date(2025, 3, 11, 0, 5, 0, 0, time.UTC))
}

func TestNewDaily_Totals(t *testing.T) {
	r := sampleReport()
	assert.Equal(t, "2025-03-10", r.Day)
	assert.Equal(t, "Asia/Manila", r.Timezone)
	require.Len(t, r.Lines, 2)
	assert.Equal(t, "7.5", r.Total("").String())
	assert.Equal(t, "5", r.Total(generic.StatusApproved).String())
}

func TestBuildPDF(t *testing.T) {
	data, err := BuildPDF(sampleReport())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestBuildXLSX(t *testing.T) {
	data, err := BuildXLSX(sampleReport())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	ref, err := f.GetCellValue("rebates", "C2")
	require.NoError(t, err)
	assert.Equal(t, "REBATE-20250310-1-2", ref)

	day, err := f.GetCellValue("summary", "B3")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", day)
}
