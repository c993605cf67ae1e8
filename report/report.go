// Package report renders daily rebate reports as PDF and XLSX.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/winloss-engine/generic"
)

// Line is one rebate row of a report.
type Line struct {
	CustomerID generic.CustomerID
	GameID     generic.GameID
	Reference  string
	Amount     decimal.Decimal
	Status     generic.TransactionStatus
	Notes      string
}

// Daily is the rebate report of one business day.
type Daily struct {
	Day         string // YYYY-MM-DD, business timezone
	Timezone    string
	Rate        decimal.Decimal
	GeneratedAt time.Time
	Lines       []Line
}

// NewDaily builds a report from the rebate transactions of day.
func NewDaily(cal *generic.BusinessCalendar, day time.Time, rate decimal.Decimal, rebates []generic.Transaction, now time.Time) Daily {
	r := Daily{
		Day:         cal.FormatDay(day),
		Timezone:    cal.Location().String(),
		Rate:        rate,
		GeneratedAt: now,
	}
	for _, tx := range rebates {
		line := Line{
			CustomerID: tx.CustomerID,
			Reference:  tx.Reference,
			Amount:     tx.Amount,
			Status:     tx.Status,
			Notes:      tx.Notes,
		}
		if tx.GameID != nil {
			line.GameID = *tx.GameID
		}
		r.Lines = append(r.Lines, line)
	}
	return r
}

// Total sums the amounts of lines with status (all lines when status is empty).
func (r Daily) Total(status generic.TransactionStatus) decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.Lines {
		if status == "" || l.Status == status {
			total = total.Add(l.Amount)
		}
	}
	return total
}

// BuildPDF renders a minimal PDF for a daily report.
func BuildPDF(r Daily) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Daily Rebate Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Business day: %s (%s)", r.Day, r.Timezone))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Rate: %s", r.Rate.String()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", r.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Rebates: %d", len(r.Lines)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total: %s (approved %s, pending %s)",
		r.Total("").StringFixed(generic.MoneyScale),
		r.Total(generic.StatusApproved).StringFixed(generic.MoneyScale),
		r.Total(generic.StatusPending).StringFixed(generic.MoneyScale)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(25, 6, "Customer", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Game", "1", 0, "C", false, 0, "")
	pdf.CellFormat(65, 6, "Reference", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, l := range r.Lines {
		pdf.CellFormat(25, 6, l.CustomerID.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(20, 6, l.GameID.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(65, 6, l.Reference, "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, l.Amount.StringFixed(generic.MoneyScale), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, string(l.Status), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildXLSX renders a summary sheet and a rebates sheet.
func BuildXLSX(r Daily) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	rebatesSheet := "rebates"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(rebatesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Daily Rebate Report")
	_ = f.SetCellValue(summarySheet, "A3", "Business day")
	_ = f.SetCellValue(summarySheet, "B3", r.Day)
	_ = f.SetCellValue(summarySheet, "A4", "Timezone")
	_ = f.SetCellValue(summarySheet, "B4", r.Timezone)
	_ = f.SetCellValue(summarySheet, "A5", "Rate")
	_ = f.SetCellValue(summarySheet, "B5", r.Rate.String())
	_ = f.SetCellValue(summarySheet, "A6", "Rebates")
	_ = f.SetCellValue(summarySheet, "B6", len(r.Lines))
	_ = f.SetCellValue(summarySheet, "A7", "Total")
	_ = f.SetCellValue(summarySheet, "B7", r.Total("").StringFixed(generic.MoneyScale))
	_ = f.SetCellValue(summarySheet, "A8", "Generated")
	_ = f.SetCellValue(summarySheet, "B8", r.GeneratedAt.Format(time.RFC3339))

	headers := []string{"Customer", "Game", "Reference", "Amount", "Status", "Notes"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(rebatesSheet, cell, h)
	}
	for i, l := range r.Lines {
		row := i + 2
		_ = f.SetCellValue(rebatesSheet, fmt.Sprintf("A%d", row), int64(l.CustomerID))
		_ = f.SetCellValue(rebatesSheet, fmt.Sprintf("B%d", row), int64(l.GameID))
		_ = f.SetCellValue(rebatesSheet, fmt.Sprintf("C%d", row), l.Reference)
		_ = f.SetCellValue(rebatesSheet, fmt.Sprintf("D%d", row), l.Amount.InexactFloat64())
		_ = f.SetCellValue(rebatesSheet, fmt.Sprintf("E%d", row), string(l.Status))
		_ = f.SetCellValue(rebatesSheet, fmt.Sprintf("F%d", row), l.Notes)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
