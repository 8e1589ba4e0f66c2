// Package export renders closed service months as .xlsx workbooks.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"fieldservice/internal/core"
)

const (
	SheetReports    = "Reports"
	SheetTotals     = "Totals"
	SheetStats      = "Stats"
	SheetAttendance = "Attendance"
)

var (
	ErrNotClosed    = errors.New("service month is not closed")
	ErrGenerateFail = errors.New("generate workbook")
)

// Filename is the suggested file name for a month's workbook.
func Filename(m core.ServiceMonth) string {
	return m.Label() + ".xlsx"
}

// MonthWorkbook renders a DONE ledger: one sheet with every report, then the
// frozen category totals, population stats and attendance.
func MonthWorkbook(m core.ServiceMonth) (*bytes.Buffer, error) {
	if !m.IsClosed() {
		return nil, fmt.Errorf("%s: %w", m.Label(), ErrNotClosed)
	}
	overview, err := m.Overview()
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(SheetReports)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateFail, err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateFail, err)
	}

	w := &sheetWriter{f: f, header: header}
	w.reports(m)
	w.totals(overview)
	w.stats(overview)
	w.attendance(overview)
	if w.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateFail, w.err)
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateFail, err)
	}
	return buf, nil
}

// sheetWriter keeps the first error so the rendering code stays linear.
type sheetWriter struct {
	f      *excelize.File
	header int
	err    error
}

func (w *sheetWriter) sheet(name string, widths ...float64) {
	if w.err != nil {
		return
	}
	if idx, _ := w.f.GetSheetIndex(name); idx < 0 {
		if _, err := w.f.NewSheet(name); err != nil {
			w.err = err
			return
		}
	}
	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := w.f.SetColWidth(name, col, col, width); err != nil {
			w.err = err
			return
		}
	}
}

func (w *sheetWriter) row(sheet string, row int, values ...any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetSheetRow(sheet, cell, &values)
}

func (w *sheetWriter) headerRow(sheet string, row int, values ...any) {
	w.row(sheet, row, values...)
	if w.err != nil {
		return
	}
	first, _ := excelize.CoordinatesToCellName(1, row)
	last, _ := excelize.CoordinatesToCellName(len(values), row)
	w.err = w.f.SetCellStyle(sheet, first, last, w.header)
}

func (w *sheetWriter) reports(m core.ServiceMonth) {
	w.sheet(SheetReports, 28, 12, 18, 10, 10, 10, 8, 8, 30)
	w.headerRow(SheetReports, 1, "Publisher", "Status", "Type", "Auxiliary", "In service", "Not in service", "Studies", "Hours", "Remarks")
	for i, r := range sortedReports(m.Reports) {
		w.row(SheetReports, i+2,
			r.PublisherName, string(r.PublisherStatus), string(r.Type),
			yesNo(r.Auxiliary), yesNo(r.HasBeenInService), yesNo(r.HasNotBeenInService),
			count(r.Studies), count(r.Hours), r.Remarks)
	}
}

func (w *sheetWriter) totals(o core.MonthOverview) {
	w.sheet(SheetTotals, 20, 10, 10, 10)
	w.headerRow(SheetTotals, 1, "Category", "Reports", "Studies", "Hours")
	for i, t := range o.Totals {
		w.row(SheetTotals, i+2, string(t.Category), t.ReportsCount, t.Studies, count(t.Hours))
	}
}

func (w *sheetWriter) stats(o core.MonthOverview) {
	w.sheet(SheetStats, 24, 10)
	w.headerRow(SheetStats, 1, "Figure", "Value")
	s := o.Stats
	rows := [][]any{
		{"Active publishers", s.ActivePublishers},
		{"Regular publishers", s.RegularPublishers},
		{"Irregular publishers", s.IrregularPublishers},
		{"Inactive publishers", s.InactivePublishers},
		{"Deaf", s.Deaf},
		{"Blind", s.Blind},
		{"Missing reports", s.MissingReports},
	}
	for i, r := range rows {
		w.row(SheetStats, i+2, r...)
	}
}

func (w *sheetWriter) attendance(o core.MonthOverview) {
	w.sheet(SheetAttendance, 16, 10, 10, 10, 10, 10, 10)
	w.headerRow(SheetAttendance, 1, "Group", "Midweek held", "Midweek total", "Midweek average", "Weekend held", "Weekend total", "Weekend average")
	row := 2
	for _, g := range slices.Concat(o.Attendance.Groups, []core.SeriesSummary{o.Attendance.Combined}) {
		name := g.Group
		if name == core.DefaultGroup {
			name = "congregation"
		}
		w.row(SheetAttendance, row, name,
			g.Midweek.MeetingsHeld, g.Midweek.TotalAttendance, g.Midweek.AverageAttendance,
			g.Weekend.MeetingsHeld, g.Weekend.TotalAttendance, g.Weekend.AverageAttendance)
		row++
	}
}

// sortedReports orders a ledger's reports by publisher name.
func sortedReports(reports []core.Report) []core.Report {
	out := slices.Clone(reports)
	slices.SortStableFunc(out, func(a, b core.Report) int {
		return strings.Compare(strings.ToLower(a.PublisherName), strings.ToLower(b.PublisherName))
	})
	return out
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

// count leaves absent figures as blank cells rather than zero.
func count(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// YearWorkbook renders a service year summary: one row per closed month with
// its publisher figures, then the yearly category totals.
func YearWorkbook(report core.YearReport) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	name := fmt.Sprintf("%d", report.ServiceYear)
	idx, err := f.NewSheet(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateFail, err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateFail, err)
	}
	w := &sheetWriter{f: f, header: header}

	w.sheet(name, 14, 10, 10, 10, 10, 12, 12)
	w.headerRow(name, 1, "Month", "Active", "Reports", "Studies", "Missing", "Midweek avg", "Weekend avg")
	row := 2
	for _, m := range report.Months {
		pub := m.Total(core.CategoryPublisher)
		w.row(name, row, m.Month, m.Stats.ActivePublishers, pub.ReportsCount, pub.Studies,
			m.Stats.MissingReports, m.Attendance.Combined.Midweek.AverageAttendance, m.Attendance.Combined.Weekend.AverageAttendance)
		row++
	}

	row++
	w.headerRow(name, row, "Category", "Reports", "Studies", "Hours")
	for _, t := range report.Totals {
		row++
		w.row(name, row, string(t.Category), t.ReportsCount, t.Studies, count(t.Hours))
	}
	if w.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateFail, w.err)
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateFail, err)
	}
	return buf, nil
}
