package core

import (
	"slices"
	"time"
)

// MonthOverview is the computed view of one period ledger.
type MonthOverview struct {
	MonthID     string           `json:"monthId"`
	ServiceYear int              `json:"serviceYear"`
	Month       string           `json:"month"`
	SortOrder   int              `json:"sortOrder"`
	Status      LedgerStatus     `json:"status"`
	Totals      []CategoryTotals `json:"totals"`
	Stats       Stats            `json:"stats"`
	Attendance  AttendanceReport `json:"attendance"`
	ClosedAt    *time.Time       `json:"closedAt,omitempty"`
}

// YearReport rolls the closed months of a service year up.
type YearReport struct {
	ServiceYear int              `json:"serviceYear"`
	Months      []MonthOverview  `json:"months"`
	Totals      []CategoryTotals `json:"totals"`
	Attendance  YearAttendance   `json:"attendance"`
	Check       YearCheck        `json:"check"`
}

// Total returns the entry for category c.
func (o MonthOverview) Total(c Category) CategoryTotals {
	for _, t := range o.Totals {
		if t.Category == c {
			return t
		}
	}
	return CategoryTotals{Category: c}
}

// BuildYearReport summarizes the DONE months of year. Months still ACTIVE are
// left out of the figures but show up in the completeness check.
func BuildYearReport(year ServiceYear, months []ServiceMonth) (YearReport, error) {
	report := YearReport{
		ServiceYear: year.Name,
		Check:       CheckYear(year, months),
	}

	done := make([]ServiceMonth, 0, len(months))
	for _, m := range months {
		if m.ServiceYear == year.Name && m.IsClosed() {
			done = append(done, m)
		}
	}
	slices.SortStableFunc(done, func(a, b ServiceMonth) int { return a.SortOrder - b.SortOrder })

	totals := make([][]CategoryTotals, 0, len(done))
	combined := make([]SeriesSummary, 0, len(done))
	for i := range done {
		o, err := done[i].Overview()
		if err != nil {
			return YearReport{}, err
		}
		report.Months = append(report.Months, o)
		totals = append(totals, o.Totals)
		combined = append(combined, o.Attendance.Combined)
	}
	report.Totals = SumTotals(totals...)
	report.Attendance = RollupAttendance(combined)
	return report, nil
}
