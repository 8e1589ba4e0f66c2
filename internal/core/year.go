package core

import (
	"fmt"
	"slices"
)

// HazardKind classifies a consistency problem found in a service year.
type HazardKind string

const (
	HazardDuplicateSortOrder HazardKind = "DUPLICATE_SORT_ORDER"
	HazardTooManyMonths      HazardKind = "TOO_MANY_MONTHS"
	HazardUnknownMonth       HazardKind = "UNKNOWN_MONTH"
	HazardYearMismatch       HazardKind = "YEAR_MISMATCH"
	HazardSortOrderMismatch  HazardKind = "SORT_ORDER_MISMATCH"
	HazardOutOfOrder         HazardKind = "OUT_OF_ORDER"
)

type (
	Hazard struct {
		Kind      HazardKind `json:"kind"`
		MonthID   string     `json:"monthId,omitempty"`
		SortOrder int        `json:"sortOrder"`
		Detail    string     `json:"detail"`
	}

	// YearCheck is the completeness report of a service year. Problems are
	// reported, never repaired.
	YearCheck struct {
		Year     int      `json:"year"`
		Complete bool     `json:"complete"`
		Done     []int    `json:"done"`
		Open     []int    `json:"open"`
		Missing  []int    `json:"missing"`
		Hazards  []Hazard `json:"hazards,omitempty"`
	}
)

// CheckYear verifies that year references exactly twelve DONE months covering
// sortOrder 0 through 11. months supplies the ledgers behind the references.
func CheckYear(year ServiceYear, months []ServiceMonth) YearCheck {
	check := YearCheck{Year: year.Name}

	byID := make(map[string]ServiceMonth, len(months))
	for _, m := range months {
		byID[m.ID] = m
	}

	if len(year.Months) > MonthsPerServiceYear {
		check.Hazards = append(check.Hazards, Hazard{
			Kind:   HazardTooManyMonths,
			Detail: fmt.Sprintf("%d months referenced", len(year.Months)),
		})
	}

	seen := make(map[int]bool, MonthsPerServiceYear)
	last := -1
	for _, ref := range year.Months {
		if seen[ref.SortOrder] {
			check.Hazards = append(check.Hazards, Hazard{
				Kind: HazardDuplicateSortOrder, MonthID: ref.ID, SortOrder: ref.SortOrder,
				Detail: fmt.Sprintf("%s referenced more than once", MonthToken(ref.SortOrder)),
			})
			continue
		}
		seen[ref.SortOrder] = true
		if ref.SortOrder < last {
			check.Hazards = append(check.Hazards, Hazard{
				Kind: HazardOutOfOrder, MonthID: ref.ID, SortOrder: ref.SortOrder,
				Detail: fmt.Sprintf("%s listed after %s", MonthToken(ref.SortOrder), MonthToken(last)),
			})
		}
		last = max(last, ref.SortOrder)

		m, ok := byID[ref.ID]
		switch {
		case !ok:
			check.Hazards = append(check.Hazards, Hazard{
				Kind: HazardUnknownMonth, MonthID: ref.ID, SortOrder: ref.SortOrder,
				Detail: "referenced ledger not found",
			})
			continue
		case m.ServiceYear != year.Name:
			check.Hazards = append(check.Hazards, Hazard{
				Kind: HazardYearMismatch, MonthID: ref.ID, SortOrder: ref.SortOrder,
				Detail: fmt.Sprintf("ledger belongs to service year %d", m.ServiceYear),
			})
			continue
		case m.SortOrder != ref.SortOrder:
			check.Hazards = append(check.Hazards, Hazard{
				Kind: HazardSortOrderMismatch, MonthID: ref.ID, SortOrder: ref.SortOrder,
				Detail: fmt.Sprintf("ledger is %s", MonthToken(m.SortOrder)),
			})
			continue
		}
		if m.IsClosed() {
			check.Done = append(check.Done, ref.SortOrder)
		} else {
			check.Open = append(check.Open, ref.SortOrder)
		}
	}

	// An ACTIVE ledger is not yet referenced by its year.
	for _, m := range months {
		if m.ServiceYear == year.Name && !m.IsClosed() && !seen[m.SortOrder] {
			check.Open = append(check.Open, m.SortOrder)
			seen[m.SortOrder] = true
		}
	}

	for i := 0; i < MonthsPerServiceYear; i++ {
		if !seen[i] {
			check.Missing = append(check.Missing, i)
		}
	}
	slices.Sort(check.Done)
	slices.Sort(check.Open)

	check.Complete = len(check.Hazards) == 0 &&
		len(year.Months) == MonthsPerServiceYear &&
		len(check.Done) == MonthsPerServiceYear
	return check
}
