package core

import (
	"fmt"
	"strings"
	"time"
)

// MonthsPerServiceYear is the number of periods in a service year.
const MonthsPerServiceYear = 12

// Service months run September through August.
var monthTokens = [MonthsPerServiceYear]string{
	"september", "october", "november", "december",
	"january", "february", "march", "april",
	"may", "june", "july", "august",
}

// MonthToken returns the month token for a position in the service year,
// or "" when sortOrder is out of range.
func MonthToken(sortOrder int) string {
	if sortOrder < 0 || sortOrder >= MonthsPerServiceYear {
		return ""
	}
	return monthTokens[sortOrder]
}

// ParseMonthToken maps a token (case-insensitive) back to its sort order.
func ParseMonthToken(token string) (int, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	for i, t := range monthTokens {
		if t == token {
			return i, true
		}
	}
	return 0, false
}

// SortOrderOf returns the service-year position of a calendar month.
func SortOrderOf(m time.Month) int {
	return (int(m) + 3) % MonthsPerServiceYear
}

// CalendarMonth is the inverse of SortOrderOf.
func CalendarMonth(sortOrder int) time.Month {
	return time.Month((sortOrder+8)%MonthsPerServiceYear + 1)
}

// PeriodOf returns the service year and sort order that contain t. A service
// year is numbered by the calendar year in which it starts.
func PeriodOf(t time.Time) (serviceYear, sortOrder int) {
	serviceYear = t.Year()
	if t.Month() < time.September {
		serviceYear--
	}
	return serviceYear, SortOrderOf(t.Month())
}

// PeriodStart returns the first day of the period in UTC.
func PeriodStart(serviceYear, sortOrder int) time.Time {
	m := CalendarMonth(sortOrder)
	y := serviceYear
	if m < time.September {
		y++
	}
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// PeriodLabel renders a period for logs and file names, e.g. "2024-september".
func PeriodLabel(serviceYear, sortOrder int) string {
	return fmt.Sprintf("%d-%s", serviceYear, MonthToken(sortOrder))
}
