package core

import (
	"testing"
	"time"
)

func TestSortOrderRoundTrip(t *testing.T) {
	for so := 0; so < MonthsPerServiceYear; so++ {
		if got := SortOrderOf(CalendarMonth(so)); got != so {
			t.Fatalf("sort order %d -> %s -> %d", so, CalendarMonth(so), got)
		}
	}
	if CalendarMonth(0) != time.September || CalendarMonth(11) != time.August {
		t.Fatalf("service year must run September..August")
	}
}

func TestPeriodOf(t *testing.T) {
	cases := []struct {
		at        time.Time
		year, pos int
	}{
		{time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC), 2024, 0},
		{time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC), 2024, 3},
		{time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC), 2024, 4},
		{time.Date(2025, time.August, 31, 0, 0, 0, 0, time.UTC), 2024, 11},
	}
	for _, tc := range cases {
		y, so := PeriodOf(tc.at)
		if y != tc.year || so != tc.pos {
			t.Errorf("PeriodOf(%s) = %d/%d, want %d/%d", tc.at.Format("2006-01-02"), y, so, tc.year, tc.pos)
		}
		if start := PeriodStart(y, so); start.Month() != tc.at.Month() || start.Year() != tc.at.Year() {
			t.Errorf("PeriodStart(%d, %d) = %s", y, so, start)
		}
	}
}

func TestParseMonthToken(t *testing.T) {
	if so, ok := ParseMonthToken(" January "); !ok || so != 4 {
		t.Fatalf("got %d %v", so, ok)
	}
	if _, ok := ParseMonthToken("smarch"); ok {
		t.Fatalf("expected unknown token")
	}
	if MonthToken(12) != "" {
		t.Fatalf("out of range token should be empty")
	}
}
