package core

import (
	"errors"
	"slices"
	"testing"
)

func TestCombineScenario(t *testing.T) {
	a := MeetingSeries{Group: DefaultGroup, Midweek: []int{10, 12, 11, 13}}
	b := MeetingSeries{Group: "english", Midweek: []int{2, 3, 2, 3}}

	got, err := Combine(a, b)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if !slices.Equal(got.Midweek, []int{12, 15, 13, 16}) {
		t.Fatalf("midweek = %v", got.Midweek)
	}
	s := Summarize(got.Midweek)
	if s.TotalAttendance != 56 || s.MeetingsHeld != 4 || s.AverageAttendance != 14 {
		t.Fatalf("summary = %+v", s)
	}
	if !slices.Equal(a.Midweek, []int{10, 12, 11, 13}) {
		t.Fatalf("input mutated: %v", a.Midweek)
	}
}

func TestCombineProperties(t *testing.T) {
	a := MeetingSeries{Group: "a", Midweek: []int{5, 7}, Weekend: []int{9, 8}}
	b := MeetingSeries{Group: "b", Midweek: []int{1, 2}, Weekend: []int{3, 4}}

	single, err := Combine(a)
	if err != nil {
		t.Fatal(err)
	}
	if single.Summary().Midweek != a.Summary().Midweek || single.Summary().Weekend != a.Summary().Weekend {
		t.Fatalf("single series must keep its sums")
	}

	ab, _ := Combine(a, b)
	ba, _ := Combine(b, a)
	if !slices.Equal(ab.Midweek, ba.Midweek) || !slices.Equal(ab.Weekend, ba.Weekend) {
		t.Fatalf("combine must be commutative")
	}
	sum := Summarize(ab.Weekend).TotalAttendance
	if sum != Summarize(a.Weekend).TotalAttendance+Summarize(b.Weekend).TotalAttendance {
		t.Fatalf("totals must add up")
	}
}

func TestCombineLengthMismatch(t *testing.T) {
	a := MeetingSeries{Group: "", Midweek: []int{10, 12, 11, 13}}
	b := MeetingSeries{Group: "english", Midweek: []int{2, 3, 2}}
	_, err := Combine(a, b)
	var lenErr *InconsistentSeriesLengthError
	if !errors.As(err, &lenErr) {
		t.Fatalf("expected InconsistentSeriesLengthError, got %v", err)
	}
	if lenErr.Group != "english" || lenErr.Want != 4 || lenErr.Got != 3 {
		t.Fatalf("unexpected error detail %+v", lenErr)
	}
	if !errors.Is(err, ErrInconsistentSeriesLength) {
		t.Fatalf("expected errors.Is match")
	}
}

func TestSummarize(t *testing.T) {
	cases := []struct {
		in   []int
		want Summary
	}{
		{nil, Summary{}},
		{[]int{3}, Summary{1, 3, 3}},
		{[]int{1, 2}, Summary{2, 3, 2}},
		{[]int{1, 1, 2}, Summary{3, 4, 1}},
	}
	for _, tc := range cases {
		if got := Summarize(tc.in); got != tc.want {
			t.Errorf("Summarize(%v) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestWithCell(t *testing.T) {
	s := MeetingSeries{Group: "x", Weekend: []int{4, 5}}
	next, err := s.WithCell(MeetingWeekend, 2, 6)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(next.Weekend, []int{4, 5, 6}) || len(s.Weekend) != 2 {
		t.Fatalf("append cell: %v (orig %v)", next.Weekend, s.Weekend)
	}
	next, err = next.WithCell(MeetingWeekend, 0, 9)
	if err != nil || next.Weekend[0] != 9 {
		t.Fatalf("overwrite cell: %v %v", next.Weekend, err)
	}
	if _, err := s.WithCell(MeetingWeekend, 5, 1); !errors.Is(err, ErrMeetingIndex) {
		t.Fatalf("expected ErrMeetingIndex, got %v", err)
	}
	if _, err := s.WithCell("sunday", 0, 1); !errors.Is(err, ErrInvalidMeetingKind) {
		t.Fatalf("expected ErrInvalidMeetingKind, got %v", err)
	}
	if _, err := s.WithCell(MeetingMidweek, 0, -1); !errors.Is(err, ErrNegativeAttendance) {
		t.Fatalf("expected ErrNegativeAttendance, got %v", err)
	}
}

func TestMerge(t *testing.T) {
	r, err := Merge([]MeetingSeries{
		{Group: "", Midweek: []int{10, 20}, Weekend: []int{30}},
		{Group: "english", Midweek: []int{1, 1}, Weekend: []int{2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Groups) != 2 || r.Groups[1].Group != "english" {
		t.Fatalf("groups = %+v", r.Groups)
	}
	if r.Combined.Group != CombinedGroup || r.Combined.Midweek.TotalAttendance != 32 || r.Combined.Weekend.AverageAttendance != 32 {
		t.Fatalf("combined = %+v", r.Combined)
	}
}

func TestRollupAttendanceKeepsTotalAndAverageApart(t *testing.T) {
	months := []SeriesSummary{
		{Midweek: Summarize([]int{10, 10, 10, 10})},
		{Midweek: Summarize([]int{20, 20})},
		{},
	}
	y := RollupAttendance(months)
	if y.Midweek.Total != 80 {
		t.Errorf("total = %d", y.Midweek.Total)
	}
	if y.Midweek.AverageOfAverages != 15 {
		t.Errorf("average of averages = %d", y.Midweek.AverageOfAverages)
	}
	if y.Midweek.Periods != 2 || y.Midweek.MeetingsHeld != 6 {
		t.Errorf("periods/meetings = %d/%d", y.Midweek.Periods, y.Midweek.MeetingsHeld)
	}
	if y.Weekend != (AttendanceTotals{}) {
		t.Errorf("weekend should be empty: %+v", y.Weekend)
	}
}
