package core

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// MeetingKind selects one of the two weekly meetings.
type MeetingKind string

const (
	MeetingMidweek MeetingKind = "midweek"
	MeetingWeekend MeetingKind = "weekend"
)

const (
	// DefaultGroup names the mother congregation.
	DefaultGroup = ""
	// CombinedGroup names the merged view across all groups.
	CombinedGroup = "combined"
)

var (
	ErrInconsistentSeriesLength = errors.New("inconsistent meeting series length")
	ErrNegativeAttendance       = errors.New("negative attendance")
	ErrInvalidMeetingKind       = errors.New("invalid meeting kind")
	ErrMeetingIndex             = errors.New("meeting index out of range")
)

type (
	// MeetingSeries holds one attendance figure per meeting held in a period
	// for one language group. The slice length is the meeting count.
	MeetingSeries struct {
		Group   string `json:"group"`
		Midweek []int  `json:"midweek"`
		Weekend []int  `json:"weekend"`
	}

	Summary struct {
		MeetingsHeld      int `json:"meetingsHeld"`
		TotalAttendance   int `json:"totalAttendance"`
		AverageAttendance int `json:"averageAttendance"`
	}

	SeriesSummary struct {
		Group   string  `json:"group"`
		Midweek Summary `json:"midweek"`
		Weekend Summary `json:"weekend"`
	}

	// AttendanceReport is the per-group and combined view of one period.
	AttendanceReport struct {
		Groups   []SeriesSummary `json:"groups"`
		Combined SeriesSummary   `json:"combined"`
	}

	// AttendanceTotals keeps the yearly total apart from the average of monthly
	// averages; the two are not interchangeable.
	AttendanceTotals struct {
		Periods           int `json:"periods"`
		MeetingsHeld      int `json:"meetingsHeld"`
		Total             int `json:"total"`
		AverageOfAverages int `json:"averageOfAverages"`
	}

	YearAttendance struct {
		Midweek AttendanceTotals `json:"midweek"`
		Weekend AttendanceTotals `json:"weekend"`
	}
)

// InconsistentSeriesLengthError names the group whose series length differs
// from the first series passed to Combine.
type InconsistentSeriesLengthError struct {
	Group string
	Kind  MeetingKind
	Want  int
	Got   int
}

func (e *InconsistentSeriesLengthError) Error() string {
	return fmt.Sprintf("group %q %s: %d meetings, want %d: %v", e.Group, e.Kind, e.Got, e.Want, ErrInconsistentSeriesLength)
}

func (e *InconsistentSeriesLengthError) Unwrap() error { return ErrInconsistentSeriesLength }

func (k MeetingKind) Valid() bool {
	return k == MeetingMidweek || k == MeetingWeekend
}

// Values returns the series for kind.
func (s MeetingSeries) Values(kind MeetingKind) []int {
	if kind == MeetingWeekend {
		return s.Weekend
	}
	return s.Midweek
}

// Clone returns a deep copy.
func (s MeetingSeries) Clone() MeetingSeries {
	return MeetingSeries{
		Group:   s.Group,
		Midweek: slices.Clone(s.Midweek),
		Weekend: slices.Clone(s.Weekend),
	}
}

func (s MeetingSeries) Validate() error {
	for _, v := range s.Midweek {
		if v < 0 {
			return fmt.Errorf("group %q midweek: %w", s.Group, ErrNegativeAttendance)
		}
	}
	for _, v := range s.Weekend {
		if v < 0 {
			return fmt.Errorf("group %q weekend: %w", s.Group, ErrNegativeAttendance)
		}
	}
	return nil
}

// WithCell returns a copy with values[index] set for kind. index may equal the
// current length to record one more meeting.
func (s MeetingSeries) WithCell(kind MeetingKind, index, value int) (MeetingSeries, error) {
	if !kind.Valid() {
		return s, fmt.Errorf("%w: %q", ErrInvalidMeetingKind, kind)
	}
	if value < 0 {
		return s, ErrNegativeAttendance
	}
	out := s.Clone()
	values := out.Values(kind)
	switch {
	case index >= 0 && index < len(values):
		values[index] = value
	case index == len(values):
		values = append(values, value)
	default:
		return s, fmt.Errorf("%w: %d (have %d)", ErrMeetingIndex, index, len(values))
	}
	if kind == MeetingWeekend {
		out.Weekend = values
	} else {
		out.Midweek = values
	}
	return out, nil
}

// Summarize computes count, total and rounded average of one series.
func Summarize(values []int) Summary {
	s := Summary{MeetingsHeld: len(values)}
	for _, v := range values {
		s.TotalAttendance += v
	}
	s.AverageAttendance = roundDiv(s.TotalAttendance, s.MeetingsHeld)
	return s
}

// Summary returns both meeting summaries of the series.
func (s MeetingSeries) Summary() SeriesSummary {
	return SeriesSummary{
		Group:   s.Group,
		Midweek: Summarize(s.Midweek),
		Weekend: Summarize(s.Weekend),
	}
}

// Combine sums series element by element into a CombinedGroup series. Every
// series must hold the same number of midweek meetings, and likewise for
// weekend meetings; otherwise an InconsistentSeriesLengthError is returned.
// Inputs are not modified.
func Combine(series ...MeetingSeries) (MeetingSeries, error) {
	out := MeetingSeries{Group: CombinedGroup}
	if len(series) == 0 {
		return out, nil
	}
	first := series[0]
	out.Midweek = make([]int, len(first.Midweek))
	out.Weekend = make([]int, len(first.Weekend))
	for _, s := range series {
		if len(s.Midweek) != len(out.Midweek) {
			return MeetingSeries{}, &InconsistentSeriesLengthError{Group: s.Group, Kind: MeetingMidweek, Want: len(out.Midweek), Got: len(s.Midweek)}
		}
		if len(s.Weekend) != len(out.Weekend) {
			return MeetingSeries{}, &InconsistentSeriesLengthError{Group: s.Group, Kind: MeetingWeekend, Want: len(out.Weekend), Got: len(s.Weekend)}
		}
		for i, v := range s.Midweek {
			out.Midweek[i] += v
		}
		for i, v := range s.Weekend {
			out.Weekend[i] += v
		}
	}
	return out, nil
}

// Merge summarizes each group and their combination.
func Merge(series []MeetingSeries) (AttendanceReport, error) {
	combined, err := Combine(series...)
	if err != nil {
		return AttendanceReport{}, err
	}
	report := AttendanceReport{
		Groups:   make([]SeriesSummary, 0, len(series)),
		Combined: combined.Summary(),
	}
	for _, s := range series {
		report.Groups = append(report.Groups, s.Summary())
	}
	return report, nil
}

// RollupAttendance folds monthly combined summaries into yearly figures.
// Periods without meetings do not count toward the average of averages.
func RollupAttendance(monthly []SeriesSummary) YearAttendance {
	var y YearAttendance
	var midAvg, wkAvg int
	for _, m := range monthly {
		y.Midweek.MeetingsHeld += m.Midweek.MeetingsHeld
		y.Midweek.Total += m.Midweek.TotalAttendance
		if m.Midweek.MeetingsHeld > 0 {
			y.Midweek.Periods++
			midAvg += m.Midweek.AverageAttendance
		}
		y.Weekend.MeetingsHeld += m.Weekend.MeetingsHeld
		y.Weekend.Total += m.Weekend.TotalAttendance
		if m.Weekend.MeetingsHeld > 0 {
			y.Weekend.Periods++
			wkAvg += m.Weekend.AverageAttendance
		}
	}
	y.Midweek.AverageOfAverages = roundDiv(midAvg, y.Midweek.Periods)
	y.Weekend.AverageOfAverages = roundDiv(wkAvg, y.Weekend.Periods)
	return y
}

func roundDiv(total, n int) int {
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(total) / float64(n)))
}
