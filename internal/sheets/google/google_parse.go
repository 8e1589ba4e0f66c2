package google

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"fieldservice/internal/core"
)

var (
	ErrUnexpectedHeader = errors.New("unexpected sheet header")
	ErrInvalidFlag      = errors.New("invalid yes/no cell")
	ErrAttendanceGap    = errors.New("attendance row has a gap")
	ErrDuplicateSeries  = errors.New("attendance row repeated")
)

// Report tab columns. Only name and "in service" are mandatory.
const (
	colName      = "Name"
	colType      = "Type"
	colAuxiliary = "Auxiliary"
	colInService = "In service"
	colStudies   = "Studies"
	colHours     = "Hours"
	colRemarks   = "Remarks"
)

// Attendance tab columns; meeting values follow the kind column.
const (
	colMonth = "Month"
	colGroup = "Group"
	colKind  = "Kind"
)

// parseReports converts a month tab into reports for the given period.
// The "In service" cell is a tri-state: yes, no, or blank for a report not
// turned in. Rows with an empty name or a name starting with '#' are skipped.
func parseReports(values [][]any, serviceYear, sortOrder int) ([]core.Report, error) {
	header, rows, offset := splitHeader(values)
	if header == nil {
		return nil, nil
	}
	idx := map[string]int{}
	for _, col := range []string{colName, colType, colAuxiliary, colInService, colStudies, colHours, colRemarks} {
		idx[col] = indexOf(header, col)
	}
	if idx[colName] < 0 || idx[colInService] < 0 {
		return nil, fmt.Errorf("%w: need %q and %q columns, got %v", ErrUnexpectedHeader, colName, colInService, header)
	}

	token := core.MonthToken(sortOrder)
	year := strconv.Itoa(serviceYear)
	var out []core.Report
	for i, raw := range rows {
		row := toStrings(raw)
		name := strings.Join(strings.Fields(safeGet(row, idx[colName])), " ")
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		line := offset + i + 1

		r := core.Report{
			Identifier:    core.StableID(year, token, name),
			PublisherID:   core.StableID(name),
			PublisherName: name,
			ServiceYear:   serviceYear,
			ServiceMonth:  token,
			SortOrder:     sortOrder,
			Remarks:       safeGet(row, idx[colRemarks]),
		}

		var err error
		if r.Type, err = parseType(safeGet(row, idx[colType])); err != nil {
			return nil, fmt.Errorf("row %d (%s): %w", line, name, err)
		}
		aux, err := parseFlag(safeGet(row, idx[colAuxiliary]))
		if err != nil {
			return nil, fmt.Errorf("row %d (%s): auxiliary: %w", line, name, err)
		}
		r.Auxiliary = aux != nil && *aux
		inService, err := parseFlag(safeGet(row, idx[colInService]))
		if err != nil {
			return nil, fmt.Errorf("row %d (%s): in service: %w", line, name, err)
		}
		if inService != nil {
			r.HasBeenInService = *inService
			r.HasNotBeenInService = !*inService
		}
		if r.Studies, err = core.ParseCount(safeGet(row, idx[colStudies])); err != nil {
			return nil, fmt.Errorf("row %d (%s): studies: %w", line, name, err)
		}
		if r.Hours, err = core.ParseCount(safeGet(row, idx[colHours])); err != nil {
			return nil, fmt.Errorf("row %d (%s): hours: %w", line, name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// parseAttendance extracts the meeting series of one period from the
// attendance tab. Each row is (month, group, kind, values...); a blank group
// is the mother congregation. Values end at the first blank cell.
func parseAttendance(values [][]any, sortOrder int) ([]core.MeetingSeries, error) {
	header, rows, offset := splitHeader(values)
	if header == nil {
		return nil, nil
	}
	monthCol, groupCol, kindCol := indexOf(header, colMonth), indexOf(header, colGroup), indexOf(header, colKind)
	if monthCol < 0 || kindCol < 0 {
		return nil, fmt.Errorf("%w: need %q and %q columns, got %v", ErrUnexpectedHeader, colMonth, colKind, header)
	}
	first := max(monthCol, groupCol, kindCol) + 1

	var out []core.MeetingSeries
	seen := map[string]bool{}
	for i, raw := range rows {
		row := toStrings(raw)
		month := safeGet(row, monthCol)
		if month == "" || strings.HasPrefix(month, "#") {
			continue
		}
		line := offset + i + 1
		so, ok := core.ParseMonthToken(month)
		if !ok {
			return nil, fmt.Errorf("row %d: unknown month %q", line, month)
		}
		if so != sortOrder {
			continue
		}

		group := safeGet(row, groupCol)
		kind := core.MeetingKind(strings.ToLower(safeGet(row, kindCol)))
		if !kind.Valid() {
			return nil, fmt.Errorf("row %d: %w: %q", line, core.ErrInvalidMeetingKind, kind)
		}
		key := strings.ToLower(group) + "/" + string(kind)
		if seen[key] {
			return nil, fmt.Errorf("row %d: %w: %s %s", line, ErrDuplicateSeries, group, kind)
		}
		seen[key] = true

		counts, err := parseCounts(row[min(first, len(row)):])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}

		pos := slices.IndexFunc(out, func(s core.MeetingSeries) bool { return strings.EqualFold(s.Group, group) })
		if pos < 0 {
			out = append(out, core.MeetingSeries{Group: group, Midweek: []int{}, Weekend: []int{}})
			pos = len(out) - 1
		}
		if kind == core.MeetingMidweek {
			out[pos].Midweek = counts
		} else {
			out[pos].Weekend = counts
		}
	}
	return out, nil
}

func parseCounts(cells []string) ([]int, error) {
	out := []int{}
	ended := false
	for _, cell := range cells {
		n, err := core.ParseCount(cell)
		if err != nil {
			return nil, fmt.Errorf("attendance %q: %w", cell, err)
		}
		if n == nil {
			ended = true
			continue
		}
		if ended {
			return nil, ErrAttendanceGap
		}
		out = append(out, *n)
	}
	return out, nil
}

// splitHeader returns the first non-empty row, the rows below it and the
// 1-based sheet line of the header.
func splitHeader(values [][]any) ([]string, [][]any, int) {
	for i, raw := range values {
		row := toStrings(raw)
		if slices.ContainsFunc(row, func(s string) bool { return s != "" }) {
			return row, values[i+1:], i + 1
		}
	}
	return nil, nil, 0
}

// parseType accepts the report type in any case and spacing; blank is a
// plain publisher.
func parseType(s string) (core.ReportType, error) {
	s = strings.ToUpper(strings.Join(strings.Fields(s), ""))
	if s == "" {
		return core.TypePublisher, nil
	}
	t := core.ReportType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", core.ErrInvalidReportType, s)
	}
	return t, nil
}

// parseFlag reads a yes/no cell. Blank yields nil.
func parseFlag(s string) (*bool, error) {
	var v bool
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return nil, nil
	case "x", "y", "yes", "true", "1", "✓":
		v = true
	case "n", "no", "false", "0":
		v = false
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFlag, s)
	}
	return &v, nil
}
