package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// LedgerStatus is the lifecycle state of a period ledger.
type LedgerStatus string

const (
	LedgerActive LedgerStatus = "ACTIVE"
	LedgerDone   LedgerStatus = "DONE"
)

var (
	ErrAlreadyClosed       = errors.New("ledger already closed")
	ErrLedgerClosed        = errors.New("ledger is closed")
	ErrPeriodMismatch      = errors.New("report period does not match ledger")
	ErrDuplicatePublisher  = errors.New("publisher already has a report in this period")
	ErrIdentifierTaken     = errors.New("report identifier belongs to another publisher")
	ErrEventOutsideYear    = errors.New("event date outside service year")
	ErrMonthOutOfOrder     = errors.New("month appended out of order")
	ErrServiceYearFull     = errors.New("service year already has 12 months")
	ErrInvalidLedgerStatus = errors.New("invalid ledger status")
)

// AlreadyClosedError is returned when closing a ledger that is already DONE.
type AlreadyClosedError struct {
	MonthID  string
	ClosedAt time.Time
}

func (e *AlreadyClosedError) Error() string {
	return fmt.Sprintf("ledger %s closed at %s: %v", e.MonthID, e.ClosedAt.Format(time.RFC3339), ErrAlreadyClosed)
}

func (e *AlreadyClosedError) Unwrap() error { return ErrAlreadyClosed }

type (
	// ServiceMonth is the period ledger for one service month. It accepts
	// report and attendance edits while ACTIVE; once DONE its stats and totals
	// are frozen and nothing in it changes.
	ServiceMonth struct {
		ID          string           `json:"id"`
		ServiceYear int              `json:"serviceYear"`
		Month       string           `json:"month"`
		SortOrder   int              `json:"sortOrder"`
		Status      LedgerStatus     `json:"status"`
		Reports     []Report         `json:"reports"`
		Meetings    []MeetingSeries  `json:"meetings"`
		Stats       *Stats           `json:"stats,omitempty"`
		Totals      []CategoryTotals `json:"totals,omitempty"`
		ClosedAt    *time.Time       `json:"closedAt,omitempty"`
	}

	MonthRef struct {
		ID        string `json:"id"`
		SortOrder int    `json:"sortOrder"`
	}

	// ServiceYear groups up to twelve closed months in sortOrder.
	ServiceYear struct {
		Name    int            `json:"name"`
		Months  []MonthRef     `json:"months"`
		History []HistoryEvent `json:"history,omitempty"`
	}
)

// NewServiceMonth creates an ACTIVE ledger for the given period.
func NewServiceMonth(id string, serviceYear, sortOrder int) (*ServiceMonth, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptyIdentifier
	}
	if sortOrder < 0 || sortOrder >= MonthsPerServiceYear {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSortOrder, sortOrder)
	}
	return &ServiceMonth{
		ID:          id,
		ServiceYear: serviceYear,
		Month:       MonthToken(sortOrder),
		SortOrder:   sortOrder,
		Status:      LedgerActive,
	}, nil
}

func (m *ServiceMonth) IsClosed() bool {
	return m.Status == LedgerDone
}

// Label is the printable period, e.g. "2024-september".
func (m *ServiceMonth) Label() string {
	return PeriodLabel(m.ServiceYear, m.SortOrder)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (m *ServiceMonth) Clone() ServiceMonth {
	out := *m
	out.Reports = slices.Clone(m.Reports)
	out.Meetings = make([]MeetingSeries, len(m.Meetings))
	for i, s := range m.Meetings {
		out.Meetings[i] = s.Clone()
	}
	if m.Stats != nil {
		st := *m.Stats
		out.Stats = &st
	}
	if m.Totals != nil {
		out.Totals = SumTotals(m.Totals)
	}
	if m.ClosedAt != nil {
		at := *m.ClosedAt
		out.ClosedAt = &at
	}
	return out
}

func (m *ServiceMonth) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return ErrEmptyIdentifier
	}
	if m.SortOrder < 0 || m.SortOrder >= MonthsPerServiceYear {
		return fmt.Errorf("%w: %d", ErrInvalidSortOrder, m.SortOrder)
	}
	if m.Month != MonthToken(m.SortOrder) {
		return fmt.Errorf("%w: %q at position %d", ErrMonthTokenMismatch, m.Month, m.SortOrder)
	}
	if m.Status != LedgerActive && m.Status != LedgerDone {
		return fmt.Errorf("%w: %q", ErrInvalidLedgerStatus, m.Status)
	}
	return nil
}

// Report returns the record with the given identifier.
func (m *ServiceMonth) Report(identifier string) (Report, bool) {
	for _, r := range m.Reports {
		if r.Identifier == identifier {
			return r, true
		}
	}
	return Report{}, false
}

// UpsertReport inserts or replaces a record by identifier. The record must
// carry this ledger's period and be the only one for its publisher. An
// identifier stays with the publisher that first used it.
func (m *ServiceMonth) UpsertReport(r Report) error {
	if m.IsClosed() {
		return fmt.Errorf("upsert report %s into %s: %w", r.Identifier, m.Label(), ErrLedgerClosed)
	}
	if r.ServiceYear != m.ServiceYear || r.SortOrder != m.SortOrder || r.ServiceMonth != m.Month {
		return fmt.Errorf("report %s is %s, ledger is %s: %w",
			r.Identifier, PeriodLabel(r.ServiceYear, r.SortOrder), m.Label(), ErrPeriodMismatch)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	for i, existing := range m.Reports {
		if existing.Identifier == r.Identifier {
			if existing.PublisherID != r.PublisherID {
				return fmt.Errorf("report %s of %s: %w", r.Identifier, existing.PublisherID, ErrIdentifierTaken)
			}
			m.Reports[i] = r
			return nil
		}
	}
	if m.hasPublisher(r.PublisherID, r.Identifier) {
		return fmt.Errorf("publisher %s: %w", r.PublisherID, ErrDuplicatePublisher)
	}
	m.Reports = append(m.Reports, r)
	return nil
}

func (m *ServiceMonth) hasPublisher(publisherID, except string) bool {
	return slices.ContainsFunc(m.Reports, func(r Report) bool {
		return r.PublisherID == publisherID && r.Identifier != except
	})
}

// SetMeetingSeries replaces the series for s.Group, adding it if new.
func (m *ServiceMonth) SetMeetingSeries(s MeetingSeries) error {
	if m.IsClosed() {
		return fmt.Errorf("set meetings of %s: %w", m.Label(), ErrLedgerClosed)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	s = s.Clone()
	for i := range m.Meetings {
		if m.Meetings[i].Group == s.Group {
			m.Meetings[i] = s
			return nil
		}
	}
	m.Meetings = append(m.Meetings, s)
	return nil
}

// SetMeetingCell edits one attendance figure. index may equal the number of
// meetings recorded so far to add a meeting. A group seen for the first time
// is created.
func (m *ServiceMonth) SetMeetingCell(group string, kind MeetingKind, index, value int) error {
	if m.IsClosed() {
		return fmt.Errorf("set meeting cell of %s: %w", m.Label(), ErrLedgerClosed)
	}
	pos := slices.IndexFunc(m.Meetings, func(s MeetingSeries) bool { return s.Group == group })
	current := MeetingSeries{Group: group}
	if pos >= 0 {
		current = m.Meetings[pos]
	}
	next, err := current.WithCell(kind, index, value)
	if err != nil {
		return err
	}
	if pos >= 0 {
		m.Meetings[pos] = next
	} else {
		m.Meetings = append(m.Meetings, next)
	}
	return nil
}

// MeetingSeries returns the series of a group.
func (m *ServiceMonth) MeetingSeries(group string) (MeetingSeries, bool) {
	for _, s := range m.Meetings {
		if s.Group == group {
			return s.Clone(), true
		}
	}
	return MeetingSeries{}, false
}

// Preview computes the overview of the ledger as it stands, using the given
// publisher population. Nothing is stored.
func (m *ServiceMonth) Preview(publishers []Publisher) (MonthOverview, error) {
	attendance, err := Merge(m.Meetings)
	if err != nil {
		return MonthOverview{}, err
	}
	return MonthOverview{
		MonthID:     m.ID,
		ServiceYear: m.ServiceYear,
		Month:       m.Month,
		SortOrder:   m.SortOrder,
		Status:      m.Status,
		Totals:      Aggregate(m.Reports),
		Stats:       PopulationStats(publishers, m.Reports),
		Attendance:  attendance,
		ClosedAt:    m.ClosedAt,
	}, nil
}

// Freeze transitions ACTIVE to DONE, fixing stats and totals as computed from
// the current reports and the given population. Freezing a DONE ledger fails
// with AlreadyClosedError and leaves it untouched.
func (m *ServiceMonth) Freeze(publishers []Publisher, at time.Time) error {
	if m.IsClosed() {
		e := &AlreadyClosedError{MonthID: m.ID}
		if m.ClosedAt != nil {
			e.ClosedAt = *m.ClosedAt
		}
		return e
	}
	overview, err := m.Preview(publishers)
	if err != nil {
		return fmt.Errorf("freeze %s: %w", m.Label(), err)
	}
	at = at.UTC()
	m.Stats = &overview.Stats
	m.Totals = overview.Totals
	m.ClosedAt = &at
	m.Status = LedgerDone
	return nil
}

// Overview returns the frozen overview of a DONE ledger.
func (m *ServiceMonth) Overview() (MonthOverview, error) {
	if !m.IsClosed() || m.Stats == nil {
		return MonthOverview{}, fmt.Errorf("overview of %s: ledger not closed", m.Label())
	}
	attendance, err := Merge(m.Meetings)
	if err != nil {
		return MonthOverview{}, err
	}
	return MonthOverview{
		MonthID:     m.ID,
		ServiceYear: m.ServiceYear,
		Month:       m.Month,
		SortOrder:   m.SortOrder,
		Status:      m.Status,
		Totals:      SumTotals(m.Totals),
		Stats:       *m.Stats,
		Attendance:  attendance,
		ClosedAt:    m.ClosedAt,
	}, nil
}

// NewServiceYear returns an empty service year.
func NewServiceYear(name int) ServiceYear {
	return ServiceYear{Name: name}
}

// AppendMonth appends a month reference. Months must arrive in increasing
// sortOrder and a year holds at most twelve.
func (y *ServiceYear) AppendMonth(ref MonthRef) error {
	if ref.SortOrder < 0 || ref.SortOrder >= MonthsPerServiceYear {
		return fmt.Errorf("%w: %d", ErrInvalidSortOrder, ref.SortOrder)
	}
	if len(y.Months) >= MonthsPerServiceYear {
		return ErrServiceYearFull
	}
	if n := len(y.Months); n > 0 && y.Months[n-1].SortOrder >= ref.SortOrder {
		return fmt.Errorf("%w: %s after %s", ErrMonthOutOfOrder,
			MonthToken(ref.SortOrder), MonthToken(y.Months[n-1].SortOrder))
	}
	y.Months = append(y.Months, ref)
	return nil
}

// AddHistory records a congregation event dated within the year.
func (y *ServiceYear) AddHistory(e HistoryEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if sy, _ := PeriodOf(e.Date.Time); sy != y.Name {
		return fmt.Errorf("%w: %s is in service year %d, not %d", ErrEventOutsideYear, e.Date.Format(time.DateOnly), sy, y.Name)
	}
	y.History = append(y.History, e)
	return nil
}

func (y ServiceYear) Clone() ServiceYear {
	return ServiceYear{
		Name:    y.Name,
		Months:  slices.Clone(y.Months),
		History: slices.Clone(y.History),
	}
}
