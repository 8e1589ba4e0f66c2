package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive    Status = "ACTIVE"
	StatusIrregular Status = "IRREGULAR"
	StatusInactive  Status = "INACTIVE"
)

const (
	TypePublisher       ReportType = "PUBLISHER"
	TypePioneer         ReportType = "PIONEER"
	TypeSpecialPioneer  ReportType = "SPECIALPIONEER"
	TypeAuxiliary       ReportType = "AUXILIARY"
	TypeMissionary      ReportType = "MISSIONARY"
	TypeCircuitOverseer ReportType = "CIRCUITOVERSEER"
)

const (
	EventBaptized         HistoryType = "BAPTIZED"
	EventNewPublisher     HistoryType = "NEW_PUBLISHER"
	EventMovedIn          HistoryType = "MOVED_IN"
	EventMovedOut         HistoryType = "MOVED_OUT"
	EventDisfellowshipped HistoryType = "DISFELLOWSHIPPED"
	EventReinstated       HistoryType = "REINSTATED"
	EventDeceased         HistoryType = "DECEASED"
)

type (
	// Status is a publisher's standing.
	Status string

	// ReportType is the service category a report was filed under.
	ReportType string

	// HistoryType tags a congregation life event.
	HistoryType string

	Date struct {
		time.Time
	}

	// Report is one publisher's activity for one service month.
	// HasBeenInService and HasNotBeenInService are a tri-state: both false
	// means the report has not been turned in yet.
	Report struct {
		Identifier      string     `json:"identifier"`
		PublisherID     string     `json:"publisherId"`
		PublisherName   string     `json:"publisherName,omitempty"`
		PublisherStatus Status     `json:"publisherStatus,omitempty"`
		ServiceYear     int        `json:"serviceYear"`
		ServiceMonth    string     `json:"serviceMonth"`
		SortOrder       int        `json:"sortOrder"`
		Type            ReportType `json:"type"`
		Auxiliary       bool       `json:"auxiliary"`

		HasBeenInService    bool `json:"hasBeenInService"`
		HasNotBeenInService bool `json:"hasNotBeenInService"`

		Studies *int   `json:"studies,omitempty"`
		Hours   *int   `json:"hours,omitempty"`
		Remarks string `json:"remarks,omitempty"`
	}

	// Publisher is a congregation member tracked for field service.
	Publisher struct {
		ID      string         `json:"id"`
		Name    string         `json:"name"`
		Status  Status         `json:"status"`
		Type    ReportType     `json:"type"` // category new reports are filed under
		Deaf    bool           `json:"deaf"`
		Blind   bool           `json:"blind"`
		Reports []Report       `json:"reports,omitempty"`
		History []HistoryEvent `json:"history,omitempty"`
	}

	HistoryEvent struct {
		Type        HistoryType `json:"type"`
		Date        Date        `json:"date"`
		PublisherID string      `json:"publisherId,omitempty"`
		Note        string      `json:"note,omitempty"`
	}
)

var (
	ErrInvalidReportState = errors.New("invalid report state")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidReportType  = errors.New("invalid report type")
	ErrInvalidSortOrder   = errors.New("invalid sort order")
	ErrMonthTokenMismatch = errors.New("service month does not match sort order")
	ErrEmptyIdentifier    = errors.New("empty identifier")
	ErrEmptyPublisher     = errors.New("empty publisher id")
	ErrEmptyName          = errors.New("empty name")
	ErrNegativeCount      = errors.New("negative count")
	ErrMissingHours       = errors.New("hours required for this report type")
	ErrInvalidHistoryType = errors.New("invalid history type")
)

// InvalidReportStateError reports a report whose service flags are not
// exactly one of hasBeenInService / hasNotBeenInService.
type InvalidReportStateError struct {
	Identifier          string
	HasBeenInService    bool
	HasNotBeenInService bool
}

func (e *InvalidReportStateError) Error() string {
	return fmt.Sprintf("report %q: hasBeenInService=%t hasNotBeenInService=%t: %v",
		e.Identifier, e.HasBeenInService, e.HasNotBeenInService, ErrInvalidReportState)
}

func (e *InvalidReportStateError) Unwrap() error { return ErrInvalidReportState }

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusIrregular, StatusInactive:
		return true
	}
	return false
}

// Valid reports whether t is a known report type.
func (t ReportType) Valid() bool {
	switch t {
	case TypePublisher, TypePioneer, TypeSpecialPioneer, TypeAuxiliary, TypeMissionary, TypeCircuitOverseer:
		return true
	}
	return false
}

func (t HistoryType) Valid() bool {
	switch t {
	case EventBaptized, EventNewPublisher, EventMovedIn, EventMovedOut,
		EventDisfellowshipped, EventReinstated, EventDeceased:
		return true
	}
	return false
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// StableID derives a deterministic identifier from its parts, so that
// re-importing the same row yields the same key.
func StableID(parts ...string) string {
	key := strings.ToLower(strings.Join(parts, "/"))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// Finalized reports whether exactly one service flag is set.
func (r Report) Finalized() bool {
	return r.HasBeenInService != r.HasNotBeenInService
}

// Pending reports whether the report has not been turned in yet.
func (r Report) Pending() bool {
	return !r.HasBeenInService && !r.HasNotBeenInService
}

// CheckFinalized fails with an InvalidReportStateError unless exactly one
// service flag is set.
func (r Report) CheckFinalized() error {
	if r.Finalized() {
		return nil
	}
	return &InvalidReportStateError{
		Identifier:          r.Identifier,
		HasBeenInService:    r.HasBeenInService,
		HasNotBeenInService: r.HasNotBeenInService,
	}
}

// RequiresHours reports whether the report must carry hours once it is in service.
func (r Report) RequiresHours() bool {
	return r.Auxiliary || r.Type != TypePublisher
}

// Validate checks the record shape. A pending report is valid; a report with
// both flags set is not.
func (r Report) Validate() error {
	if strings.TrimSpace(r.Identifier) == "" {
		return ErrEmptyIdentifier
	}
	if strings.TrimSpace(r.PublisherID) == "" {
		return ErrEmptyPublisher
	}
	if r.SortOrder < 0 || r.SortOrder >= MonthsPerServiceYear {
		return fmt.Errorf("%w: %d", ErrInvalidSortOrder, r.SortOrder)
	}
	if r.ServiceMonth != MonthToken(r.SortOrder) {
		return fmt.Errorf("%w: %q at position %d", ErrMonthTokenMismatch, r.ServiceMonth, r.SortOrder)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReportType, r.Type)
	}
	if r.HasBeenInService && r.HasNotBeenInService {
		return r.CheckFinalized()
	}
	if r.Studies != nil && *r.Studies < 0 {
		return fmt.Errorf("studies: %w", ErrNegativeCount)
	}
	if r.Hours != nil && *r.Hours < 0 {
		return fmt.Errorf("hours: %w", ErrNegativeCount)
	}
	if r.HasBeenInService && r.RequiresHours() && r.Hours == nil {
		return ErrMissingHours
	}
	return nil
}

// Before orders reports by (serviceYear, sortOrder).
func (r Report) Before(o Report) bool {
	if r.ServiceYear != o.ServiceYear {
		return r.ServiceYear < o.ServiceYear
	}
	return r.SortOrder < o.SortOrder
}

func (p Publisher) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrEmptyPublisher
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status)
	}
	if p.Type != "" && !p.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReportType, p.Type)
	}
	return nil
}

// DefaultType is the category new reports for this publisher start with.
func (p Publisher) DefaultType() ReportType {
	if p.Type == "" {
		return TypePublisher
	}
	return p.Type
}

func (e HistoryEvent) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidHistoryType, e.Type)
	}
	return e.Date.Validate()
}
