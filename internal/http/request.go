package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"fieldservice/internal/core"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

type (
	publisherRequest struct {
		ID     string          `json:"id" validate:"omitempty,max=64"`
		Name   string          `json:"name" validate:"required,max=120"`
		Status core.Status     `json:"status" validate:"omitempty,oneof=ACTIVE IRREGULAR INACTIVE"`
		Type   core.ReportType `json:"type" validate:"omitempty,oneof=PUBLISHER PIONEER SPECIALPIONEER AUXILIARY MISSIONARY CIRCUITOVERSEER"`
		Deaf   bool            `json:"deaf"`
		Blind  bool            `json:"blind"`
	}

	// openMonthRequest names the period by sortOrder, by month token, or both
	// as long as they agree.
	openMonthRequest struct {
		ServiceYear int    `json:"serviceYear" validate:"required,min=1900,max=9999"`
		SortOrder   *int   `json:"sortOrder" validate:"required_without=Month,omitempty,min=0,max=11"`
		Month       string `json:"month" validate:"required_without=SortOrder,omitempty,max=16"`
	}

	reportRequest struct {
		Identifier          string          `json:"identifier" validate:"omitempty,max=64"`
		Type                core.ReportType `json:"type" validate:"omitempty,oneof=PUBLISHER PIONEER SPECIALPIONEER AUXILIARY MISSIONARY CIRCUITOVERSEER"`
		Auxiliary           bool            `json:"auxiliary"`
		HasBeenInService    bool            `json:"hasBeenInService"`
		HasNotBeenInService bool            `json:"hasNotBeenInService"`
		Studies             *int            `json:"studies" validate:"omitempty,min=0,max=1000"`
		Hours               *int            `json:"hours" validate:"omitempty,min=0,max=744"`
		Remarks             string          `json:"remarks" validate:"max=500"`
	}

	yearEventRequest struct {
		Type        core.HistoryType `json:"type" validate:"required,oneof=BAPTIZED NEW_PUBLISHER MOVED_IN MOVED_OUT DISFELLOWSHIPPED REINSTATED DECEASED"`
		Date        string           `json:"date" validate:"required,datetime=2006-01-02"`
		PublisherID string           `json:"publisherId" validate:"omitempty,max=64"`
		Note        string           `json:"note" validate:"max=500"`
	}

	meetingSeriesRequest struct {
		Midweek []int `json:"midweek" validate:"max=6,dive,min=0"`
		Weekend []int `json:"weekend" validate:"max=6,dive,min=0"`
	}

	meetingCellRequest struct {
		Value *int `json:"value" validate:"required,min=0"`
	}
)

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a single JSON object into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %w", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: body must hold a single JSON object", errBadRequest)
	}
	return s.validate.Struct(dst)
}

func (p publisherRequest) toCore() core.Publisher {
	name := sanitizeInput(p.Name)
	id := strings.TrimSpace(p.ID)
	if id == "" {
		// Same key the seed files and the legacy import derive.
		id = core.StableID(name)
	}
	return core.Publisher{
		ID:     id,
		Name:   name,
		Status: p.Status,
		Type:   p.Type,
		Deaf:   p.Deaf,
		Blind:  p.Blind,
	}
}

func (o openMonthRequest) period() (serviceYear, sortOrder int, err error) {
	if o.Month == "" {
		return o.ServiceYear, *o.SortOrder, nil
	}
	sortOrder, ok := core.ParseMonthToken(o.Month)
	if !ok {
		return 0, 0, fmt.Errorf("%w: unknown month %q", errBadRequest, o.Month)
	}
	if o.SortOrder != nil && *o.SortOrder != sortOrder {
		return 0, 0, fmt.Errorf("%w: %q at position %d", core.ErrMonthTokenMismatch, o.Month, *o.SortOrder)
	}
	return o.ServiceYear, sortOrder, nil
}

func (rr reportRequest) toCore(publisherID string) core.Report {
	return core.Report{
		Identifier:          strings.TrimSpace(rr.Identifier),
		PublisherID:         publisherID,
		Type:                rr.Type,
		Auxiliary:           rr.Auxiliary,
		HasBeenInService:    rr.HasBeenInService,
		HasNotBeenInService: rr.HasNotBeenInService,
		Studies:             rr.Studies,
		Hours:               rr.Hours,
		Remarks:             sanitizeInput(rr.Remarks),
	}
}

func (e yearEventRequest) toCore() (core.HistoryEvent, error) {
	t, err := time.Parse(time.DateOnly, e.Date)
	if err != nil {
		return core.HistoryEvent{}, fmt.Errorf("%w: date: %w", errBadRequest, err)
	}
	return core.HistoryEvent{
		Type:        e.Type,
		Date:        core.Date{Time: t},
		PublisherID: strings.TrimSpace(e.PublisherID),
		Note:        sanitizeInput(e.Note),
	}, nil
}

func pathInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(r.PathValue(name)))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", errBadRequest, name)
	}
	return v, nil
}

// pathGroup maps the "-" placeholder to the mother congregation.
func pathGroup(r *http.Request) string {
	group := sanitizeInput(r.PathValue("group"))
	if group == "-" {
		return core.DefaultGroup
	}
	return group
}

// sanitizeInput removes control characters except tab and newlines, and trims
// whitespace.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
