package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"fieldservice/internal/core"
)

// EventType doubles as the routing key on the direct exchange.
type EventType string

const (
	EventMonthClosed    EventType = "month.closed"
	EventReportUpserted EventType = "report.upserted"
)

// LedgerEvent is a lightweight notification. Consumers fetch the ledger
// itself from the store by MonthID.
type LedgerEvent struct {
	Type        EventType `json:"type"`
	MonthID     string    `json:"monthId"`
	ServiceYear int       `json:"serviceYear"`
	SortOrder   int       `json:"sortOrder"`
	Period      string    `json:"period"`
	ReportID    string    `json:"reportId,omitempty"`
	PublisherID string    `json:"publisherId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewMonthClosedEvent builds the event emitted once a ledger is frozen.
func NewMonthClosedEvent(m core.ServiceMonth) *LedgerEvent {
	return &LedgerEvent{
		Type:        EventMonthClosed,
		MonthID:     m.ID,
		ServiceYear: m.ServiceYear,
		SortOrder:   m.SortOrder,
		Period:      m.Label(),
		Timestamp:   time.Now(),
	}
}

func NewReportUpsertedEvent(monthID string, r core.Report) *LedgerEvent {
	return &LedgerEvent{
		Type:        EventReportUpserted,
		MonthID:     monthID,
		ServiceYear: r.ServiceYear,
		SortOrder:   r.SortOrder,
		Period:      core.PeriodLabel(r.ServiceYear, r.SortOrder),
		ReportID:    r.Identifier,
		PublisherID: r.PublisherID,
		Timestamp:   time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes and sanity checks an event body.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	switch e.Type {
	case EventMonthClosed, EventReportUpserted:
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.MonthID == "" {
		return nil, fmt.Errorf("event %s without month id", e.Type)
	}
	return &e, nil
}
