package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fieldservice/internal/core"
)

const (
	dateLayout = "2006-01-02"

	reportColumns = `rp.identifier, rp.publisher_id, rp.publisher_name, rp.publisher_status,
		rp.service_year, rp.service_month, rp.sort_order, rp.report_type, rp.auxiliary,
		rp.has_been_in_service, rp.has_not_been_in_service, rp.studies, rp.hours, rp.remarks`

	monthColumns = `id, service_year, month, sort_order, status, stats_json, totals_json, closed_at`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanPublisher(s scanner) (core.Publisher, error) {
	var (
		p             core.Publisher
		status, rtype string
	)
	if err := s.Scan(&p.ID, &p.Name, &status, &rtype, &p.Deaf, &p.Blind); err != nil {
		return core.Publisher{}, err
	}
	p.Status = core.Status(status)
	p.Type = core.ReportType(rtype)
	return p, nil
}

func scanEvent(s scanner) (core.HistoryEvent, error) {
	var typ, date, note string
	if err := s.Scan(&typ, &date, &note); err != nil {
		return core.HistoryEvent{}, fmt.Errorf("scan history event: %w", err)
	}
	return parseEvent(typ, date, note)
}

func parseEvent(typ, date, note string) (core.HistoryEvent, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return core.HistoryEvent{}, fmt.Errorf("parse event date %q: %w", date, err)
	}
	return core.HistoryEvent{Type: core.HistoryType(typ), Date: core.Date{Time: t}, Note: note}, nil
}

func scanReport(s scanner) (core.Report, error) {
	var (
		r              core.Report
		status, rtype  string
		studies, hours sql.NullInt64
	)
	err := s.Scan(&r.Identifier, &r.PublisherID, &r.PublisherName, &status,
		&r.ServiceYear, &r.ServiceMonth, &r.SortOrder, &rtype, &r.Auxiliary,
		&r.HasBeenInService, &r.HasNotBeenInService, &studies, &hours, &r.Remarks)
	if err != nil {
		return core.Report{}, fmt.Errorf("scan report: %w", err)
	}
	r.PublisherStatus = core.Status(status)
	r.Type = core.ReportType(rtype)
	r.Studies = fromNull(studies)
	r.Hours = fromNull(hours)
	return r, nil
}

func collectReports(rows *sql.Rows) ([]core.Report, error) {
	var out []core.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanMonth(s scanner) (core.ServiceMonth, error) {
	var (
		m                   core.ServiceMonth
		status              string
		stats, totals, done sql.NullString
	)
	if err := s.Scan(&m.ID, &m.ServiceYear, &m.Month, &m.SortOrder, &status, &stats, &totals, &done); err != nil {
		return core.ServiceMonth{}, err
	}
	m.Status = core.LedgerStatus(status)
	if stats.Valid {
		var st core.Stats
		if err := json.Unmarshal([]byte(stats.String), &st); err != nil {
			return core.ServiceMonth{}, fmt.Errorf("decode stats of %s: %w", m.ID, err)
		}
		m.Stats = &st
	}
	if totals.Valid {
		if err := json.Unmarshal([]byte(totals.String), &m.Totals); err != nil {
			return core.ServiceMonth{}, fmt.Errorf("decode totals of %s: %w", m.ID, err)
		}
	}
	if done.Valid {
		at, err := time.Parse(time.RFC3339Nano, done.String)
		if err != nil {
			return core.ServiceMonth{}, fmt.Errorf("parse closed_at of %s: %w", m.ID, err)
		}
		m.ClosedAt = &at
	}
	return m, nil
}

func toNull(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func fromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// toJSON encodes v, mapping nil pointers and slices to SQL NULL.
func toJSON(v any) (sql.NullString, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(b) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
