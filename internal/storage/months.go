package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fieldservice/internal/core"
	"fieldservice/internal/ports"
)

func (r *SQLiteRepository) CreateMonth(ctx context.Context, m core.ServiceMonth) error {
	if err := m.Validate(); err != nil {
		return err
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO service_months (id, service_year, month, sort_order, status) VALUES (?, ?, ?, ?, ?)`,
			m.ID, m.ServiceYear, m.Month, m.SortOrder, string(m.Status)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%s: %w", m.Label(), ports.ErrMonthExists)
			}
			return fmt.Errorf("insert month %s: %w", m.ID, err)
		}
		for i, rp := range m.Reports {
			if err := upsertReport(ctx, tx, m.ID, i, rp); err != nil {
				return err
			}
		}
		return replaceMeetings(ctx, tx, m.ID, m.Meetings)
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Service month created",
		"month_id", m.ID,
		"period", m.Label(),
		"reports", len(m.Reports))
	return nil
}

func (r *SQLiteRepository) GetMonth(ctx context.Context, id string) (core.ServiceMonth, error) {
	return r.loadMonth(ctx, r.db.QueryRowContext(ctx, `SELECT `+monthColumns+` FROM service_months WHERE id = ?`, id),
		fmt.Sprintf("month %s", id))
}

func (r *SQLiteRepository) FindMonth(ctx context.Context, serviceYear, sortOrder int) (core.ServiceMonth, error) {
	return r.loadMonth(ctx, r.db.QueryRowContext(ctx,
		`SELECT `+monthColumns+` FROM service_months WHERE service_year = ? AND sort_order = ?`, serviceYear, sortOrder),
		core.PeriodLabel(serviceYear, sortOrder))
}

func (r *SQLiteRepository) ActiveMonth(ctx context.Context) (core.ServiceMonth, bool, error) {
	m, err := r.loadMonth(ctx, r.db.QueryRowContext(ctx,
		`SELECT `+monthColumns+` FROM service_months WHERE status = 'ACTIVE' ORDER BY service_year, sort_order LIMIT 1`),
		"active month")
	if errors.Is(err, ports.ErrNotFound) {
		return core.ServiceMonth{}, false, nil
	}
	if err != nil {
		return core.ServiceMonth{}, false, err
	}
	return m, true, nil
}

func (r *SQLiteRepository) ListMonths(ctx context.Context, serviceYear int) ([]core.ServiceMonth, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+monthColumns+` FROM service_months WHERE service_year = ? ORDER BY sort_order`, serviceYear)
	if err != nil {
		return nil, fmt.Errorf("list months of %d: %w", serviceYear, err)
	}
	var months []core.ServiceMonth
	for rows.Next() {
		m, err := scanMonth(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		months = append(months, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range months {
		if err := r.loadChildren(ctx, &months[i]); err != nil {
			return nil, err
		}
	}
	return months, nil
}

func (r *SQLiteRepository) loadMonth(ctx context.Context, row *sql.Row, what string) (core.ServiceMonth, error) {
	m, err := scanMonth(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ServiceMonth{}, fmt.Errorf("%s: %w", what, ports.ErrNotFound)
	}
	if err != nil {
		return core.ServiceMonth{}, fmt.Errorf("load %s: %w", what, err)
	}
	if err := r.loadChildren(ctx, &m); err != nil {
		return core.ServiceMonth{}, err
	}
	return m, nil
}

func (r *SQLiteRepository) loadChildren(ctx context.Context, m *core.ServiceMonth) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports rp WHERE rp.month_id = ? ORDER BY rp.position, rp.identifier`, m.ID)
	if err != nil {
		return fmt.Errorf("load reports of %s: %w", m.ID, err)
	}
	m.Reports, err = collectReports(rows)
	rows.Close()
	if err != nil {
		return err
	}

	rows, err = r.db.QueryContext(ctx,
		`SELECT group_name, midweek_json, weekend_json FROM meeting_series WHERE month_id = ? ORDER BY position`, m.ID)
	if err != nil {
		return fmt.Errorf("load meetings of %s: %w", m.ID, err)
	}
	defer rows.Close()
	m.Meetings = nil
	for rows.Next() {
		var (
			s                core.MeetingSeries
			midweek, weekend string
		)
		if err := rows.Scan(&s.Group, &midweek, &weekend); err != nil {
			return fmt.Errorf("scan meeting series: %w", err)
		}
		if err := json.Unmarshal([]byte(midweek), &s.Midweek); err != nil {
			return fmt.Errorf("decode midweek of %s/%q: %w", m.ID, s.Group, err)
		}
		if err := json.Unmarshal([]byte(weekend), &s.Weekend); err != nil {
			return fmt.Errorf("decode weekend of %s/%q: %w", m.ID, s.Group, err)
		}
		m.Meetings = append(m.Meetings, s)
	}
	return rows.Err()
}

// UpsertReport writes one record into an ACTIVE ledger, keyed by identifier.
func (r *SQLiteRepository) UpsertReport(ctx context.Context, monthID string, rp core.Report) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		m, err := monthHeader(ctx, tx, monthID)
		if err != nil {
			return err
		}
		if m.IsClosed() {
			return fmt.Errorf("upsert report %s into %s: %w", rp.Identifier, m.Label(), core.ErrLedgerClosed)
		}
		if rp.ServiceYear != m.ServiceYear || rp.SortOrder != m.SortOrder {
			return fmt.Errorf("report %s: %w", rp.Identifier, core.ErrPeriodMismatch)
		}
		if err := rp.Validate(); err != nil {
			return err
		}
		var (
			position int
			owner    string
		)
		err = tx.QueryRowContext(ctx, `SELECT position, month_id FROM reports WHERE identifier = ?`, rp.Identifier).Scan(&position, &owner)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE month_id = ?`, monthID).Scan(&position); err != nil {
				return fmt.Errorf("report position: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lookup report %s: %w", rp.Identifier, err)
		case owner != monthID:
			return fmt.Errorf("report %s belongs to month %s: %w", rp.Identifier, owner, core.ErrPeriodMismatch)
		}
		return upsertReport(ctx, tx, monthID, position, rp)
	})
	if err != nil {
		return err
	}

	slog.DebugContext(ctx, "Report saved to SQLite",
		"month_id", monthID,
		"report_id", rp.Identifier,
		"publisher_id", rp.PublisherID)
	return nil
}

func (r *SQLiteRepository) SaveMeetings(ctx context.Context, monthID string, series []core.MeetingSeries) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		m, err := monthHeader(ctx, tx, monthID)
		if err != nil {
			return err
		}
		if m.IsClosed() {
			return fmt.Errorf("save meetings of %s: %w", m.Label(), core.ErrLedgerClosed)
		}
		return replaceMeetings(ctx, tx, monthID, series)
	})
}

func monthHeader(ctx context.Context, q DBTX, id string) (core.ServiceMonth, error) {
	m, err := scanMonth(q.QueryRowContext(ctx, `SELECT `+monthColumns+` FROM service_months WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.ServiceMonth{}, fmt.Errorf("month %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return core.ServiceMonth{}, fmt.Errorf("load month %s: %w", id, err)
	}
	return m, nil
}

func upsertReport(ctx context.Context, q DBTX, monthID string, position int, rp core.Report) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO reports (
			identifier, month_id, publisher_id, publisher_name, publisher_status,
			service_year, service_month, sort_order, report_type, auxiliary,
			has_been_in_service, has_not_been_in_service, studies, hours, remarks, position
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			publisher_id = excluded.publisher_id,
			publisher_name = excluded.publisher_name,
			publisher_status = excluded.publisher_status,
			report_type = excluded.report_type,
			auxiliary = excluded.auxiliary,
			has_been_in_service = excluded.has_been_in_service,
			has_not_been_in_service = excluded.has_not_been_in_service,
			studies = excluded.studies,
			hours = excluded.hours,
			remarks = excluded.remarks,
			updated_at = CURRENT_TIMESTAMP
		WHERE reports.month_id = excluded.month_id`,
		rp.Identifier, monthID, rp.PublisherID, rp.PublisherName, string(rp.PublisherStatus),
		rp.ServiceYear, rp.ServiceMonth, rp.SortOrder, string(rp.Type), rp.Auxiliary,
		rp.HasBeenInService, rp.HasNotBeenInService, toNull(rp.Studies), toNull(rp.Hours), rp.Remarks, position)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("publisher %s: %w", rp.PublisherID, core.ErrDuplicatePublisher)
		}
		return fmt.Errorf("upsert report %s: %w", rp.Identifier, err)
	}
	return nil
}

func replaceMeetings(ctx context.Context, q DBTX, monthID string, series []core.MeetingSeries) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM meeting_series WHERE month_id = ?`, monthID); err != nil {
		return fmt.Errorf("clear meetings of %s: %w", monthID, err)
	}
	for i, s := range series {
		if err := s.Validate(); err != nil {
			return err
		}
		midweek, err := json.Marshal(nonNil(s.Midweek))
		if err != nil {
			return err
		}
		weekend, err := json.Marshal(nonNil(s.Weekend))
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO meeting_series (month_id, group_name, position, midweek_json, weekend_json) VALUES (?, ?, ?, ?, ?)`,
			monthID, s.Group, i, string(midweek), string(weekend)); err != nil {
			return fmt.Errorf("insert meetings %s/%q: %w", monthID, s.Group, err)
		}
	}
	return nil
}

// CommitClose writes the frozen ledger, its service year and the status
// changes in a single transaction.
func (r *SQLiteRepository) CommitClose(ctx context.Context, c ports.CloseCommit) error {
	m := c.Month
	if !m.IsClosed() || m.Stats == nil || m.ClosedAt == nil {
		return fmt.Errorf("commit close of %s: ledger not frozen", m.Label())
	}
	stats, err := toJSON(m.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	totals, err := toJSON(m.Totals)
	if err != nil {
		return fmt.Errorf("encode totals: %w", err)
	}
	closedAt := m.ClosedAt.UTC().Format(time.RFC3339Nano)

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := monthHeader(ctx, tx, m.ID)
		switch {
		case errors.Is(err, ports.ErrNotFound):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO service_months (id, service_year, month, sort_order, status) VALUES (?, ?, ?, ?, 'ACTIVE')`,
				m.ID, m.ServiceYear, m.Month, m.SortOrder); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%s: %w", m.Label(), ports.ErrMonthExists)
				}
				return fmt.Errorf("insert month %s: %w", m.ID, err)
			}
		case err != nil:
			return err
		case existing.IsClosed():
			ae := &core.AlreadyClosedError{MonthID: existing.ID}
			if existing.ClosedAt != nil {
				ae.ClosedAt = *existing.ClosedAt
			}
			return ae
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE month_id = ?`, m.ID); err != nil {
			return fmt.Errorf("clear reports of %s: %w", m.ID, err)
		}
		for i, rp := range m.Reports {
			if err := upsertReport(ctx, tx, m.ID, i, rp); err != nil {
				return err
			}
		}
		if err := replaceMeetings(ctx, tx, m.ID, m.Meetings); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE service_months SET status = 'DONE', stats_json = ?, totals_json = ?, closed_at = ? WHERE id = ?`,
			stats, totals, closedAt, m.ID); err != nil {
			return fmt.Errorf("freeze month %s: %w", m.ID, err)
		}

		if err := saveYear(ctx, tx, c.Year); err != nil {
			return err
		}

		for _, ch := range c.StatusChanges {
			res, err := tx.ExecContext(ctx,
				`UPDATE publishers SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(ch.To), ch.PublisherID)
			if err != nil {
				return fmt.Errorf("update status of %s: %w", ch.PublisherID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("publisher %s: %w", ch.PublisherID, ports.ErrNotFound)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Service month closed in SQLite",
		"month_id", m.ID,
		"period", m.Label(),
		"status_changes", len(c.StatusChanges))
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nonNil(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}
