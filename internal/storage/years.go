package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fieldservice/internal/core"
	"fieldservice/internal/ports"
)

func (r *SQLiteRepository) GetYear(ctx context.Context, name int) (core.ServiceYear, error) {
	var found int
	err := r.db.QueryRowContext(ctx, `SELECT name FROM service_years WHERE name = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ServiceYear{}, fmt.Errorf("service year %d: %w", name, ports.ErrNotFound)
	}
	if err != nil {
		return core.ServiceYear{}, fmt.Errorf("load service year %d: %w", name, err)
	}

	y := core.NewServiceYear(name)
	rows, err := r.db.QueryContext(ctx,
		`SELECT month_id, sort_order FROM service_year_months WHERE service_year = ? ORDER BY position`, name)
	if err != nil {
		return core.ServiceYear{}, fmt.Errorf("load months of %d: %w", name, err)
	}
	for rows.Next() {
		var ref core.MonthRef
		if err := rows.Scan(&ref.ID, &ref.SortOrder); err != nil {
			rows.Close()
			return core.ServiceYear{}, fmt.Errorf("scan month ref: %w", err)
		}
		y.Months = append(y.Months, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return core.ServiceYear{}, err
	}

	rows, err = r.db.QueryContext(ctx,
		`SELECT event_type, event_date, note, publisher_id FROM service_year_history WHERE service_year = ? ORDER BY id`, name)
	if err != nil {
		return core.ServiceYear{}, fmt.Errorf("load history of %d: %w", name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ, date, note, publisherID string
		if err := rows.Scan(&typ, &date, &note, &publisherID); err != nil {
			return core.ServiceYear{}, fmt.Errorf("scan year history: %w", err)
		}
		ev, err := parseEvent(typ, date, note)
		if err != nil {
			return core.ServiceYear{}, err
		}
		ev.PublisherID = publisherID
		y.History = append(y.History, ev)
	}
	return y, rows.Err()
}

func (r *SQLiteRepository) SaveYear(ctx context.Context, y core.ServiceYear) error {
	return r.withTx(ctx, func(tx *sql.Tx) error { return saveYear(ctx, tx, y) })
}

// saveYear replaces the stored month list and history of y.
func saveYear(ctx context.Context, q DBTX, y core.ServiceYear) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO service_years (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`, y.Name); err != nil {
		return fmt.Errorf("save service year %d: %w", y.Name, err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM service_year_months WHERE service_year = ?`, y.Name); err != nil {
		return fmt.Errorf("clear months of %d: %w", y.Name, err)
	}
	for i, ref := range y.Months {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO service_year_months (service_year, position, month_id, sort_order) VALUES (?, ?, ?, ?)`,
			y.Name, i, ref.ID, ref.SortOrder); err != nil {
			return fmt.Errorf("insert month ref %s: %w", ref.ID, err)
		}
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM service_year_history WHERE service_year = ?`, y.Name); err != nil {
		return fmt.Errorf("clear history of %d: %w", y.Name, err)
	}
	for _, e := range y.History {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO service_year_history (service_year, publisher_id, event_type, event_date, note) VALUES (?, ?, ?, ?, ?)`,
			y.Name, e.PublisherID, string(e.Type), e.Date.Format(dateLayout), e.Note); err != nil {
			return fmt.Errorf("insert year history: %w", err)
		}
	}
	return nil
}
