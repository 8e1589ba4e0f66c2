package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"fieldservice/internal/core"
	"fieldservice/internal/ports"

	_ "modernc.org/sqlite"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type SQLiteRepository struct {
	db *sql.DB
}

var _ ports.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time keeps close transactions from hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const publisherColumns = `id, name, status, report_type, deaf, blind`

func (r *SQLiteRepository) ListPublishers(ctx context.Context) ([]core.Publisher, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+publisherColumns+` FROM publishers ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list publishers: %w", err)
	}
	defer rows.Close()

	var out []core.Publisher
	for rows.Next() {
		p, err := scanPublisher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	// Events are read after the publisher rows are released; the pool holds one connection.
	for i := range out {
		if out[i].History, err = r.publisherEvents(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *SQLiteRepository) GetPublisher(ctx context.Context, id string) (core.Publisher, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+publisherColumns+` FROM publishers WHERE id = ?`, id)
	p, err := scanPublisher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Publisher{}, fmt.Errorf("publisher %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return core.Publisher{}, err
	}

	if p.Reports, err = r.ReportHistory(ctx, id); err != nil {
		return core.Publisher{}, err
	}
	if p.History, err = r.publisherEvents(ctx, id); err != nil {
		return core.Publisher{}, err
	}
	return p, nil
}

func (r *SQLiteRepository) publisherEvents(ctx context.Context, id string) ([]core.HistoryEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_type, event_date, note FROM publisher_history WHERE publisher_id = ? ORDER BY event_date, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list publisher history: %w", err)
	}
	defer rows.Close()

	var out []core.HistoryEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		e.PublisherID = id
		out = append(out, e)
	}
	return out, rows.Err()
}

// SavePublisher inserts or updates a publisher. History events not yet
// stored are appended.
func (r *SQLiteRepository) SavePublisher(ctx context.Context, p core.Publisher) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO publishers (id, name, status, report_type, deaf, blind, position)
			VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM publishers))
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				status = excluded.status,
				report_type = excluded.report_type,
				deaf = excluded.deaf,
				blind = excluded.blind,
				updated_at = CURRENT_TIMESTAMP`,
			p.ID, p.Name, string(p.Status), string(p.DefaultType()), p.Deaf, p.Blind)
		if err != nil {
			return fmt.Errorf("save publisher %s: %w", p.ID, err)
		}

		var stored int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM publisher_history WHERE publisher_id = ?`, p.ID).Scan(&stored); err != nil {
			return fmt.Errorf("count publisher history: %w", err)
		}
		for _, e := range p.History[min(stored, len(p.History)):] {
			if err := e.Validate(); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO publisher_history (publisher_id, event_type, event_date, note) VALUES (?, ?, ?, ?)`,
				p.ID, string(e.Type), e.Date.Format(dateLayout), e.Note); err != nil {
				return fmt.Errorf("insert publisher history: %w", err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) ReportHistory(ctx context.Context, publisherID string) ([]core.Report, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reportColumns+`
		FROM reports rp
		JOIN service_months sm ON sm.id = rp.month_id
		WHERE rp.publisher_id = ? AND sm.status = 'DONE'
		ORDER BY rp.service_year, rp.sort_order`, publisherID)
	if err != nil {
		return nil, fmt.Errorf("report history of %s: %w", publisherID, err)
	}
	defer rows.Close()
	return collectReports(rows)
}
