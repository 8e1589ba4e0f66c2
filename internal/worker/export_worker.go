package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"fieldservice/internal/amqp"
	"fieldservice/internal/core"
	"fieldservice/internal/export"
	"fieldservice/internal/ports"
)

// ExportWorker writes a workbook for every closed service month into dir.
type ExportWorker struct {
	store ports.LedgerStore
	dir   string
}

func NewExportWorker(store ports.LedgerStore, dir string) *ExportWorker {
	return &ExportWorker{store: store, dir: dir}
}

// HandleEvent processes a single ledger event from AMQP. Only month.closed
// produces output; other events are acknowledged and ignored.
func (w *ExportWorker) HandleEvent(ctx context.Context, event *amqp.LedgerEvent) error {
	if event.Type != amqp.EventMonthClosed {
		slog.DebugContext(ctx, "Ignoring ledger event", "event_type", event.Type, "month_id", event.MonthID)
		return nil
	}

	slog.InfoContext(ctx, "Processing month closed event",
		"month_id", event.MonthID,
		"period", event.Period)

	m, err := w.store.GetMonth(ctx, event.MonthID)
	if errors.Is(err, ports.ErrNotFound) {
		// Nothing to export and nothing a retry would fix.
		slog.WarnContext(ctx, "Closed month not found, dropping event", "month_id", event.MonthID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get month from storage: %w", err)
	}

	path, err := w.exportMonth(m)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Exported service month",
		"month_id", m.ID,
		"period", m.Label(),
		"path", path)
	return nil
}

// ExportPending writes workbooks for closed months of a service year that have
// no file yet. It recovers from events lost while the worker was down.
func (w *ExportWorker) ExportPending(ctx context.Context, serviceYear int) (int, error) {
	months, err := w.store.ListMonths(ctx, serviceYear)
	if err != nil {
		return 0, fmt.Errorf("list months: %w", err)
	}

	exported, failed := 0, 0
	for _, m := range months {
		if !m.IsClosed() {
			continue
		}
		if _, err := os.Stat(w.path(m)); err == nil {
			continue
		}
		if _, err := w.exportMonth(m); err != nil {
			slog.ErrorContext(ctx, "Failed to export month during startup",
				"month_id", m.ID, "error", err)
			failed++
			continue
		}
		exported++
	}

	slog.InfoContext(ctx, "Startup export completed",
		"service_year", serviceYear,
		"exported", exported,
		"errors", failed)
	return exported, nil
}

func (w *ExportWorker) path(m core.ServiceMonth) string {
	return filepath.Join(w.dir, export.Filename(m))
}

func (w *ExportWorker) exportMonth(m core.ServiceMonth) (string, error) {
	buf, err := export.MonthWorkbook(m)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", m.Label(), err)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	// Write then rename so readers never see a half written workbook.
	path := w.path(m)
	tmp, err := os.CreateTemp(w.dir, ".export-*.xlsx")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := buf.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close workbook: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename workbook: %w", err)
	}
	return path, nil
}
