package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldservice/internal/amqp"
	"fieldservice/internal/core"
	"fieldservice/internal/memory"
	"fieldservice/internal/services"
)

func closeMonths(t *testing.T, n int) (*memory.Store, []core.ServiceMonth) {
	t.Helper()
	ctx := context.Background()
	anna := core.Publisher{ID: "p-1", Name: "Anna", Status: core.StatusActive, Type: core.TypePublisher}
	store := memory.New(anna)
	svc := services.NewLedgerService(store, store, nil, services.DefaultLedgerServiceConfig())

	var out []core.ServiceMonth
	for i := 0; i < n; i++ {
		m, err := svc.OpenMonth(ctx, 2024, i)
		require.NoError(t, err)
		_, err = svc.UpsertReport(ctx, m.ID, core.Report{PublisherID: anna.ID, HasBeenInService: true})
		require.NoError(t, err)
		_, err = svc.CloseMonth(ctx, m.ID)
		require.NoError(t, err)
		closed, err := store.GetMonth(ctx, m.ID)
		require.NoError(t, err)
		out = append(out, closed)
	}
	return store, out
}

func TestExportWorker_HandleEvent(t *testing.T) {
	ctx := context.Background()
	store, months := closeMonths(t, 1)
	dir := t.TempDir()
	w := NewExportWorker(store, dir)

	require.NoError(t, w.HandleEvent(ctx, amqp.NewMonthClosedEvent(months[0])))

	_, err := os.Stat(filepath.Join(dir, "2024-september.xlsx"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestExportWorker_IgnoresOtherEvents(t *testing.T) {
	ctx := context.Background()
	store, months := closeMonths(t, 1)
	dir := t.TempDir()
	w := NewExportWorker(store, dir)

	event := amqp.NewReportUpsertedEvent(months[0].ID, months[0].Reports[0])
	require.NoError(t, w.HandleEvent(ctx, event))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportWorker_DropsUnknownMonth(t *testing.T) {
	store, _ := closeMonths(t, 0)
	w := NewExportWorker(store, t.TempDir())

	err := w.HandleEvent(context.Background(), &amqp.LedgerEvent{Type: amqp.EventMonthClosed, MonthID: "gone"})
	assert.NoError(t, err)
}

func TestExportWorker_ExportPending(t *testing.T) {
	ctx := context.Background()
	store, _ := closeMonths(t, 3)
	dir := t.TempDir()
	w := NewExportWorker(store, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "2024-october.xlsx"), []byte("existing"), 0o644))

	n, err := w.ExportPending(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	existing, err := os.ReadFile(filepath.Join(dir, "2024-october.xlsx"))
	require.NoError(t, err)
	assert.Equal(t, "existing", string(existing), "present workbooks are not rewritten")

	n, err = w.ExportPending(ctx, 2024)
	require.NoError(t, err)
	assert.Zero(t, n)
}
