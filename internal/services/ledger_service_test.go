package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldservice/internal/core"
	"fieldservice/internal/memory"
	"fieldservice/internal/ports"
)

type recordingEvents struct {
	mu       sync.Mutex
	closed   []string
	upserted []string
	fail     bool
}

func (e *recordingEvents) PublishMonthClosed(_ context.Context, m core.ServiceMonth) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errors.New("broker down")
	}
	e.closed = append(e.closed, m.ID)
	return nil
}

func (e *recordingEvents) PublishReportUpserted(_ context.Context, _ string, r core.Report) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errors.New("broker down")
	}
	e.upserted = append(e.upserted, r.Identifier)
	return nil
}

func publisher(name string, status core.Status) core.Publisher {
	return core.Publisher{ID: core.StableID(name), Name: name, Status: status, Type: core.TypePublisher}
}

func newService(t *testing.T, pubs ...core.Publisher) (*LedgerService, *memory.Store, *recordingEvents) {
	t.Helper()
	store := memory.New(pubs...)
	events := &recordingEvents{}
	svc := NewLedgerService(store, store, events, DefaultLedgerServiceConfig())
	svc.now = func() time.Time { return time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC) }
	return svc, store, events
}

// closeWith opens a period, files a report per publisher (true = in service)
// and closes it.
func closeWith(t *testing.T, svc *LedgerService, year, sortOrder int, served map[string]bool) core.MonthOverview {
	t.Helper()
	ctx := context.Background()
	m, err := svc.OpenMonth(ctx, year, sortOrder)
	require.NoError(t, err)
	for id, s := range served {
		_, err := svc.UpsertReport(ctx, m.ID, core.Report{PublisherID: id, HasBeenInService: s, HasNotBeenInService: !s})
		require.NoError(t, err)
	}
	o, err := svc.CloseMonth(ctx, m.ID)
	require.NoError(t, err)
	return o
}

func TestOpenMonthSeedsPendingReports(t *testing.T) {
	ctx := context.Background()
	anna, bruno := publisher("Anna", core.StatusActive), publisher("Bruno", core.StatusInactive)
	svc, _, _ := newService(t, anna, bruno)

	m, err := svc.OpenMonth(ctx, 2024, 4)
	require.NoError(t, err)
	assert.Equal(t, core.LedgerActive, m.Status)
	assert.Equal(t, "january", m.Month)
	require.Len(t, m.Reports, 2)
	for _, r := range m.Reports {
		assert.True(t, r.Pending())
		assert.Equal(t, 2024, r.ServiceYear)
	}

	_, err = svc.OpenMonth(ctx, 2024, 5)
	assert.ErrorIs(t, err, ErrActiveLedgerExists)
	_, err = svc.OpenMonth(ctx, 2024, 4)
	assert.ErrorIs(t, err, ports.ErrMonthExists)
}

func TestUpsertReportFillsIdentity(t *testing.T) {
	ctx := context.Background()
	anna := publisher("Anna", core.StatusActive)
	anna.Type = core.TypePioneer
	svc, _, events := newService(t, anna)

	m, err := svc.OpenMonth(ctx, 2024, 0)
	require.NoError(t, err)
	seeded := m.Reports[0]

	r, err := svc.UpsertReport(ctx, m.ID, core.Report{PublisherID: anna.ID, HasBeenInService: true, Hours: core.IntPtr(50), Studies: core.IntPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, seeded.Identifier, r.Identifier, "upsert by publisher reuses the seeded record")
	assert.Equal(t, core.TypePioneer, r.Type)
	assert.Equal(t, "september", r.ServiceMonth)
	assert.Equal(t, "Anna", r.PublisherName)

	stored, err := svc.GetMonth(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, stored.Reports, 1)
	assert.Equal(t, 50, *stored.Reports[0].Hours)
	assert.Equal(t, []string{r.Identifier}, events.upserted)

	_, err = svc.UpsertReport(ctx, m.ID, core.Report{PublisherID: "ghost", HasBeenInService: true})
	assert.ErrorIs(t, err, ErrUnknownPublisher)

	_, err = svc.UpsertReport(ctx, m.ID, core.Report{PublisherID: anna.ID, HasBeenInService: true, HasNotBeenInService: true, Hours: core.IntPtr(1)})
	assert.ErrorIs(t, err, core.ErrInvalidReportState)

	_, err = svc.UpsertReport(ctx, m.ID, core.Report{PublisherID: anna.ID, ServiceYear: 2023, SortOrder: 0, ServiceMonth: "september", HasBeenInService: true, Hours: core.IntPtr(1)})
	assert.ErrorIs(t, err, core.ErrPeriodMismatch)

	// Bruno joins after the month opened and tries to take Anna's record.
	bruno, err := svc.RegisterPublisher(ctx, publisher("Bruno", core.StatusActive))
	require.NoError(t, err)
	_, err = svc.UpsertReport(ctx, m.ID, core.Report{Identifier: r.Identifier, PublisherID: bruno.ID, HasNotBeenInService: true})
	assert.ErrorIs(t, err, core.ErrIdentifierTaken)

	stored, err = svc.GetMonth(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, stored.Reports, 1)
	assert.Equal(t, anna.ID, stored.Reports[0].PublisherID)
}

func TestCloseMonthClassifiesWithTrailingHistory(t *testing.T) {
	ctx := context.Background()
	anna, bruno := publisher("Anna", core.StatusActive), publisher("Bruno", core.StatusIrregular)
	svc, store, events := newService(t, anna, bruno)

	pattern := []bool{false, false, true, true, false}
	for i, s := range pattern {
		closeWith(t, svc, 2024, i, map[string]bool{anna.ID: true, bruno.ID: s})
	}

	// Put Bruno back to IRREGULAR so the last close exercises the window.
	bruno.Status = core.StatusIrregular
	require.NoError(t, store.SavePublisher(ctx, bruno))

	o := closeWith(t, svc, 2024, 5, map[string]bool{anna.ID: true, bruno.ID: true})
	got, err := store.GetPublisher(ctx, bruno.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusIrregular, got.Status, "one good month after a mixed window must not promote")

	got, err = store.GetPublisher(ctx, anna.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, got.Status)

	assert.Equal(t, 1, o.Stats.RegularPublishers)
	assert.Equal(t, 1, o.Stats.IrregularPublishers)
	assert.Equal(t, 2, o.Stats.ActivePublishers)
	assert.Equal(t, 2, o.Total(core.CategoryPublisher).ReportsCount)
	assert.Len(t, events.closed, 6)

	year, err := store.GetYear(ctx, 2024)
	require.NoError(t, err)
	assert.Len(t, year.Months, 6)
}

func TestCloseMonthIgnoresMonthsWithoutReport(t *testing.T) {
	ctx := context.Background()
	anna := publisher("Anna", core.StatusActive)
	svc, store, _ := newService(t, anna)

	closeWith(t, svc, 2024, 0, map[string]bool{anna.ID: false})
	for i := 1; i <= 5; i++ {
		closeWith(t, svc, 2024, i, nil)
	}
	closeWith(t, svc, 2024, 6, map[string]bool{anna.ID: true})

	got, err := store.GetPublisher(ctx, anna.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusIrregular, got.Status, "the missed month is still in the window")

	history, err := store.ReportHistory(ctx, anna.ID)
	require.NoError(t, err)
	require.Len(t, history, 7)
	replayed, err := svc.Classifier().ReplayStatus(core.StatusActive, history)
	require.NoError(t, err)
	assert.Equal(t, replayed, got.Status)
}

func TestCloseMonthRecovery(t *testing.T) {
	ctx := context.Background()
	bruno := publisher("Bruno", core.StatusIrregular)
	svc, store, _ := newService(t, bruno)

	for i := 0; i < 5; i++ {
		closeWith(t, svc, 2024, i, map[string]bool{bruno.ID: true})
	}
	got, err := store.GetPublisher(ctx, bruno.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, got.Status)
}

func TestCloseMonthTwice(t *testing.T) {
	ctx := context.Background()
	anna := publisher("Anna", core.StatusActive)
	svc, _, events := newService(t, anna)

	m, err := svc.OpenMonth(ctx, 2024, 0)
	require.NoError(t, err)
	first, err := svc.CloseMonth(ctx, m.ID)
	require.NoError(t, err)

	_, err = svc.CloseMonth(ctx, m.ID)
	var closed *core.AlreadyClosedError
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, m.ID, closed.MonthID)

	again, err := svc.Overview(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Stats, again.Stats)
	assert.Len(t, events.closed, 1)

	_, err = svc.UpsertReport(ctx, m.ID, core.Report{PublisherID: anna.ID, HasBeenInService: true})
	assert.ErrorIs(t, err, core.ErrLedgerClosed)
	err = svc.SetMeetingCell(ctx, m.ID, core.DefaultGroup, core.MeetingMidweek, 0, 10)
	assert.ErrorIs(t, err, core.ErrLedgerClosed)
}

func TestCloseMonthSurvivesEventFailure(t *testing.T) {
	ctx := context.Background()
	svc, store, events := newService(t, publisher("Anna", core.StatusActive))
	events.fail = true

	m, err := svc.OpenMonth(ctx, 2024, 0)
	require.NoError(t, err)
	_, err = svc.CloseMonth(ctx, m.ID)
	require.NoError(t, err)

	stored, err := store.GetMonth(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsClosed())
}

func TestCloseMonthRejectsInconsistentAttendance(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t, publisher("Anna", core.StatusActive))

	m, err := svc.OpenMonth(ctx, 2024, 0)
	require.NoError(t, err)
	require.NoError(t, svc.SetMeetingSeries(ctx, m.ID, core.MeetingSeries{Group: core.DefaultGroup, Midweek: []int{10, 12, 11, 13}}))
	require.NoError(t, svc.SetMeetingSeries(ctx, m.ID, core.MeetingSeries{Group: "english", Midweek: []int{2, 3, 2}}))

	_, err = svc.Preview(ctx, m.ID)
	assert.ErrorIs(t, err, core.ErrInconsistentSeriesLength)
	_, err = svc.CloseMonth(ctx, m.ID)
	assert.ErrorIs(t, err, core.ErrInconsistentSeriesLength)

	stored, err := store.GetMonth(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsClosed())

	require.NoError(t, svc.SetMeetingCell(ctx, m.ID, "english", core.MeetingMidweek, 3, 3))
	o, err := svc.CloseMonth(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 56, o.Attendance.Combined.Midweek.TotalAttendance)
	assert.Equal(t, 14, o.Attendance.Combined.Midweek.AverageAttendance)
}

func TestConcurrentUpsertsAndClose(t *testing.T) {
	ctx := context.Background()
	var pubs []core.Publisher
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		pubs = append(pubs, publisher(n, core.StatusActive))
	}
	svc, store, _ := newService(t, pubs...)
	m, err := svc.OpenMonth(ctx, 2024, 0)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted = map[string]bool{}
	)
	for _, p := range pubs {
		wg.Add(1)
		go func(p core.Publisher) {
			defer wg.Done()
			_, err := svc.UpsertReport(ctx, m.ID, core.Report{PublisherID: p.ID, HasBeenInService: true})
			if err == nil {
				mu.Lock()
				accepted[p.ID] = true
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, core.ErrLedgerClosed)
		}(p)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.CloseMonth(ctx, m.ID)
		assert.NoError(t, err)
	}()
	wg.Wait()

	closed, err := store.GetMonth(ctx, m.ID)
	require.NoError(t, err)
	finalized := 0
	for _, r := range closed.Reports {
		if r.HasBeenInService {
			finalized++
			assert.True(t, accepted[r.PublisherID])
		}
	}
	assert.Equal(t, len(accepted), finalized, "every accepted upsert is in the frozen ledger")
	assert.Equal(t, len(pubs)-finalized, closed.Stats.MissingReports)
}

func TestYearReport(t *testing.T) {
	ctx := context.Background()
	anna := publisher("Anna", core.StatusActive)
	svc, _, _ := newService(t, anna)

	for i := 0; i < 3; i++ {
		closeWith(t, svc, 2024, i, map[string]bool{anna.ID: true})
	}
	_, err := svc.OpenMonth(ctx, 2024, 3)
	require.NoError(t, err)

	rep, err := svc.YearReport(ctx, 2024)
	require.NoError(t, err)
	assert.Len(t, rep.Months, 3)
	assert.False(t, rep.Check.Complete)
	assert.Equal(t, []int{3}, rep.Check.Open)
	assert.Equal(t, 3, rep.Totals[0].ReportsCount)

	empty, err := svc.YearReport(ctx, 1990)
	require.NoError(t, err)
	assert.Empty(t, empty.Months)
}

func TestAddYearEvent(t *testing.T) {
	ctx := context.Background()
	anna := publisher("Anna", core.StatusActive)
	svc, store, _ := newService(t, anna)

	y, err := svc.AddYearEvent(ctx, 2024, core.HistoryEvent{Type: core.EventBaptized, Date: core.NewDate(2024, 9, 14), PublisherID: anna.ID})
	require.NoError(t, err)
	assert.Len(t, y.History, 1)
	assert.Empty(t, y.Months)

	// A later close keeps the events next to the month list.
	closeWith(t, svc, 2024, 0, map[string]bool{anna.ID: true})
	stored, err := store.GetYear(ctx, 2024)
	require.NoError(t, err)
	require.Len(t, stored.History, 1)
	assert.Equal(t, core.EventBaptized, stored.History[0].Type)
	assert.Len(t, stored.Months, 1)

	_, err = svc.AddYearEvent(ctx, 2024, core.HistoryEvent{Type: core.EventMovedIn, Date: core.NewDate(2024, 10, 1), PublisherID: "ghost"})
	assert.ErrorIs(t, err, ErrUnknownPublisher)
	_, err = svc.AddYearEvent(ctx, 2024, core.HistoryEvent{Type: core.EventMovedIn, Date: core.NewDate(2023, 10, 1)})
	assert.ErrorIs(t, err, core.ErrEventOutsideYear)
}

func TestOverviewCachesClosedMonths(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, publisher("Anna", core.StatusActive))
	m, err := svc.OpenMonth(ctx, 2024, 0)
	require.NoError(t, err)

	_, err = svc.Overview(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, svc.CacheStats().Size, "active ledgers are not cached")

	_, err = svc.CloseMonth(ctx, m.ID)
	require.NoError(t, err)
	_, err = svc.Overview(ctx, m.ID)
	require.NoError(t, err)
	st := svc.CacheStats()
	assert.Equal(t, 1, st.Size)
	assert.GreaterOrEqual(t, st.Hits, uint64(1))

	_, err = svc.Overview(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}
