// Package porttest holds behaviour tests shared by every ports.Store backend.
package porttest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldservice/internal/core"
	"fieldservice/internal/ports"
)

// RunStoreTests exercises a fresh store returned by newStore for each subtest.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) ports.Store) {
	t.Run("publishers", func(t *testing.T) { testPublishers(t, newStore(t)) })
	t.Run("month lifecycle", func(t *testing.T) { testMonthLifecycle(t, newStore(t)) })
	t.Run("duplicate period", func(t *testing.T) { testDuplicatePeriod(t, newStore(t)) })
	t.Run("closed month is immutable", func(t *testing.T) { testClosedImmutable(t, newStore(t)) })
	t.Run("commit close is all or nothing", func(t *testing.T) { testCommitCloseAtomic(t, newStore(t)) })
}

func Publisher(name string, status core.Status) core.Publisher {
	return core.Publisher{ID: core.StableID(name), Name: name, Status: status, Type: core.TypePublisher}
}

func Report(m core.ServiceMonth, p core.Publisher, served bool) core.Report {
	return core.Report{
		Identifier:          core.StableID(p.ID, m.Label()),
		PublisherID:         p.ID,
		PublisherName:       p.Name,
		PublisherStatus:     p.Status,
		ServiceYear:         m.ServiceYear,
		ServiceMonth:        m.Month,
		SortOrder:           m.SortOrder,
		Type:                core.TypePublisher,
		HasBeenInService:    served,
		HasNotBeenInService: !served,
		Studies:             core.IntPtr(1),
	}
}

func testPublishers(t *testing.T, s ports.Store) {
	ctx := context.Background()
	anna := Publisher("Anna", core.StatusActive)
	anna.Deaf = true
	require.NoError(t, s.SavePublisher(ctx, anna))
	require.NoError(t, s.SavePublisher(ctx, Publisher("Bruno", core.StatusIrregular)))

	got, err := s.GetPublisher(ctx, anna.ID)
	require.NoError(t, err)
	assert.Equal(t, "Anna", got.Name)
	assert.True(t, got.Deaf)

	anna.Status = core.StatusInactive
	anna.History = []core.HistoryEvent{{Type: core.EventMovedIn, Date: core.NewDate(2024, 10, 2), Note: "from north"}}
	require.NoError(t, s.SavePublisher(ctx, anna))
	all, err := s.ListPublishers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Anna", all[0].Name)
	require.Len(t, all[0].History, 1, "the directory listing carries publisher history")
	assert.Equal(t, "from north", all[0].History[0].Note)
	assert.Empty(t, all[0].Reports)

	// Saving without events keeps the stored ones.
	anna.History = nil
	require.NoError(t, s.SavePublisher(ctx, anna))

	got, err = s.GetPublisher(ctx, anna.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInactive, got.Status)
	assert.Len(t, got.History, 1)

	_, err = s.GetPublisher(ctx, "nobody")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func testMonthLifecycle(t *testing.T, s ports.Store) {
	ctx := context.Background()
	anna := Publisher("Anna", core.StatusActive)
	require.NoError(t, s.SavePublisher(ctx, anna))

	m, err := core.NewServiceMonth("month-1", 2024, 0)
	require.NoError(t, err)
	require.NoError(t, s.CreateMonth(ctx, *m))

	active, ok, err := s.ActiveMonth(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m.ID, active.ID)

	r := Report(*m, anna, true)
	require.NoError(t, s.UpsertReport(ctx, m.ID, r))
	r.Remarks = "updated"
	require.NoError(t, s.UpsertReport(ctx, m.ID, r))
	require.NoError(t, s.SaveMeetings(ctx, m.ID, []core.MeetingSeries{
		{Group: core.DefaultGroup, Midweek: []int{10, 12}, Weekend: []int{20, 22}},
		{Group: "english", Midweek: []int{1, 2}, Weekend: []int{3, 4}},
	}))

	stored, err := s.GetMonth(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, stored.Reports, 1)
	assert.Equal(t, "updated", stored.Reports[0].Remarks)
	require.Len(t, stored.Meetings, 2)
	assert.Equal(t, []int{1, 2}, stored.Meetings[1].Midweek)

	history, err := s.ReportHistory(ctx, anna.ID)
	require.NoError(t, err)
	assert.Empty(t, history, "history only holds closed months")

	closedAt := time.Date(2024, 10, 5, 12, 0, 0, 0, time.UTC)
	require.NoError(t, stored.Freeze([]core.Publisher{anna}, closedAt))
	year := core.NewServiceYear(2024)
	require.NoError(t, year.AppendMonth(core.MonthRef{ID: stored.ID, SortOrder: stored.SortOrder}))
	require.NoError(t, s.CommitClose(ctx, ports.CloseCommit{
		Month:         stored,
		Year:          year,
		StatusChanges: []ports.StatusChange{{PublisherID: anna.ID, From: core.StatusActive, To: core.StatusIrregular}},
	}))

	_, ok, err = s.ActiveMonth(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	closed, err := s.FindMonth(ctx, 2024, 0)
	require.NoError(t, err)
	assert.True(t, closed.IsClosed())
	require.NotNil(t, closed.Stats)
	assert.Equal(t, 1, closed.Stats.RegularPublishers)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.ClosedAt.Equal(closedAt))

	gotYear, err := s.GetYear(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, []core.MonthRef{{ID: stored.ID, SortOrder: 0}}, gotYear.Months)

	p, err := s.GetPublisher(ctx, anna.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusIrregular, p.Status)

	history, err = s.ReportHistory(ctx, anna.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].HasBeenInService)

	months, err := s.ListMonths(ctx, 2024)
	require.NoError(t, err)
	assert.Len(t, months, 1)
}

func testDuplicatePeriod(t *testing.T, s ports.Store) {
	ctx := context.Background()
	a, _ := core.NewServiceMonth("a", 2024, 3)
	b, _ := core.NewServiceMonth("b", 2024, 3)
	require.NoError(t, s.CreateMonth(ctx, *a))
	err := s.CreateMonth(ctx, *b)
	assert.ErrorIs(t, err, ports.ErrMonthExists)

	_, err = s.GetMonth(ctx, "b")
	assert.ErrorIs(t, err, ports.ErrNotFound)
	_, err = s.GetYear(ctx, 1999)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func testClosedImmutable(t *testing.T, s ports.Store) {
	ctx := context.Background()
	anna := Publisher("Anna", core.StatusActive)
	require.NoError(t, s.SavePublisher(ctx, anna))
	m, _ := core.NewServiceMonth("m", 2024, 1)
	require.NoError(t, s.CreateMonth(ctx, *m))
	require.NoError(t, m.Freeze(nil, time.Now()))
	year := core.NewServiceYear(2024)
	require.NoError(t, year.AppendMonth(core.MonthRef{ID: m.ID, SortOrder: 1}))
	require.NoError(t, s.CommitClose(ctx, ports.CloseCommit{Month: *m, Year: year}))

	err := s.UpsertReport(ctx, m.ID, Report(*m, anna, true))
	assert.True(t, errors.Is(err, core.ErrLedgerClosed), "got %v", err)
	err = s.SaveMeetings(ctx, m.ID, []core.MeetingSeries{{Midweek: []int{1}}})
	assert.ErrorIs(t, err, core.ErrLedgerClosed)

	err = s.CommitClose(ctx, ports.CloseCommit{Month: *m, Year: year})
	assert.ErrorIs(t, err, core.ErrAlreadyClosed)
}

func testCommitCloseAtomic(t *testing.T, s ports.Store) {
	ctx := context.Background()
	m, _ := core.NewServiceMonth("m", 2024, 2)
	require.NoError(t, s.CreateMonth(ctx, *m))
	require.NoError(t, m.Freeze(nil, time.Now()))
	year := core.NewServiceYear(2024)
	require.NoError(t, year.AppendMonth(core.MonthRef{ID: m.ID, SortOrder: 2}))

	err := s.CommitClose(ctx, ports.CloseCommit{
		Month:         *m,
		Year:          year,
		StatusChanges: []ports.StatusChange{{PublisherID: "ghost", From: core.StatusActive, To: core.StatusInactive}},
	})
	require.Error(t, err)

	stored, err := s.GetMonth(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsClosed(), "failed close must leave the ledger ACTIVE")
	_, err = s.GetYear(ctx, 2024)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}
