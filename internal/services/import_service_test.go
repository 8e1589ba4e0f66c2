package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldservice/internal/core"
	"fieldservice/internal/memory"
	"fieldservice/internal/ports"
)

type fakeSource struct {
	months map[int]ports.MonthData
	fail   map[int]error
}

func (f *fakeSource) ReadMonth(_ context.Context, _ int, sortOrder int) (ports.MonthData, error) {
	if err := f.fail[sortOrder]; err != nil {
		return ports.MonthData{}, err
	}
	return f.months[sortOrder], nil
}

func imported(year, sortOrder int, name string, served bool) core.Report {
	r := core.Report{
		Identifier:          core.StableID(name, core.PeriodLabel(year, sortOrder)),
		PublisherID:         core.StableID(name),
		PublisherName:       name,
		ServiceYear:         year,
		ServiceMonth:        core.MonthToken(sortOrder),
		SortOrder:           sortOrder,
		Type:                core.TypePublisher,
		HasBeenInService:    served,
		HasNotBeenInService: !served,
	}
	if served {
		r.Studies = core.IntPtr(1)
	}
	return r
}

func withFlags(r core.Report, been, notBeen bool) core.Report {
	r.HasBeenInService, r.HasNotBeenInService = been, notBeen
	return r
}

func TestImportYear(t *testing.T) {
	ctx := context.Background()
	anna := publisher("Anna", core.StatusActive)
	store := memory.New(anna)

	src := &fakeSource{months: map[int]ports.MonthData{}}
	for i := 0; i < 6; i++ {
		src.months[i] = ports.MonthData{
			Reports:  []core.Report{imported(2022, i, "Anna", true), imported(2022, i, "Carlo", true)},
			Meetings: []core.MeetingSeries{{Midweek: []int{40, 42, 41, 39}, Weekend: []int{50, 55, 52, 51}}},
		}
	}

	svc := NewImportService(store, src, core.NewClassifier(5))
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	res, err := svc.ImportYear(ctx, 2022)
	require.NoError(t, err)
	assert.Len(t, res.Months, 6)
	assert.Len(t, res.Skipped, 6)
	assert.Equal(t, 12, res.Reports)
	assert.Equal(t, 1, res.NewPublishers)
	assert.Equal(t, 2, res.StatusChanges)

	months, err := store.ListMonths(ctx, 2022)
	require.NoError(t, err)
	require.Len(t, months, 6)
	for i, m := range months {
		assert.True(t, m.IsClosed())
		assert.Equal(t, i, m.SortOrder)
		assert.Equal(t, 2, m.Stats.ActivePublishers+m.Stats.InactivePublishers)
	}

	year, err := store.GetYear(ctx, 2022)
	require.NoError(t, err)
	assert.Len(t, year.Months, 6)

	carlo, err := store.GetPublisher(ctx, core.StableID("Carlo"))
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, carlo.Status, "six served months settle a new publisher as ACTIVE")
	assert.Len(t, carlo.Reports, 6)

	got, err := store.GetPublisher(ctx, anna.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, got.Status)

	// A second import of the same year collides with what is already there.
	_, err = svc.ImportYear(ctx, 2022)
	assert.ErrorIs(t, err, ErrImportHazard)
}

func fullYear(year int, served map[string]bool) *fakeSource {
	src := &fakeSource{months: map[int]ports.MonthData{}}
	for i := range core.MonthsPerServiceYear {
		var md ports.MonthData
		for _, name := range []string{"Anna", "Carlo"} {
			if s, ok := served[name]; ok {
				md.Reports = append(md.Reports, imported(year, i, name, s))
			}
		}
		src.months[i] = md
	}
	return src
}

func TestImportClassifiesEveryPublisher(t *testing.T) {
	ctx := context.Background()
	anna := publisher("Anna", core.StatusActive)
	store := memory.New(anna)
	classifier := core.NewClassifier(5)

	_, err := NewImportService(store, fullYear(2022, map[string]bool{"Anna": false, "Carlo": true}), classifier).ImportYear(ctx, 2022)
	require.NoError(t, err)

	got, err := store.GetPublisher(ctx, anna.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInactive, got.Status, "a directory publisher is classified by the import")
	carlo, err := store.GetPublisher(ctx, core.StableID("Carlo"))
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, carlo.Status)

	// Frozen stats follow the statuses as they move month by month.
	months, err := store.ListMonths(ctx, 2022)
	require.NoError(t, err)
	require.Len(t, months, 12)
	assert.Equal(t, 2, months[0].Stats.IrregularPublishers)
	assert.Equal(t, 1, months[1].Stats.RegularPublishers)
	assert.Equal(t, 1, months[1].Stats.InactivePublishers)

	// The next year starts from the statuses the previous one left.
	res, err := NewImportService(store, fullYear(2023, map[string]bool{"Carlo": false}), classifier).ImportYear(ctx, 2023)
	require.NoError(t, err)
	assert.Zero(t, res.NewPublishers)
	assert.Equal(t, 2, res.StatusChanges)

	carlo, err = store.GetPublisher(ctx, carlo.ID)
	require.NoError(t, err)
	assert.Len(t, carlo.Reports, 24)
	replayed, err := classifier.ReplayStatus(core.StatusInactive, carlo.Reports)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInactive, carlo.Status)
	assert.Equal(t, replayed, carlo.Status)
}

func TestImportYearAbortsOnHazard(t *testing.T) {
	tests := []struct {
		name   string
		month3 ports.MonthData
		want   error
	}{
		{
			name:   "duplicate publisher",
			month3: ports.MonthData{Reports: []core.Report{imported(2022, 3, "Anna", true), imported(2022, 3, "Anna", false)}},
			want:   core.ErrDuplicatePublisher,
		},
		{
			name:   "both flags set",
			month3: ports.MonthData{Reports: []core.Report{withFlags(imported(2022, 3, "Anna", true), true, true)}},
			want:   core.ErrInvalidReportState,
		},
		{
			name:   "pending report",
			month3: ports.MonthData{Reports: []core.Report{withFlags(imported(2022, 3, "Anna", true), false, false)}},
			want:   core.ErrInvalidReportState,
		},
		{
			name:   "wrong period",
			month3: ports.MonthData{Reports: []core.Report{imported(2022, 4, "Anna", true)}},
			want:   core.ErrPeriodMismatch,
		},
		{
			name:   "attendance groups disagree",
			month3: ports.MonthData{Meetings: []core.MeetingSeries{{Midweek: []int{10, 12, 11, 13}}, {Group: "english", Midweek: []int{2, 3}}}},
			want:   core.ErrInconsistentSeriesLength,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.New(publisher("Anna", core.StatusActive))
			src := &fakeSource{months: map[int]ports.MonthData{
				0: {Reports: []core.Report{imported(2022, 0, "Anna", true), imported(2022, 0, "Carlo", true)}},
				3: tt.month3,
			}}

			_, err := NewImportService(store, src, core.NewClassifier(5)).ImportYear(ctx, 2022)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrImportHazard)
			assert.ErrorIs(t, err, tt.want)

			var hazard *ImportHazardError
			require.True(t, errors.As(err, &hazard))
			assert.Equal(t, "2022-december", hazard.Period)

			months, err := store.ListMonths(ctx, 2022)
			require.NoError(t, err)
			assert.Empty(t, months, "nothing is written when validation fails")
			_, err = store.GetPublisher(ctx, core.StableID("Carlo"))
			assert.ErrorIs(t, err, ports.ErrNotFound)
		})
	}
}

func TestImportYearSourceFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	boom := errors.New("quota exceeded")
	src := &fakeSource{
		months: map[int]ports.MonthData{0: {Reports: []core.Report{imported(2022, 0, "Anna", true)}}},
		fail:   map[int]error{7: boom},
	}

	_, err := NewImportService(store, src, core.NewClassifier(5)).ImportYear(ctx, 2022)
	assert.ErrorIs(t, err, boom)

	pubs, err := store.ListPublishers(ctx)
	require.NoError(t, err)
	assert.Empty(t, pubs)
}
