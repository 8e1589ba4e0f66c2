package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldservice/internal/core"
)

func TestDuePeriod(t *testing.T) {
	tests := []struct {
		now       time.Time
		year      int
		sortOrder int
	}{
		{time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC), 2024, 0},
		{time.Date(2024, 10, 31, 23, 0, 0, 0, time.UTC), 2024, 0},
		{time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), 2024, 3},
		{time.Date(2024, 9, 10, 0, 0, 0, 0, time.UTC), 2023, 11},
		{time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), 2024, 5},
	}

	for _, tt := range tests {
		year, so := DuePeriod(tt.now)
		if year != tt.year || so != tt.sortOrder {
			t.Errorf("DuePeriod(%s) = (%d, %d), want (%d, %d)",
				tt.now.Format("2006-01-02"), year, so, tt.year, tt.sortOrder)
		}
	}
}

func TestOpenDuePeriod(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t, publisher("Anna", core.StatusActive))
	p := NewPeriodProcessor(svc, store, PeriodProcessorConfig{})

	october := time.Date(2024, 10, 5, 0, 0, 0, 0, time.UTC)
	opened, err := p.OpenDuePeriod(ctx, october)
	require.NoError(t, err)
	assert.True(t, opened)

	opened, err = p.OpenDuePeriod(ctx, october)
	require.NoError(t, err)
	assert.False(t, opened, "period already has a ledger")

	november := october.AddDate(0, 1, 0)
	opened, err = p.OpenDuePeriod(ctx, november)
	require.NoError(t, err)
	assert.False(t, opened, "september is still open")

	sept, err := store.FindMonth(ctx, 2024, 0)
	require.NoError(t, err)
	_, err = svc.CloseMonth(ctx, sept.ID)
	require.NoError(t, err)

	opened, err = p.OpenDuePeriod(ctx, november)
	require.NoError(t, err)
	assert.True(t, opened)

	active, ok, err := store.ActiveMonth(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "october", active.Month)
}

func TestPeriodProcessorStartStop(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)
	p := NewPeriodProcessor(svc, store, PeriodProcessorConfig{CheckInterval: time.Hour})
	p.now = func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, p.Start(ctx))
	assert.True(t, p.IsRunning())
	assert.Error(t, p.Start(ctx))

	assert.Eventually(t, func() bool {
		_, err := store.FindMonth(ctx, 2024, 4)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, p.Stop(stopCtx))
	assert.False(t, p.IsRunning())
}
