package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fieldservice/internal/core"
	"fieldservice/internal/ports"
)

// PeriodProcessorConfig holds configuration for the period processor
type PeriodProcessorConfig struct {
	// CheckInterval is how often to look for a due period (default: 1h)
	CheckInterval time.Duration
}

func DefaultPeriodProcessorConfig() PeriodProcessorConfig {
	return PeriodProcessorConfig{CheckInterval: time.Hour}
}

// PeriodProcessor opens the ledger of the period whose reports are due.
// Reports for a month are collected during the following month, so on any
// day in October the due period is September.
type PeriodProcessor struct {
	ledger *LedgerService
	store  ports.LedgerStore
	config PeriodProcessorConfig
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewPeriodProcessor(ledger *LedgerService, store ports.LedgerStore, config PeriodProcessorConfig) *PeriodProcessor {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultPeriodProcessorConfig().CheckInterval
	}
	return &PeriodProcessor{ledger: ledger, store: store, config: config, now: time.Now}
}

// DuePeriod returns the service period whose reports are collected at now.
func DuePeriod(now time.Time) (serviceYear, sortOrder int) {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return core.PeriodOf(firstOfMonth.AddDate(0, -1, 0))
}

// OpenDuePeriod opens the due period's ledger unless it already exists or
// another ledger is still ACTIVE. It reports whether a ledger was opened.
func (p *PeriodProcessor) OpenDuePeriod(ctx context.Context, now time.Time) (bool, error) {
	if p.ledger == nil || p.store == nil {
		return false, fmt.Errorf("processor not properly initialized")
	}
	year, sortOrder := DuePeriod(now)
	label := core.PeriodLabel(year, sortOrder)

	if _, err := p.store.FindMonth(ctx, year, sortOrder); err == nil {
		return false, nil
	} else if !errors.Is(err, ports.ErrNotFound) {
		return false, fmt.Errorf("find %s: %w", label, err)
	}

	if active, ok, err := p.store.ActiveMonth(ctx); err != nil {
		return false, fmt.Errorf("check active month: %w", err)
	} else if ok {
		slog.InfoContext(ctx, "Due period waits for the active ledger to close",
			"due", label,
			"active", active.Label())
		return false, nil
	}

	m, err := p.ledger.OpenMonth(ctx, year, sortOrder)
	if errors.Is(err, ErrActiveLedgerExists) || errors.Is(err, ports.ErrMonthExists) {
		// Someone else opened a ledger between our checks.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open %s: %w", label, err)
	}

	slog.InfoContext(ctx, "Due period opened", "month_id", m.ID, "period", label)
	return true, nil
}

// Start begins the check loop. Returns an error if already running.
func (p *PeriodProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("period processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Period processor started", "check_interval", p.config.CheckInterval)
	return nil
}

// Stop signals the loop and waits for it to finish or ctx to expire.
func (p *PeriodProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Period processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Period processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *PeriodProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PeriodProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.CheckInterval)
	defer ticker.Stop()

	p.check(ctx)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *PeriodProcessor) check(ctx context.Context) {
	if _, err := p.OpenDuePeriod(ctx, p.now()); err != nil {
		slog.ErrorContext(ctx, "Failed to open due period", "error", err)
	}
}
