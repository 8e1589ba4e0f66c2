package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldservice/internal/cache"
	"fieldservice/internal/core"
	"fieldservice/internal/ports"
)

var (
	ErrActiveLedgerExists = errors.New("another service month is still active")
	ErrUnknownPublisher   = errors.New("unknown publisher")
)

// LedgerServiceConfig tunes classification and the overview cache.
type LedgerServiceConfig struct {
	StatusWindow      int
	OverviewCacheSize int
}

func DefaultLedgerServiceConfig() LedgerServiceConfig {
	return LedgerServiceConfig{
		StatusWindow:      core.DefaultStatusWindow,
		OverviewCacheSize: 64,
	}
}

// LedgerService is the single writer for period ledgers. Every mutation,
// including the close, runs under one mutex so no upsert can observe a
// ledger halfway through closing.
type LedgerService struct {
	mu         sync.Mutex
	store      ports.LedgerStore
	directory  ports.PublisherDirectory
	events     ports.EventPublisher
	classifier core.Classifier
	overviews  cache.Cache[core.MonthOverview]
	now        func() time.Time
}

// NewLedgerService wires the service. events may be nil.
func NewLedgerService(store ports.LedgerStore, directory ports.PublisherDirectory, events ports.EventPublisher, config LedgerServiceConfig) *LedgerService {
	if config.OverviewCacheSize <= 0 {
		config.OverviewCacheSize = DefaultLedgerServiceConfig().OverviewCacheSize
	}
	return &LedgerService{
		store:      store,
		directory:  directory,
		events:     events,
		classifier: core.NewClassifier(config.StatusWindow),
		// Closed ledgers never change, so overviews need no TTL.
		overviews: cache.NewLRUCache[core.MonthOverview](config.OverviewCacheSize, 0),
		now:       time.Now,
	}
}

// Classifier returns the status classifier in use.
func (s *LedgerService) Classifier() core.Classifier {
	return s.classifier
}

// CacheStats reports the overview cache counters.
func (s *LedgerService) CacheStats() cache.Stats {
	return s.overviews.Stats()
}

// OpenMonth creates the ACTIVE ledger for a period and seeds one pending
// report per known publisher. Only one ledger may be ACTIVE at a time.
func (s *LedgerService) OpenMonth(ctx context.Context, serviceYear, sortOrder int) (core.ServiceMonth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if active, ok, err := s.store.ActiveMonth(ctx); err != nil {
		return core.ServiceMonth{}, fmt.Errorf("check active month: %w", err)
	} else if ok {
		if active.ServiceYear == serviceYear && active.SortOrder == sortOrder {
			return core.ServiceMonth{}, fmt.Errorf("%s: %w", active.Label(), ports.ErrMonthExists)
		}
		return core.ServiceMonth{}, fmt.Errorf("%s is open: %w", active.Label(), ErrActiveLedgerExists)
	}

	m, err := core.NewServiceMonth(uuid.NewString(), serviceYear, sortOrder)
	if err != nil {
		return core.ServiceMonth{}, err
	}

	publishers, err := s.directory.ListPublishers(ctx)
	if err != nil {
		return core.ServiceMonth{}, fmt.Errorf("list publishers: %w", err)
	}
	for _, p := range publishers {
		r := s.pendingReport(*m, p)
		if err := m.UpsertReport(r); err != nil {
			return core.ServiceMonth{}, fmt.Errorf("seed report for %s: %w", p.ID, err)
		}
	}

	if err := s.store.CreateMonth(ctx, *m); err != nil {
		return core.ServiceMonth{}, fmt.Errorf("create month: %w", err)
	}

	slog.InfoContext(ctx, "Service month opened",
		"month_id", m.ID,
		"period", m.Label(),
		"seeded_reports", len(m.Reports))
	return *m, nil
}

func (s *LedgerService) pendingReport(m core.ServiceMonth, p core.Publisher) core.Report {
	return core.Report{
		Identifier:      uuid.NewString(),
		PublisherID:     p.ID,
		PublisherName:   p.Name,
		PublisherStatus: p.Status,
		ServiceYear:     m.ServiceYear,
		ServiceMonth:    m.Month,
		SortOrder:       m.SortOrder,
		Type:            p.DefaultType(),
	}
}

// GetMonth returns a ledger by id.
func (s *LedgerService) GetMonth(ctx context.Context, monthID string) (core.ServiceMonth, error) {
	return s.store.GetMonth(ctx, monthID)
}

// ActiveMonth returns the ledger currently accepting reports.
func (s *LedgerService) ActiveMonth(ctx context.Context) (core.ServiceMonth, bool, error) {
	return s.store.ActiveMonth(ctx)
}

// UpsertReport inserts or replaces a report in an ACTIVE ledger. Missing
// identity fields are filled from the ledger and the publisher directory.
func (s *LedgerService) UpsertReport(ctx context.Context, monthID string, r core.Report) (core.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store.GetMonth(ctx, monthID)
	if err != nil {
		return core.Report{}, err
	}
	if m.IsClosed() {
		return core.Report{}, fmt.Errorf("upsert report into %s: %w", m.Label(), core.ErrLedgerClosed)
	}

	if strings.TrimSpace(r.Identifier) == "" {
		if existing, ok := reportOf(m, r.PublisherID); ok {
			r.Identifier = existing.Identifier
		} else {
			r.Identifier = uuid.NewString()
		}
	}
	if r.ServiceMonth == "" && r.ServiceYear == 0 && r.SortOrder == 0 {
		r.ServiceYear, r.SortOrder, r.ServiceMonth = m.ServiceYear, m.SortOrder, m.Month
	}
	p, err := s.directory.GetPublisher(ctx, r.PublisherID)
	if errors.Is(err, ports.ErrNotFound) {
		return core.Report{}, fmt.Errorf("%w: %s", ErrUnknownPublisher, r.PublisherID)
	} else if err != nil {
		return core.Report{}, fmt.Errorf("get publisher: %w", err)
	}
	if r.PublisherName == "" {
		r.PublisherName = p.Name
	}
	if r.PublisherStatus == "" {
		r.PublisherStatus = p.Status
	}
	if r.Type == "" {
		r.Type = p.DefaultType()
	}

	if err := m.UpsertReport(r); err != nil {
		return core.Report{}, err
	}
	if err := s.store.UpsertReport(ctx, m.ID, r); err != nil {
		return core.Report{}, fmt.Errorf("save report: %w", err)
	}

	slog.DebugContext(ctx, "Report upserted",
		"month_id", m.ID,
		"report_id", r.Identifier,
		"publisher_id", r.PublisherID)

	if s.events != nil {
		if err := s.events.PublishReportUpserted(ctx, m.ID, r); err != nil {
			// The report is stored; the event is best effort.
			slog.ErrorContext(ctx, "Failed to publish report event", "report_id", r.Identifier, "error", err)
		}
	}
	return r, nil
}

func reportOf(m core.ServiceMonth, publisherID string) (core.Report, bool) {
	for _, r := range m.Reports {
		if r.PublisherID == publisherID {
			return r, true
		}
	}
	return core.Report{}, false
}

// SetMeetingSeries replaces one group's attendance in an ACTIVE ledger.
func (s *LedgerService) SetMeetingSeries(ctx context.Context, monthID string, series core.MeetingSeries) error {
	return s.editMeetings(ctx, monthID, func(m *core.ServiceMonth) error {
		return m.SetMeetingSeries(series)
	})
}

// SetMeetingCell edits one attendance figure in an ACTIVE ledger.
func (s *LedgerService) SetMeetingCell(ctx context.Context, monthID, group string, kind core.MeetingKind, index, value int) error {
	return s.editMeetings(ctx, monthID, func(m *core.ServiceMonth) error {
		return m.SetMeetingCell(group, kind, index, value)
	})
}

func (s *LedgerService) editMeetings(ctx context.Context, monthID string, edit func(*core.ServiceMonth) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store.GetMonth(ctx, monthID)
	if err != nil {
		return err
	}
	if err := edit(&m); err != nil {
		return err
	}
	if err := s.store.SaveMeetings(ctx, m.ID, m.Meetings); err != nil {
		return fmt.Errorf("save meetings: %w", err)
	}
	return nil
}

// Preview recomputes the overview of any ledger from its current contents.
func (s *LedgerService) Preview(ctx context.Context, monthID string) (core.MonthOverview, error) {
	m, err := s.store.GetMonth(ctx, monthID)
	if err != nil {
		return core.MonthOverview{}, err
	}
	publishers, err := s.directory.ListPublishers(ctx)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("list publishers: %w", err)
	}
	return m.Preview(publishers)
}

// Overview returns the frozen overview of a DONE ledger, or a preview for an
// ACTIVE one.
func (s *LedgerService) Overview(ctx context.Context, monthID string) (core.MonthOverview, error) {
	if o, ok := s.overviews.Get(monthID); ok {
		return o, nil
	}
	m, err := s.store.GetMonth(ctx, monthID)
	if err != nil {
		return core.MonthOverview{}, err
	}
	if !m.IsClosed() {
		return s.Preview(ctx, monthID)
	}
	o, err := m.Overview()
	if err != nil {
		return core.MonthOverview{}, err
	}
	s.overviews.Set(monthID, o)
	return o, nil
}

// CloseMonth classifies every publisher who turned in a report, freezes
// stats and totals, appends the month to its service year and commits all of
// it in one store transaction. Closing a DONE ledger returns
// core.AlreadyClosedError and changes nothing.
func (s *LedgerService) CloseMonth(ctx context.Context, monthID string) (core.MonthOverview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store.GetMonth(ctx, monthID)
	if err != nil {
		return core.MonthOverview{}, err
	}
	if m.IsClosed() {
		e := &core.AlreadyClosedError{MonthID: m.ID}
		if m.ClosedAt != nil {
			e.ClosedAt = *m.ClosedAt
		}
		return core.MonthOverview{}, e
	}

	publishers, err := s.directory.ListPublishers(ctx)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("list publishers: %w", err)
	}
	changes, err := s.classify(ctx, m, publishers)
	if err != nil {
		return core.MonthOverview{}, err
	}

	// Stats describe the population as of the end of the period.
	updated := applyChanges(publishers, changes)
	if err := m.Freeze(updated, s.now()); err != nil {
		return core.MonthOverview{}, err
	}

	year, err := s.store.GetYear(ctx, m.ServiceYear)
	if errors.Is(err, ports.ErrNotFound) {
		year = core.NewServiceYear(m.ServiceYear)
	} else if err != nil {
		return core.MonthOverview{}, fmt.Errorf("get service year: %w", err)
	}
	if err := year.AppendMonth(core.MonthRef{ID: m.ID, SortOrder: m.SortOrder}); err != nil {
		return core.MonthOverview{}, fmt.Errorf("append %s to service year %d: %w", m.Month, year.Name, err)
	}

	if err := s.store.CommitClose(ctx, ports.CloseCommit{Month: m, Year: year, StatusChanges: changes}); err != nil {
		return core.MonthOverview{}, fmt.Errorf("commit close: %w", err)
	}

	overview, err := m.Overview()
	if err != nil {
		return core.MonthOverview{}, err
	}
	s.overviews.Set(m.ID, overview)

	slog.InfoContext(ctx, "Service month closed",
		"month_id", m.ID,
		"period", m.Label(),
		"status_changes", len(changes),
		"missing_reports", overview.Stats.MissingReports)

	if s.events != nil {
		if err := s.events.PublishMonthClosed(ctx, m); err != nil {
			slog.ErrorContext(ctx, "Failed to publish month closed event", "month_id", m.ID, "error", err)
		}
	}
	return overview, nil
}

// classify runs the status classifier for every finalized report in m.
// Pending reports and publishers no longer in the directory keep their status.
func (s *LedgerService) classify(ctx context.Context, m core.ServiceMonth, publishers []core.Publisher) ([]ports.StatusChange, error) {
	byID := make(map[string]core.Publisher, len(publishers))
	for _, p := range publishers {
		byID[p.ID] = p
	}

	var changes []ports.StatusChange
	pending := 0
	for _, r := range m.Reports {
		if r.Pending() {
			pending++
			continue
		}
		p, ok := byID[r.PublisherID]
		if !ok {
			slog.WarnContext(ctx, "Report for unknown publisher skipped by classifier",
				"month_id", m.ID, "publisher_id", r.PublisherID)
			continue
		}
		history, err := s.directory.ReportHistory(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("report history of %s: %w", p.ID, err)
		}
		next, err := s.classifier.NextStatus(p.Status, r, core.TrailingWindow(history, r, s.classifier.Window))
		if err != nil {
			return nil, fmt.Errorf("classify %s: %w", p.ID, err)
		}
		if next != p.Status {
			changes = append(changes, ports.StatusChange{PublisherID: p.ID, From: p.Status, To: next})
		}
	}
	if pending > 0 {
		slog.InfoContext(ctx, "Closing with pending reports", "month_id", m.ID, "pending", pending)
	}
	return changes, nil
}

func applyChanges(publishers []core.Publisher, changes []ports.StatusChange) []core.Publisher {
	to := make(map[string]core.Status, len(changes))
	for _, c := range changes {
		to[c.PublisherID] = c.To
	}
	out := make([]core.Publisher, len(publishers))
	for i, p := range publishers {
		if st, ok := to[p.ID]; ok {
			p.Status = st
		}
		out[i] = p
	}
	return out
}

// YearReport summarizes a service year from its closed months.
func (s *LedgerService) YearReport(ctx context.Context, serviceYear int) (core.YearReport, error) {
	year, err := s.store.GetYear(ctx, serviceYear)
	if errors.Is(err, ports.ErrNotFound) {
		year = core.NewServiceYear(serviceYear)
	} else if err != nil {
		return core.YearReport{}, fmt.Errorf("get service year: %w", err)
	}
	months, err := s.store.ListMonths(ctx, serviceYear)
	if err != nil {
		return core.YearReport{}, fmt.Errorf("list months: %w", err)
	}
	return core.BuildYearReport(year, months)
}

// AddYearEvent records a congregation event (baptism, move, removal) in the
// history of a service year. The year is created when it holds no month yet.
func (s *LedgerService) AddYearEvent(ctx context.Context, serviceYear int, e core.HistoryEvent) (core.ServiceYear, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.PublisherID != "" {
		if _, err := s.directory.GetPublisher(ctx, e.PublisherID); errors.Is(err, ports.ErrNotFound) {
			return core.ServiceYear{}, fmt.Errorf("%w: %s", ErrUnknownPublisher, e.PublisherID)
		} else if err != nil {
			return core.ServiceYear{}, fmt.Errorf("get publisher: %w", err)
		}
	}

	year, err := s.store.GetYear(ctx, serviceYear)
	if errors.Is(err, ports.ErrNotFound) {
		year = core.NewServiceYear(serviceYear)
	} else if err != nil {
		return core.ServiceYear{}, fmt.Errorf("get service year: %w", err)
	}
	if err := year.AddHistory(e); err != nil {
		return core.ServiceYear{}, err
	}
	if err := s.store.SaveYear(ctx, year); err != nil {
		return core.ServiceYear{}, fmt.Errorf("save service year: %w", err)
	}

	slog.InfoContext(ctx, "Service year event recorded",
		"service_year", serviceYear,
		"event", e.Type,
		"publisher_id", e.PublisherID)
	return year, nil
}

// RegisterPublisher adds or updates a publisher in the directory.
func (s *LedgerService) RegisterPublisher(ctx context.Context, p core.Publisher) (core.Publisher, error) {
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = core.StatusActive
	}
	if p.Type == "" {
		p.Type = core.TypePublisher
	}
	if err := s.directory.SavePublisher(ctx, p); err != nil {
		return core.Publisher{}, err
	}
	return p, nil
}

// ListPublishers returns the directory contents.
func (s *LedgerService) ListPublishers(ctx context.Context) ([]core.Publisher, error) {
	return s.directory.ListPublishers(ctx)
}
