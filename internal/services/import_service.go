package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fieldservice/internal/core"
	"fieldservice/internal/ports"
)

var ErrImportHazard = errors.New("import consistency hazard")

// ImportHazardError describes the first problem that aborted an import.
type ImportHazardError struct {
	Period string
	Reason string
	Err    error
}

func (e *ImportHazardError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Period, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Period, e.Reason)
}

func (e *ImportHazardError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrImportHazard, e.Err}
	}
	return []error{ErrImportHazard}
}

// ImportResult summarizes a finished import.
type ImportResult struct {
	ServiceYear   int      `json:"serviceYear"`
	Months        []string `json:"months"`
	Reports       int      `json:"reports"`
	NewPublishers int      `json:"newPublishers"`
	StatusChanges int      `json:"statusChanges"`
	Skipped       []string `json:"skipped,omitempty"`
}

// ImportService loads a legacy service year as closed history.
type ImportService struct {
	store      ports.Store
	source     ports.ReportSource
	classifier core.Classifier
	now        func() time.Time
}

func NewImportService(store ports.Store, source ports.ReportSource, classifier core.Classifier) *ImportService {
	return &ImportService{store: store, source: source, classifier: classifier, now: time.Now}
}

// ImportYear reads all twelve months of a service year concurrently,
// validates the whole batch and only then writes each month as a DONE
// ledger, in sortOrder. The first hazard aborts the import before anything
// is written. Months with no data are skipped.
func (s *ImportService) ImportYear(ctx context.Context, serviceYear int) (ImportResult, error) {
	data := make([]ports.MonthData, core.MonthsPerServiceYear)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < core.MonthsPerServiceYear; i++ {
		g.Go(func() error {
			md, err := s.source.ReadMonth(gctx, serviceYear, i)
			if err != nil {
				return fmt.Errorf("read %s: %w", core.PeriodLabel(serviceYear, i), err)
			}
			data[i] = md
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ImportResult{}, err
	}

	if err := s.validate(ctx, serviceYear, data); err != nil {
		return ImportResult{}, err
	}

	publishers, created, err := s.ensurePublishers(ctx, data)
	if err != nil {
		return ImportResult{}, err
	}

	year, err := s.store.GetYear(ctx, serviceYear)
	if errors.Is(err, ports.ErrNotFound) {
		year = core.NewServiceYear(serviceYear)
	} else if err != nil {
		return ImportResult{}, fmt.Errorf("get service year: %w", err)
	}

	statuses := make(map[string]core.Status, len(publishers))
	for _, p := range publishers {
		statuses[p.ID] = p.Status
	}
	histories, err := s.priorHistories(ctx, data)
	if err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{ServiceYear: serviceYear, NewPublishers: len(created)}
	for i, md := range data {
		label := core.PeriodLabel(serviceYear, i)
		if len(md.Reports) == 0 && len(md.Meetings) == 0 {
			result.Skipped = append(result.Skipped, label)
			continue
		}
		m, err := core.NewServiceMonth(uuid.NewString(), serviceYear, i)
		if err != nil {
			return result, err
		}
		for _, r := range md.Reports {
			if err := m.UpsertReport(r); err != nil {
				return result, fmt.Errorf("%s: %w", label, err)
			}
		}
		for _, series := range md.Meetings {
			if err := m.SetMeetingSeries(series); err != nil {
				return result, fmt.Errorf("%s: %w", label, err)
			}
		}
		changes, err := s.classifyMonth(md.Reports, statuses, histories)
		if err != nil {
			return result, fmt.Errorf("%s: %w", label, err)
		}
		publishers = applyChanges(publishers, changes)
		if err := m.Freeze(publishers, s.now()); err != nil {
			return result, err
		}
		if err := year.AppendMonth(core.MonthRef{ID: m.ID, SortOrder: i}); err != nil {
			return result, fmt.Errorf("%s: %w", label, err)
		}
		if err := s.store.CommitClose(ctx, ports.CloseCommit{Month: *m, Year: year.Clone(), StatusChanges: changes}); err != nil {
			return result, fmt.Errorf("write %s: %w", label, err)
		}
		for _, ch := range changes {
			statuses[ch.PublisherID] = ch.To
		}
		for _, r := range md.Reports {
			histories[r.PublisherID] = append(histories[r.PublisherID], r)
		}
		result.Months = append(result.Months, label)
		result.Reports += len(md.Reports)
		result.StatusChanges += len(changes)
	}

	slog.InfoContext(ctx, "Service year imported",
		"service_year", serviceYear,
		"months", len(result.Months),
		"reports", result.Reports,
		"new_publishers", result.NewPublishers,
		"status_changes", result.StatusChanges)
	return result, nil
}

// validate checks every month before anything is written.
func (s *ImportService) validate(ctx context.Context, serviceYear int, data []ports.MonthData) error {
	year, err := s.store.GetYear(ctx, serviceYear)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("get service year: %w", err)
	}
	last := -1
	if n := len(year.Months); n > 0 {
		last = year.Months[n-1].SortOrder
	}

	for i, md := range data {
		label := core.PeriodLabel(serviceYear, i)
		if len(md.Reports) == 0 && len(md.Meetings) == 0 {
			continue
		}
		if i <= last {
			return &ImportHazardError{Period: label, Reason: "service year already holds this or a later month"}
		}
		if _, err := s.store.FindMonth(ctx, serviceYear, i); err == nil {
			return &ImportHazardError{Period: label, Reason: "ledger already exists", Err: ports.ErrMonthExists}
		} else if !errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("find %s: %w", label, err)
		}

		seenPublisher := make(map[string]bool, len(md.Reports))
		seenID := make(map[string]bool, len(md.Reports))
		for _, r := range md.Reports {
			if r.ServiceYear != serviceYear || r.SortOrder != i {
				return &ImportHazardError{Period: label, Reason: "report " + r.Identifier + " carries another period", Err: core.ErrPeriodMismatch}
			}
			if err := r.Validate(); err != nil {
				return &ImportHazardError{Period: label, Reason: "report " + r.Identifier, Err: err}
			}
			if err := r.CheckFinalized(); err != nil {
				return &ImportHazardError{Period: label, Reason: "historic report not finalized", Err: err}
			}
			if seenPublisher[r.PublisherID] {
				return &ImportHazardError{Period: label, Reason: "two reports for " + r.PublisherName, Err: core.ErrDuplicatePublisher}
			}
			if seenID[r.Identifier] {
				return &ImportHazardError{Period: label, Reason: "duplicate identifier " + r.Identifier}
			}
			seenPublisher[r.PublisherID] = true
			seenID[r.Identifier] = true
		}
		for _, series := range md.Meetings {
			if err := series.Validate(); err != nil {
				return &ImportHazardError{Period: label, Reason: "attendance", Err: err}
			}
		}
		if _, err := core.Merge(md.Meetings); err != nil {
			return &ImportHazardError{Period: label, Reason: "attendance", Err: err}
		}
	}
	return nil
}

// ensurePublishers registers publishers seen in the import but missing from
// the directory. It returns the full population and the ids it created.
func (s *ImportService) ensurePublishers(ctx context.Context, data []ports.MonthData) ([]core.Publisher, []string, error) {
	existing, err := s.store.ListPublishers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list publishers: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, p := range existing {
		known[p.ID] = true
	}

	var created []string
	for _, md := range data {
		for _, r := range md.Reports {
			if known[r.PublisherID] {
				continue
			}
			p := core.Publisher{
				ID:     r.PublisherID,
				Name:   r.PublisherName,
				Status: core.StatusInactive,
				Type:   r.Type,
			}
			if p.Name == "" {
				p.Name = r.PublisherID
			}
			if r.Auxiliary || r.Type == core.TypeAuxiliary {
				p.Type = core.TypePublisher
			}
			if err := s.store.SavePublisher(ctx, p); err != nil {
				return nil, nil, fmt.Errorf("register publisher %s: %w", p.Name, err)
			}
			known[p.ID] = true
			created = append(created, p.ID)
			existing = append(existing, p)
		}
	}
	return existing, created, nil
}

// priorHistories loads the closed history of every publisher in the batch.
func (s *ImportService) priorHistories(ctx context.Context, data []ports.MonthData) (map[string][]core.Report, error) {
	out := make(map[string][]core.Report)
	for _, md := range data {
		for _, r := range md.Reports {
			if _, ok := out[r.PublisherID]; ok {
				continue
			}
			history, err := s.store.ReportHistory(ctx, r.PublisherID)
			if err != nil {
				return nil, fmt.Errorf("report history of %s: %w", r.PublisherName, err)
			}
			out[r.PublisherID] = history
		}
	}
	return out, nil
}

// classifyMonth runs the classifier over one imported month exactly as a
// close would, against the statuses left by the previous month.
func (s *ImportService) classifyMonth(reports []core.Report, statuses map[string]core.Status, histories map[string][]core.Report) ([]ports.StatusChange, error) {
	var changes []ports.StatusChange
	for _, r := range reports {
		from := statuses[r.PublisherID]
		to, err := s.classifier.NextStatus(from, r, core.TrailingWindow(histories[r.PublisherID], r, s.classifier.Window))
		if err != nil {
			return nil, fmt.Errorf("classify %s: %w", r.PublisherName, err)
		}
		if to != from {
			changes = append(changes, ports.StatusChange{PublisherID: r.PublisherID, From: from, To: to})
		}
	}
	return changes, nil
}
