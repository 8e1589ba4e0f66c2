// Package memory is an in-process ledger store for development and tests.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"fieldservice/internal/core"
	"fieldservice/internal/ports"
)

type Store struct {
	mu         sync.Mutex
	publishers map[string]core.Publisher
	order      []string
	months     map[string]core.ServiceMonth
	years      map[int]core.ServiceYear
}

var _ ports.Store = (*Store)(nil)

func New(publishers ...core.Publisher) *Store {
	s := &Store{
		publishers: make(map[string]core.Publisher),
		months:     make(map[string]core.ServiceMonth),
		years:      make(map[int]core.ServiceYear),
	}
	for _, p := range publishers {
		s.putPublisher(p)
	}
	return s
}

// NewFromFiles seeds publishers from base/seed_publishers.txt. Each line is
// "Name" or "Name|STATUS|TYPE"; lines starting with # are ignored.
func NewFromFiles(base string) *Store {
	var pubs []core.Publisher
	for _, line := range readLines(filepath.Join(base, "seed_publishers.txt")) {
		p, ok := parseSeedLine(line)
		if ok {
			pubs = append(pubs, p)
		}
	}
	return New(pubs...)
}

func parseSeedLine(line string) (core.Publisher, bool) {
	parts := strings.Split(line, "|")
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return core.Publisher{}, false
	}
	p := core.Publisher{ID: core.StableID(name), Name: name, Status: core.StatusActive, Type: core.TypePublisher}
	if len(parts) > 1 {
		if st := core.Status(strings.ToUpper(strings.TrimSpace(parts[1]))); st.Valid() {
			p.Status = st
		}
	}
	if len(parts) > 2 {
		if t := core.ReportType(strings.ToUpper(strings.TrimSpace(parts[2]))); t.Valid() {
			p.Type = t
		}
	}
	return p, true
}

func (s *Store) putPublisher(p core.Publisher) {
	if _, ok := s.publishers[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	p.Reports = nil
	s.publishers[p.ID] = p
}

func (s *Store) ListPublishers(_ context.Context) ([]core.Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Publisher, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.publishers[id])
	}
	return out, nil
}

func (s *Store) GetPublisher(_ context.Context, id string) (core.Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.publishers[id]
	if !ok {
		return core.Publisher{}, fmt.Errorf("publisher %s: %w", id, ports.ErrNotFound)
	}
	p.Reports = s.historyLocked(id)
	return p, nil
}

func (s *Store) SavePublisher(_ context.Context, p core.Publisher) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Stored events are kept; only the ones past them are appended.
	if existing, ok := s.publishers[p.ID]; ok {
		p.History = append(slices.Clone(existing.History), p.History[min(len(existing.History), len(p.History)):]...)
	}
	s.putPublisher(p)
	return nil
}

func (s *Store) ReportHistory(_ context.Context, publisherID string) ([]core.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked(publisherID), nil
}

func (s *Store) historyLocked(publisherID string) []core.Report {
	var out []core.Report
	for _, m := range s.months {
		if !m.IsClosed() {
			continue
		}
		for _, r := range m.Reports {
			if r.PublisherID == publisherID {
				out = append(out, r)
			}
		}
	}
	slices.SortFunc(out, func(a, b core.Report) int {
		if a.Before(b) {
			return -1
		}
		if b.Before(a) {
			return 1
		}
		return 0
	})
	return out
}

func (s *Store) CreateMonth(_ context.Context, m core.ServiceMonth) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.months[m.ID]; ok {
		return fmt.Errorf("month %s: %w", m.ID, ports.ErrMonthExists)
	}
	if _, ok := s.findLocked(m.ServiceYear, m.SortOrder); ok {
		return fmt.Errorf("%s: %w", m.Label(), ports.ErrMonthExists)
	}
	s.months[m.ID] = m.Clone()
	return nil
}

func (s *Store) GetMonth(_ context.Context, id string) (core.ServiceMonth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.months[id]
	if !ok {
		return core.ServiceMonth{}, fmt.Errorf("month %s: %w", id, ports.ErrNotFound)
	}
	return m.Clone(), nil
}

func (s *Store) FindMonth(_ context.Context, serviceYear, sortOrder int) (core.ServiceMonth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.findLocked(serviceYear, sortOrder)
	if !ok {
		return core.ServiceMonth{}, fmt.Errorf("%s: %w", core.PeriodLabel(serviceYear, sortOrder), ports.ErrNotFound)
	}
	return m.Clone(), nil
}

func (s *Store) findLocked(serviceYear, sortOrder int) (core.ServiceMonth, bool) {
	for _, m := range s.months {
		if m.ServiceYear == serviceYear && m.SortOrder == sortOrder {
			return m, true
		}
	}
	return core.ServiceMonth{}, false
}

func (s *Store) ActiveMonth(_ context.Context) (core.ServiceMonth, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.months {
		if !m.IsClosed() {
			return m.Clone(), true, nil
		}
	}
	return core.ServiceMonth{}, false, nil
}

func (s *Store) ListMonths(_ context.Context, serviceYear int) ([]core.ServiceMonth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ServiceMonth
	for _, m := range s.months {
		if m.ServiceYear == serviceYear {
			out = append(out, m.Clone())
		}
	}
	slices.SortFunc(out, func(a, b core.ServiceMonth) int { return a.SortOrder - b.SortOrder })
	return out, nil
}

func (s *Store) UpsertReport(_ context.Context, monthID string, r core.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.months[monthID]
	if !ok {
		return fmt.Errorf("month %s: %w", monthID, ports.ErrNotFound)
	}
	m = m.Clone()
	if err := m.UpsertReport(r); err != nil {
		return err
	}
	s.months[monthID] = m
	return nil
}

func (s *Store) SaveMeetings(_ context.Context, monthID string, series []core.MeetingSeries) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.months[monthID]
	if !ok {
		return fmt.Errorf("month %s: %w", monthID, ports.ErrNotFound)
	}
	if m.IsClosed() {
		return fmt.Errorf("save meetings of %s: %w", m.Label(), core.ErrLedgerClosed)
	}
	m = m.Clone()
	m.Meetings = make([]core.MeetingSeries, len(series))
	for i, sr := range series {
		m.Meetings[i] = sr.Clone()
	}
	s.months[monthID] = m
	return nil
}

func (s *Store) GetYear(_ context.Context, name int) (core.ServiceYear, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	y, ok := s.years[name]
	if !ok {
		return core.ServiceYear{}, fmt.Errorf("service year %d: %w", name, ports.ErrNotFound)
	}
	return y.Clone(), nil
}

func (s *Store) SaveYear(_ context.Context, y core.ServiceYear) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.years[y.Name] = y.Clone()
	return nil
}

// CommitClose applies the whole close under one lock after checking every
// precondition, so a failure leaves nothing half written.
func (s *Store) CommitClose(_ context.Context, c ports.CloseCommit) error {
	if !c.Month.IsClosed() {
		return fmt.Errorf("commit close of %s: ledger not frozen", c.Month.Label())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.months[c.Month.ID]; ok && existing.IsClosed() {
		return &core.AlreadyClosedError{MonthID: existing.ID, ClosedAt: closedAt(existing)}
	}
	if other, ok := s.findLocked(c.Month.ServiceYear, c.Month.SortOrder); ok && other.ID != c.Month.ID {
		return fmt.Errorf("%s: %w", c.Month.Label(), ports.ErrMonthExists)
	}
	for _, ch := range c.StatusChanges {
		if _, ok := s.publishers[ch.PublisherID]; !ok {
			return fmt.Errorf("publisher %s: %w", ch.PublisherID, ports.ErrNotFound)
		}
	}

	s.months[c.Month.ID] = c.Month.Clone()
	s.years[c.Year.Name] = c.Year.Clone()
	for _, ch := range c.StatusChanges {
		p := s.publishers[ch.PublisherID]
		p.Status = ch.To
		s.publishers[ch.PublisherID] = p
	}
	return nil
}

func closedAt(m core.ServiceMonth) time.Time {
	if m.ClosedAt == nil {
		return time.Time{}
	}
	return *m.ClosedAt
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
