package core

// Category is the bucket a report is counted under in monthly totals.
type Category string

const (
	CategoryPublisher       Category = "PUBLISHER"
	CategoryAuxiliary       Category = "AUXILIARY"
	CategoryPioneer         Category = "PIONEER"
	CategorySpecialPioneer  Category = "SPECIALPIONEER"
	CategoryMissionary      Category = "MISSIONARY"
	CategoryCircuitOverseer Category = "CIRCUITOVERSEER"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryPublisher,
	CategoryAuxiliary,
	CategoryPioneer,
	CategorySpecialPioneer,
	CategoryMissionary,
	CategoryCircuitOverseer,
}

type (
	// CategoryTotals sums the in-service reports of one category.
	// Hours is nil for CategoryPublisher, which does not report hours.
	CategoryTotals struct {
		Category     Category `json:"category"`
		ReportsCount int      `json:"reportsCount"`
		Studies      int      `json:"studies"`
		Hours        *int     `json:"hours,omitempty"`
	}

	// Stats describes the publisher population of one period.
	Stats struct {
		ActivePublishers    int `json:"activePublishers"`
		RegularPublishers   int `json:"regularPublishers"`
		IrregularPublishers int `json:"irregularPublishers"`
		InactivePublishers  int `json:"inactivePublishers"`
		Deaf                int `json:"deaf"`
		Blind               int `json:"blind"`
		MissingReports      int `json:"missingReports"`
	}
)

// CategoryOf buckets a report. The auxiliary flag wins over the report type.
func CategoryOf(r Report) Category {
	if r.Auxiliary {
		return CategoryAuxiliary
	}
	switch r.Type {
	case TypeAuxiliary:
		return CategoryAuxiliary
	case TypePioneer:
		return CategoryPioneer
	case TypeSpecialPioneer:
		return CategorySpecialPioneer
	case TypeMissionary:
		return CategoryMissionary
	case TypeCircuitOverseer:
		return CategoryCircuitOverseer
	default:
		return CategoryPublisher
	}
}

// Aggregate totals the reports that were in service, one entry per category
// in Categories order. The result does not depend on input order.
func Aggregate(reports []Report) []CategoryTotals {
	byCat := make(map[Category]*CategoryTotals, len(Categories))
	out := emptyTotals()
	for i := range out {
		byCat[out[i].Category] = &out[i]
	}
	for _, r := range reports {
		if !r.HasBeenInService || r.HasNotBeenInService {
			continue
		}
		t := byCat[CategoryOf(r)]
		t.ReportsCount++
		if r.Studies != nil {
			t.Studies += *r.Studies
		}
		if t.Hours != nil && r.Hours != nil {
			*t.Hours += *r.Hours
		}
	}
	return out
}

// SumTotals adds category totals element by element, e.g. to roll months up
// into a service year.
func SumTotals(sets ...[]CategoryTotals) []CategoryTotals {
	out := emptyTotals()
	idx := make(map[Category]int, len(out))
	for i, t := range out {
		idx[t.Category] = i
	}
	for _, set := range sets {
		for _, t := range set {
			i, ok := idx[t.Category]
			if !ok {
				continue
			}
			out[i].ReportsCount += t.ReportsCount
			out[i].Studies += t.Studies
			if out[i].Hours != nil && t.Hours != nil {
				*out[i].Hours += *t.Hours
			}
		}
	}
	return out
}

func emptyTotals() []CategoryTotals {
	out := make([]CategoryTotals, len(Categories))
	for i, c := range Categories {
		out[i].Category = c
		if c != CategoryPublisher {
			out[i].Hours = IntPtr(0)
		}
	}
	return out
}

// PopulationStats counts publishers by status and flags, and how many of them
// have no finalized report among reports.
//
// ActivePublishers is regular plus irregular; RegularPublishers are those
// with status ACTIVE.
func PopulationStats(publishers []Publisher, reports []Report) Stats {
	reported := make(map[string]bool, len(reports))
	for _, r := range reports {
		if r.Finalized() {
			reported[r.PublisherID] = true
		}
	}

	var s Stats
	for _, p := range publishers {
		switch p.Status {
		case StatusActive:
			s.RegularPublishers++
		case StatusIrregular:
			s.IrregularPublishers++
		case StatusInactive:
			s.InactivePublishers++
		}
		if p.Deaf {
			s.Deaf++
		}
		if p.Blind {
			s.Blind++
		}
		if !reported[p.ID] {
			s.MissingReports++
		}
	}
	s.ActivePublishers = s.RegularPublishers + s.IrregularPublishers
	return s
}
