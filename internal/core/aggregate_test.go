package core

import (
	"math/rand"
	"testing"
)

func withHours(r Report, hours, studies int) Report {
	r.Hours = IntPtr(hours)
	r.Studies = IntPtr(studies)
	return r
}

func TestCategoryOf(t *testing.T) {
	aux := report("a", "p1", 2024, 0)
	aux.Type = TypePublisher
	aux.Auxiliary = true

	pioneerAux := report("b", "p2", 2024, 0)
	pioneerAux.Type = TypePioneer
	pioneerAux.Auxiliary = true

	typedAux := report("c", "p3", 2024, 0)
	typedAux.Type = TypeAuxiliary

	missionary := report("d", "p4", 2024, 0)
	missionary.Type = TypeMissionary

	cases := []struct {
		r    Report
		want Category
	}{
		{report("e", "p5", 2024, 0), CategoryPublisher},
		{aux, CategoryAuxiliary},
		{pioneerAux, CategoryAuxiliary},
		{typedAux, CategoryAuxiliary},
		{missionary, CategoryMissionary},
	}
	for _, tc := range cases {
		if got := CategoryOf(tc.r); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.r.Identifier, got, tc.want)
		}
	}
}

func TestAggregateAuxiliaryScenario(t *testing.T) {
	aux := withHours(served(report("a", "p1", 2024, 0)), 30, 2)
	aux.Auxiliary = true

	totals := Aggregate([]Report{aux})
	if len(totals) != len(Categories) {
		t.Fatalf("expected one entry per category, got %d", len(totals))
	}
	for _, tot := range totals {
		switch tot.Category {
		case CategoryAuxiliary:
			if tot.ReportsCount != 1 || *tot.Hours != 30 || tot.Studies != 2 {
				t.Errorf("auxiliary totals: %+v", tot)
			}
		case CategoryPublisher:
			if tot.ReportsCount != 0 {
				t.Errorf("publisher totals: %+v", tot)
			}
			if tot.Hours != nil {
				t.Errorf("publisher category must not carry hours")
			}
		default:
			if tot.ReportsCount != 0 {
				t.Errorf("%s should be empty: %+v", tot.Category, tot)
			}
		}
	}
}

func TestAggregateSkipsNotInService(t *testing.T) {
	reports := []Report{
		withHours(served(report("a", "p1", 2024, 0)), 0, 1),
		notServed(report("b", "p2", 2024, 0)),
		report("c", "p3", 2024, 0),
	}
	totals := Aggregate(reports)
	pub := totals[0]
	if pub.Category != CategoryPublisher || pub.ReportsCount != 1 || pub.Studies != 1 {
		t.Fatalf("unexpected publisher totals %+v", pub)
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	var reports []Report
	types := []ReportType{TypePublisher, TypePioneer, TypeSpecialPioneer, TypeMissionary, TypeCircuitOverseer}
	for i := 0; i < 40; i++ {
		r := withHours(served(report(string(rune('a'+i)), string(rune('A'+i)), 2024, 2)), i, i%3)
		r.Type = types[i%len(types)]
		r.Auxiliary = i%7 == 0
		reports = append(reports, r)
	}
	want := Aggregate(reports)

	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 10; run++ {
		shuffled := append([]Report(nil), reports...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := Aggregate(shuffled)
		for i := range want {
			if got[i].Category != want[i].Category || got[i].ReportsCount != want[i].ReportsCount || got[i].Studies != want[i].Studies {
				t.Fatalf("run %d: %+v != %+v", run, got[i], want[i])
			}
			if (got[i].Hours == nil) != (want[i].Hours == nil) || (got[i].Hours != nil && *got[i].Hours != *want[i].Hours) {
				t.Fatalf("run %d: hours differ for %s", run, got[i].Category)
			}
		}
	}
}

func TestSumTotals(t *testing.T) {
	a := Aggregate([]Report{withHours(served(func() Report { r := report("a", "p1", 2024, 0); r.Type = TypePioneer; return r }()), 50, 3)})
	b := Aggregate([]Report{withHours(served(func() Report { r := report("b", "p1", 2024, 1); r.Type = TypePioneer; return r }()), 40, 1)})
	sum := SumTotals(a, b)
	for _, tot := range sum {
		if tot.Category == CategoryPioneer {
			if tot.ReportsCount != 2 || *tot.Hours != 90 || tot.Studies != 4 {
				t.Fatalf("pioneer sum: %+v", tot)
			}
		}
	}
	if *a[2].Hours != 50 {
		t.Fatalf("inputs must not be modified")
	}
}

func TestPopulationStats(t *testing.T) {
	pubs := []Publisher{
		{ID: "p1", Status: StatusActive, Deaf: true},
		{ID: "p2", Status: StatusActive},
		{ID: "p3", Status: StatusIrregular, Blind: true},
		{ID: "p4", Status: StatusInactive},
	}
	reports := []Report{
		served(report("a", "p1", 2024, 0)),
		notServed(report("b", "p3", 2024, 0)),
		report("c", "p2", 2024, 0),
	}
	s := PopulationStats(pubs, reports)
	want := Stats{
		ActivePublishers:    3,
		RegularPublishers:   2,
		IrregularPublishers: 1,
		InactivePublishers:  1,
		Deaf:                1,
		Blind:               1,
		MissingReports:      2,
	}
	if s != want {
		t.Fatalf("got %+v, want %+v", s, want)
	}
}
