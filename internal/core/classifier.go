package core

import (
	"fmt"
	"slices"
)

// DefaultStatusWindow is how many prior months the classifier inspects
// before promoting or demoting an IRREGULAR publisher.
const DefaultStatusWindow = 5

// Classifier computes a publisher's next status from their newest report and
// the trailing window of earlier reports. A single contrary month never flips
// ACTIVE to INACTIVE or back: both directions pass through IRREGULAR, and
// IRREGULAR only resolves once the whole window agrees.
type Classifier struct {
	Window int
}

// NewClassifier returns a classifier with the given window, falling back to
// DefaultStatusWindow for non-positive values.
func NewClassifier(window int) Classifier {
	if window <= 0 {
		window = DefaultStatusWindow
	}
	return Classifier{Window: window}
}

func (c Classifier) window() int {
	if c.Window <= 0 {
		return DefaultStatusWindow
	}
	return c.Window
}

// NextStatus applies the transition table:
//
//	INACTIVE  + not in service -> INACTIVE
//	INACTIVE  + in service     -> IRREGULAR
//	ACTIVE    + not in service -> IRREGULAR
//	ACTIVE    + in service     -> ACTIVE
//	IRREGULAR + in service     -> ACTIVE if no month in the window was missed, else IRREGULAR
//	IRREGULAR + not in service -> INACTIVE if no month in the window was served, else IRREGULAR
//
// trailing is ordered oldest to newest; only its last Window entries count.
// An empty window carries no contrary evidence.
func (c Classifier) NextStatus(current Status, newest Report, trailing []Report) (Status, error) {
	if !current.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, current)
	}
	if err := newest.CheckFinalized(); err != nil {
		return "", err
	}

	if w := c.window(); len(trailing) > w {
		trailing = trailing[len(trailing)-w:]
	}

	served := newest.HasBeenInService
	switch current {
	case StatusInactive:
		if served {
			return StatusIrregular, nil
		}
		return StatusInactive, nil
	case StatusActive:
		if served {
			return StatusActive, nil
		}
		return StatusIrregular, nil
	default:
		if served {
			if slices.ContainsFunc(trailing, func(r Report) bool { return r.HasNotBeenInService }) {
				return StatusIrregular, nil
			}
			return StatusActive, nil
		}
		if slices.ContainsFunc(trailing, func(r Report) bool { return r.HasBeenInService }) {
			return StatusIrregular, nil
		}
		return StatusInactive, nil
	}
}

// TrailingWindow selects the finalized reports in history strictly earlier
// than newest, ordered oldest to newest and trimmed to the last window
// entries. A month closed without a report is neither evidence of service
// nor of absence and takes no slot.
func TrailingWindow(history []Report, newest Report, window int) []Report {
	if window <= 0 {
		window = DefaultStatusWindow
	}
	prior := make([]Report, 0, len(history))
	for _, r := range history {
		if r.Identifier == newest.Identifier || !r.Before(newest) || !r.Finalized() {
			continue
		}
		prior = append(prior, r)
	}
	slices.SortStableFunc(prior, compareReports)
	if len(prior) > window {
		prior = prior[len(prior)-window:]
	}
	return prior
}

// ReplayStatus folds the classifier over a whole history starting from
// initial. Pending reports are skipped.
func (c Classifier) ReplayStatus(initial Status, history []Report) (Status, error) {
	sorted := slices.Clone(history)
	slices.SortStableFunc(sorted, compareReports)

	status := initial
	var seen []Report
	for _, r := range sorted {
		if r.Pending() {
			continue
		}
		next, err := c.NextStatus(status, r, TrailingWindow(seen, r, c.window()))
		if err != nil {
			return "", err
		}
		status = next
		seen = append(seen, r)
	}
	return status, nil
}

func compareReports(a, b Report) int {
	switch {
	case a.Before(b):
		return -1
	case b.Before(a):
		return 1
	}
	return 0
}
