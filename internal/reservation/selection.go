package reservation

import (
	"sort"
	"time"
)

// Selector picks one slot out of the candidates returned by a find.
type Selector interface {
	Select(slots []Slot, prefs Preferences) (Slot, error)
}

// SimpleSelector scans slots sorted by start time once. Matching slots before
// the ideal time are remembered as the candidate; a slot at or after the ideal
// time is returned when it is strictly closer than the candidate or there is
// none, and on equal distance the tie goes to the candidate when PreferEarly.
// A scan that ends without returning yields ErrNoAcceptableSlot, even when a
// candidate before the ideal time was seen. Unsorted input is sorted on a copy
// first.
type SimpleSelector struct{}

func (SimpleSelector) Select(slots []Slot, prefs Preferences) (Slot, error) {
	if len(slots) == 0 {
		return Slot{}, ErrNoAcceptableSlot
	}
	if !sort.SliceIsSorted(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) }) {
		sorted := make([]Slot, len(slots))
		copy(sorted, slots)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
		slots = sorted
	}

	lower := prefs.Ideal.Add(-prefs.Window)
	upper := prefs.Ideal.Add(prefs.Window)

	var (
		last     Slot
		haveLast bool
		lastDiff time.Duration
	)
	for _, s := range slots {
		if !prefs.matchesType(s) || s.Start.Before(lower) || s.Start.After(upper) {
			continue
		}
		diff := s.Start.Sub(prefs.Ideal)
		if diff < 0 {
			last, lastDiff, haveLast = s, -diff, true
			continue
		}

		switch {
		case !haveLast || diff < lastDiff:
			return s, nil
		case diff == lastDiff:
			if prefs.PreferEarly {
				return last, nil
			}
			return s, nil
		}
	}
	return Slot{}, ErrNoAcceptableSlot
}
