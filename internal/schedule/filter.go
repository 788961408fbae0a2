package schedule

import (
	"slices"

	"schedexport/internal/model"
)

// AllCategories is the filter selection that passes every event through.
const AllCategories = "Todos"

// Filter returns the events whose Category equals selection, in input order.
// The AllCategories sentinel returns events itself.
func Filter(events []model.Event, selection string) []model.Event {
	if selection == AllCategories {
		return events
	}
	out := make([]model.Event, 0)
	for _, ev := range events {
		if ev.Category == selection {
			out = append(out, ev)
		}
	}
	return out
}

// Categories lists the filter options: AllCategories first, then every
// distinct category present in events, sorted.
func Categories(events []model.Event) []string {
	seen := make(map[string]struct{}, len(events))
	distinct := make([]string, 0)
	for _, ev := range events {
		if _, ok := seen[ev.Category]; ok {
			continue
		}
		seen[ev.Category] = struct{}{}
		distinct = append(distinct, ev.Category)
	}
	slices.Sort(distinct)
	return append([]string{AllCategories}, distinct...)
}

// ValidSelection reports whether selection is one of Categories(events).
func ValidSelection(events []model.Event, selection string) bool {
	if selection == AllCategories {
		return true
	}
	for _, ev := range events {
		if ev.Category == selection {
			return true
		}
	}
	return false
}
