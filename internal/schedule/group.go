package schedule

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"schedexport/internal/model"
)

// MonthKey is the "YYYY-MM" grouping key of an event's start date.
// Both components are zero padded, so string order is chronological order.
type MonthKey string

// KeyOf returns the MonthKey for t.
func KeyOf(t time.Time) MonthKey {
	return MonthKey(fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month())))
}

// YearMonth splits the key back into its components.
func (k MonthKey) YearMonth() (int, time.Month, error) {
	var y, m int
	if _, err := fmt.Sscanf(string(k), "%04d-%02d", &y, &m); err != nil {
		return 0, 0, fmt.Errorf("schedule: bad month key %q: %w", k, err)
	}
	if m < 1 || m > 12 {
		return 0, 0, fmt.Errorf("schedule: bad month key %q", k)
	}
	return y, time.Month(m), nil
}

// MonthGroup holds one month's events in feed order.
type MonthGroup struct {
	Key    MonthKey
	Events []model.Event
}

// Grouping is the result of GroupByMonth.
type Grouping struct {
	Groups map[MonthKey]*MonthGroup
	// Excluded counts events dropped because their start date did not parse.
	Excluded int
}

// GroupByMonth buckets events by the month of their StartDate. Events whose
// start date is invalid or below the year threshold are left out and counted
// in Excluded; order within each group follows the input.
func (p DateParser) GroupByMonth(events []model.Event) Grouping {
	g := Grouping{Groups: make(map[MonthKey]*MonthGroup)}
	for _, ev := range events {
		t, err := p.Parse(ev.StartDate)
		if err != nil {
			g.Excluded++
			continue
		}
		key := KeyOf(t)
		mg, ok := g.Groups[key]
		if !ok {
			mg = &MonthGroup{Key: key}
			g.Groups[key] = mg
		}
		mg.Events = append(mg.Events, ev)
	}
	return g
}

// SortedKeys returns the group keys in ascending chronological order.
func SortedKeys(groups map[MonthKey]*MonthGroup) []MonthKey {
	return slices.Sorted(maps.Keys(groups))
}
