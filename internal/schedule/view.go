package schedule

import (
	"strconv"

	"schedexport/internal/model"
)

var monthNames = [...]string{
	"Janeiro", "Fevereiro", "Março", "Abril", "Maio", "Junho",
	"Julho", "Agosto", "Setembro", "Outubro", "Novembro", "Dezembro",
}

// MonthLabel renders a key as "<Month> <Year>" in Portuguese, e.g. "Março 2024".
// Malformed keys are returned as-is.
func MonthLabel(k MonthKey) string {
	y, m, err := k.YearMonth()
	if err != nil {
		return string(k)
	}
	return monthNames[m-1] + " " + strconv.Itoa(y)
}

// MonthSection is one month of the grouped view, ready for display or export.
type MonthSection struct {
	Key    MonthKey
	Label  string
	Events []model.Event
}

// View is the full derivation of the schedule screen for one selection.
type View struct {
	Selection  string
	Categories []string
	// Total is the number of events in the feed, Filtered the number left
	// after the category filter.
	Total    int
	Filtered int
	Excluded int
	Months   []MonthSection
}

// Empty reports whether there is nothing to show (or export) for the selection.
func (v View) Empty() bool {
	return len(v.Months) == 0
}

// Derive runs filter -> group -> sort for the current inputs. It is
// deterministic and side-effect free; callers recompute it whenever the
// feed or the selection changes.
func Derive(p DateParser, events []model.Event, selection string) View {
	if selection == "" {
		selection = AllCategories
	}
	filtered := Filter(events, selection)
	grouping := p.GroupByMonth(filtered)

	v := View{
		Selection:  selection,
		Categories: Categories(events),
		Total:      len(events),
		Filtered:   len(filtered),
		Excluded:   grouping.Excluded,
	}
	for _, key := range SortedKeys(grouping.Groups) {
		v.Months = append(v.Months, MonthSection{
			Key:    key,
			Label:  MonthLabel(key),
			Events: grouping.Groups[key].Events,
		})
	}
	return v
}
