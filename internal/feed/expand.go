package feed

import (
	"cmp"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "schedexport/internal/log"
	"schedexport/internal/model"
)

const (
	dateLayout    = "02/01/2006"
	clockLayout   = "15:04"
	allDayLabel   = "Dia inteiro"
	maxPerRuleHit = 2000
)

// Window bounds recurrence expansion. Non-recurring events are kept
// regardless of the window.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowAround returns [now-horizon, now+horizon].
func WindowAround(now time.Time, horizon time.Duration) Window {
	return Window{Start: now.Add(-horizon), End: now.Add(horizon)}
}

type occurrence struct {
	vevent
	start time.Time
	end   time.Time
}

// expand turns parsed VEVENTs into schedule events ordered by start time.
// RECURRENCE-ID overrides replace the instance they name; EXDATEs remove
// instances.
func expand(events []vevent, w Window, loc *time.Location) []model.Event {
	overrides := make(map[string][]vevent)
	for _, ev := range events {
		if ev.Recurrence != nil && ev.UID != "" {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	var occs []occurrence
	for _, ev := range events {
		if ev.Recurrence != nil && ev.UID != "" {
			continue
		}
		if ev.RRule == "" {
			occs = append(occs, occurrence{vevent: ev, start: ev.Start, end: ev.End})
			continue
		}
		occs = append(occs, expandRule(ev, overrides[ev.UID], w)...)
	}

	slices.SortStableFunc(occs, func(a, b occurrence) int { return cmp.Compare(a.start.UnixNano(), b.start.UnixNano()) })

	out := make([]model.Event, 0, len(occs))
	for _, o := range occs {
		out = append(out, toEvent(o, loc))
	}
	return out
}

func expandRule(ev vevent, overrides []vevent, w Window) []occurrence {
	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Warn("ics rrule ignored", "uid", ev.UID, "rrule", ev.RRule, "error", err)
		return []occurrence{{vevent: ev, start: ev.Start, end: ev.End}}
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	starts := set.Between(w.Start.In(ev.Start.Location()), w.End.In(ev.Start.Location()), true)
	if len(starts) > maxPerRuleHit {
		appLog.Warn("ics recurrence truncated", "uid", ev.UID, "cap", maxPerRuleHit)
		starts = starts[:maxPerRuleHit]
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]occurrence, 0, len(starts))
	for _, s := range starts {
		o := occurrence{vevent: ev, start: s, end: s.Add(dur)}
		if ov, ok := findOverride(overrides, s); ok {
			o = occurrence{vevent: ov, start: ov.Start, end: ov.End}
		}
		out = append(out, o)
	}
	return out
}

func findOverride(overrides []vevent, start time.Time) (vevent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return vevent{}, false
}

func toEvent(o occurrence, loc *time.Location) model.Event {
	start := o.start.In(loc)
	end := o.end.In(loc)

	ev := model.Event{
		Discipline: o.Summary,
		Category:   o.Category,
		StartDate:  start.Format(dateLayout),
		Location:   o.Location,
	}

	if o.AllDay {
		// DTEND of a DATE event is exclusive.
		last := end.AddDate(0, 0, -1)
		if last.After(start) {
			ev.EndDate = last.Format(dateLayout)
		}
		ev.Time = allDayLabel
		return ev
	}

	if end.Format(dateLayout) != ev.StartDate {
		ev.EndDate = end.Format(dateLayout)
	}
	ev.Time = start.Format(clockLayout)
	if end.After(start) {
		ev.Time += " - " + end.Format(clockLayout)
	}
	return ev
}
