package feed

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "schedexport/internal/log"
)

// DefaultCategory is used when neither the VEVENT nor its source names one.
const DefaultCategory = "Evento"

// vevent is the subset of a VEVENT the schedule needs, with times already
// resolved to a location.
type vevent struct {
	UID      string
	Summary  string
	Location string
	Category string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule      string
	ExDates    []time.Time
	Recurrence *time.Time
}

// parseICS reads every VEVENT of body. Floating times and dates are
// interpreted in loc. Broken VEVENTs are logged and skipped.
func parseICS(src Source, body []byte, loc *time.Location) ([]vevent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]vevent, 0)
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(src, ve, loc)
		if err != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	appLog.Debug("ics parsed", "id", src.ID, "events", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (vevent, error) {
	var out vevent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = strings.TrimSpace(p.Value)
	}

	out.Category = src.Category
	if p := ve.GetProperty(ical.ComponentPropertyCategories); p != nil {
		if first, _, _ := strings.Cut(p.Value, ","); strings.TrimSpace(first) != "" {
			out.Category = strings.TrimSpace(first)
		}
	}
	if out.Category == "" {
		out.Category = DefaultCategory
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parseTimeProp(startProp, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start, out.AllDay = start, allDay

	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		if end, _, err := parseTimeProp(p, loc); err == nil && !end.Before(start) {
			out.End = end
		}
	}
	if out.End.IsZero() {
		out.End = start
		if allDay {
			out.End = start.AddDate(0, 0, 1)
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = strings.TrimSpace(p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tz := tzParam(p, loc)
		for part := range strings.SplitSeq(p.Value, ",") {
			if t, _, err := parseTimeValue(strings.TrimSpace(part), tz); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, _, err := parseTimeProp(p, loc); err == nil {
			out.Recurrence = &t
		}
	}
	return out, nil
}

func tzParam(p *ical.IANAProperty, loc *time.Location) *time.Location {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if l, err := time.LoadLocation(tzs[0]); err == nil {
			return l
		}
	}
	return loc
}

func parseTimeProp(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	return parseTimeValue(strings.TrimSpace(p.Value), tzParam(p, loc))
}

// parseTimeValue parses DATE (YYYYMMDD) and DATE-TIME values, UTC or local
// to loc. The bool is true for DATE values.
func parseTimeValue(v string, loc *time.Location) (time.Time, bool, error) {
	switch {
	case v == "":
		return time.Time{}, false, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}
}
