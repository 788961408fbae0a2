// Package schedule holds the pure derivations behind the schedule view and
// its export: date parsing, category filtering, month grouping, key sorting
// and fixed-capacity pagination.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDate is returned (wrapped) for any string that does not denote
// a real day/month/year calendar date within the accepted year range.
var ErrInvalidDate = errors.New("invalid date")

const (
	// DefaultMinYear rejects epoch-like placeholder dates (01/01/1970) that
	// some feeds emit for "no date".
	DefaultMinYear = 1971

	// maxYear keeps MonthKey at four digits so its string order stays
	// chronological.
	maxYear = 9999

	displayLayout = "02/01/2006"
)

// DateParser parses "DD/MM/YYYY" strings in a fixed display timezone.
type DateParser struct {
	// MinYear is the smallest accepted year. Zero means DefaultMinYear.
	MinYear int
	// Location is the display timezone. Nil means UTC.
	Location *time.Location
}

// NewDateParser builds a parser for the given year threshold and timezone.
func NewDateParser(minYear int, loc *time.Location) DateParser {
	return DateParser{MinYear: minYear, Location: loc}
}

func (p DateParser) minYear() int {
	if p.MinYear <= 0 {
		return DefaultMinYear
	}
	return p.MinYear
}

func (p DateParser) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// Parse interprets s as day/month/year. The returned time is midnight of
// that day in p.Location. Every failure wraps ErrInvalidDate.
func (p DateParser) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrInvalidDate)
	}

	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: %q is not day/month/year", ErrInvalidDate, s)
	}

	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: non-numeric component %q in %q", ErrInvalidDate, part, s)
		}
		nums[i] = n
	}
	day, month, year := nums[0], nums[1], nums[2]

	if year < p.minYear() || year > maxYear {
		return time.Time{}, fmt.Errorf("%w: year %d outside [%d, %d]", ErrInvalidDate, year, p.minYear(), maxYear)
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, p.location())
	// time.Date normalizes overflow (31/02 -> 02/03); reject anything that
	// did not survive unchanged.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("%w: %q is not a calendar date", ErrInvalidDate, s)
	}
	return t, nil
}

// Format renders s as a pt-BR short date. Strings that fail to parse are
// returned unchanged.
func (p DateParser) Format(s string) string {
	t, err := p.Parse(s)
	if err != nil {
		return s
	}
	return t.Format(displayLayout)
}

// FormatRange renders the "Período" line of an event card: the start date
// alone, or "de <start> à <end>" when a distinct end date is present.
// An empty start yields "".
func (p DateParser) FormatRange(start, end string) string {
	if strings.TrimSpace(start) == "" {
		return ""
	}
	from := p.Format(start)
	if strings.TrimSpace(end) == "" {
		return from
	}
	to := p.Format(end)
	if to == from {
		return from
	}
	return "de " + from + " à " + to
}
