package export

import (
	"fmt"
	"strings"

	"schedexport/internal/model"
	"schedexport/internal/schedule"
)

// ContinuationMarker is appended to the month label of every page after the
// first within the same month.
const ContinuationMarker = " (Continuação)"

// Branding is the fixed header/watermark content of every exported page.
type Branding struct {
	LogoURL      string
	WatermarkURL string
	Heading      string
	Subheading   string
	// Title is the base title; the period label follows it.
	Title string
}

// Card is the display form of one event on a page.
type Card struct {
	Discipline string
	Period     string
	Category   string
	Time       string
	Location   string
	Color      string
}

// Page describes one document page. Pages are built for the whole export
// before any capture begins and discarded once the document is produced.
type Page struct {
	// Number and Total count pages across the whole export, 1-based.
	Number int
	Total  int

	MonthKey   schedule.MonthKey
	MonthLabel string
	// MonthPage/MonthPages position the page within its month, 1-based.
	MonthPage      int
	MonthPages     int
	IsContinuation bool

	Title    string
	Branding Branding

	Columns         int
	CrossOrigin     bool
	BackgroundColor string

	Events []model.Event
	Cards  []Card
}

// Layout carries the settings BuildPages needs besides the view itself.
type Layout struct {
	Capacity        int
	Columns         int
	Branding        Branding
	CrossOrigin     bool
	BackgroundColor string
}

func (l Layout) columns() int {
	if l.Columns <= 0 {
		return 3
	}
	return l.Columns
}

// PageTitle is "<base> - <period>", with " (i/n)" appended when the month
// spans more than one page.
func PageTitle(base, period string, monthPage, monthPages int) string {
	title := base
	if period != "" {
		title += " - " + period
	}
	if monthPages > 1 {
		title += fmt.Sprintf(" (%d/%d)", monthPage, monthPages)
	}
	return title
}

// BuildPages lays out every month section of view into capacity-sized pages,
// in month order and, within a month, in event order.
func BuildPages(p schedule.DateParser, view schedule.View, period string, l Layout) []Page {
	pages := make([]Page, 0)
	for _, month := range view.Months {
		chunks := schedule.Paginate(month.Events, l.Capacity)
		for i, chunk := range chunks {
			label := month.Label
			if i > 0 {
				label += ContinuationMarker
			}
			pages = append(pages, Page{
				MonthKey:        month.Key,
				MonthLabel:      label,
				MonthPage:       i + 1,
				MonthPages:      len(chunks),
				IsContinuation:  i > 0,
				Title:           PageTitle(l.Branding.Title, period, i+1, len(chunks)),
				Branding:        l.Branding,
				Columns:         l.columns(),
				CrossOrigin:     l.CrossOrigin,
				BackgroundColor: l.BackgroundColor,
				Events:          chunk,
				Cards:           CardsFor(p, chunk),
			})
		}
	}
	for i := range pages {
		pages[i].Number = i + 1
		pages[i].Total = len(pages)
	}
	return pages
}

// CardsFor converts events to their card display form.
func CardsFor(p schedule.DateParser, events []model.Event) []Card {
	cards := make([]Card, 0, len(events))
	for _, ev := range events {
		cards = append(cards, Card{
			Discipline: ev.Discipline,
			Period:     p.FormatRange(ev.StartDate, ev.EndDate),
			Category:   ev.Category,
			Time:       ev.Time,
			Location:   ev.Location,
			Color:      DisciplineColor(ev.Discipline),
		})
	}
	return cards
}

// DisciplineColor derives a stable accent color from a discipline name so
// the same discipline always gets the same card border.
func DisciplineColor(s string) string {
	var h int32
	for _, r := range strings.TrimSpace(s) {
		h = int32(r) + ((h << 5) - h)
	}
	hue := int(h) % 360
	if hue < 0 {
		hue = -hue
	}
	return fmt.Sprintf("hsl(%d, 70%%, 60%%)", hue)
}
