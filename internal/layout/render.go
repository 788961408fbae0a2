// Package layout renders the schedule screen and the export pages as HTML,
// and hosts the temporary per-export workspaces the capturer reads pages from.
package layout

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"schedexport/internal/export"
	"schedexport/internal/schedule"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	defaultWidth      = 1600
	defaultBackground = "#ffffff"
)

var funcs = template.FuncMap{
	// safeCSS marks colors we generate ourselves (hsl(...)) as trusted.
	"safeCSS": func(s string) template.CSS { return template.CSS(s) },
}

// Renderer executes the embedded templates.
type Renderer struct {
	tmpl       *template.Template
	width      int
	background string
}

// NewRenderer parses the templates. width is the CSS width of an export
// page and should match the capture viewport.
func NewRenderer(width int) (*Renderer, error) {
	tmpl, err := template.New("layout").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("layout: parse templates: %w", err)
	}
	if width <= 0 {
		width = defaultWidth
	}
	return &Renderer{tmpl: tmpl, width: width, background: defaultBackground}, nil
}

type pageData struct {
	Page       export.Page
	Title      string
	Width      int
	Columns    int
	Background string
}

// RenderPage renders one export page as a standalone HTML document.
func (r *Renderer) RenderPage(p export.Page) ([]byte, error) {
	bg := p.BackgroundColor
	if bg == "" {
		bg = r.background
	}
	cols := p.Columns
	if cols <= 0 {
		cols = 3
	}
	data := pageData{
		Page:       p,
		Title:      p.Title,
		Width:      r.width,
		Columns:    cols,
		Background: bg,
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "page", data); err != nil {
		return nil, fmt.Errorf("layout: render page %d: %w", p.Number, err)
	}
	return buf.Bytes(), nil
}

// MonthView is one month section of the schedule screen.
type MonthView struct {
	Key   schedule.MonthKey
	Label string
	Cards []export.Card
}

// ViewData feeds the schedule screen template.
type ViewData struct {
	Title      string
	Period     string
	Selection  string
	Categories []string

	// NoEvents is true when the feed itself is empty.
	NoEvents bool
	// EmptySelection is true when the filter matched nothing.
	EmptySelection bool
	// ShowFilter hides the select when there is only one real category.
	ShowFilter bool

	ExportEnabled bool
	Exporting     bool

	Excluded int
	Months   []MonthView
}

// NewViewData derives the template data for view. The export trigger is
// enabled only when nothing is exporting and there is something to export.
func NewViewData(p schedule.DateParser, view schedule.View, period, title string, exporting bool) ViewData {
	d := ViewData{
		Title:          title,
		Period:         period,
		Selection:      view.Selection,
		Categories:     view.Categories,
		NoEvents:       view.Total == 0,
		EmptySelection: view.Filtered == 0,
		ShowFilter:     len(view.Categories) > 2,
		ExportEnabled:  !exporting && !view.Empty(),
		Exporting:      exporting,
		Excluded:       view.Excluded,
	}
	for _, m := range view.Months {
		d.Months = append(d.Months, MonthView{
			Key:   m.Key,
			Label: m.Label,
			Cards: export.CardsFor(p, m.Events),
		})
	}
	return d
}

// RenderSchedule writes the schedule screen.
func (r *Renderer) RenderSchedule(w io.Writer, d ViewData) error {
	if err := r.tmpl.ExecuteTemplate(w, "schedule", d); err != nil {
		return fmt.Errorf("layout: render schedule: %w", err)
	}
	return nil
}
