// Package pdf assembles captured page images into a PDF document.
package pdf

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"

	"schedexport/internal/export"
)

// Options select orientation ("landscape"/"portrait"), unit ("mm", "pt",
// "cm", "in") and page format ("a3", "a4", "letter", ...).
type Options struct {
	Orientation string
	Unit        string
	Format      string
}

// Document wraps an fpdf document. Like a fresh sheet of paper it starts
// with one empty page.
type Document struct {
	f      *fpdf.Fpdf
	images int
}

// New creates a document with its first page already added.
func New(opts Options) (*Document, error) {
	orientation := "L"
	if strings.EqualFold(opts.Orientation, "portrait") || strings.EqualFold(opts.Orientation, "p") {
		orientation = "P"
	}
	unit := opts.Unit
	if unit == "" {
		unit = "mm"
	}
	format := opts.Format
	if format == "" {
		format = "a3"
	}

	f := fpdf.New(orientation, unit, format, "")
	f.SetMargins(0, 0, 0)
	f.SetAutoPageBreak(false, 0)
	f.AddPage()
	if err := f.Error(); err != nil {
		return nil, fmt.Errorf("pdf: new %s %s document: %w", format, opts.Orientation, err)
	}
	return &Document{f: f}, nil
}

// PageWidth is the current page width in document units.
func (d *Document) PageWidth() float64 {
	w, _ := d.f.GetPageSize()
	return w
}

// PageHeight is the current page height in document units.
func (d *Document) PageHeight() float64 {
	_, h := d.f.GetPageSize()
	return h
}

// AddPage appends an empty page of the document's format. fpdf errors are
// sticky, so an earlier failure is reported here too.
func (d *Document) AddPage() error {
	d.f.AddPage()
	if err := d.f.Error(); err != nil {
		return fmt.Errorf("pdf: add page: %w", err)
	}
	return nil
}

// PageCount returns the number of pages so far.
func (d *Document) PageCount() int {
	return d.f.PageCount()
}

// AddImage draws a PNG on the current page at (x, y) with size w x h.
func (d *Document) AddImage(png []byte, x, y, w, h float64) error {
	d.images++
	name := fmt.Sprintf("capture-%d", d.images)
	opts := fpdf.ImageOptions{ImageType: "PNG"}

	d.f.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
	if err := d.f.Error(); err != nil {
		return fmt.Errorf("pdf: register image: %w", err)
	}
	d.f.ImageOptions(name, x, y, w, h, false, opts, 0, "")
	if err := d.f.Error(); err != nil {
		return fmt.Errorf("pdf: place image: %w", err)
	}
	return nil
}

// Output writes the finished document. The document cannot be modified
// afterwards.
func (d *Document) Output(w io.Writer) error {
	if err := d.f.Output(w); err != nil {
		return fmt.Errorf("pdf: output: %w", err)
	}
	return nil
}

// NewDocument is an export.DocumentFactory backed by New.
func NewDocument(opts export.DocumentOptions) (export.Document, error) {
	d, err := New(Options{Orientation: opts.Orientation, Unit: opts.Unit, Format: opts.Format})
	if err != nil {
		return nil, err
	}
	return d, nil
}
