// Package export turns the grouped schedule view into a multi-page
// printable document: it lays out fixed-capacity pages, mounts them in a
// scoped workspace, captures each one sequentially and appends the images
// to a document.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"sync"
	"time"

	appLog "schedexport/internal/log"
	"schedexport/internal/schedule"
)

var (
	// ErrMissingLayoutRegion means there is no source view to export.
	ErrMissingLayoutRegion = errors.New("export: source layout region not found")
	// ErrExportInFlight is returned when an export is requested while
	// another one is still running.
	ErrExportInFlight = errors.New("export: an export is already in progress")
	// ErrNothingToExport means the selection left no valid events.
	ErrNothingToExport = errors.New("export: no events to export")
)

// CaptureError reports a failed page capture. Page is 1-based.
type CaptureError struct {
	Page int
	Err  error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("export: capture of page %d failed: %v", e.Page, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// AssemblyError reports a document service failure. Page is 1-based, or 0
// when the failure is not tied to a page (final output).
type AssemblyError struct {
	Page int
	Err  error
}

func (e *AssemblyError) Error() string {
	if e.Page == 0 {
		return fmt.Sprintf("export: document assembly failed: %v", e.Err)
	}
	return fmt.Sprintf("export: document assembly failed at page %d: %v", e.Page, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// Region is an opaque handle to one mounted page that the Capturer knows how
// to render (the HTTP workspace hands out URLs).
type Region string

// Workspace is a scoped area holding the page layouts of one export.
type Workspace interface {
	// Mount places the pages in the workspace and returns one region per
	// page, in page order.
	Mount(pages []Page) ([]Region, error)
	// Release removes everything the workspace holds. It is safe to call
	// more than once.
	Release()
}

// WorkspaceProvider hands out workspaces.
type WorkspaceProvider interface {
	Acquire(ctx context.Context) (Workspace, error)
}

// CaptureOptions are passed to every capture.
type CaptureOptions struct {
	Scale           float64
	CrossOrigin     bool
	BackgroundColor string
}

// Capturer rasterizes a region to an encoded PNG.
type Capturer interface {
	Capture(ctx context.Context, region Region, opts CaptureOptions) ([]byte, error)
}

// Document is the output document. A new document starts with one empty
// page; AddPage appends another.
type Document interface {
	PageWidth() float64
	AddPage() error
	AddImage(png []byte, x, y, w, h float64) error
	Output(w io.Writer) error
}

// DocumentOptions select the document page format.
type DocumentOptions struct {
	Orientation string
	Unit        string
	Format      string
}

// DocumentFactory creates an empty document.
type DocumentFactory func(DocumentOptions) (Document, error)

// Options configure an Orchestrator.
type Options struct {
	Layout   Layout
	Capture  CaptureOptions
	Document DocumentOptions
	// Settle is waited once after the pages are mounted and before the first
	// capture.
	Settle time.Duration
}

// Request is one export of the current view.
type Request struct {
	// View is the derived schedule view; nil means the source is unavailable.
	View   *schedule.View
	Period string
}

// Result holds the finished document.
type Result struct {
	PDF       []byte
	Pages     int
	Selection string
}

// Orchestrator runs exports one at a time.
type Orchestrator struct {
	parser      schedule.DateParser
	opts        Options
	workspaces  WorkspaceProvider
	capturer    Capturer
	newDocument DocumentFactory

	mu    sync.Mutex
	state State

	// OnTransition, if set, is called after every state change.
	OnTransition func(from, to State)
}

// NewOrchestrator wires an Orchestrator to its collaborators.
func NewOrchestrator(parser schedule.DateParser, opts Options, workspaces WorkspaceProvider, capturer Capturer, newDocument DocumentFactory) *Orchestrator {
	return &Orchestrator{
		parser:      parser,
		opts:        opts,
		workspaces:  workspaces,
		capturer:    capturer,
		newDocument: newDocument,
		state:       Idle,
	}
}

// State returns the current state. Anything but Idle means the export
// trigger should be disabled.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy reports whether an export is in flight.
func (o *Orchestrator) Busy() bool {
	return o.State() != Idle
}

func (o *Orchestrator) setState(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	hook := o.OnTransition
	o.mu.Unlock()

	appLog.Debug("export state", "from", from, "to", to)
	if hook != nil {
		hook(from, to)
	}
}

// begin moves Idle -> Building, or reports why it cannot.
func (o *Orchestrator) begin(req Request) error {
	o.mu.Lock()
	if o.state != Idle {
		o.mu.Unlock()
		return ErrExportInFlight
	}
	if req.View == nil {
		o.mu.Unlock()
		return ErrMissingLayoutRegion
	}
	o.state = Building
	hook := o.OnTransition
	o.mu.Unlock()

	appLog.Debug("export state", "from", Idle, "to", Building)
	if hook != nil {
		hook(Idle, Building)
	}
	return nil
}

// Export builds, captures and assembles the document for req. The
// temporary workspace is released on every exit path, and no document is
// returned unless every page was assembled.
func (o *Orchestrator) Export(ctx context.Context, req Request) (res *Result, err error) {
	if err := o.begin(req); err != nil {
		appLog.Error("export refused", err)
		return nil, err
	}

	started := time.Now()
	defer o.setState(Idle)
	defer func() {
		// A panicking collaborator fails the export instead of leaving
		// the machine busy.
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("export: panic: %v", r)
		}
		if err != nil || res == nil {
			if err == nil {
				err = errors.New("export: no document produced")
			}
			o.setState(Failed)
			appLog.Error("export failed", err, "selection", req.View.Selection, "elapsed", time.Since(started))
			return
		}
		o.setState(Done)
		appLog.Info("export finished", "selection", req.View.Selection, "pages", res.Pages, "bytes", len(res.PDF), "elapsed", time.Since(started))
	}()

	ws, err := o.workspaces.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: acquire workspace: %w", err)
	}
	defer ws.Release()

	pages := BuildPages(o.parser, *req.View, req.Period, o.opts.Layout)
	if len(pages) == 0 {
		return nil, ErrNothingToExport
	}
	appLog.Info("export started", "selection", req.View.Selection, "months", len(req.View.Months), "pages", len(pages))

	regions, err := ws.Mount(pages)
	if err != nil {
		return nil, fmt.Errorf("export: mount pages: %w", err)
	}
	if len(regions) != len(pages) {
		return nil, fmt.Errorf("export: workspace returned %d regions for %d pages", len(regions), len(pages))
	}

	if err := o.settle(ctx); err != nil {
		return nil, err
	}

	doc, err := o.captureAll(ctx, regions)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, &AssemblyError{Err: err}
	}

	return &Result{
		PDF:       buf.Bytes(),
		Pages:     len(pages),
		Selection: req.View.Selection,
	}, nil
}

func (o *Orchestrator) settle(ctx context.Context) error {
	if o.opts.Settle <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(o.opts.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// captureAll captures regions strictly one after another; page i+1 is not
// requested before page i has been captured and appended.
func (o *Orchestrator) captureAll(ctx context.Context, regions []Region) (Document, error) {
	var doc Document
	for i, region := range regions {
		page := i + 1

		o.setState(Capturing)
		img, err := o.capturer.Capture(ctx, region, o.opts.Capture)
		if err != nil {
			return nil, &CaptureError{Page: page, Err: err}
		}

		o.setState(Assembling)
		if doc == nil {
			doc, err = o.newDocument(o.opts.Document)
			if err != nil {
				return nil, &AssemblyError{Page: page, Err: err}
			}
		} else if err := doc.AddPage(); err != nil {
			return nil, &AssemblyError{Page: page, Err: err}
		}
		if err := appendImage(doc, img); err != nil {
			return nil, &AssemblyError{Page: page, Err: err}
		}
		appLog.Debug("export page appended", "page", page, "of", len(regions), "bytes", len(img))
	}
	return doc, nil
}

// appendImage places img at the top-left of the current page, full page
// width, with the height following the image's aspect ratio.
func appendImage(doc Document, img []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return fmt.Errorf("decode captured image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("captured image has no area (%dx%d)", cfg.Width, cfg.Height)
	}
	w := doc.PageWidth()
	h := float64(cfg.Height) * w / float64(cfg.Width)
	return doc.AddImage(img, 0, 0, w, h)
}
