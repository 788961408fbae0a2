package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"schedexport/internal/model"
	"schedexport/internal/schedule"
)

// stubs ------------------------------------------------------------------

type stubWorkspace struct {
	provider *stubProvider
	mounted  []Page
	released int
	mountErr error
}

func (w *stubWorkspace) Mount(pages []Page) ([]Region, error) {
	if w.mountErr != nil {
		return nil, w.mountErr
	}
	w.mounted = pages
	regions := make([]Region, len(pages))
	for i := range pages {
		regions[i] = Region(fmt.Sprintf("page-%d", i+1))
	}
	return regions, nil
}

func (w *stubWorkspace) Release() {
	w.released++
	w.provider.mu.Lock()
	w.provider.active--
	w.provider.mu.Unlock()
}

type stubProvider struct {
	mu       sync.Mutex
	active   int
	acquired int
	last     *stubWorkspace
	mountErr error
}

func (p *stubProvider) Acquire(ctx context.Context) (Workspace, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active++
	p.acquired++
	p.last = &stubWorkspace{provider: p, mountErr: p.mountErr}
	return p.last, nil
}

func (p *stubProvider) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

type stubCapturer struct {
	mu       sync.Mutex
	calls    []Region
	inFlight int
	maxSeen  int
	failAt   int // 1-based page to fail on; 0 never
	block    chan struct{}
	started  chan struct{}
	img      []byte
}

func (c *stubCapturer) Capture(ctx context.Context, region Region, opts CaptureOptions) ([]byte, error) {
	c.mu.Lock()
	c.calls = append(c.calls, region)
	n := len(c.calls)
	c.inFlight++
	if c.inFlight > c.maxSeen {
		c.maxSeen = c.inFlight
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	if c.started != nil {
		select {
		case c.started <- struct{}{}:
		default:
		}
	}
	if c.block != nil {
		<-c.block
	}
	if c.failAt == n {
		return nil, errors.New("canvas tainted")
	}
	return c.img, nil
}

type placed struct {
	x, y, w, h float64
}

type stubDocument struct {
	width      float64
	pages      int
	images     []placed
	addErr     error
	addPageErr error
	outputErr  error
	outputs    int
}

func (d *stubDocument) PageWidth() float64 { return d.width }
func (d *stubDocument) AddPage() error {
	if d.addPageErr != nil {
		return d.addPageErr
	}
	d.pages++
	return nil
}
func (d *stubDocument) AddImage(img []byte, x, y, w, h float64) error {
	if d.addErr != nil {
		return d.addErr
	}
	d.images = append(d.images, placed{x, y, w, h})
	return nil
}
func (d *stubDocument) Output(w io.Writer) error {
	d.outputs++
	if d.outputErr != nil {
		return d.outputErr
	}
	_, err := w.Write([]byte("%PDF-stub"))
	return err
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func marchEvents(n int) []model.Event {
	out := make([]model.Event, n)
	for i := range out {
		out[i] = model.Event{
			Discipline: fmt.Sprintf("Disciplina %02d", i+1),
			Category:   "Aula",
			StartDate:  fmt.Sprintf("%02d/03/2024", i%28+1),
			Time:       "08:00 - 10:00",
			Location:   "Sala 1",
		}
	}
	return out
}

type harness struct {
	orch     *Orchestrator
	provider *stubProvider
	capturer *stubCapturer
	doc      *stubDocument
	states   []State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		provider: &stubProvider{},
		capturer: &stubCapturer{img: pngOf(t, 200, 100)},
		doc:      &stubDocument{width: 420},
	}
	opts := Options{
		Layout: Layout{
			Capacity: schedule.DefaultCapacity,
			Columns:  3,
			Branding: Branding{Title: "Calendário de Eventos"},
		},
		Capture:  CaptureOptions{Scale: 2, CrossOrigin: true, BackgroundColor: "#ffffff"},
		Document: DocumentOptions{Orientation: "landscape", Unit: "mm", Format: "a3"},
	}
	h.orch = NewOrchestrator(schedule.DateParser{}, opts, h.provider, h.capturer, func(DocumentOptions) (Document, error) {
		return h.doc, nil
	})
	var mu sync.Mutex
	h.orch.OnTransition = func(from, to State) {
		mu.Lock()
		h.states = append(h.states, to)
		mu.Unlock()
	}
	return h
}

func viewOf(events []model.Event, selection string) *schedule.View {
	v := schedule.Derive(schedule.DateParser{}, events, selection)
	return &v
}

// tests ------------------------------------------------------------------

func TestBuildPagesSplitsMonth(t *testing.T) {
	view := viewOf(marchEvents(13), schedule.AllCategories)
	pages := BuildPages(schedule.DateParser{}, *view, "2024.1", Layout{
		Capacity: 12,
		Branding: Branding{Title: "Calendário de Eventos"},
	})

	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}
	first, second := pages[0], pages[1]

	if first.MonthLabel != "Março 2024" || first.IsContinuation {
		t.Errorf("first page label = %q continuation=%v", first.MonthLabel, first.IsContinuation)
	}
	if second.MonthLabel != "Março 2024"+ContinuationMarker || !second.IsContinuation {
		t.Errorf("second page label = %q continuation=%v", second.MonthLabel, second.IsContinuation)
	}
	if len(first.Events) != 12 || len(second.Events) != 1 {
		t.Errorf("page sizes = %d, %d", len(first.Events), len(second.Events))
	}
	if first.Title != "Calendário de Eventos - 2024.1 (1/2)" || second.Title != "Calendário de Eventos - 2024.1 (2/2)" {
		t.Errorf("titles = %q, %q", first.Title, second.Title)
	}
	if first.Number != 1 || second.Number != 2 || first.Total != 2 {
		t.Errorf("numbering = %d,%d of %d", first.Number, second.Number, first.Total)
	}
	if first.Columns != 3 {
		t.Errorf("columns default = %d, want 3", first.Columns)
	}

	var joined []model.Event
	for _, p := range pages {
		joined = append(joined, p.Events...)
	}
	if !reflect.DeepEqual(joined, view.Months[0].Events) {
		t.Error("pages do not reproduce the month's event order")
	}
}

func TestBuildPagesSinglePageHasNoSuffix(t *testing.T) {
	events := append(marchEvents(3), model.Event{Discipline: "X", Category: "Aula", StartDate: "02/04/2024"})
	pages := BuildPages(schedule.DateParser{}, *viewOf(events, schedule.AllCategories), "2024.1", Layout{
		Capacity: 12,
		Branding: Branding{Title: "Calendário de Eventos"},
	})
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2 (one per month)", len(pages))
	}
	for _, p := range pages {
		if p.Title != "Calendário de Eventos - 2024.1" {
			t.Errorf("title = %q, want no page suffix", p.Title)
		}
		if p.IsContinuation {
			t.Errorf("page %d marked as continuation", p.Number)
		}
	}
	if pages[1].MonthLabel != "Abril 2024" {
		t.Errorf("second month label = %q", pages[1].MonthLabel)
	}
}

func TestBuildCards(t *testing.T) {
	events := []model.Event{{
		Discipline: "Anatomia", Category: "Prova", StartDate: "01/03/2024", EndDate: "03/03/2024",
		Time: "14:00", Location: "Auditório",
	}}
	pages := BuildPages(schedule.DateParser{}, *viewOf(events, schedule.AllCategories), "", Layout{Capacity: 12})
	card := pages[0].Cards[0]
	if card.Period != "de 01/03/2024 à 03/03/2024" {
		t.Errorf("period = %q", card.Period)
	}
	if card.Color != DisciplineColor("Anatomia") || card.Color == "" {
		t.Errorf("color = %q", card.Color)
	}
	if pages[0].Title != "" {
		t.Errorf("empty base title and period should give empty title, got %q", pages[0].Title)
	}
}

func TestExportEndToEnd(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Export(context.Background(), Request{
		View:   viewOf(marchEvents(13), schedule.AllCategories),
		Period: "2024.1",
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Pages != 2 || string(res.PDF) != "%PDF-stub" || res.Selection != schedule.AllCategories {
		t.Errorf("result = %+v", res)
	}

	if want := []Region{"page-1", "page-2"}; !reflect.DeepEqual(h.capturer.calls, want) {
		t.Errorf("capture order = %v, want %v", h.capturer.calls, want)
	}
	if h.capturer.maxSeen != 1 {
		t.Errorf("captures overlapped: max in flight %d", h.capturer.maxSeen)
	}

	// The first page comes with the document; only the second is added.
	if h.doc.pages != 1 {
		t.Errorf("AddPage called %d times, want 1", h.doc.pages)
	}
	if len(h.doc.images) != 2 {
		t.Fatalf("images placed = %d, want 2", len(h.doc.images))
	}
	if got := h.doc.images[0]; got != (placed{0, 0, 420, 210}) {
		t.Errorf("image placement = %+v, want full width with aspect-ratio height", got)
	}

	mounted := h.provider.last.mounted
	if len(mounted) != 2 || len(mounted[0].Cards) != 12 || len(mounted[1].Cards) != 1 {
		t.Errorf("mounted pages wrong: %d", len(mounted))
	}
	if mounted[1].MonthLabel != "Março 2024 (Continuação)" {
		t.Errorf("continuation label = %q", mounted[1].MonthLabel)
	}

	if h.provider.Active() != 0 || h.provider.last.released != 1 {
		t.Errorf("workspace not released: active=%d released=%d", h.provider.Active(), h.provider.last.released)
	}

	wantStates := []State{Building, Capturing, Assembling, Capturing, Assembling, Done, Idle}
	if !reflect.DeepEqual(h.states, wantStates) {
		t.Errorf("states = %v, want %v", h.states, wantStates)
	}
	if h.orch.State() != Idle {
		t.Errorf("final state = %v", h.orch.State())
	}
}

func TestExportCaptureFailureCleansUp(t *testing.T) {
	h := newHarness(t)
	h.capturer.failAt = 2

	res, err := h.orch.Export(context.Background(), Request{
		View: viewOf(marchEvents(25), schedule.AllCategories),
	})
	if res != nil {
		t.Fatal("no document may be returned on failure")
	}
	var ce *CaptureError
	if !errors.As(err, &ce) || ce.Page != 2 {
		t.Fatalf("err = %v, want CaptureError on page 2", err)
	}
	if len(h.capturer.calls) != 2 {
		t.Errorf("pipeline should stop after the failing page, got %d captures", len(h.capturer.calls))
	}
	if h.doc.outputs != 0 {
		t.Error("document was rendered despite failure")
	}
	if h.provider.Active() != 0 {
		t.Error("workspace not released after capture failure")
	}
	if last := h.states[len(h.states)-2:]; !reflect.DeepEqual(last, []State{Failed, Idle}) {
		t.Errorf("final states = %v", last)
	}
}

func TestExportAssemblyFailure(t *testing.T) {
	h := newHarness(t)
	h.doc.addErr = errors.New("bad image")

	_, err := h.orch.Export(context.Background(), Request{View: viewOf(marchEvents(2), schedule.AllCategories)})
	var ae *AssemblyError
	if !errors.As(err, &ae) || ae.Page != 1 {
		t.Fatalf("err = %v, want AssemblyError on page 1", err)
	}
	if h.provider.Active() != 0 {
		t.Error("workspace not released after assembly failure")
	}

	h2 := newHarness(t)
	h2.doc.outputErr = errors.New("disk full")
	_, err = h2.orch.Export(context.Background(), Request{View: viewOf(marchEvents(2), schedule.AllCategories)})
	if !errors.As(err, &ae) || ae.Page != 0 {
		t.Fatalf("err = %v, want AssemblyError for the output step", err)
	}
}

func TestExportAddPageFailure(t *testing.T) {
	h := newHarness(t)
	h.doc.addPageErr = errors.New("page limit reached")

	res, err := h.orch.Export(context.Background(), Request{View: viewOf(marchEvents(25), schedule.AllCategories)})
	if res != nil {
		t.Fatal("no document may be returned on failure")
	}
	var ae *AssemblyError
	if !errors.As(err, &ae) || ae.Page != 2 {
		t.Fatalf("err = %v, want AssemblyError on page 2", err)
	}
	if len(h.capturer.calls) != 2 {
		t.Errorf("pipeline should stop at the failing page, got %d captures", len(h.capturer.calls))
	}
	if len(h.doc.images) != 1 {
		t.Errorf("images = %d, want only the first page", len(h.doc.images))
	}
	if h.provider.Active() != 0 {
		t.Error("workspace not released after add page failure")
	}
}

type panickingCapturer struct{}

func (panickingCapturer) Capture(context.Context, Region, CaptureOptions) ([]byte, error) {
	panic("renderer crashed")
}

func TestExportRecoversFromCollaboratorPanic(t *testing.T) {
	h := newHarness(t)
	h.orch.capturer = panickingCapturer{}

	res, err := h.orch.Export(context.Background(), Request{View: viewOf(marchEvents(2), schedule.AllCategories)})
	if res != nil {
		t.Fatal("no document may be returned after a panic")
	}
	if err == nil || !strings.Contains(err.Error(), "renderer crashed") {
		t.Fatalf("err = %v, want the panic value", err)
	}
	if got := h.orch.State(); got != Idle {
		t.Errorf("state = %v, want idle", got)
	}
	if h.provider.Active() != 0 {
		t.Error("workspace not released after panic")
	}
	if last := h.states[len(h.states)-2:]; !reflect.DeepEqual(last, []State{Failed, Idle}) {
		t.Errorf("final states = %v", last)
	}

	h.orch.capturer = h.capturer
	res, err = h.orch.Export(context.Background(), Request{View: viewOf(marchEvents(2), schedule.AllCategories)})
	if err != nil {
		t.Fatalf("export after panic: %v", err)
	}
	if res.Pages != 1 {
		t.Errorf("pages = %d, want 1", res.Pages)
	}
}

func TestExportUndecodableCapture(t *testing.T) {
	h := newHarness(t)
	h.capturer.img = []byte("not a png")

	_, err := h.orch.Export(context.Background(), Request{View: viewOf(marchEvents(1), schedule.AllCategories)})
	var ae *AssemblyError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want AssemblyError", err)
	}
}

func TestExportMissingLayoutRegion(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Export(context.Background(), Request{})
	if !errors.Is(err, ErrMissingLayoutRegion) {
		t.Fatalf("err = %v, want ErrMissingLayoutRegion", err)
	}
	if h.provider.acquired != 0 {
		t.Error("workspace acquired although the source was missing")
	}
	if h.orch.State() != Idle || len(h.states) != 0 {
		t.Errorf("state = %v, transitions = %v", h.orch.State(), h.states)
	}
}

func TestExportNothingToExport(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Export(context.Background(), Request{View: viewOf(marchEvents(3), "Prova")})
	if !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("err = %v, want ErrNothingToExport", err)
	}
	if h.provider.acquired != 1 || h.provider.Active() != 0 {
		t.Errorf("workspace acquired=%d active=%d", h.provider.acquired, h.provider.Active())
	}
	if len(h.capturer.calls) != 0 {
		t.Error("nothing should be captured")
	}
}

func TestExportMountFailure(t *testing.T) {
	h := newHarness(t)
	h.provider.mountErr = errors.New("template error")

	_, err := h.orch.Export(context.Background(), Request{View: viewOf(marchEvents(3), schedule.AllCategories)})
	if err == nil || h.provider.Active() != 0 {
		t.Fatalf("err = %v active = %d", err, h.provider.Active())
	}
}

func TestExportRejectsConcurrentRequest(t *testing.T) {
	h := newHarness(t)
	h.capturer.block = make(chan struct{})
	h.capturer.started = make(chan struct{}, 1)

	req := Request{View: viewOf(marchEvents(2), schedule.AllCategories)}
	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Export(context.Background(), req)
		done <- err
	}()

	select {
	case <-h.capturer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first export never reached capture")
	}

	if !h.orch.Busy() {
		t.Error("orchestrator should report busy while capturing")
	}
	if _, err := h.orch.Export(context.Background(), req); !errors.Is(err, ErrExportInFlight) {
		t.Errorf("second export err = %v, want ErrExportInFlight", err)
	}

	close(h.capturer.block)
	if err := <-done; err != nil {
		t.Fatalf("first export: %v", err)
	}
	if h.orch.Busy() {
		t.Error("orchestrator should be idle after completion")
	}
}

func TestExportSettleHonorsContext(t *testing.T) {
	h := newHarness(t)
	h.orch.opts.Settle = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.orch.Export(ctx, Request{View: viewOf(marchEvents(1), schedule.AllCategories)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if h.provider.Active() != 0 {
		t.Error("workspace not released")
	}
}

func TestScheduleToFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "out", "cronograma.pdf")

	c := cron.New()
	id, err := ScheduleToFile(c, "@every 1h", h.orch, func() Request {
		return Request{View: viewOf(marchEvents(2), schedule.AllCategories), Period: "2024.1"}
	}, path, time.Minute)
	if err != nil {
		t.Fatalf("ScheduleToFile: %v", err)
	}

	c.Entry(id).Job.Run()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if string(data) != "%PDF-stub" {
		t.Errorf("output = %q", data)
	}

	if _, err := ScheduleToFile(c, "not a cron", h.orch, nil, path, time.Minute); err == nil {
		t.Error("expected error for an invalid schedule")
	}
}

func TestStateString(t *testing.T) {
	if Capturing.String() != "capturing" || State(42).String() != "unknown" {
		t.Error("unexpected State strings")
	}
}
