package layout

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"schedexport/internal/export"
	appLog "schedexport/internal/log"
)

// PathPrefix is where workspaces are served; GET {PathPrefix}{id}/{n}
// returns page n (1-based) of workspace id.
const PathPrefix = "/export/"

// Host keeps the rendered pages of in-flight exports in memory and serves
// them over HTTP for the capturer. It implements export.WorkspaceProvider.
type Host struct {
	renderer *Renderer

	mu      sync.RWMutex
	baseURL string
	spaces  map[string][][]byte
}

// NewHost creates a host. SetBaseURL must be called once the serving
// address is known.
func NewHost(r *Renderer) *Host {
	return &Host{
		renderer: r,
		spaces:   make(map[string][][]byte),
	}
}

// SetBaseURL sets the scheme+host regions are built on, e.g.
// "http://127.0.0.1:8080".
func (h *Host) SetBaseURL(u string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.baseURL = strings.TrimSuffix(u, "/")
}

// Active returns the number of workspaces currently held.
func (h *Host) Active() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.spaces)
}

// Acquire reserves a new, empty workspace.
func (h *Host) Acquire(ctx context.Context) (export.Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.RLock()
	base := h.baseURL
	h.mu.RUnlock()
	if base == "" {
		return nil, errors.New("layout: host base URL not set")
	}

	var raw [12]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return nil, fmt.Errorf("layout: workspace id: %w", err)
	}
	id := hex.EncodeToString(raw[:])

	h.mu.Lock()
	h.spaces[id] = nil
	h.mu.Unlock()

	appLog.Debug("workspace acquired", "id", id)
	return &workspace{host: h, id: id, base: base}, nil
}

func (h *Host) release(id string) {
	h.mu.Lock()
	_, ok := h.spaces[id]
	delete(h.spaces, id)
	h.mu.Unlock()
	if ok {
		appLog.Debug("workspace released", "id", id)
	}
}

// ServeHTTP serves pages of held workspaces. Released or unknown workspaces
// answer 404.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest, ok := strings.CutPrefix(r.URL.Path, PathPrefix)
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, num, ok := strings.Cut(rest, "/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	h.mu.RLock()
	pages, held := h.spaces[id]
	var body []byte
	if held && n >= 1 && n <= len(pages) {
		body = pages[n-1]
	}
	h.mu.RUnlock()

	if body == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(body)
}

type workspace struct {
	host *Host
	id   string
	base string
	once sync.Once
}

// Mount renders every page up front so a template error fails the export
// before any capture starts.
func (ws *workspace) Mount(pages []export.Page) ([]export.Region, error) {
	bodies := make([][]byte, 0, len(pages))
	for _, p := range pages {
		body, err := ws.host.renderer.RenderPage(p)
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, body)
	}

	ws.host.mu.Lock()
	if _, ok := ws.host.spaces[ws.id]; !ok {
		ws.host.mu.Unlock()
		return nil, errors.New("layout: workspace already released")
	}
	ws.host.spaces[ws.id] = bodies
	ws.host.mu.Unlock()

	regions := make([]export.Region, len(bodies))
	for i := range bodies {
		regions[i] = export.Region(fmt.Sprintf("%s%s%s/%d", ws.base, PathPrefix, ws.id, i+1))
	}
	return regions, nil
}

func (ws *workspace) Release() {
	ws.once.Do(func() { ws.host.release(ws.id) })
}
