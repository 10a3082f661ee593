package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vxco/phase/internal/config"
	"github.com/vxco/phase/internal/db"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/layout"
	"github.com/vxco/phase/internal/ops"
	"github.com/vxco/phase/internal/session"
	"github.com/vxco/phase/internal/units"
)

func floatPtr(v float64) *float64 { return &v }

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}
	return NewRenderer(templateSub, "test")
}

// setupTest returns handlers over a calibrated in-memory session.
func setupTest(t *testing.T) (*Handlers, *session.Session) {
	t.Helper()
	cfg := config.DefaultConfig()
	s := session.New(cfg)
	s.SetName("Run 1")
	h := units.Q(50, units.Micrometer)
	if err := s.UpdateCalibration(session.CalibrationUpdate{
		CeilingY:        floatPtr(0),
		FloorY:          floatPtr(100),
		CapillaryHeight: &h,
	}); err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if err := s.SetCanvasBounds(400, 300); err != nil {
		t.Fatalf("bounds: %v", err)
	}

	return &Handlers{
		source:   func() (*session.Session, error) { return s, nil },
		cfg:      cfg,
		renderer: newRenderer(t),
	}, s
}

func seedParticle(t *testing.T, s *session.Session, x, y float64) string {
	t.Helper()
	id, err := s.AddParticle(layout.Point{X: x, Y: y})
	if err != nil {
		t.Fatalf("add particle: %v", err)
	}
	return id
}

func get(h http.HandlerFunc, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

// --- HandleWorkspace ---

func TestHandleWorkspace_HTML(t *testing.T) {
	h, s := setupTest(t)
	id := seedParticle(t, s, 100, 25)

	w := get(h.HandleWorkspace, "/workspace", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("expected full layout")
	}
	if !strings.Contains(body, "Run 1") {
		t.Error("expected workspace name in page")
	}
	if !strings.Contains(body, "/particles/"+id) {
		t.Error("expected particle link")
	}
	if !strings.Contains(body, `viewBox="0 0 400 300"`) {
		t.Error("expected SVG viewBox from canvas bounds")
	}
	if !strings.Contains(body, "37.50") {
		t.Error("expected formatted height")
	}
}

func TestHandleWorkspace_HtmxReturnsContentOnly(t *testing.T) {
	h, _ := setupTest(t)

	w := get(h.HandleWorkspace, "/workspace", map[string]string{"HX-Request": "true"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if strings.Contains(w.Body.String(), "<!DOCTYPE html>") {
		t.Error("HTMX request should not include the layout")
	}
}

func TestHandleWorkspace_IncompleteCalibration(t *testing.T) {
	cfg := config.DefaultConfig()
	s := session.New(cfg)
	h := &Handlers{
		source:   func() (*session.Session, error) { return s, nil },
		cfg:      cfg,
		renderer: newRenderer(t),
	}

	w := get(h.HandleWorkspace, "/workspace", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Calibration incomplete") {
		t.Error("expected incomplete calibration notice")
	}
}

func TestHandleWorkspace_AcceptJSON(t *testing.T) {
	h, s := setupTest(t)
	seedParticle(t, s, 100, 25)

	w := get(h.HandleWorkspace, "/workspace", map[string]string{"Accept": "application/json"})
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Particles) != 1 {
		t.Errorf("particles = %d, want 1", len(snap.Particles))
	}
}

func TestHandleWorkspace_SourceError(t *testing.T) {
	h, _ := setupTest(t)
	h.source = func() (*session.Session, error) {
		return nil, errors.NewFileNotFound("/tmp/missing.phw")
	}

	w := get(h.HandleWorkspace, "/workspace", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "404") {
		t.Error("expected error page")
	}
}

// --- HandleWorkspaceJSON ---

func TestHandleWorkspaceJSON(t *testing.T) {
	h, s := setupTest(t)
	seedParticle(t, s, 100, 25)
	seedParticle(t, s, 300, 50)

	w := get(h.HandleWorkspaceJSON, "/workspace.json", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	particles, ok := resp["particles"].([]any)
	if !ok || len(particles) != 2 {
		t.Fatalf("particles = %v", resp["particles"])
	}
	if resp["calibration_complete"] != true {
		t.Error("expected calibration_complete")
	}
}

func TestHandleWorkspaceJSON_Error(t *testing.T) {
	h, _ := setupTest(t)
	h.source = func() (*session.Session, error) {
		return nil, errors.NewCorruptWorkspace("bad version")
	}

	w := get(h.HandleWorkspaceJSON, "/workspace.json", nil)
	if w.Code != 422 {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	errObj := resp["error"].(map[string]any)
	if errObj["code"] != "CORRUPT_WORKSPACE" {
		t.Errorf("code = %v", errObj["code"])
	}
}

// --- HandleWorkspaceCSV ---

func TestHandleWorkspaceCSV(t *testing.T) {
	h, s := setupTest(t)
	seedParticle(t, s, 100, 25)

	w := get(h.HandleWorkspaceCSV, "/workspace.csv", nil)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("Content-Type = %q", ct)
	}
	want := "Name,Height,Unit,RelativePosition,Notes\nP1,37.50,µm,0.7500,\n"
	if w.Body.String() != want {
		t.Errorf("body = %q, want %q", w.Body.String(), want)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != "" {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
}

func TestHandleWorkspaceCSV_DownloadAndPrecision(t *testing.T) {
	h, s := setupTest(t)
	seedParticle(t, s, 100, 25)

	w := get(h.HandleWorkspaceCSV, "/workspace.csv?download=1&precision=3", nil)
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="Run 1.csv"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !strings.Contains(w.Body.String(), "P1,37.500,µm") {
		t.Errorf("body = %q", w.Body.String())
	}

	// Out of range falls back to the configured precision
	w = get(h.HandleWorkspaceCSV, "/workspace.csv?precision=99", nil)
	if !strings.Contains(w.Body.String(), "P1,37.50,µm") {
		t.Errorf("body = %q", w.Body.String())
	}
}

// --- HandleParticle ---

func particleRequest(h *Handlers, id string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/particles/"+url.PathEscape(id), nil)
	req.SetPathValue("id", id)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.HandleParticle(w, req)
	return w
}

func TestHandleParticle_Found(t *testing.T) {
	h, s := setupTest(t)
	id := seedParticle(t, s, 100, 25)
	if err := s.SetNotes(id, "**bright** spot"); err != nil {
		t.Fatalf("notes: %v", err)
	}

	w := particleRequest(h, id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<strong>bright</strong>") {
		t.Error("expected notes rendered as markdown")
	}
	if !strings.Contains(body, "P1") {
		t.Error("expected particle name")
	}
}

func TestHandleParticle_NotesHTMLNotPassedThrough(t *testing.T) {
	h, s := setupTest(t)
	id := seedParticle(t, s, 100, 25)
	if err := s.SetNotes(id, "<script>alert(1)</script>"); err != nil {
		t.Fatalf("notes: %v", err)
	}

	w := particleRequest(h, id, nil)
	if strings.Contains(w.Body.String(), "<script>alert(1)</script>") {
		t.Error("raw HTML in notes must not be rendered")
	}
}

func TestHandleParticle_JSONIncludesFindings(t *testing.T) {
	h, s := setupTest(t)
	id := seedParticle(t, s, 100, 150) // below the floor

	w := particleRequest(h, id, map[string]string{"Accept": "application/json"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Particle session.ParticleView `json:"particle"`
		Findings []map[string]any     `json:"findings"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Particle.ID != id {
		t.Errorf("id = %q, want %q", resp.Particle.ID, id)
	}
	found := false
	for _, f := range resp.Findings {
		if f["kind"] == "OUT_OF_BOUNDS" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected OUT_OF_BOUNDS finding, got %v", resp.Findings)
	}
}

func TestHandleParticle_NotFound(t *testing.T) {
	h, _ := setupTest(t)

	w := particleRequest(h, "01NOPE", map[string]string{"Accept": "application/json"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	errObj := resp["error"].(map[string]any)
	if errObj["code"] != "NOT_FOUND" {
		t.Errorf("code = %v", errObj["code"])
	}
}

func TestHandleParticle_EmptyID(t *testing.T) {
	h, _ := setupTest(t)

	w := particleRequest(h, " ", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

// --- HandleRecovery ---

func setupRecovery(t *testing.T, h *Handlers, s *session.Session) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	key, err := ops.WorkspaceKey(filepath.Join(t.TempDir(), "run.phw"))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if _, err := ops.RecordRecovery(context.Background(), database, h.cfg, key, s); err != nil {
		t.Fatalf("record: %v", err)
	}
	h.db = database
	h.key = key
	return database
}

func TestHandleRecovery_ListsSlots(t *testing.T) {
	h, s := setupTest(t)
	seedParticle(t, s, 100, 25)
	setupRecovery(t, h, s)

	w := get(h.HandleRecovery, "/recovery", map[string]string{"Accept": "application/json"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Key   string    `json:"workspace_key"`
		Slots []db.Slot `json:"slots"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Key != h.key {
		t.Errorf("key = %q, want %q", resp.Key, h.key)
	}
	if len(resp.Slots) != 1 || resp.Slots[0].ParticleCount != 1 {
		t.Fatalf("slots = %+v", resp.Slots)
	}

	w = get(h.HandleRecovery, "/recovery", nil)
	if !strings.Contains(w.Body.String(), resp.Slots[0].ID) {
		t.Error("expected slot id in page")
	}
}

func TestHandleRecovery_NoDatabase(t *testing.T) {
	h, _ := setupTest(t)

	w := get(h.HandleRecovery, "/recovery", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "No recovery slots") {
		t.Error("expected empty state")
	}
}

// --- Server ---

func TestServer_RoutesAndHeaders(t *testing.T) {
	h, _ := setupTest(t)
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		t.Fatalf("static sub-FS: %v", err)
	}
	srv := httptest.NewServer(securityHeaders(newMux(h, staticSub)))
	defer srv.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := client.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/workspace" {
		t.Errorf("GET / = %d %q, want redirect to /workspace", resp.StatusCode, resp.Header.Get("Location"))
	}
	if csp := resp.Header.Get("Content-Security-Policy"); !strings.Contains(csp, "default-src 'self'") {
		t.Errorf("CSP = %q", csp)
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("expected X-Frame-Options DENY")
	}

	resp, err = client.Get(srv.URL + "/static/style.css")
	if err != nil {
		t.Fatalf("GET style.css: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("style.css status = %d", resp.StatusCode)
	}

	resp, err = client.Get(srv.URL + "/workspace.json")
	if err != nil {
		t.Fatalf("GET workspace.json: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("workspace.json status = %d", resp.StatusCode)
	}
}

// --- Error rendering ---

func TestErrorRendering_HtmxFragment(t *testing.T) {
	r := newRenderer(t)
	req := httptest.NewRequest("GET", "/workspace", nil)
	req.Header.Set("HX-Request", "true")
	w := httptest.NewRecorder()

	r.renderError(w, req, errors.NewInvalidRequest("bad <input>"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, `<div class="error-message">`) {
		t.Errorf("body = %q", body)
	}
	if strings.Contains(body, "<input>") {
		t.Error("message must be escaped")
	}
}

func TestErrorRendering_PlainErrorIsInternal(t *testing.T) {
	r := newRenderer(t)
	req := httptest.NewRequest("GET", "/workspace", nil)
	req.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()

	r.renderError(w, req, context.Canceled)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"INTERNAL"`) {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"precision=4", 4},
		{"precision=abc", 2},
		{"precision=-1", -1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/workspace.csv?"+tt.query, nil)
			if got := parseIntParam(req, "precision", 2); got != tt.want {
				t.Errorf("parseIntParam() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseBoolParam(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"", false},
		{"download=true", true},
		{"download=1", true},
		{"download=yes", false},
		{"download=false", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/workspace.csv?"+tt.query, nil)
			if got := parseBoolParam(req, "download"); got != tt.want {
				t.Errorf("parseBoolParam() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatHeight(37.5); got != "37.50" {
		t.Errorf("formatHeight = %q", got)
	}
	if got := formatFloat(12.25); got != "12.25" {
		t.Errorf("formatFloat = %q", got)
	}
	if got := formatTime(0); got != "1970-01-01 00:00" {
		t.Errorf("formatTime = %q", got)
	}
}

// --- HandleImage ---

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 255, A: 255})
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create png: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

func TestHandleImage(t *testing.T) {
	h, s := setupTest(t)
	dir := t.TempDir()
	h.cfg.AllowedPaths = []string{dir}
	path := filepath.Join(dir, "capillary.png")
	writePNG(t, path, 400, 300)
	s.SetImageReference(path)

	w := get(h.HandleImage, "/image", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 400 || b.Dy() != 300 {
		t.Errorf("size = %dx%d, want 400x300", b.Dx(), b.Dy())
	}

	page := get(h.HandleWorkspace, "/workspace", nil)
	if !strings.Contains(page.Body.String(), `href="/image"`) {
		t.Error("expected overlay to reference /image")
	}
}

func TestHandleImage_Downscales(t *testing.T) {
	h, s := setupTest(t)
	dir := t.TempDir()
	h.cfg.AllowedPaths = []string{dir}
	path := filepath.Join(dir, "wide.png")
	writePNG(t, path, 3000, 100)
	s.SetImageReference(path)

	w := get(h.HandleImage, "/image", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if b := img.Bounds(); b.Dx() != maxImageSide {
		t.Errorf("width = %d, want %d", b.Dx(), maxImageSide)
	}
}

func TestHandleImage_Errors(t *testing.T) {
	h, s := setupTest(t)

	w := get(h.HandleImage, "/image", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("no reference: status = %d, want 400", w.Code)
	}
	if strings.Contains(get(h.HandleWorkspace, "/workspace", nil).Body.String(), `href="/image"`) {
		t.Error("overlay should not reference /image without an image")
	}

	dir := t.TempDir()
	h.cfg.AllowedPaths = []string{dir}
	s.SetImageReference(filepath.Join(dir, "missing.png"))
	w = get(h.HandleImage, "/image", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing file: status = %d, want 404", w.Code)
	}

	bad := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(bad, []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	s.SetImageReference(bad)
	w = get(h.HandleImage, "/image", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("undecodable file: status = %d, want 400", w.Code)
	}
}
