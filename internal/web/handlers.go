package web

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/vxco/phase/internal/config"
	"github.com/vxco/phase/internal/db"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/ops"
	"github.com/vxco/phase/internal/session"
	"github.com/vxco/phase/internal/validation"
	"github.com/vxco/phase/internal/workspace"
)

// maxImageSide bounds the longer side of the image served by /image.
const maxImageSide = 2048

// Source returns the session to display. It is called once per request, so
// a file-backed source shows edits made by other processes.
type Source func() (*session.Session, error)

// Handlers contains HTTP route handlers for the viewer.
type Handlers struct {
	source   Source
	db       *sql.DB // optional, enables /recovery
	key      string  // recovery key of the viewed workspace
	cfg      *config.Config
	renderer *Renderer
}

// RecoveryPageData is the template data for the recovery slot list.
type RecoveryPageData struct {
	PageData
	Key   string
	Slots []db.Slot
}

// HandleWorkspace handles GET /workspace.
func (h *Handlers) HandleWorkspace(w http.ResponseWriter, r *http.Request) {
	s, err := h.source()
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	snap := s.Snapshot()

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, snap)
		return
	}

	title := snap.Name
	if title == "" {
		title = "Workspace"
	}
	h.renderer.renderPage(w, r, "workspace", WorkspacePageData{
		PageData: PageData{
			Title:   title,
			Version: h.renderer.version,
			Nav:     "workspace",
		},
		Snapshot: snap,
		Overlay:  newOverlay(snap),
	})
}

// HandleWorkspaceJSON handles GET /workspace.json.
func (h *Handlers) HandleWorkspaceJSON(w http.ResponseWriter, r *http.Request) {
	s, err := h.source()
	if err != nil {
		renderErrorJSON(w, err)
		return
	}
	renderJSON(w, http.StatusOK, s.Snapshot())
}

// HandleWorkspaceCSV handles GET /workspace.csv. The optional precision
// parameter overrides csv_height_precision.
func (h *Handlers) HandleWorkspaceCSV(w http.ResponseWriter, r *http.Request) {
	s, err := h.source()
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	precision := parseIntParam(r, "precision", h.cfg.CSVHeightPrecision)
	if precision < 0 || precision > 12 {
		precision = h.cfg.CSVHeightPrecision
	}

	name := ops.SanitizeForFilename(s.Name())
	if name == "" {
		name = "workspace"
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	if parseBoolParam(r, "download") {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, name))
	}
	// Headers are already sent, so a write error can only end the response.
	_ = workspace.WriteCSV(w, s.ExportRows(), precision)
}

// HandleImage handles GET /image: the workspace image as PNG, scaled down to
// fit maxImageSide. The overlay stretches it over the canvas bounds.
func (h *Handlers) HandleImage(w http.ResponseWriter, r *http.Request) {
	s, err := h.source()
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	ref := s.Snapshot().ImageReference
	if ref == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("workspace has no image reference"))
		return
	}
	if err := ops.ValidatePath(ref, ops.PathCheckRead, ops.KindImage, h.cfg); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	img, err := imaging.Open(ref, imaging.AutoOrientation(true))
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest(fmt.Sprintf("cannot decode image: %v", err)))
		return
	}
	if b := img.Bounds(); b.Dx() > maxImageSide || b.Dy() > maxImageSide {
		img = imaging.Fit(img, maxImageSide, maxImageSide, imaging.Lanczos)
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_ = imaging.Encode(w, img, imaging.PNG)
}

// HandleParticle handles GET /particles/{id}.
func (h *Handlers) HandleParticle(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("id is required"))
		return
	}

	s, err := h.source()
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	p, ok := s.Particle(id)
	if !ok {
		h.renderer.renderError(w, r, errors.NewNotFound(id))
		return
	}

	var findings []validation.Finding
	for _, f := range s.Findings() {
		if f.ParticleID == id {
			findings = append(findings, f)
		}
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"particle": p,
			"findings": nonNil(findings),
		})
		return
	}

	h.renderer.renderPage(w, r, "particle", ParticlePageData{
		PageData: PageData{
			Title:   p.Name,
			Version: h.renderer.version,
			Nav:     "workspace",
		},
		Particle:  p,
		NotesHTML: renderMarkdown(p.Notes),
		Findings:  findings,
	})
}

// HandleRecovery handles GET /recovery, listing recovery slots newest first.
func (h *Handlers) HandleRecovery(w http.ResponseWriter, r *http.Request) {
	slots := []db.Slot{}
	if h.db != nil && h.key != "" {
		var err error
		slots, err = ops.ListRecovery(r.Context(), h.db, h.key)
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"workspace_key": h.key,
			"slots":         slots,
		})
		return
	}

	h.renderer.renderPage(w, r, "recovery", RecoveryPageData{
		PageData: PageData{
			Title:   "Recovery",
			Version: h.renderer.version,
			Nav:     "recovery",
		},
		Key:   h.key,
		Slots: slots,
	})
}

func renderErrorJSON(w http.ResponseWriter, err error) {
	pErr, ok := errors.As(err)
	if !ok {
		pErr = errors.NewInternal(err)
	}
	renderJSON(w, pErr.Status, map[string]any{
		"error": map[string]any{
			"code":    string(pErr.Code),
			"message": pErr.Message,
			"status":  pErr.Status,
		},
	})
}

func nonNil(f []validation.Finding) []validation.Finding {
	if f == nil {
		return []validation.Finding{}
	}
	return f
}

// parseIntParam parses an integer query parameter, returning defaultVal on missing or invalid input.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter. Returns true for "true" or "1".
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
