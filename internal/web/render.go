package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/ops"
	"github.com/vxco/phase/internal/session"
	"github.com/vxco/phase/internal/validation"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "workspace" or "recovery"
}

// WorkspacePageData is the template data for the workspace page.
type WorkspacePageData struct {
	PageData
	Snapshot session.Snapshot
	Overlay  Overlay
}

// ParticlePageData is the template data for the particle detail page.
type ParticlePageData struct {
	PageData
	Particle  session.ParticleView
	NotesHTML template.HTML
	Findings  []validation.Finding
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Overlay is the SVG geometry of a snapshot in canvas pixels.
type Overlay struct {
	ViewBox  string
	MinX     float64
	MaxX     float64
	CeilingY *float64
	FloorY   *float64

	// Image is set when the workspace image backs the canvas bounds.
	Image       bool
	ImageWidth  float64
	ImageHeight float64
}

func newOverlay(snap session.Snapshot) Overlay {
	ext := ops.OverlayExtent(snap)
	o := Overlay{
		ViewBox: fmt.Sprintf("%s %s %s %s",
			formatFloat(ext.MinX), formatFloat(ext.MinY), formatFloat(ext.Width()), formatFloat(ext.Height())),
		MinX:     ext.MinX,
		MaxX:     ext.MaxX,
		CeilingY: snap.Calibration.CeilingY,
		FloorY:   snap.Calibration.FloorY,
	}
	if snap.ImageReference != "" && snap.Bounds != nil {
		o.Image = true
		o.ImageWidth = snap.Bounds.Width()
		o.ImageHeight = snap.Bounds.Height()
	}
	return o
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string) *Renderer {
	funcMap := template.FuncMap{
		"formatTime":   formatTime,
		"formatHeight": formatHeight,
		"formatFloat":  formatFloat,
		"percent":      func(v float64) string { return strconv.FormatFloat(v*100, 'f', 1, 64) + "%" },
		"deref":        func(v *float64) float64 { return *v },
	}

	// Parse layout as the base template
	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"workspace": "workspace.html",
		"particle":  "particle.html",
		"recovery":  "recovery.html",
		"error":     "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
// For HTMX requests, only the "content" block is rendered to avoid duplicating the layout.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		log.Printf("template %q not found", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	block := "layout"
	if req != nil && req.Header.Get("HX-Request") == "true" {
		block = "content"
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, block, data); err != nil {
		log.Printf("template execution error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	pErr, ok := errors.As(err)
	if !ok {
		pErr = errors.NewInternal(err)
	}

	status := pErr.Status
	message := pErr.Message

	// HTMX request: return HTML fragment
	if req.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<div class="error-message">%s</div>`, template.HTMLEscapeString(message))
		return
	}

	// JSON request
	if wantsJSON(req) {
		renderErrorJSON(w, pErr)
		return
	}

	// Full error page
	r.renderPageStatus(w, req, status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", status),
			Version: r.version,
		},
		StatusCode: status,
		Message:    message,
	})
}

func wantsJSON(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "application/json")
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts markdown text to HTML using goldmark.
// Raw HTML in notes is not passed through.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats a Unix timestamp as "2006-01-02 15:04" UTC.
func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04")
}

// formatHeight prints a height with two decimals, as on the canvas labels.
func formatHeight(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// formatFloat prints the shortest exact form, for SVG coordinates.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
