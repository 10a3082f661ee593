package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vxco/phase/internal/calibration"
	"github.com/vxco/phase/internal/config"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/layout"
	"github.com/vxco/phase/internal/ops"
	"github.com/vxco/phase/internal/session"
	"github.com/vxco/phase/internal/units"
)

// Handlers holds dependencies for MCP tool handlers. At most one workspace
// is open at a time.
type Handlers struct {
	db     *sql.DB
	cfg    *config.Config
	logger *slog.Logger

	mu   sync.Mutex
	sess *session.Session
	path string
}

// NewHandlers creates a new Handlers instance. db may be nil, in which case
// no recovery slots are recorded.
func NewHandlers(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Handlers {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handlers{db: db, cfg: cfg, logger: logger}
}

// Request types for each tool

// OpenRequest represents the arguments for workspace_open.
type OpenRequest struct {
	Path         string   `json:"path"`
	Create       bool     `json:"create,omitempty"`
	Name         string   `json:"name,omitempty"`
	Image        string   `json:"image,omitempty"`
	CanvasWidth  *float64 `json:"canvas_width,omitempty"`
	CanvasHeight *float64 `json:"canvas_height,omitempty"`
}

// SaveRequest represents the arguments for workspace_save.
type SaveRequest struct {
	Path string `json:"path,omitempty"`
}

// ExportRequest represents the arguments for workspace_export_csv.
type ExportRequest struct {
	Path string `json:"path,omitempty"`
}

// CalibrationRequest represents the arguments for calibration_update.
// Quantities are strings so units can be given inline ("50um").
type CalibrationRequest struct {
	CeilingY               *float64 `json:"ceiling_y,omitempty"`
	FloorY                 *float64 `json:"floor_y,omitempty"`
	NudgeEdge              string   `json:"nudge_edge,omitempty"`
	NudgeDelta             float64  `json:"nudge_delta,omitempty"`
	CapillaryHeight        string   `json:"capillary_height,omitempty"`
	WallThickness          string   `json:"wall_thickness,omitempty"`
	WallThicknessEnabled   *bool    `json:"wall_thickness_enabled,omitempty"`
	TiltAngleDegrees       *float64 `json:"tilt_angle_degrees,omitempty"`
	AngleCorrectionEnabled *bool    `json:"angle_correction_enabled,omitempty"`
	ResetAngle             bool     `json:"reset_angle,omitempty"`
}

// PointRequest represents the arguments for particle_add.
type PointRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// IDRequest represents the arguments for particle_remove.
type IDRequest struct {
	ID string `json:"id"`
}

// RenameRequest represents the arguments for particle_rename.
type RenameRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NotesRequest represents the arguments for particle_notes.
type NotesRequest struct {
	ID    string `json:"id"`
	Notes string `json:"notes"`
}

// MoveRequest represents the arguments for particle_move.
type MoveRequest struct {
	ID string   `json:"id"`
	X  *float64 `json:"x"`
	Y  *float64 `json:"y"`
}

// LabelMoveRequest represents the arguments for label_move.
type LabelMoveRequest struct {
	ID string   `json:"id"`
	DX *float64 `json:"dx"`
	DY *float64 `json:"dy"`
}

// ArrangeRequest represents the arguments for layout_arrange.
type ArrangeRequest struct {
	Mode string `json:"mode,omitempty"`
}

// Output types

// OpenOutput is returned by workspace_open.
type OpenOutput struct {
	Path     string           `json:"path"`
	Created  bool             `json:"created"`
	Snapshot session.Snapshot `json:"snapshot"`
}

// ArrangeOutput is returned by layout_arrange.
type ArrangeOutput struct {
	Mode    string               `json:"mode"`
	Applied bool                 `json:"applied"`
	Report  session.LayoutReport `json:"report"`
}

// Handlers

// HandleOpen handles the workspace_open tool call.
func (h *Handlers) HandleOpen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[OpenRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Path == "" {
		return errorResult(errors.NewInvalidRequest("path is required")), nil
	}

	opts := []session.Option{session.WithLogger(h.logger)}
	var s *session.Session
	if input.Create {
		s, _, err = ops.CreateWorkspace(h.cfg, ops.CreateInput{
			Path:           input.Path,
			Name:           input.Name,
			ImageReference: input.Image,
		}, opts...)
	} else {
		s, err = ops.OpenWorkspace(input.Path, h.cfg, opts...)
	}
	if err != nil {
		return errorResult(err), nil
	}

	if err := h.applyBounds(s, input); err != nil {
		return errorResult(err), nil
	}

	h.mu.Lock()
	h.sess = s
	h.path = input.Path
	h.mu.Unlock()

	return successResult(OpenOutput{Path: input.Path, Created: input.Create, Snapshot: s.Snapshot()})
}

func (h *Handlers) applyBounds(s *session.Session, input OpenRequest) error {
	if input.Image != "" {
		info, err := ops.ProbeImage(input.Image, h.cfg)
		if err != nil {
			return err
		}
		return s.SetCanvasBounds(float64(info.Width), float64(info.Height))
	}
	if input.CanvasWidth != nil || input.CanvasHeight != nil {
		if input.CanvasWidth == nil || input.CanvasHeight == nil {
			return errors.NewInvalidRequest("canvas_width and canvas_height must be given together")
		}
		return s.SetCanvasBounds(*input.CanvasWidth, *input.CanvasHeight)
	}
	return nil
}

// HandleSave handles the workspace_save tool call.
func (h *Handlers) HandleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SaveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	s, path, err := h.current()
	if err != nil {
		return errorResult(err), nil
	}
	if input.Path != "" {
		path = input.Path
	}

	out, err := ops.SaveWorkspace(s, path, h.cfg)
	if err != nil {
		return errorResult(err), nil
	}
	h.recordRecovery(ctx, path, s)

	h.mu.Lock()
	if h.sess == s {
		h.path = path
	}
	h.mu.Unlock()

	return successResult(out)
}

// HandleSnapshot handles the workspace_snapshot tool call.
func (h *Handlers) HandleSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, _, err := h.current()
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(s.Snapshot())
}

// HandleExportCSV handles the workspace_export_csv tool call.
func (h *Handlers) HandleExportCSV(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	s, _, err := h.current()
	if err != nil {
		return errorResult(err), nil
	}

	out, err := ops.ExportCSV(s, h.cfg, ops.ExportInput{Path: input.Path})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleCalibrationUpdate handles the calibration_update tool call.
func (h *Handlers) HandleCalibrationUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CalibrationRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	s, _, err := h.current()
	if err != nil {
		return errorResult(err), nil
	}

	update, err := input.toUpdate()
	if err != nil {
		return errorResult(err), nil
	}
	if update.IsEmpty() {
		return errorResult(errors.NewInvalidRequest("no calibration fields given")), nil
	}
	if err := s.UpdateCalibration(update); err != nil {
		return errorResult(err), nil
	}
	return successResult(s.Snapshot())
}

func (r CalibrationRequest) toUpdate() (session.CalibrationUpdate, error) {
	u := session.CalibrationUpdate{
		CeilingY:               r.CeilingY,
		FloorY:                 r.FloorY,
		WallThicknessEnabled:   r.WallThicknessEnabled,
		TiltAngleDegrees:       r.TiltAngleDegrees,
		AngleCorrectionEnabled: r.AngleCorrectionEnabled,
		ResetAngle:             r.ResetAngle,
	}
	if r.NudgeEdge != "" {
		u.Nudge = &session.Nudge{Edge: calibration.Edge(r.NudgeEdge), Delta: r.NudgeDelta}
	}
	if r.CapillaryHeight != "" {
		q, err := units.Parse(r.CapillaryHeight)
		if err != nil {
			return u, errors.NewInvalidCalibration("capillary_height", err.Error())
		}
		u.CapillaryHeight = &q
	}
	if r.WallThickness != "" {
		q, err := units.Parse(r.WallThickness)
		if err != nil {
			return u, errors.NewInvalidCalibration("wall_thickness", err.Error())
		}
		u.WallThickness = &q
	}
	return u, nil
}

// HandleParticleAdd handles the particle_add tool call.
func (h *Handlers) HandleParticleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PointRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.X == nil || input.Y == nil {
		return errorResult(errors.NewInvalidRequest("x and y are required")), nil
	}
	s, _, err := h.current()
	if err != nil {
		return errorResult(err), nil
	}

	id, err := s.AddParticle(layout.Point{X: *input.X, Y: *input.Y})
	if err != nil {
		return errorResult(err), nil
	}
	return h.particleResult(s, id)
}

// HandleParticleRemove handles the particle_remove tool call.
func (h *Handlers) HandleParticleRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	s, err := h.sessionFor(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	if err := s.RemoveParticle(input.ID); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"id": input.ID, "removed": true})
}

// HandleParticleRename handles the particle_rename tool call.
func (h *Handlers) HandleParticleRename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RenameRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	s, err := h.sessionFor(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	if err := s.RenameParticle(input.ID, input.Name); err != nil {
		return errorResult(err), nil
	}
	return h.particleResult(s, input.ID)
}

// HandleParticleNotes handles the particle_notes tool call.
func (h *Handlers) HandleParticleNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NotesRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	s, err := h.sessionFor(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	if err := s.SetNotes(input.ID, input.Notes); err != nil {
		return errorResult(err), nil
	}
	return h.particleResult(s, input.ID)
}

// HandleParticleMove handles the particle_move tool call.
func (h *Handlers) HandleParticleMove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MoveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.X == nil || input.Y == nil {
		return errorResult(errors.NewInvalidRequest("x and y are required")), nil
	}
	s, err := h.sessionFor(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	if err := s.MoveParticle(input.ID, layout.Point{X: *input.X, Y: *input.Y}); err != nil {
		return errorResult(err), nil
	}
	return h.particleResult(s, input.ID)
}

// HandleLabelMove handles the label_move tool call.
func (h *Handlers) HandleLabelMove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LabelMoveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.DX == nil || input.DY == nil {
		return errorResult(errors.NewInvalidRequest("dx and dy are required")), nil
	}
	s, err := h.sessionFor(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	if err := s.MoveLabel(input.ID, layout.Point{X: *input.DX, Y: *input.DY}); err != nil {
		return errorResult(err), nil
	}
	return h.particleResult(s, input.ID)
}

// HandleArrange handles the layout_arrange tool call.
func (h *Handlers) HandleArrange(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ArrangeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	s, _, err := h.current()
	if err != nil {
		return errorResult(err), nil
	}

	out := ArrangeOutput{Mode: input.Mode}
	switch input.Mode {
	case "", "auto":
		out.Mode = "auto"
		out.Report = s.AutoArrange(ctx)
		out.Applied = true
	case "relayout":
		out.Report, out.Applied = s.Relayout(ctx)
	default:
		return errorResult(errors.NewInvalidRequest(fmt.Sprintf("unknown mode %q (want auto or relayout)", input.Mode))), nil
	}
	return successResult(out)
}

// HandleFindings handles the validation_findings tool call.
func (h *Handlers) HandleFindings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, _, err := h.current()
	if err != nil {
		return errorResult(err), nil
	}
	snap := s.Snapshot()
	return successResult(map[string]any{
		"findings": snap.Findings,
		"summary":  snap.Summary,
	})
}

// Session helpers

func (h *Handlers) current() (*session.Session, string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess == nil {
		return nil, "", errors.NewInvalidRequest("no workspace is open (call workspace_open first)")
	}
	return h.sess, h.path, nil
}

func (h *Handlers) sessionFor(id string) (*session.Session, error) {
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	s, _, err := h.current()
	return s, err
}

func (h *Handlers) particleResult(s *session.Session, id string) (*mcp.CallToolResult, error) {
	view, ok := s.Particle(id)
	if !ok {
		return errorResult(errors.NewNotFound(id)), nil
	}
	return successResult(view)
}

// recordRecovery is best-effort; a failed slot never fails the save.
func (h *Handlers) recordRecovery(ctx context.Context, path string, s *session.Session) {
	if h.db == nil {
		return
	}
	key, err := ops.WorkspaceKey(path)
	if err == nil {
		_, err = ops.RecordRecovery(ctx, h.db, h.cfg, key, s)
	}
	if err != nil {
		h.logger.Warn("recovery slot not recorded", "path", path, "error", err)
	}
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if pErr, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":    pErr.Code,
			"message": pErr.Message,
			"status":  pErr.Status,
		}
		// Keep wrapper context ("particles[2]: ...") when the error was wrapped.
		if err != error(pErr) && pErr.Code != errors.ErrInternal {
			errorObj["message"] = err.Error()
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if pErr.Code != errors.ErrInternal && pErr.Details != nil {
			errorObj["details"] = pErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
