package ops

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"time"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/pdf"

	"github.com/vxco/phase/internal/config"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/layout"
	"github.com/vxco/phase/internal/session"
)

// pxToMM maps canvas pixels to PDF millimetres at 96 dpi.
const pxToMM = 25.4 / 96

const (
	overlayMargin  = 20.0 // px around unbounded content
	markerRadius   = 3.0
	lineWidth      = 0.3
	connectorWidth = 0.2
)

var (
	ceilingColor   = canvas.Hex("#1f77b4")
	floorColor     = canvas.Hex("#2ca02c")
	markerColor    = canvas.Hex("#d62728")
	labelStroke    = canvas.Hex("#333333")
	labelFill      = canvas.Hex("#ffffff")
	degradedStroke = canvas.Hex("#e8590c")
	degradedFill   = canvas.Hex("#ffd8a8")
	connectorColor = canvas.Hex("#666666")
	noFill         = color.RGBA{0, 0, 0, 0}
)

// OverlayInput contains parameters for WriteOverlay.
type OverlayInput struct {
	Path string // optional, default: ~/.phase/exports/<workspace>-<timestamp>.pdf
}

// OverlayOutput contains the result of WriteOverlay.
type OverlayOutput struct {
	Path     string  `json:"path"`
	Labels   int     `json:"labels"`
	Degraded int     `json:"degraded"`
	WidthMM  float64 `json:"width_mm"`
	HeightMM float64 `json:"height_mm"`
}

// WriteOverlay renders the snapshot geometry to a PDF file.
func WriteOverlay(snap session.Snapshot, cfg *config.Config, input OverlayInput) (*OverlayOutput, error) {
	path := input.Path
	if path == "" {
		var err error
		path, err = defaultExportPath(snap.Name, ".pdf", time.Now())
		if err != nil {
			return nil, err
		}
	}
	if err := ValidatePath(path, PathCheckWrite, KindOverlay, cfg); err != nil {
		return nil, err
	}

	var out *OverlayOutput
	err := writeFileAtomic(path, func(w io.Writer) error {
		var err error
		out, err = RenderOverlay(w, snap)
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Path = path
	return out, nil
}

// RenderOverlay draws the ceiling and floor lines, particle markers, label
// boxes and connectors. The page covers the canvas bounds when set, else the
// drawn content plus a margin.
func RenderOverlay(w io.Writer, snap session.Snapshot) (*OverlayOutput, error) {
	ext := OverlayExtent(snap)
	width := ext.Width() * pxToMM
	height := ext.Height() * pxToMM

	writer := pdf.New(w, width, height, nil)
	c := canvas.New(width, height)
	ctx := canvas.NewContext(c)
	ctx.SetCoordSystem(canvas.CartesianIV)

	pt := func(p layout.Point) (float64, float64) {
		return (p.X - ext.MinX) * pxToMM, (p.Y - ext.MinY) * pxToMM
	}

	if snap.Calibration.CeilingY != nil && snap.Calibration.FloorY != nil {
		drawHLine(ctx, ext, *snap.Calibration.CeilingY, ceilingColor)
		drawHLine(ctx, ext, *snap.Calibration.FloorY, floorColor)
	}

	out := &OverlayOutput{WidthMM: width, HeightMM: height}
	for _, p := range snap.Particles {
		label := p.Label

		fx, fy := pt(label.ConnectorFrom)
		tx, ty := pt(label.ConnectorTo)
		ctx.SetFillColor(noFill)
		ctx.SetStrokeColor(connectorColor)
		ctx.SetStrokeWidth(connectorWidth)
		line := &canvas.Path{}
		line.MoveTo(0, 0)
		line.LineTo(tx-fx, ty-fy)
		ctx.DrawPath(fx, fy, line)

		stroke, fill := labelStroke, labelFill
		if label.Degraded {
			stroke, fill = degradedStroke, degradedFill
			out.Degraded++
		}
		bx, by := pt(layout.Point{X: label.Box.MinX, Y: label.Box.MinY})
		ctx.SetFillColor(fill)
		ctx.SetStrokeColor(stroke)
		ctx.SetStrokeWidth(lineWidth)
		ctx.DrawPath(bx, by, canvas.Rectangle(label.Box.Width()*pxToMM, label.Box.Height()*pxToMM))

		mx, my := pt(p.Position)
		ctx.SetFillColor(markerColor)
		ctx.SetStrokeColor(markerColor)
		ctx.SetStrokeWidth(lineWidth)
		ctx.DrawPath(mx, my, canvas.Circle(markerRadius*pxToMM))
		out.Labels++
	}

	c.RenderTo(writer)
	if err := writer.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to write PDF: %w", err))
	}
	return out, nil
}

func drawHLine(ctx *canvas.Context, ext layout.Rect, y float64, col color.RGBA) {
	ctx.SetFillColor(noFill)
	ctx.SetStrokeColor(col)
	ctx.SetStrokeWidth(lineWidth)
	p := &canvas.Path{}
	p.MoveTo(0, 0)
	p.LineTo(ext.Width()*pxToMM, 0)
	ctx.DrawPath(0, (y-ext.MinY)*pxToMM, p)
}

// OverlayExtent returns the pixel area a drawing of snap covers: the canvas
// bounds when set, else the content plus a margin.
func OverlayExtent(snap session.Snapshot) layout.Rect {
	if snap.Bounds != nil && snap.Bounds.Width() > 0 && snap.Bounds.Height() > 0 {
		return *snap.Bounds
	}

	ext := layout.Rect{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	grow := func(x, y float64) {
		ext.MinX = math.Min(ext.MinX, x)
		ext.MinY = math.Min(ext.MinY, y)
		ext.MaxX = math.Max(ext.MaxX, x)
		ext.MaxY = math.Max(ext.MaxY, y)
	}
	for _, p := range snap.Particles {
		grow(p.Position.X, p.Position.Y)
		grow(p.Label.Box.MinX, p.Label.Box.MinY)
		grow(p.Label.Box.MaxX, p.Label.Box.MaxY)
	}
	if snap.Calibration.CeilingY != nil && snap.Calibration.FloorY != nil {
		if math.IsInf(ext.MinX, 1) {
			ext.MinX, ext.MaxX = 0, 0
		}
		grow(ext.MinX, *snap.Calibration.CeilingY)
		grow(ext.MaxX, *snap.Calibration.FloorY)
	}
	if math.IsInf(ext.MinX, 1) {
		ext = layout.Rect{}
	}
	return ext.Inflate(overlayMargin)
}
