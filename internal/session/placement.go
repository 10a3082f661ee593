package session

import (
	"context"

	"github.com/vxco/phase/internal/layout"
	"github.com/vxco/phase/internal/workspace"
)

// LayoutReport summarizes one applied layout pass.
type LayoutReport struct {
	Placed    int  `json:"placed"`
	Degraded  int  `json:"degraded"`
	Truncated bool `json:"truncated"`
}

func (s *Session) labelSize(p *workspace.Particle) layout.Size {
	return s.metrics.LabelSize(p.LabelText(labelPrecision))
}

func (s *Session) labelBox(p *workspace.Particle) layout.Rect {
	return layout.BoxAt(p.Position.Add(p.Label.Offset), s.labelSize(p))
}

func markerBox(p *workspace.Particle) layout.Rect {
	return layout.BoxAt(p.Position, markerSize)
}

func (s *Session) item(p *workspace.Particle) layout.Item {
	return layout.Item{Key: p.ID, Anchor: p.Position, Size: s.labelSize(p)}
}

// fullRequest covers every automatic label. Manual labels and all particle
// markers are obstacles.
func (s *Session) fullRequest() layout.Request {
	req := layout.Request{Bounds: s.bounds}
	for _, p := range s.ws.Particles() {
		req.Obstacles = append(req.Obstacles, markerBox(p))
		if p.Label.ManuallyPositioned {
			req.Obstacles = append(req.Obstacles, s.labelBox(p))
			continue
		}
		req.Items = append(req.Items, s.item(p))
	}
	return req
}

// placeOne re-places a single label with every other label fixed.
func (s *Session) placeOne(target *workspace.Particle) {
	req := layout.Request{Bounds: s.bounds, Items: []layout.Item{s.item(target)}}
	for _, p := range s.ws.Particles() {
		req.Obstacles = append(req.Obstacles, markerBox(p))
		if p.ID != target.ID {
			req.Obstacles = append(req.Obstacles, s.labelBox(p))
		}
	}
	s.apply(s.arranger.Arrange(context.Background(), req))
}

// apply writes placements back. Keys that no longer exist are skipped.
func (s *Session) apply(res layout.Result) LayoutReport {
	report := LayoutReport{Truncated: res.Truncated}
	for _, pl := range res.Placements {
		p, ok := s.ws.Particle(pl.Key)
		if !ok || p.Label.ManuallyPositioned {
			continue
		}
		p.Label.Offset = pl.Offset
		p.Label.Degraded = pl.Degraded
		report.Placed++
		if pl.Degraded {
			report.Degraded++
		}
	}
	if report.Degraded > 0 || report.Truncated {
		s.logger.Info("layout degraded", "labels", report.Placed, "degraded", report.Degraded, "truncated", report.Truncated)
	}
	return report
}
