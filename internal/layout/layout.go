// Package layout places particle labels so that their boxes do not overlap.
//
// Placement is a greedy ring search: each label tries its seed offset, then
// positions on concentric rings around its particle, nearest first, and takes
// the first one that collides with nothing already placed. Labels are placed in the order given,
// which makes the result deterministic.
package layout

import (
	"context"
	"math"
	"time"

	"github.com/vxco/phase/internal/config"
)

// Options control the search.
type Options struct {
	// Seed is the first offset tried for every label.
	Seed Point
	// Margin is the clearance kept around every placed box.
	Margin float64

	RingStep   float64
	Directions int
	MaxRadius  float64

	// MaxCandidates caps the offsets tried per label, the seed included.
	MaxCandidates int
	// TimeBudget caps a whole Arrange call. Zero means no limit.
	TimeBudget time.Duration

	Metrics Metrics
}

// OptionsFromConfig reads the label and layout keys.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Seed:          Point{X: cfg.LabelDefaultOffsetX, Y: cfg.LabelDefaultOffsetY},
		Margin:        cfg.LabelMargin,
		RingStep:      cfg.LayoutRingStep,
		Directions:    cfg.LayoutDirections,
		MaxRadius:     cfg.LayoutMaxRadius,
		MaxCandidates: cfg.LayoutMaxCandidates,
		TimeBudget:    cfg.LayoutTimeBudget(),
		Metrics: Metrics{
			CharWidth:  cfg.LabelCharWidth,
			LineHeight: cfg.LabelLineHeight,
			Padding:    cfg.LabelPadding,
			Scale:      cfg.LabelScale,
		},
	}
}

// Item is one label to place.
type Item struct {
	Key    string
	Anchor Point
	Size   Size
}

// Request is a single layout pass. Obstacles are boxes that must be avoided
// but never move (manual labels, particle markers). Bounds, when set, is the
// preferred area for label boxes.
type Request struct {
	Obstacles []Rect
	Items     []Item
	Bounds    *Rect
}

// Placement is the outcome for one item.
type Placement struct {
	Key      string `json:"key"`
	Offset   Point  `json:"offset"`
	Box      Rect   `json:"box"`
	Degraded bool   `json:"degraded"`
}

// Result holds placements in item order. Truncated is set when the time
// budget or the context stopped the pass early.
type Result struct {
	Placements []Placement
	Truncated  bool
}

// Engine runs layout passes. It holds no state between calls and is safe for
// concurrent use.
type Engine struct {
	opts  Options
	cands []Point
	now   func() time.Time
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Directions <= 0 {
		opts.Directions = 1
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 1
	}
	e := &Engine{opts: opts, now: time.Now}
	e.cands = e.candidates()
	return e
}

// Options returns the engine's options.
func (e *Engine) Options() Options {
	return e.opts
}

// Seed returns the default offset for a new label.
func (e *Engine) Seed() Point {
	return e.opts.Seed
}

// Arrange places every item. It never fails: items it could not place
// cleanly, or did not reach, are marked degraded.
func (e *Engine) Arrange(ctx context.Context, req Request) Result {
	var deadline time.Time
	if e.opts.TimeBudget > 0 {
		deadline = e.now().Add(e.opts.TimeBudget)
	}
	expired := func() bool {
		if ctx.Err() != nil {
			return true
		}
		return !deadline.IsZero() && e.now().After(deadline)
	}

	placed := make([]Rect, 0, len(req.Obstacles)+len(req.Items))
	placed = append(placed, req.Obstacles...)

	res := Result{Placements: make([]Placement, 0, len(req.Items))}
	for _, item := range req.Items {
		if !res.Truncated {
			p, ok := e.place(item, placed, req.Bounds, expired)
			if ok {
				res.Placements = append(res.Placements, p)
				placed = append(placed, p.Box)
				continue
			}
			res.Truncated = true
		}
		res.Placements = append(res.Placements, e.seedPlacement(item))
	}
	return res
}

func (e *Engine) seedPlacement(item Item) Placement {
	return Placement{
		Key:      item.Key,
		Offset:   e.opts.Seed,
		Box:      BoxAt(item.Anchor.Add(e.opts.Seed), item.Size),
		Degraded: true,
	}
}

// place runs the candidate search for one item. ok is false when the pass
// expired before the item was decided.
func (e *Engine) place(item Item, placed []Rect, bounds *Rect, expired func() bool) (Placement, bool) {
	var (
		firstFree *Placement
		best      Placement
		bestArea  = math.Inf(1)
	)

	for _, off := range e.cands {
		if expired() {
			return Placement{}, false
		}

		box := BoxAt(item.Anchor.Add(off), item.Size)
		area := overlapArea(box.Inflate(e.opts.Margin), placed)
		p := Placement{Key: item.Key, Offset: off, Box: box}

		if area == 0 {
			if bounds == nil || bounds.Contains(box) {
				return p, true
			}
			if firstFree == nil {
				firstFree = &p
			}
			continue
		}
		if area < bestArea {
			best, bestArea = p, area
		}
	}

	if firstFree != nil {
		return *firstFree, true
	}
	best.Degraded = true
	return best, true
}

// candidates lists the seed followed by ring positions around the particle,
// capped at MaxCandidates. Rings grow outward, so after the seed the list runs
// from the shortest connector to the longest. Within a ring, positions start
// straight up and run clockwise.
func (e *Engine) candidates() []Point {
	out := make([]Point, 0, e.opts.MaxCandidates)
	out = append(out, e.opts.Seed)
	if e.opts.RingStep <= 0 {
		return out
	}

	step := 2 * math.Pi / float64(e.opts.Directions)
	for ring := 1; float64(ring)*e.opts.RingStep <= e.opts.MaxRadius; ring++ {
		r := float64(ring) * e.opts.RingStep
		for k := 0; k < e.opts.Directions; k++ {
			if len(out) >= e.opts.MaxCandidates {
				return out
			}
			a := float64(k) * step
			off := Point{X: r * math.Sin(a), Y: -r * math.Cos(a)}
			if nearlyEqual(off, e.opts.Seed) {
				continue
			}
			out = append(out, off)
		}
	}
	return out
}

func nearlyEqual(a, b Point) bool {
	const eps = 1e-9
	return math.Abs(a.X-b.X) < eps && math.Abs(a.Y-b.Y) < eps
}

func overlapArea(box Rect, placed []Rect) float64 {
	var total float64
	for _, o := range placed {
		total += box.IntersectionArea(o)
	}
	return total
}
