// Package session serializes every edit to one workspace. Each intent runs
// to completion under the session lock: mutate, recompute heights,
// re-validate, re-layout, then bump the generation.
package session

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/vxco/phase/internal/config"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/layout"
	"github.com/vxco/phase/internal/validation"
	"github.com/vxco/phase/internal/workspace"
)

// labelPrecision is the number of height decimals shown on a label.
const labelPrecision = 2

// markerSize is the box kept clear around every particle dot.
var markerSize = layout.Size{W: 8, H: 8}

// Arranger computes label placements. *layout.Engine is the production
// implementation.
type Arranger interface {
	Arrange(ctx context.Context, req layout.Request) layout.Result
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithArranger replaces the layout engine.
func WithArranger(a Arranger) Option {
	return func(s *Session) {
		if a != nil {
			s.arranger = a
		}
	}
}

// Session owns one workspace.
type Session struct {
	mu sync.Mutex

	ws       *workspace.Workspace
	cfg      *config.Config
	arranger Arranger
	metrics  layout.Metrics
	valOpts  validation.Options
	bounds   *layout.Rect
	logger   *slog.Logger

	findings []validation.Finding

	generation uint64
	saved      uint64
}

// New starts a session on an empty workspace.
func New(cfg *config.Config, opts ...Option) *Session {
	return newSession(workspace.New(), cfg, opts)
}

// Open starts a session on a decoded .phw document. Stored label offsets are
// kept as they are; no layout pass runs.
func Open(data []byte, cfg *config.Config, opts ...Option) (*Session, error) {
	ws, err := workspace.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return newSession(ws, cfg, opts), nil
}

func newSession(ws *workspace.Workspace, cfg *config.Config, opts []Option) *Session {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	layoutOpts := layout.OptionsFromConfig(cfg)
	s := &Session{
		ws:       ws,
		cfg:      cfg,
		arranger: layout.New(layoutOpts),
		metrics:  layoutOpts.Metrics,
		valOpts: validation.Options{
			OutlierSigma:   cfg.OutlierSigma,
			MinSamples:     cfg.OutlierMinSamples,
			NearWallMargin: cfg.NearWallMargin,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.revalidate()
	return s
}

// AddParticle creates a particle at pos, places its label around the
// existing ones and returns the new id.
func (s *Session) AddParticle(pos layout.Point) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.ws.AddParticle(pos)
	if err != nil {
		return "", err
	}
	s.placeOne(p)
	s.commit()
	s.logger.Debug("particle added", "id", p.ID, "name", p.Name(), "height", p.Height().Height)
	return p.ID, nil
}

// RemoveParticle deletes a particle and its label. Other labels stay put.
func (s *Session) RemoveParticle(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ws.RemoveParticle(id); err != nil {
		return s.desync("remove", id, err)
	}
	s.commit()
	return nil
}

// RenameParticle sets a custom name. An automatic label is re-placed since
// its size changed.
func (s *Session) RenameParticle(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ws.Rename(id, name); err != nil {
		return s.desync("rename", id, err)
	}
	if p, ok := s.ws.Particle(id); ok && !p.Label.ManuallyPositioned {
		s.placeOne(p)
	}
	s.commit()
	return nil
}

// SetNotes replaces a particle's notes.
func (s *Session) SetNotes(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ws.SetNotes(id, text); err != nil {
		return s.desync("notes", id, err)
	}
	s.commit()
	return nil
}

// MoveParticle relocates a particle, recomputes its height and re-places
// its label, which becomes automatic again.
func (s *Session) MoveParticle(id string, pos layout.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ws.MoveParticle(id, pos); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return s.desync("move", id, err)
		}
		return err
	}
	p, _ := s.ws.Particle(id)
	s.placeOne(p)
	s.commit()
	return nil
}

// MoveLabel pins a label at offset from its particle. No overlap
// resolution runs.
func (s *Session) MoveLabel(id string, offset layout.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ws.MoveLabel(id, offset); err != nil {
		return s.desync("move_label", id, err)
	}
	s.commit()
	return nil
}

// AutoArrange releases every manual label and runs a full layout pass.
func (s *Session) AutoArrange(ctx context.Context) LayoutReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.ws.Particles() {
		p.Label.ManuallyPositioned = false
	}
	report := s.apply(s.arranger.Arrange(ctx, s.fullRequest()))
	s.commit()
	return report
}

// Relayout runs a full pass over automatic labels without holding the lock
// while computing. The result is dropped if any edit landed meanwhile;
// applied reports whether it was kept.
func (s *Session) Relayout(ctx context.Context) (report LayoutReport, applied bool) {
	s.mu.Lock()
	req := s.fullRequest()
	gen := s.generation
	s.mu.Unlock()

	res := s.arranger.Arrange(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		s.logger.Debug("stale layout discarded", "computed_at", gen, "current", s.generation)
		return LayoutReport{}, false
	}
	report = s.apply(res)
	s.commit()
	return report, true
}

// SetCanvasBounds sets the area labels should stay inside.
func (s *Session) SetCanvasBounds(w, h float64) error {
	if !(w > 0) || !(h > 0) {
		return errors.NewInvalidRequest("canvas width and height must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := layout.Bounds(w, h)
	s.bounds = &b
	return nil
}

// SetImageReference records the opaque image reference.
func (s *Session) SetImageReference(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws.ImageReference = ref
	s.commit()
}

// SetName renames the workspace. An empty name restores the default.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		name = workspace.DefaultName
	}
	s.ws.Name = name
	s.commit()
}

// ExportRows returns the export rows in creation order.
func (s *Session) ExportRows() []workspace.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.Rows()
}

// Findings returns the current validation findings.
func (s *Session) Findings() []validation.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]validation.Finding(nil), s.findings...)
}

// Marshal encodes the workspace as a .phw document.
func (s *Session) Marshal() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return workspace.Marshal(s.ws)
}

// Checkpoint encodes the workspace together with the generation it
// reflects. Pass the generation to MarkSavedAt once the bytes are durable.
func (s *Session) Checkpoint() ([]byte, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := workspace.Marshal(s.ws)
	return data, s.generation, err
}

// MarkSavedAt records gen as persisted. Edits after gen keep the session
// dirty.
func (s *Session) MarkSavedAt(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen > s.saved {
		s.saved = gen
	}
}

// Name returns the workspace name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.Name
}

// Len returns the particle count.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.Len()
}

// Dirty reports whether anything changed since the last MarkSaved.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation != s.saved
}

// MarkSaved records the current state as persisted.
func (s *Session) MarkSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = s.generation
}

// Generation increments on every successful edit.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// commit finishes an edit. Callers hold the lock.
func (s *Session) commit() {
	s.revalidate()
	s.generation++
}

func (s *Session) revalidate() {
	particles := s.ws.Particles()
	samples := make([]validation.Sample, len(particles))
	for i, p := range particles {
		h := p.Height()
		samples[i] = validation.Sample{ID: p.ID, Height: h.Height, RelativePosition: h.RelativePosition}
	}
	s.findings = validation.Validate(samples, s.valOpts)
}

// desync logs a stale id coming from the caller; the edit is rejected.
func (s *Session) desync(op, id string, err error) error {
	if errors.Is(err, errors.ErrNotFound) {
		s.logger.Warn("particle not found", "op", op, "id", id)
	}
	return err
}
