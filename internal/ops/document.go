package ops

import (
	"io"
	"time"

	"github.com/vxco/phase/internal/config"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/session"
)

// SaveOutput contains the result of a save.
type SaveOutput struct {
	Path       string `json:"path"`
	Generation uint64 `json:"generation"`
	Particles  int    `json:"particles"`
	Bytes      int    `json:"bytes"`
	SavedAt    int64  `json:"saved_at"`
}

// CreateInput contains parameters for CreateWorkspace.
type CreateInput struct {
	Path           string
	Name           string // optional, default "Untitled Workspace"
	ImageReference string // optional
	Force          bool   // overwrite an existing file
}

// CreateWorkspace writes a new, empty workspace document and returns its
// session.
func CreateWorkspace(cfg *config.Config, input CreateInput, opts ...session.Option) (*session.Session, *SaveOutput, error) {
	if err := ValidatePath(input.Path, PathCheckWrite, KindWorkspace, cfg); err != nil {
		return nil, nil, err
	}
	if !input.Force && fileExists(input.Path) {
		return nil, nil, errors.NewInvalidRequest("workspace file already exists (use force to overwrite)")
	}

	s := session.New(cfg, opts...)
	if input.Name != "" {
		s.SetName(input.Name)
	}
	if input.ImageReference != "" {
		s.SetImageReference(input.ImageReference)
	}
	out, err := SaveWorkspace(s, input.Path, cfg)
	if err != nil {
		return nil, nil, err
	}
	return s, out, nil
}

// OpenWorkspace loads a .phw document into a new session. Stored label
// offsets are kept; no layout pass runs.
func OpenWorkspace(path string, cfg *config.Config, opts ...session.Option) (*session.Session, error) {
	if err := ValidatePath(path, PathCheckRead, KindWorkspace, cfg); err != nil {
		return nil, err
	}
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return session.Open(data, cfg, opts...)
}

// SaveWorkspace writes the session's document atomically and marks the
// written generation as saved.
func SaveWorkspace(s *session.Session, path string, cfg *config.Config) (*SaveOutput, error) {
	if err := ValidatePath(path, PathCheckWrite, KindWorkspace, cfg); err != nil {
		return nil, err
	}

	data, gen, err := s.Checkpoint()
	if err != nil {
		return nil, err
	}
	err = writeFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.MarkSavedAt(gen)

	return &SaveOutput{
		Path:       path,
		Generation: gen,
		Particles:  s.Len(),
		Bytes:      len(data),
		SavedAt:    time.Now().Unix(),
	}, nil
}
