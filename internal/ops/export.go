package ops

import (
	"io"
	"time"

	"github.com/vxco/phase/internal/config"
	"github.com/vxco/phase/internal/session"
	"github.com/vxco/phase/internal/workspace"
)

// ExportInput contains parameters for the ExportCSV operation.
type ExportInput struct {
	Path string // optional, default: ~/.phase/exports/<workspace>-<timestamp>.csv
}

// ExportOutput contains the result of the ExportCSV operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportCSV writes one row per particle in creation order. The header is
// written even when there are no particles.
func ExportCSV(s *session.Session, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	now := time.Now()

	exportPath := input.Path
	if exportPath == "" {
		var err error
		exportPath, err = defaultExportPath(s.Name(), ".csv", now)
		if err != nil {
			return nil, err
		}
	}

	// Default paths are validated too; the workspace name is user input.
	if err := ValidatePath(exportPath, PathCheckWrite, KindCSV, cfg); err != nil {
		return nil, err
	}

	rows := s.ExportRows()
	err := writeFileAtomic(exportPath, func(w io.Writer) error {
		return workspace.WriteCSV(w, rows, cfg.CSVHeightPrecision)
	})
	if err != nil {
		return nil, err
	}

	return &ExportOutput{
		Path:       exportPath,
		Count:      len(rows),
		ExportedAt: now.Unix(),
	}, nil
}
