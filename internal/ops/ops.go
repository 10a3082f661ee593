// Package ops is the file boundary around a session: opening and saving
// .phw documents, CSV export, the geometry overlay, image probing, the
// reference catalogue and recovery slots. Every path goes through
// ValidatePath first.
package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vxco/phase/internal/errors"
)

// WorkspaceKey identifies a workspace file across runs. It is the absolute,
// cleaned path so "./a.phw" and "/home/x/a.phw" share recovery slots.
func WorkspaceKey(path string) (string, error) {
	if path == "" {
		return "", errors.NewInvalidRequest("path is required")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}
	return abs, nil
}

// defaultExportPath builds ~/.phase/exports/<name>-<timestamp><ext>.
func defaultExportPath(name, ext string, now time.Time) (string, error) {
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s-%s%s", SanitizeForFilename(name), now.Format("2006-01-02T150405"), ext)
	return filepath.Join(dir, filename), nil
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
