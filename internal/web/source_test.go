package web

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vxco/phase/internal/config"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/session"
)

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.phw")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	opens := 0
	src := FileSource(path, time.Minute, func(string) (*session.Session, error) {
		opens++
		return session.New(config.DefaultConfig()), nil
	})

	first, err := src()
	require.NoError(t, err)
	second, err := src()
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, opens)

	// A rewrite changes the size and the modification time.
	require.NoError(t, os.WriteFile(path, []byte("version 2"), 0o644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	third, err := src()
	require.NoError(t, err)
	require.NotSame(t, first, third)
	require.Equal(t, 2, opens)
}

func TestFileSource_Errors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.phw")

	src := FileSource(path, time.Minute, func(p string) (*session.Session, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, errors.NewFileNotFound(p)
		}
		return nil, errors.NewCorruptWorkspace("bad header")
	})

	_, err := src()
	require.True(t, errors.Is(err, errors.ErrFileNotFound))

	// Failed decodes are not cached.
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))
	_, err = src()
	require.True(t, errors.Is(err, errors.ErrCorruptWorkspace))
	_, err = src()
	require.True(t, errors.Is(err, errors.ErrCorruptWorkspace))
}
