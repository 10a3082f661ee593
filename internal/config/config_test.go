package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OutlierSigma != DefaultConfig().OutlierSigma {
		t.Fatalf("OutlierSigma = %v, want %v", cfg.OutlierSigma, DefaultConfig().OutlierSigma)
	}
	if cfg.NearWallMargin != 0.05 {
		t.Fatalf("NearWallMargin = %v, want 0.05", cfg.NearWallMargin)
	}
	if cfg.LabelDefaultOffsetY != -40 {
		t.Fatalf("LabelDefaultOffsetY = %v, want -40", cfg.LabelDefaultOffsetY)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"outlier_sigma": 3, "layout_max_radius": 120}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OutlierSigma != 3 {
		t.Fatalf("OutlierSigma = %v, want 3", cfg.OutlierSigma)
	}
	if cfg.LayoutMaxRadius != 120 {
		t.Fatalf("LayoutMaxRadius = %v, want 120", cfg.LayoutMaxRadius)
	}
	// Untouched keys keep defaults
	if cfg.LayoutDirections != DefaultConfig().LayoutDirections {
		t.Fatalf("LayoutDirections = %d, want default %d", cfg.LayoutDirections, DefaultConfig().LayoutDirections)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_DisabledTools(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"disabled_tools": ["particle_remove", "layout_arrange"]}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.DisabledTools) != 2 {
		t.Fatalf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
	if cfg.DisabledTools[0] != "particle_remove" {
		t.Errorf("DisabledTools[0] = %q, want %q", cfg.DisabledTools[0], "particle_remove")
	}
	if cfg.DisabledTools[1] != "layout_arrange" {
		t.Errorf("DisabledTools[1] = %q, want %q", cfg.DisabledTools[1], "layout_arrange")
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalConfig := `{"outlier_sigma": 2.5, "disabled_tools": ["particle_remove"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	phaseDir := filepath.Join(repoRoot, ".phase")
	if err := os.MkdirAll(phaseDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	repoConfig := `{"outlier_sigma": 3, "disabled_tools": ["layout_arrange"]}`
	if err := os.WriteFile(filepath.Join(phaseDir, "config.json"), []byte(repoConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, repoRoot)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.OutlierSigma != 3 {
		t.Errorf("OutlierSigma = %v, want 3 (repo override)", cfg.OutlierSigma)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.OutlierSigma != 2 {
		t.Errorf("OutlierSigma = %v, want 2", cfg.OutlierSigma)
	}
	if len(cfg.DisabledTools) != 0 {
		t.Errorf("DisabledTools = %v, want empty", cfg.DisabledTools)
	}
}

func TestLoadWithRepo_WalksUpward(t *testing.T) {
	tmpDir := t.TempDir()
	globalDir := t.TempDir()

	phaseDir := filepath.Join(tmpDir, ".phase")
	if err := os.MkdirAll(phaseDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(phaseDir, "config.json"), []byte(`{"label_scale": 1.5}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	subdir := filepath.Join(tmpDir, "images", "run-3")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, subdir)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.LabelScale != 1.5 {
		t.Errorf("LabelScale = %v, want 1.5", cfg.LabelScale)
	}
}

func TestFindRepoConfig_NotFound(t *testing.T) {
	found := FindRepoConfig(t.TempDir())
	if found != "" {
		t.Errorf("FindRepoConfig() = %q, want empty string", found)
	}
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{OutlierSigma: 2, DBMaxOpenConns: 5, LayoutDirections: 16}
	overlay := &Config{OutlierSigma: 3}

	result := Merge(base, overlay)

	if result.OutlierSigma != 3 {
		t.Errorf("OutlierSigma = %v, want 3 (overlay)", result.OutlierSigma)
	}
	if result.DBMaxOpenConns != 5 {
		t.Errorf("DBMaxOpenConns = %d, want 5 (base, overlay is zero)", result.DBMaxOpenConns)
	}
	if result.LayoutDirections != 16 {
		t.Errorf("LayoutDirections = %d, want 16", result.LayoutDirections)
	}
}

func TestMerge_BooleanOr(t *testing.T) {
	result := Merge(&Config{AllowUnsafePaths: true}, &Config{AllowUnsafePaths: false})

	if !result.AllowUnsafePaths {
		t.Error("AllowUnsafePaths should be true (base OR overlay)")
	}
}

func TestMerge_ArrayMergeDedup(t *testing.T) {
	base := &Config{DisabledTypes: []string{"label", " layout "}}
	overlay := &Config{DisabledTypes: []string{"layout", "validation"}}

	result := Merge(base, overlay)

	if len(result.DisabledTypes) != 3 {
		t.Fatalf("DisabledTypes = %v, want 3 merged entries", result.DisabledTypes)
	}
	has := make(map[string]bool)
	for _, s := range result.DisabledTypes {
		has[s] = true
	}
	for _, want := range []string{"label", "layout", "validation"} {
		if !has[want] {
			t.Errorf("DisabledTypes missing %q", want)
		}
	}
}

func TestLayoutTimeBudget(t *testing.T) {
	cfg := &Config{LayoutTimeBudgetMS: 250}
	if got := cfg.LayoutTimeBudget(); got != 250*time.Millisecond {
		t.Errorf("LayoutTimeBudget() = %v, want 250ms", got)
	}
}
