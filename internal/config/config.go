package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds application configuration.
//
// Zero values mean "not set" when merging, so a repo config only overrides
// the keys it mentions.
type Config struct {
	// OutlierSigma is the number of standard deviations beyond which a
	// particle height is reported as an outlier.
	OutlierSigma float64 `json:"outlier_sigma,omitempty"`

	// OutlierMinSamples is the minimum particle count before outliers are reported.
	OutlierMinSamples int `json:"outlier_min_samples,omitempty"`

	// NearWallMargin is the relative-position margin (0..0.5) next to the
	// ceiling or floor that triggers a near-wall finding.
	NearWallMargin float64 `json:"near_wall_margin,omitempty"`

	// LabelDefaultOffsetX/Y seed every automatic label (label centre relative to its particle).
	LabelDefaultOffsetX float64 `json:"label_default_offset_x,omitempty"`
	LabelDefaultOffsetY float64 `json:"label_default_offset_y,omitempty"`

	// Label box metrics in canvas pixels at 100% scale.
	LabelCharWidth  float64 `json:"label_char_width,omitempty"`
	LabelLineHeight float64 `json:"label_line_height,omitempty"`
	LabelPadding    float64 `json:"label_padding,omitempty"`

	// LabelMargin is the clearance kept between two label boxes.
	LabelMargin float64 `json:"label_margin,omitempty"`

	// LabelScale multiplies every label box (1.0 = 100%).
	LabelScale float64 `json:"label_scale,omitempty"`

	// Ring search parameters for the label layout.
	LayoutRingStep      float64 `json:"layout_ring_step,omitempty"`
	LayoutDirections    int     `json:"layout_directions,omitempty"`
	LayoutMaxRadius     float64 `json:"layout_max_radius,omitempty"`
	LayoutMaxCandidates int     `json:"layout_max_candidates,omitempty"`

	// LayoutTimeBudgetMS caps a single layout pass. Labels not reached in
	// time keep their seed offset and are reported as degraded.
	LayoutTimeBudgetMS int `json:"layout_time_budget_ms,omitempty"`

	// CSVHeightPrecision is the number of decimals written for heights.
	CSVHeightPrecision int `json:"csv_height_precision,omitempty"`

	// RecoveryMaxSlots is how many recovery snapshots are kept per workspace.
	RecoveryMaxSlots int `json:"recovery_max_slots,omitempty"`

	// AllowedPaths is an allowlist of directories for workspace, CSV and overlay files.
	// Paths outside ~/.phase/exports and the working directory require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for file operations.
	// Symlink checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open recovery database connections.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool type names to disable entirely
	// ("workspace", "calibration", "particle", "label", "layout", "validation").
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		OutlierSigma:        2,
		OutlierMinSamples:   3,
		NearWallMargin:      0.05,
		LabelDefaultOffsetX: 0,
		LabelDefaultOffsetY: -40,
		LabelCharWidth:      7,
		LabelLineHeight:     16,
		LabelPadding:        4,
		LabelMargin:         2,
		LabelScale:          1,
		LayoutRingStep:      20,
		LayoutDirections:    16,
		LayoutMaxRadius:     400,
		LayoutMaxCandidates: 512,
		LayoutTimeBudgetMS:  250,
		CSVHeightPrecision:  2,
		RecoveryMaxSlots:    10,
	}
}

// LayoutTimeBudget returns the layout pass cap as a duration.
func (c *Config) LayoutTimeBudget() time.Duration {
	return time.Duration(c.LayoutTimeBudgetMS) * time.Millisecond
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.phase.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.phase) and repo (.phase) directories.
// Repo config is found by walking upward from startDir to find the nearest .phase/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .phase/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".phase", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		OutlierSigma:        pickFloat(overlay.OutlierSigma, base.OutlierSigma),
		OutlierMinSamples:   pickInt(overlay.OutlierMinSamples, base.OutlierMinSamples),
		NearWallMargin:      pickFloat(overlay.NearWallMargin, base.NearWallMargin),
		LabelDefaultOffsetX: pickFloat(overlay.LabelDefaultOffsetX, base.LabelDefaultOffsetX),
		LabelDefaultOffsetY: pickFloat(overlay.LabelDefaultOffsetY, base.LabelDefaultOffsetY),
		LabelCharWidth:      pickFloat(overlay.LabelCharWidth, base.LabelCharWidth),
		LabelLineHeight:     pickFloat(overlay.LabelLineHeight, base.LabelLineHeight),
		LabelPadding:        pickFloat(overlay.LabelPadding, base.LabelPadding),
		LabelMargin:         pickFloat(overlay.LabelMargin, base.LabelMargin),
		LabelScale:          pickFloat(overlay.LabelScale, base.LabelScale),
		LayoutRingStep:      pickFloat(overlay.LayoutRingStep, base.LayoutRingStep),
		LayoutDirections:    pickInt(overlay.LayoutDirections, base.LayoutDirections),
		LayoutMaxRadius:     pickFloat(overlay.LayoutMaxRadius, base.LayoutMaxRadius),
		LayoutMaxCandidates: pickInt(overlay.LayoutMaxCandidates, base.LayoutMaxCandidates),
		LayoutTimeBudgetMS:  pickInt(overlay.LayoutTimeBudgetMS, base.LayoutTimeBudgetMS),
		CSVHeightPrecision:  pickInt(overlay.CSVHeightPrecision, base.CSVHeightPrecision),
		RecoveryMaxSlots:    pickInt(overlay.RecoveryMaxSlots, base.RecoveryMaxSlots),
		DBMaxOpenConns:      pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:      pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickFloat(overlay, base float64) float64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
