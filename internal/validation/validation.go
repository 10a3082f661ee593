// Package validation produces advisory findings over a set of measured
// heights. Findings never block an edit.
package validation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Kind identifies the type of finding.
type Kind string

const (
	HeightOutlier Kind = "HEIGHT_OUTLIER"
	NearWall      Kind = "NEAR_WALL"
	OutOfBounds   Kind = "OUT_OF_BOUNDS"
)

// kindOrder fixes the order of findings for a single particle.
var kindOrder = []Kind{HeightOutlier, NearWall, OutOfBounds}

// Sample is one particle's measurement. Samples are passed in creation order.
type Sample struct {
	ID               string
	Height           float64
	RelativePosition float64
}

// Options tune the checks.
type Options struct {
	// OutlierSigma is k in |h - mean| > k·σ.
	OutlierSigma float64
	// MinSamples is the smallest sample count outliers are computed for.
	MinSamples int
	// NearWallMargin is the relative distance to ceiling or floor that counts as near.
	NearWallMargin float64
}

// DefaultOptions returns k = 2, at least 3 samples and a 5% margin.
func DefaultOptions() Options {
	return Options{OutlierSigma: 2, MinSamples: 3, NearWallMargin: 0.05}
}

// Finding is one advisory observation about a particle.
type Finding struct {
	ParticleID string  `json:"particle_id"`
	Kind       Kind    `json:"kind"`
	Message    string  `json:"message"`
	Value      float64 `json:"value"`
}

// Validate runs every check. Output is ordered by sample order, then kind.
func Validate(samples []Sample, opts Options) []Finding {
	outliers := outlierSet(samples, opts)

	var findings []Finding
	for i, s := range samples {
		for _, kind := range kindOrder {
			switch kind {
			case HeightOutlier:
				if z, ok := outliers[i]; ok {
					findings = append(findings, Finding{
						ParticleID: s.ID,
						Kind:       HeightOutlier,
						Message:    fmt.Sprintf("height is %.2fσ from the mean", z),
						Value:      s.Height,
					})
				}
			case NearWall:
				if isNearWall(s.RelativePosition, opts.NearWallMargin) {
					findings = append(findings, Finding{
						ParticleID: s.ID,
						Kind:       NearWall,
						Message:    nearWallMessage(s.RelativePosition),
						Value:      s.RelativePosition,
					})
				}
			case OutOfBounds:
				if s.RelativePosition < 0 || s.RelativePosition > 1 {
					findings = append(findings, Finding{
						ParticleID: s.ID,
						Kind:       OutOfBounds,
						Message:    "particle lies outside the capillary boundary",
						Value:      s.RelativePosition,
					})
				}
			}
		}
	}
	return findings
}

// outlierSet maps sample index to its z-score for every outlier.
func outlierSet(samples []Sample, opts Options) map[int]float64 {
	minSamples := opts.MinSamples
	if minSamples < 2 {
		minSamples = 2
	}
	if len(samples) < minSamples {
		return nil
	}

	heights := heightsOf(samples)
	mean, std := stat.MeanStdDev(heights, nil)
	if !(std > 0) {
		return nil
	}

	out := make(map[int]float64)
	for i, h := range heights {
		dev := math.Abs(h - mean)
		if dev > opts.OutlierSigma*std {
			out[i] = dev / std
		}
	}
	return out
}

func isNearWall(rel, margin float64) bool {
	if margin <= 0 {
		return false
	}
	return (rel >= 0 && rel <= margin) || (rel >= 1-margin && rel <= 1)
}

func nearWallMessage(rel float64) string {
	if rel >= 0.5 {
		return "particle is close to the ceiling"
	}
	return "particle is close to the floor"
}

func heightsOf(samples []Sample) []float64 {
	heights := make([]float64, len(samples))
	for i, s := range samples {
		heights[i] = s.Height
	}
	return heights
}

// Summary aggregates a sample set and its findings.
type Summary struct {
	Count       int     `json:"count"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Outliers    int     `json:"outliers"`
	NearWall    int     `json:"near_wall"`
	OutOfBounds int     `json:"out_of_bounds"`
}

// Summarize computes height statistics and counts findings per kind.
// StdDev is 0 below two samples.
func Summarize(samples []Sample, findings []Finding) Summary {
	s := Summary{Count: len(samples)}
	if len(samples) > 0 {
		heights := heightsOf(samples)
		s.Min = floats.Min(heights)
		s.Max = floats.Max(heights)
		if len(samples) > 1 {
			s.Mean, s.StdDev = stat.MeanStdDev(heights, nil)
		} else {
			s.Mean = heights[0]
		}
	}
	for _, f := range findings {
		switch f.Kind {
		case HeightOutlier:
			s.Outliers++
		case NearWall:
			s.NearWall++
		case OutOfBounds:
			s.OutOfBounds++
		}
	}
	return s
}
