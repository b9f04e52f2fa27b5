package model

import "time"

// Quality presets accepted by the remote service.
const (
	QualitySuperfast = "superfast"
	QualityFast      = "fast"
	QualityBalanced  = "balanced"
	QualityHigh      = "high"
)

// Defaults applied when a submission leaves quality or seed unset.
const (
	DefaultQuality = QualityBalanced
	DefaultSeed    = 42
)

// Qualities lists the presets from fastest to slowest.
var Qualities = []string{QualitySuperfast, QualityFast, QualityBalanced, QualityHigh}

// qualityEstimates holds rough wall-clock generation times per preset, used
// only for operator hints. The service itself decides how long a job takes.
var qualityEstimates = map[string]time.Duration{
	QualitySuperfast: 15 * time.Second,
	QualityFast:      60 * time.Second,
	QualityBalanced:  90 * time.Second,
	QualityHigh:      180 * time.Second,
}

// ValidQuality reports whether q is a recognized preset.
func ValidQuality(q string) bool {
	_, ok := qualityEstimates[q]
	return ok
}

// QualityEstimate returns the rough expected generation time for a preset,
// or zero for an unknown one.
func QualityEstimate(q string) time.Duration {
	return qualityEstimates[q]
}
