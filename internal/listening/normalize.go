package listening

import (
	"math"

	"marginalia/internal/textutil"
)

// Recording duration limits in milliseconds.
const (
	MinCapDurationMs     int64 = 60_000
	MaxCapDurationMs     int64 = 14_400_000
	DefaultCapDurationMs int64 = 1_800_000

	MinWarningDurationMs     int64 = 15_000
	DefaultWarningDurationMs int64 = 60_000
	WarningHeadroomMs        int64 = 5_000
)

// Stored text limits, in characters.
const (
	MaxTranscriptLiveChars = 4000
	MaxLastErrorChars      = 1000
	MaxFailedStageChars    = 100
)

// Completion caps.
const (
	MaxSynthesizedNotes     = 12
	MaxItemsPerSection      = 6
	MaxContextExpansions    = 4
	MaxQuotes               = 6
	DefaultProvider         = "unknown"
	defaultQuoteTitle       = "Quote"
)

// NormalizeCapDuration clamps the requested recording cap. Missing or
// non-finite values fall back to the default.
func NormalizeCapDuration(requested *float64) int64 {
	if requested == nil || math.IsNaN(*requested) || math.IsInf(*requested, 0) {
		return DefaultCapDurationMs
	}
	return clamp(int64(math.Floor(*requested)), MinCapDurationMs, MaxCapDurationMs)
}

// NormalizeWarningDuration clamps the warning threshold against an already
// normalized cap.
func NormalizeWarningDuration(requested *float64, capMs int64) int64 {
	ceiling := capMs - WarningHeadroomMs
	if ceiling < MinWarningDurationMs {
		ceiling = MinWarningDurationMs
	}
	if requested == nil || math.IsNaN(*requested) || math.IsInf(*requested, 0) {
		return min(DefaultWarningDurationMs, ceiling)
	}
	return clamp(int64(math.Floor(*requested)), MinWarningDurationMs, ceiling)
}

// NormalizeTranscriptLive bounds the live transcript preview.
func NormalizeTranscriptLive(value string) string {
	return textutil.CollapseAndTruncate(value, MaxTranscriptLiveChars)
}

// NormalizeLastError bounds a stored failure message.
func NormalizeLastError(value string) string {
	return textutil.CollapseAndTruncate(value, MaxLastErrorChars)
}

// NormalizeFailedStage bounds a stored failure stage label.
func NormalizeFailedStage(value string) string {
	return textutil.Truncate(textutil.CollapseWhitespace(value), MaxFailedStageChars)
}

// NormalizeDuration floors a reported duration and clamps it at zero.
func NormalizeDuration(value float64) int64 {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return 0
	}
	return int64(math.Floor(value))
}

func clamp(value, lo, hi int64) int64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
