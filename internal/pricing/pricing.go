// Package pricing computes credit costs for each service. The numbers here
// are shared by cost-estimate displays and server-side charges, so they are
// integer-only and always round up.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"dubhub/internal/model"
)

const (
	// CreditsPerUSD converts a marked-up USD price into credits.
	CreditsPerUSD = 100
	// Markup is the fixed multiplier applied over vendor base rates.
	Markup = 5

	// Base rates in micro-USD.
	dubbingPerMinutePerLanguage = 20_000 // $0.02
	subtitlesPerRun             = 10_000 // $0.01
	videoGenerationPerSecond    = 5_000  // $0.005

	premiumSubtitlesFactor = 2

	microPerUSD = 1_000_000

	// MaxDurationSeconds bounds the media length any job may be priced for.
	MaxDurationSeconds = 4 * 60 * 60
	// MaxLanguages bounds the target languages of a single dubbing job.
	MaxLanguages = 30
)

// ErrOutOfRange is returned when a quantity cannot be priced.
var ErrOutOfRange = errors.New("quantity out of range")

// Request describes a prospective job for estimation.
type Request struct {
	Service         model.JobType `json:"type"`
	DurationMinutes float64       `json:"durationMinutes,omitempty"`
	DurationSeconds float64       `json:"durationSeconds,omitempty"`
	Languages       int           `json:"languages,omitempty"`
	Premium         bool          `json:"premium,omitempty"`
}

// credits converts units of a base rate into credits, rounding up.
func credits(units, baseMicroUSD int64) (int64, error) {
	perUnit := baseMicroUSD * Markup * CreditsPerUSD
	if units < 0 || units > math.MaxInt64/perUnit {
		return 0, ErrOutOfRange
	}
	num := units * perUnit
	if num == 0 {
		return 0, nil
	}
	return (num-1)/microPerUSD + 1, nil
}

// ceilUnits rounds a quantity up to whole units. Zero and negative values
// price as nothing; anything above max is rejected.
func ceilUnits(v, max float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v > max {
		return 0, fmt.Errorf("%w: %v", ErrOutOfRange, v)
	}
	if v <= 0 {
		return 0, nil
	}
	return int64(math.Ceil(v)), nil
}

// DubbingCost charges per started minute per target language.
func DubbingCost(minutes float64, languages int) (int64, error) {
	if languages <= 0 {
		return 0, nil
	}
	if languages > MaxLanguages {
		return 0, fmt.Errorf("%w: %d languages", ErrOutOfRange, languages)
	}
	units, err := ceilUnits(minutes, MaxDurationSeconds/60)
	if err != nil {
		return 0, err
	}
	return credits(units*int64(languages), dubbingPerMinutePerLanguage)
}

// SubtitlesCost is a flat per-run price, scaled for the premium tier.
func SubtitlesCost(premium bool) int64 {
	units := int64(1)
	if premium {
		units = premiumSubtitlesFactor
	}
	cost, _ := credits(units, subtitlesPerRun)
	return cost
}

// VideoGenerationCost charges per started second of generated video.
func VideoGenerationCost(seconds float64) (int64, error) {
	units, err := ceilUnits(seconds, MaxDurationSeconds)
	if err != nil {
		return 0, err
	}
	return credits(units, videoGenerationPerSecond)
}

// Estimate dispatches to the per-service cost function.
func Estimate(req Request) (int64, error) {
	switch req.Service {
	case model.JobTypeDubbing:
		if req.Languages <= 0 {
			return 0, fmt.Errorf("dubbing requires at least one language")
		}
		return DubbingCost(req.DurationMinutes, req.Languages)
	case model.JobTypeSubtitles:
		return SubtitlesCost(req.Premium), nil
	case model.JobTypeVideoGeneration:
		return VideoGenerationCost(req.DurationSeconds)
	default:
		return 0, fmt.Errorf("unknown service type %q", req.Service)
	}
}
