package domain

import (
	"math"
	"strings"
)

const (
	QualityStandard = "standard"
	QualityHD       = "hd"
	QualityUltra    = "ultra"
)

// DefaultVideoSeconds applies when a video request omits its duration.
const DefaultVideoSeconds = 5

var qualityMultiplier = map[string]float64{
	QualityStandard: 1,
	QualityHD:       1.5,
	QualityUltra:    2,
}

// NormalizeQuality lowercases q and defaults it to standard.
func NormalizeQuality(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return QualityStandard
	}
	return q
}

// CostUnits is the quota charge for one job: kind base × quality multiplier
// × batch size, rounded up. Video adds one unit per started 5 seconds beyond
// the first five.
func CostUnits(kind Kind, params Parameters) int {
	base := 1.0
	if kind.IsVideo() {
		base = 5
		seconds := params.DurationSeconds
		if seconds <= 0 {
			seconds = DefaultVideoSeconds
		}
		if extra := seconds - DefaultVideoSeconds; extra > 0 {
			base += math.Ceil(float64(extra) / 5)
		}
	}
	mult, ok := qualityMultiplier[NormalizeQuality(params.Quality)]
	if !ok {
		mult = 1
	}
	return int(math.Ceil(base * mult * float64(params.Batch())))
}
