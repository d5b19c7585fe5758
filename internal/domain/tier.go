package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
)

// Tier is the caller's plan, carried in the access token.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ParseTier maps a claim value onto a tier; unknown values fall back to free.
func ParseTier(raw string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierPro:
		return TierPro
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

// Capabilities is what a tier may request and consume.
type Capabilities struct {
	MaxBatch        int      `json:"max_batch"`
	Qualities       []string `json:"qualities"`
	Kinds           []Kind   `json:"kinds"`
	MaxVideoSeconds int      `json:"max_video_seconds"`
	DailyUnits      int      `json:"daily_units"`
}

// CapabilityTable maps tiers to their capabilities.
type CapabilityTable map[Tier]Capabilities

// DefaultCapabilities is used when no TIER_CAPABILITIES_FILE is configured.
func DefaultCapabilities() CapabilityTable {
	return CapabilityTable{
		TierFree: {
			MaxBatch:   1,
			Qualities:  []string{QualityStandard},
			Kinds:      []Kind{KindTextToImage, KindImageToImage, KindRefine},
			DailyUnits: 10,
		},
		TierPro: {
			MaxBatch:        4,
			Qualities:       []string{QualityStandard, QualityHD},
			Kinds:           Kinds,
			MaxVideoSeconds: 10,
			DailyUnits:      200,
		},
		TierEnterprise: {
			MaxBatch:        8,
			Qualities:       []string{QualityStandard, QualityHD, QualityUltra},
			Kinds:           Kinds,
			MaxVideoSeconds: 30,
			DailyUnits:      2000,
		},
	}
}

// LoadCapabilities reads a JSON capability table from path and overlays it on
// the defaults. An empty path returns the defaults.
func LoadCapabilities(path string) (CapabilityTable, error) {
	table := DefaultCapabilities()
	path = strings.TrimSpace(path)
	if path == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier capabilities: %w", err)
	}
	var overrides map[string]Capabilities
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("decode tier capabilities: %w", err)
	}
	for name, caps := range overrides {
		tier := Tier(strings.ToLower(strings.TrimSpace(name)))
		for _, k := range caps.Kinds {
			if _, err := ParseKind(string(k)); err != nil {
				return nil, fmt.Errorf("tier %s: %w", tier, err)
			}
		}
		table[tier] = caps
	}
	return table, nil
}

// For returns the capabilities of tier.
func (t CapabilityTable) For(tier Tier) (Capabilities, error) {
	caps, ok := t[tier]
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: %s", ErrUnsupportedTier, tier)
	}
	return caps, nil
}

// Allows checks kind and params against the capability set.
func (c Capabilities) Allows(kind Kind, params Parameters) error {
	if !slices.Contains(c.Kinds, kind) {
		return NewValidationError("kind", "%s is not available on this plan", kind)
	}
	if params.BatchSize < 0 {
		return NewValidationError("batch_size", "must not be negative")
	}
	if params.Batch() > c.MaxBatch {
		return NewValidationError("batch_size", "at most %d outputs per request on this plan", c.MaxBatch)
	}
	quality := NormalizeQuality(params.Quality)
	if _, known := qualityMultiplier[quality]; !known {
		return NewValidationError("quality", "unknown quality %q", params.Quality)
	}
	if !slices.Contains(c.Qualities, quality) {
		return NewValidationError("quality", "%s quality is not available on this plan", quality)
	}
	if kind.IsVideo() {
		if params.DurationSeconds < 0 {
			return NewValidationError("duration_seconds", "must not be negative")
		}
		if params.DurationSeconds > c.MaxVideoSeconds {
			return NewValidationError("duration_seconds", "at most %d seconds on this plan", c.MaxVideoSeconds)
		}
	}
	return nil
}
