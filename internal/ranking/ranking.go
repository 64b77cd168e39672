// Package ranking scores items once, at ingestion time.
package ranking

import (
	"math"
	"time"
)

const (
	// UndatedFreshness applies to items whose source gives no usable timestamp.
	UndatedFreshness = 0.2

	freshnessCeiling = 1.2
	decayHours       = 48.0
	freshnessWeight  = 0.7
	sourceWeight     = 0.3
)

// FreshnessScore decays linearly from 1.2 to 0 over 48 hours of age. Ages below
// zero (clock skew) count as zero. There is no upper cap below 1.2.
func FreshnessScore(publishedAt *time.Time, now time.Time) float64 {
	if publishedAt == nil {
		return UndatedFreshness
	}
	ageHours := max(now.UTC().Sub(publishedAt.UTC()).Hours(), 0)
	return max(0, freshnessCeiling-ageHours/decayHours)
}

// ComputeScore blends freshness with the static source weight, rounded to four
// decimal places.
func ComputeScore(weight float64, publishedAt *time.Time, now time.Time) float64 {
	raw := FreshnessScore(publishedAt, now)*freshnessWeight + weight*sourceWeight
	return math.Round(raw*1e4) / 1e4
}
