package model

import "time"

// MarketSample is a raw liquidity reading returned by the exchange.
type MarketSample struct {
	Spread    float64
	Depth     float64
	Volume    float64
	Mid       float64
	Timestamp time.Time
}

// LiquiditySnapshot is the normalized liquidity view of one asset at one instant.
type LiquiditySnapshot struct {
	Asset     string    `json:"asset"`
	Timestamp time.Time `json:"timestamp"`

	Spread float64 `json:"spread"`
	Depth  float64 `json:"depth"`
	Volume float64 `json:"volume"`
	Mid    float64 `json:"mid"`

	NormSpread float64 `json:"normSpread"`
	NormDepth  float64 `json:"normDepth"`
	NormVolume float64 `json:"normVolume"`
	Score      float64 `json:"score"`

	// WeightSum and Normalized expose how Score was weighted.
	WeightSum  float64 `json:"weightSum"`
	Normalized bool    `json:"normalized"`

	Stale bool `json:"stale"`
}

// FeatureCount is the number of features emitted per snapshot.
const FeatureCount = 5

// Features returns the per-snapshot feature vector. prevMid is the mid of the
// preceding snapshot in the window, zero when there is none.
func (s LiquiditySnapshot) Features(prevMid float64) [FeatureCount]float64 {
	var ret float64
	if prevMid > 0 && s.Mid > 0 {
		ret = (s.Mid - prevMid) / prevMid
	}
	return [FeatureCount]float64{s.Score, s.NormSpread, s.NormDepth, s.NormVolume, ret}
}

// IsStaleAt reports whether the snapshot is older than maxAge at now.
func (s LiquiditySnapshot) IsStaleAt(now time.Time, maxAge time.Duration) bool {
	if s.Timestamp.IsZero() {
		return true
	}
	return now.Sub(s.Timestamp) > maxAge
}
