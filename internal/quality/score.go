// Package quality turns a canonical component into a 0-100 quality score
// and a routing bucket. The bucket thresholds are a hard contract that
// routing and risk eligibility depend on.
package quality

import (
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/model"
)

// Bucket is the quality routing bucket derived from the score.
type Bucket string

const (
	BucketProduction Bucket = "production"
	BucketStaging    Bucket = "staging"
	BucketRejected   Bucket = "rejected"
)

// Bucket thresholds. Must not drift: >=95 production, >=70 staging.
const (
	ProductionThreshold = 95.0
	StagingThreshold    = 70.0
)

// Weights controls the relative contribution of each sub-score. The four
// weights are normalized against their sum, so they need not total 100.
type Weights struct {
	Completeness float64 `yaml:"completeness" mapstructure:"completeness"`
	Compliance   float64 `yaml:"compliance" mapstructure:"compliance"`
	Pricing      float64 `yaml:"pricing" mapstructure:"pricing"`
	Description  float64 `yaml:"description" mapstructure:"description"`
}

// DefaultWeights returns the standard weighting: spec completeness 32,
// compliance presence 8, pricing/availability 35, description/datasheet 25.
func DefaultWeights() Weights {
	return Weights{
		Completeness: 32,
		Compliance:   8,
		Pricing:      35,
		Description:  25,
	}
}

// Breakdown holds the individual sub-scores (each 0.0-1.0) and the final
// weighted 0-100 score.
type Breakdown struct {
	Completeness float64 `json:"completeness"`
	Compliance   float64 `json:"compliance"`
	Pricing      float64 `json:"pricing"`
	Description  float64 `json:"description"`
	Final        float64 `json:"final"`
	Bucket       Bucket  `json:"bucket"`
}

// Score evaluates a canonical component with the default weights.
func Score(c *model.CanonicalComponent) Breakdown {
	return ScoreWith(c, DefaultWeights())
}

// ScoreWith evaluates a canonical component against the given weights.
// Deterministic, pure; a nil component scores zero and routes to rejected.
func ScoreWith(c *model.CanonicalComponent, w Weights) Breakdown {
	if c == nil {
		return Breakdown{Bucket: BucketRejected}
	}

	b := Breakdown{
		Completeness: scoreCompleteness(c),
		Compliance:   scoreCompliance(c),
		Pricing:      scorePricing(c),
		Description:  scoreDescription(c),
	}

	total := w.Completeness + w.Compliance + w.Pricing + w.Description
	if total == 0 {
		zap.L().Warn("quality: all weights are zero, falling back to completeness-only")
		b.Final = b.Completeness * 100
	} else {
		b.Final = 100 * (w.Completeness*b.Completeness +
			w.Compliance*b.Compliance +
			w.Pricing*b.Pricing +
			w.Description*b.Description) / total
	}

	if b.Final < 0 {
		b.Final = 0
	}
	if b.Final > 100 {
		b.Final = 100
	}

	b.Bucket = BucketFor(b.Final)
	return b
}

// BucketFor maps a 0-100 score onto its routing bucket.
func BucketFor(score float64) Bucket {
	switch {
	case score >= ProductionThreshold:
		return BucketProduction
	case score >= StagingThreshold:
		return BucketStaging
	default:
		return BucketRejected
	}
}

// scoreCompleteness is the fraction of the controlled extracted_specs
// vocabulary that is populated.
func scoreCompleteness(c *model.CanonicalComponent) float64 {
	if len(c.ExtractedSpecs) == 0 {
		return 0
	}
	populated := 0
	for _, k := range model.SpecVocabulary {
		if v, ok := c.ExtractedSpecs[k]; ok && v != "" {
			populated++
		}
	}
	return float64(populated) / float64(len(model.SpecVocabulary))
}

// scoreCompliance is binary: full credit when any compliance flag is
// present (true or false; a known "no" is still known data).
func scoreCompliance(c *model.CanonicalComponent) float64 {
	if c.HasCompliance() {
		return 1
	}
	return 0
}

// scorePricing grades price and availability presence independently.
func scorePricing(c *model.CanonicalComponent) float64 {
	s := 0.0
	if c.UnitPrice != nil {
		s += 0.5
	}
	if c.StockQty != nil {
		s += 0.5
	}
	return s
}

// scoreDescription grades description and datasheet presence independently.
func scoreDescription(c *model.CanonicalComponent) float64 {
	s := 0.0
	if c.Description != "" {
		s += 0.5
	}
	if c.DatasheetURL != "" {
		s += 0.5
	}
	return s
}
