// Package monitoring aggregates enrichment outcomes into operator-facing
// snapshots.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/store"
)

// MetricsSnapshot holds a point-in-time view of enrichment health.
type MetricsSnapshot struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
	AvgScore    float64 `json:"avg_score"`
	AvgTimeMS   int64   `json:"avg_time_ms"`

	// Bucket mix.
	Production int `json:"production"`
	Staging    int `json:"staging"`
	Rejected   int `json:"rejected"`

	// Tier usage across the window.
	TierUsage  map[string]int `json:"tier_usage"`
	AIUsed     int            `json:"ai_used"`
	ScrapeUsed int            `json:"scrape_used"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the enrichment history.
type Collector struct {
	history store.HistoryStore
}

func NewCollector(history store.HistoryStore) *Collector {
	return &Collector{history: history}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		TierUsage:     map[string]int{},
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)
	results, err := c.history.ListHistory(ctx, cutoff, 10000)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list history")
	}

	var totalScore float64
	var totalTime int64
	var scored int
	for _, r := range results {
		snap.Total++
		if r.Success {
			snap.Succeeded++
		} else {
			snap.Failed++
		}
		switch r.Destination {
		case model.RouteProduction:
			snap.Production++
		case model.RouteStaging:
			snap.Staging++
		case model.RouteRejected:
			snap.Rejected++
		}
		for _, tier := range r.TiersUsed {
			snap.TierUsage[tier]++
		}
		if r.AIUsed {
			snap.AIUsed++
		}
		if r.WebScrapingUsed {
			snap.ScrapeUsed++
		}
		if r.QualityScore > 0 {
			totalScore += r.QualityScore
			scored++
		}
		totalTime += r.ProcessingTimeMS
	}

	if snap.Total > 0 {
		snap.SuccessRate = float64(snap.Succeeded) / float64(snap.Total)
		snap.AvgTimeMS = totalTime / int64(snap.Total)
	}
	if scored > 0 {
		snap.AvgScore = totalScore / float64(scored)
	}
	return snap, nil
}
