// Package risk computes component and BOM supply-chain risk from the
// enriched catalog, weighted per organization profile.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/events"
	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/normalize"
	"github.com/partsledger/partsledger/internal/store"
)

// ErrNotEnriched means no catalog record exists for the part, so there is
// nothing to score.
var ErrNotEnriched = eris.New("risk: component not enriched")

// cacheTTL bounds staleness of cached scores. Invalidation on
// re-enrichment is the primary freshness mechanism; the TTL is the
// backstop.
const cacheTTL = 15 * time.Minute

type cachedScore struct {
	score   model.RiskScore
	expires time.Time
}

// catalogReader is the persistence surface the calculator needs.
type catalogReader interface {
	store.ComponentStore
	store.ProfileStore
}

// Calculator scores components and BOMs. Scores are cached per catalog
// key until the part is re-enriched or the TTL lapses.
type Calculator struct {
	store   catalogReader
	emitter events.Emitter
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedScore
}

// NewCalculator creates a risk calculator over the catalog store.
func NewCalculator(st catalogReader, emitter events.Emitter) *Calculator {
	if emitter == nil {
		emitter = events.LogEmitter{}
	}
	return &Calculator{
		store:   st,
		emitter: emitter,
		now:     time.Now,
		cache:   map[string]cachedScore{},
	}
}

// ScoreMPN loads the enriched component and scores it. Cached results are
// served until invalidated.
func (c *Calculator) ScoreMPN(ctx context.Context, orgID, mpn, manufacturer string) (model.RiskScore, error) {
	key := normalize.CatalogKey(mpn, manufacturer)

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok && c.now().Before(cached.expires) {
		c.mu.Unlock()
		return cached.score, nil
	}
	c.mu.Unlock()

	comp, err := c.store.GetComponent(ctx, mpn, manufacturer)
	if eris.Is(err, store.ErrNotFound) {
		return model.RiskScore{}, ErrNotEnriched
	}
	if err != nil {
		return model.RiskScore{}, eris.Wrap(err, "risk: load component")
	}

	profile, err := c.store.RiskProfile(ctx, orgID)
	if err != nil {
		return model.RiskScore{}, eris.Wrap(err, "risk: load profile")
	}

	score := c.ScoreComponent(comp, profile)

	c.mu.Lock()
	c.cache[key] = cachedScore{score: score, expires: c.now().Add(cacheTTL)}
	c.mu.Unlock()

	if err := c.emitter.RiskScored(ctx, &score); err != nil {
		zap.L().Warn("risk event publish failed", zap.String("mpn", mpn), zap.Error(err))
	}
	return score, nil
}

// Invalidate drops the cached score for a part. Called after
// re-enrichment so the next read reflects fresh catalog data.
func (c *Calculator) Invalidate(mpn, manufacturer string) {
	c.mu.Lock()
	delete(c.cache, normalize.CatalogKey(mpn, manufacturer))
	c.mu.Unlock()
}

// ScoreComponent computes the weighted risk for one component. Pure;
// no I/O and no caching.
func (c *Calculator) ScoreComponent(comp *model.CanonicalComponent, profile model.RiskProfile) model.RiskScore {
	s := model.RiskScore{
		MPN:          comp.MPN,
		Manufacturer: comp.Manufacturer,
		Lifecycle:    lifecycleRisk(comp.Lifecycle),
		SupplyChain:  supplyChainRisk(comp),
		Compliance:   complianceRisk(comp),
		Obsolescence: obsolescenceRisk(comp, c.now().Year()),
		SingleSource: singleSourceRisk(comp.SupplierCount),
		ComputedAt:   c.now().UTC(),
	}

	totalWeight := profile.LifecycleWeight + profile.SupplyChainWeight +
		profile.ComplianceWeight + profile.ObsolescenceWeight + profile.SingleSourceWeight
	if totalWeight <= 0 {
		profile = model.DefaultRiskProfile(profile.OrgID)
		totalWeight = 1
	}

	s.Overall = (s.Lifecycle*profile.LifecycleWeight +
		s.SupplyChain*profile.SupplyChainWeight +
		s.Compliance*profile.ComplianceWeight +
		s.Obsolescence*profile.ObsolescenceWeight +
		s.SingleSource*profile.SingleSourceWeight) / totalWeight
	return s
}

// ScoreBOM aggregates component risk across a BOM, weighting each line by
// quantity. Unscoreable lines (not yet enriched) are skipped and counted.
func (c *Calculator) ScoreBOM(ctx context.Context, orgID, bomID string, items []model.LineItem) (model.BOMHealth, error) {
	profile, err := c.store.RiskProfile(ctx, orgID)
	if err != nil {
		return model.BOMHealth{}, eris.Wrap(err, "risk: load profile")
	}

	health := model.BOMHealth{
		BOMID:         bomID,
		LineItemCount: len(items),
		ComputedAt:    c.now().UTC(),
	}

	var weightedSum, totalQty float64
	for _, item := range items {
		score, err := c.ScoreMPN(ctx, orgID, item.MPN, item.Manufacturer)
		if eris.Is(err, ErrNotEnriched) {
			continue
		}
		if err != nil {
			return model.BOMHealth{}, err
		}
		qty := float64(item.Quantity)
		if qty <= 0 {
			qty = 1
		}
		weightedSum += score.Overall * qty
		totalQty += qty
		health.ScoredCount++
		if score.Overall >= profile.HighRiskThreshold {
			health.HighRiskMPNs = append(health.HighRiskMPNs, item.MPN)
		}
	}
	if totalQty > 0 {
		health.WeightedRisk = weightedSum / totalQty
	}
	health.Grade = gradeFor(health.WeightedRisk)
	return health, nil
}

// lifecycleRisk maps supplier lifecycle stages to risk. Unknown status is
// mid-scale: absence of data is itself a risk signal.
func lifecycleRisk(status model.LifecycleStatus) float64 {
	switch status {
	case model.LifecycleActive:
		return 0
	case model.LifecyclePreview:
		return 15
	case model.LifecycleNRND:
		return 60
	case model.LifecycleLastTimeBuy:
		return 85
	case model.LifecycleDiscontinued:
		return 95
	case model.LifecycleObsolete:
		return 100
	default:
		return 50
	}
}

// supplyChainRisk blends stock depth and lead time.
func supplyChainRisk(comp *model.CanonicalComponent) float64 {
	stock := 50.0
	if comp.StockQty != nil {
		switch qty := *comp.StockQty; {
		case qty == 0:
			stock = 100
		case qty < 100:
			stock = 80
		case qty < 1000:
			stock = 50
		case qty < 10000:
			stock = 20
		default:
			stock = 0
		}
	}

	lead := 50.0
	if comp.LeadTimeDays != nil {
		switch days := *comp.LeadTimeDays; {
		case days <= 7:
			lead = 0
		case days <= 28:
			lead = 20
		case days <= 90:
			lead = 60
		default:
			lead = 100
		}
	}

	return 0.6*stock + 0.4*lead
}

// complianceRisk penalizes known non-compliance hard and missing data
// moderately.
func complianceRisk(comp *model.CanonicalComponent) float64 {
	if comp.RoHSCompliant != nil && !*comp.RoHSCompliant {
		return 100
	}
	if comp.REACHCompliant != nil && !*comp.REACHCompliant {
		return 80
	}
	if !comp.HasCompliance() {
		return 40
	}
	return 0
}

// obsolescenceRisk estimates end-of-life pressure from lifecycle stage
// and part age when the introduction year is known.
func obsolescenceRisk(comp *model.CanonicalComponent, currentYear int) float64 {
	base := lifecycleRisk(comp.Lifecycle) * 0.7
	if comp.IntroducedYear > 0 {
		age := currentYear - comp.IntroducedYear
		switch {
		case age > 25:
			base += 30
		case age > 15:
			base += 20
		case age > 8:
			base += 10
		}
	}
	if base > 100 {
		base = 100
	}
	return base
}

// singleSourceRisk scores sourcing breadth. Zero known sellers means the
// aggregator tier never saw the part, which is treated as a single source.
func singleSourceRisk(suppliers int) float64 {
	switch {
	case suppliers <= 1:
		return 100
	case suppliers == 2:
		return 60
	case suppliers <= 4:
		return 30
	default:
		return 0
	}
}

// gradeFor buckets weighted BOM risk into the A-F report grade.
func gradeFor(weighted float64) model.HealthGrade {
	switch {
	case weighted < 20:
		return model.GradeA
	case weighted < 40:
		return model.GradeB
	case weighted < 60:
		return model.GradeC
	case weighted < 80:
		return model.GradeD
	default:
		return model.GradeF
	}
}
