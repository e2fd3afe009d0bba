package model

import "time"

// RiskScore is the weighted risk assessment for a single component.
// Higher is riskier; all scores are 0-100.
type RiskScore struct {
	MPN          string    `json:"mpn"`
	Manufacturer string    `json:"manufacturer"`
	Overall      float64   `json:"overall"`
	Lifecycle    float64   `json:"lifecycle"`
	SupplyChain  float64   `json:"supply_chain"`
	Compliance   float64   `json:"compliance"`
	Obsolescence float64   `json:"obsolescence"`
	SingleSource float64   `json:"single_source"`
	ComputedAt   time.Time `json:"computed_at"`
}

// HealthGrade is an A-F letter grade summarizing aggregate BOM risk.
type HealthGrade string

const (
	GradeA HealthGrade = "A"
	GradeB HealthGrade = "B"
	GradeC HealthGrade = "C"
	GradeD HealthGrade = "D"
	GradeF HealthGrade = "F"
)

// BOMHealth aggregates component risk across a BOM, weighted by
// quantity-adjusted criticality.
type BOMHealth struct {
	BOMID         string      `json:"bom_id"`
	WeightedRisk  float64     `json:"weighted_risk"`
	Grade         HealthGrade `json:"grade"`
	LineItemCount int         `json:"line_item_count"`
	ScoredCount   int         `json:"scored_count"`
	HighRiskMPNs  []string    `json:"high_risk_mpns,omitempty"`
	ComputedAt    time.Time   `json:"computed_at"`
}

// RiskProfile holds per-organization risk weights and thresholds, read from
// persistence with documented defaults when absent.
type RiskProfile struct {
	OrgID              string  `json:"org_id"`
	LifecycleWeight    float64 `json:"lifecycle_weight"`
	SupplyChainWeight  float64 `json:"supply_chain_weight"`
	ComplianceWeight   float64 `json:"compliance_weight"`
	ObsolescenceWeight float64 `json:"obsolescence_weight"`
	SingleSourceWeight float64 `json:"single_source_weight"`
	HighRiskThreshold  float64 `json:"high_risk_threshold"`
}

// DefaultRiskProfile returns the documented default weights: lifecycle 30%,
// supply chain 25%, compliance 20%, obsolescence 15%, single source 10%.
func DefaultRiskProfile(orgID string) RiskProfile {
	return RiskProfile{
		OrgID:              orgID,
		LifecycleWeight:    0.30,
		SupplyChainWeight:  0.25,
		ComplianceWeight:   0.20,
		ObsolescenceWeight: 0.15,
		SingleSourceWeight: 0.10,
		HighRiskThreshold:  70,
	}
}
