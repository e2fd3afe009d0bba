package model

import "time"

// SpecKey is a recognized technical-parameter name in the controlled
// extracted_specs vocabulary. Parameters outside this vocabulary are
// dropped during normalization, never stored ad hoc.
type SpecKey string

const (
	SpecPackage     SpecKey = "package"
	SpecVoltage     SpecKey = "voltage"
	SpecCurrent     SpecKey = "current"
	SpecPower       SpecKey = "power"
	SpecResistance  SpecKey = "resistance"
	SpecCapacitance SpecKey = "capacitance"
	SpecFrequency   SpecKey = "frequency"
	SpecTempRange   SpecKey = "temp_range"
)

// SpecVocabulary is the full controlled vocabulary, in declaration order.
var SpecVocabulary = []SpecKey{
	SpecPackage,
	SpecVoltage,
	SpecCurrent,
	SpecPower,
	SpecResistance,
	SpecCapacitance,
	SpecFrequency,
	SpecTempRange,
}

// LifecycleStatus is a supplier-reported component lifecycle stage.
type LifecycleStatus string

const (
	LifecycleActive       LifecycleStatus = "ACTIVE"
	LifecycleNRND         LifecycleStatus = "NRND"
	LifecycleLastTimeBuy  LifecycleStatus = "LAST_TIME_BUY"
	LifecycleObsolete     LifecycleStatus = "OBSOLETE"
	LifecyclePreview      LifecycleStatus = "PREVIEW"
	LifecycleDiscontinued LifecycleStatus = "DISCONTINUED"
	LifecycleUnknown      LifecycleStatus = ""
)

// RawSourceResult is the tier-specific payload returned by a source adapter
// before normalization. Parameter names and value types vary by supplier
// (booleans, "yes"/"no" strings, "1"/"0", "Compliant"/"Qualified") and are
// reconciled by the normalizer. Transient; only a bounded excerpt is
// retained for audit.
type RawSourceResult struct {
	Source        string            `json:"source"`
	MPN           string            `json:"mpn"`
	Manufacturer  string            `json:"manufacturer"`
	Description   string            `json:"description,omitempty"`
	Category      string            `json:"category,omitempty"`
	Lifecycle     string            `json:"lifecycle,omitempty"`
	DatasheetURL  string            `json:"datasheet_url,omitempty"`
	UnitPrice     *float64          `json:"unit_price,omitempty"`
	StockQty      *int              `json:"stock_qty,omitempty"`
	LeadTimeDays  *int              `json:"lead_time_days,omitempty"`
	SupplierCount int               `json:"supplier_count,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	FetchedAt     time.Time         `json:"fetched_at"`
}

// CanonicalComponent is the normalized component shape. Compliance fields
// are strict booleans (nil means absent, never a string); ExtractedSpecs
// keys are drawn from SpecVocabulary only.
type CanonicalComponent struct {
	MPN            string             `json:"mpn"`
	Manufacturer   string             `json:"manufacturer"`
	Category       string             `json:"category,omitempty"`
	Description    string             `json:"description,omitempty"`
	DatasheetURL   string             `json:"datasheet_url,omitempty"`
	Lifecycle      LifecycleStatus    `json:"lifecycle_status"`
	UnitPrice      *float64           `json:"unit_price,omitempty"`
	StockQty       *int               `json:"stock_qty,omitempty"`
	LeadTimeDays   *int               `json:"lead_time_days,omitempty"`
	SupplierCount  int                `json:"supplier_count,omitempty"`
	RoHSCompliant  *bool              `json:"rohs_compliant,omitempty"`
	REACHCompliant *bool              `json:"reach_compliant,omitempty"`
	AECQualified   *bool              `json:"aec_qualified,omitempty"`
	ExtractedSpecs map[SpecKey]string `json:"extracted_specs,omitempty"`
	Source         string             `json:"source,omitempty"`
	IntroducedYear int                `json:"introduced_year,omitempty"`
	NormalizedAt   time.Time          `json:"normalized_at,omitempty"`
}

// HasPricing reports whether any pricing or availability signal is present.
func (c *CanonicalComponent) HasPricing() bool {
	return c.UnitPrice != nil || c.StockQty != nil
}

// HasCompliance reports whether any compliance flag is present.
func (c *CanonicalComponent) HasCompliance() bool {
	return c.RoHSCompliant != nil || c.REACHCompliant != nil || c.AECQualified != nil
}
