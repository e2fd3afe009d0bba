package model

import "time"

// LineItem identifies one BOM row. Immutable once created; belongs to
// exactly one BOM.
type LineItem struct {
	LineID       string `json:"line_id"`
	BOMID        string `json:"bom_id"`
	MPN          string `json:"mpn"`
	Manufacturer string `json:"manufacturer"`
	Quantity     int    `json:"quantity"`
	Reference    string `json:"reference,omitempty"` // designators, e.g. "R1,R2,R7"
}

// TriggerSource identifies who initiated an enrichment.
type TriggerSource string

const (
	TriggerCustomer TriggerSource = "customer"
	TriggerStaff    TriggerSource = "staff"
)

// Priority orders competing enrichment requests.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// EnrichmentContext is the caller's environment for one enrichment attempt.
// Passed by value through the pipeline; never mutated after creation.
type EnrichmentContext struct {
	OrgID      string        `json:"org_id"`
	ProjectID  string        `json:"project_id,omitempty"`
	BOMID      string        `json:"bom_id,omitempty"`
	LineItemID string        `json:"line_item_id,omitempty"`
	Source     TriggerSource `json:"source"`
	Priority   Priority      `json:"priority"`
	// JobID pins the run to a stable identifier. A retried execution
	// carrying the same JobID resumes its persisted checkpoint instead
	// of restarting every tier under a fresh job. Empty means a new job
	// id is minted.
	JobID string `json:"job_id,omitempty"`
}

// RoutingDestination is where an enriched component ends up.
type RoutingDestination string

const (
	RouteProduction RoutingDestination = "production"
	RouteStaging    RoutingDestination = "staging"
	RouteRejected   RoutingDestination = "rejected"
)

// JobState is the orchestrator's externally visible state.
type JobState string

const (
	StatePending            JobState = "PENDING"
	StateAdmitted           JobState = "ADMITTED"
	StateTierAttempt        JobState = "TIER_ATTEMPT"
	StateAccepted           JobState = "ACCEPTED"
	StateExhausted          JobState = "EXHAUSTED"
	StateCompleted          JobState = "COMPLETED"
	StateCancelled          JobState = "CANCELLED"
	StateRejectedNoCapacity JobState = "REJECTED_NO_CAPACITY"
)

// JobRecord is the persisted view of an enrichment job, queryable by
// status surfaces while the orchestration is still running.
type JobRecord struct {
	ID           string             `json:"id"`
	OrgID        string             `json:"org_id"`
	MPN          string             `json:"mpn"`
	Manufacturer string             `json:"manufacturer"`
	Trigger      TriggerSource      `json:"trigger"`
	Priority     Priority           `json:"priority"`
	State        JobState           `json:"state"`
	QualityScore *float64           `json:"quality_score,omitempty"`
	Destination  RoutingDestination `json:"destination,omitempty"`
	Error        string             `json:"error,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// TierAttempt records one tier's outcome for the audit trail.
type TierAttempt struct {
	Tier       string  `json:"tier"`
	Outcome    string  `json:"outcome"` // "hit", "not_found", "error", "skipped"
	Score      float64 `json:"score,omitempty"`
	Bucket     string  `json:"bucket,omitempty"`
	DurationMS int64   `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// Checkpoint is the resumable cursor for an in-flight enrichment: the
// tiers already attempted and the best candidate seen so far. Persisted
// after every tier so a crashed run continues from the last completed
// tier instead of restarting the walk.
type Checkpoint struct {
	JobID     string              `json:"job_id"`
	Attempts  []TierAttempt       `json:"attempts"`
	Best      *CanonicalComponent `json:"best,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// EnrichmentResult is the outcome of one orchestration run. Created once
// per attempt, immutable, persisted, and published to downstream consumers.
type EnrichmentResult struct {
	JobID            string              `json:"job_id"`
	LineItemID       string              `json:"line_item_id,omitempty"`
	MPN              string              `json:"mpn"`
	Manufacturer     string              `json:"manufacturer"`
	Success          bool                `json:"success"`
	QualityScore     float64             `json:"quality_score"`
	Destination      RoutingDestination  `json:"routing_destination"`
	TiersUsed        []string            `json:"tiers_used"`
	TierAttempts     []TierAttempt       `json:"tier_attempts,omitempty"`
	AIUsed           bool                `json:"ai_used"`
	WebScrapingUsed  bool                `json:"web_scraping_used"`
	ProcessingTimeMS int64               `json:"processing_time_ms"`
	Component        *CanonicalComponent `json:"component,omitempty"`
	State            JobState            `json:"state"`
	Degraded         bool                `json:"degraded,omitempty"` // audit write failed
	Error            string              `json:"error,omitempty"`
	CompletedAt      time.Time           `json:"completed_at"`
}
