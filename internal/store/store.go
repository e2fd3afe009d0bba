// Package store persists canonical components, enrichment jobs and
// history, supplier OAuth tokens, and per-organization risk profiles.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/source"
)

// ErrNotFound means the requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// ComponentStore is the catalog of enriched canonical components, keyed
// by the normalized catalog key. Upserts are idempotent per key.
type ComponentStore interface {
	UpsertComponent(ctx context.Context, c *model.CanonicalComponent) error
	GetComponent(ctx context.Context, mpn, manufacturer string) (*model.CanonicalComponent, error)
}

// JobStore tracks enrichment job lifecycle for status surfaces.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.JobRecord) error
	UpdateJob(ctx context.Context, job *model.JobRecord) error
	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	ListJobs(ctx context.Context, orgID string, limit int) ([]*model.JobRecord, error)
}

// HistoryStore keeps the append-only enrichment audit trail.
type HistoryStore interface {
	AppendHistory(ctx context.Context, result *model.EnrichmentResult) error
	ListHistory(ctx context.Context, since time.Time, limit int) ([]*model.EnrichmentResult, error)
}

// CheckpointStore holds the resumable tier cursor for in-flight jobs.
// One row per job id; deleted when the job reaches a terminal state.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error
	GetCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, jobID string) error
}

// ProfileStore reads organization risk profiles. A missing profile is not
// an error; the documented defaults are returned instead.
type ProfileStore interface {
	RiskProfile(ctx context.Context, orgID string) (model.RiskProfile, error)
	SaveRiskProfile(ctx context.Context, profile model.RiskProfile) error
}

// Store is the full persistence surface. The supplier token operations
// satisfy the source adapters' TokenStore.
type Store interface {
	ComponentStore
	JobStore
	HistoryStore
	CheckpointStore
	ProfileStore
	source.TokenStore
}
