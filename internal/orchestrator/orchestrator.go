// Package orchestrator runs the tiered enrichment state machine: admit,
// walk the source tiers in order, score each hit, route the accepted
// component, and record the audit trail.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/events"
	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/normalize"
	"github.com/partsledger/partsledger/internal/quality"
	"github.com/partsledger/partsledger/internal/source"
	"github.com/partsledger/partsledger/internal/store"
	"github.com/partsledger/partsledger/internal/throttle"
)

// slotGate is the concurrency admission surface. throttle.Throttle
// satisfies it.
type slotGate interface {
	Acquire(ctx context.Context, jobID string) (throttle.Slot, error)
}

// Config tunes one orchestrator instance.
type Config struct {
	// EnabledTiers is the ordered subset of tiers to attempt. Order is
	// fixed by cost: every enabled tier runs in its declared position.
	EnabledTiers []string `yaml:"enabled_tiers" mapstructure:"enabled_tiers"`
	// TierRetries is how many extra attempts a transient failure earns
	// within one tier before the tier is abandoned.
	TierRetries int `yaml:"tier_retries" mapstructure:"tier_retries"`
	// TierTimeout bounds a single fetch attempt.
	TierTimeout time.Duration `yaml:"tier_timeout" mapstructure:"tier_timeout"`
	// RetryBackoff is the pause between transient retries.
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	// Weights configures quality scoring.
	Weights quality.Weights `yaml:"quality_weights" mapstructure:"quality_weights"`
}

// DefaultConfig enables every tier with modest retry bounds.
func DefaultConfig() Config {
	return Config{
		EnabledTiers: source.TierOrder,
		TierRetries:  2,
		TierTimeout:  30 * time.Second,
		RetryBackoff: 500 * time.Millisecond,
		Weights:      quality.DefaultWeights(),
	}
}

// Orchestrator coordinates one enrichment attempt end to end. Safe for
// concurrent use; all per-job state lives on the stack.
type Orchestrator struct {
	order    []string
	adapters map[string]source.Adapter
	gate     slotGate
	store    store.Store
	emitter  events.Emitter
	cfg      Config
	now      func() time.Time
	newID    func() string
	sleep    func(ctx context.Context, d time.Duration) error
}

// New validates the tier configuration and builds an orchestrator.
// Refusing to start with no usable tiers is deliberate: a silently
// empty pipeline would reject every part.
func New(adapters []source.Adapter, gate slotGate, st store.Store, emitter events.Emitter, cfg Config) (*Orchestrator, error) {
	byName := make(map[string]source.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}

	var order []string
	for _, tier := range source.TierOrder {
		if !contains(cfg.EnabledTiers, tier) {
			continue
		}
		if _, ok := byName[tier]; !ok {
			return nil, eris.Errorf("orchestrator: tier %q enabled but no adapter registered", tier)
		}
		order = append(order, tier)
	}
	if len(order) == 0 {
		return nil, eris.New("orchestrator: no tiers enabled")
	}
	if emitter == nil {
		emitter = events.LogEmitter{}
	}

	return &Orchestrator{
		order:    order,
		adapters: byName,
		gate:     gate,
		store:    st,
		emitter:  emitter,
		cfg:      cfg,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		sleep:    sleepCtx,
	}, nil
}

// candidate is a scored tier hit held for best-of selection. The
// originating tier travels on component.Source.
type candidate struct {
	component *model.CanonicalComponent
	score     quality.Breakdown
	bucket    quality.Bucket
}

// Enrich runs the full state machine for one part. The returned result is
// always non-nil when error is nil, including rejections; the error return
// is reserved for admission refusal and cancellation.
//
// A caller that pins ec.JobID resumes the job's persisted checkpoint:
// tiers already attempted are not re-fetched, and the best candidate from
// the earlier run carries over.
func (o *Orchestrator) Enrich(ctx context.Context, mpn, manufacturer string, ec model.EnrichmentContext) (*model.EnrichmentResult, error) {
	start := o.now()
	job, cp, err := o.openJob(ctx, mpn, manufacturer, ec, start)
	if err != nil {
		return nil, err
	}

	slot, err := o.gate.Acquire(ctx, job.ID)
	if err != nil {
		o.transition(ctx, job, model.StateRejectedNoCapacity)
		result := o.finalize(job, nil, nil, start)
		result.LineItemID = ec.LineItemID
		result.Error = "concurrency capacity exceeded"
		o.record(ctx, job, result)
		return result, eris.Wrap(err, "orchestrator: admission")
	}
	// Release must survive cancellation and panics in adapter code.
	releaseCtx := context.WithoutCancel(ctx)
	defer slot.Release(releaseCtx)

	o.transition(ctx, job, model.StateAdmitted)

	var (
		best      *candidate
		attempts  []model.TierAttempt
		attempted = map[string]bool{}
	)
	if cp != nil {
		attempts = cp.Attempts
		for _, a := range cp.Attempts {
			attempted[a.Tier] = true
		}
		if cp.Best != nil {
			breakdown := quality.ScoreWith(cp.Best, o.cfg.Weights)
			best = &candidate{component: cp.Best, score: breakdown, bucket: breakdown.Bucket}
		}
		zap.L().Info("resuming from checkpoint",
			zap.String("job_id", job.ID), zap.Int("tiers_attempted", len(cp.Attempts)))
	}

	for _, tier := range o.order {
		if attempted[tier] {
			continue
		}
		// A staging-or-better hit ends the walk; later tiers cost more
		// and cannot improve the routing decision enough to matter.
		if best != nil && best.bucket != quality.BucketRejected {
			break
		}
		// Cancellation is honored between tiers, never mid-fetch.
		if ctx.Err() != nil {
			o.transition(releaseCtx, job, model.StateCancelled)
			o.clearCheckpoint(releaseCtx, job.ID)
			result := o.finalize(job, nil, attempts, start)
			result.LineItemID = ec.LineItemID
			result.Error = "cancelled"
			o.record(releaseCtx, job, result)
			return result, eris.Wrap(ctx.Err(), "orchestrator: cancelled")
		}

		o.transition(ctx, job, model.StateTierAttempt)
		cand, attempt := o.attemptTier(ctx, tier, mpn, manufacturer)
		attempts = append(attempts, attempt)
		if cand != nil && (best == nil || cand.score.Final > best.score.Final) {
			best = cand
		}
		o.checkpoint(ctx, job.ID, attempts, best)
	}

	if best != nil {
		if best.bucket != quality.BucketRejected {
			o.transition(ctx, job, model.StateAccepted)
		} else {
			o.transition(ctx, job, model.StateExhausted)
		}
	}

	result := o.finalize(job, best, attempts, start)
	result.LineItemID = ec.LineItemID
	o.persist(ctx, job, best, result)
	o.clearCheckpoint(ctx, job.ID)
	o.record(ctx, job, result)
	return result, nil
}

// openJob creates the job record, or reloads it together with its
// checkpoint when the caller pinned the id of an earlier attempt.
func (o *Orchestrator) openJob(ctx context.Context, mpn, manufacturer string, ec model.EnrichmentContext, start time.Time) (*model.JobRecord, *model.Checkpoint, error) {
	if ec.JobID != "" {
		if job, err := o.store.GetJob(ctx, ec.JobID); err == nil {
			cp, cperr := o.store.GetCheckpoint(ctx, ec.JobID)
			if cperr != nil {
				if !eris.Is(cperr, store.ErrNotFound) {
					zap.L().Warn("checkpoint load failed, restarting walk",
						zap.String("job_id", ec.JobID), zap.Error(cperr))
				}
				cp = nil
			}
			job.UpdatedAt = start
			return job, cp, nil
		}
	}

	job := &model.JobRecord{
		ID:           ec.JobID,
		OrgID:        ec.OrgID,
		MPN:          mpn,
		Manufacturer: manufacturer,
		Trigger:      ec.Source,
		Priority:     ec.Priority,
		State:        model.StatePending,
		CreatedAt:    start,
		UpdatedAt:    start,
	}
	if job.ID == "" {
		job.ID = o.newID()
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, nil, eris.Wrap(err, "orchestrator: create job")
	}
	return job, nil, nil
}

// checkpoint persists the tier cursor. Failure is logged only; cursor
// durability never blocks the walk.
func (o *Orchestrator) checkpoint(ctx context.Context, jobID string, attempts []model.TierAttempt, best *candidate) {
	cp := &model.Checkpoint{JobID: jobID, Attempts: attempts, UpdatedAt: o.now()}
	if best != nil {
		cp.Best = best.component
	}
	if err := o.store.SaveCheckpoint(ctx, cp); err != nil {
		zap.L().Warn("checkpoint save failed",
			zap.String("job_id", jobID), zap.Error(err))
	}
}

func (o *Orchestrator) clearCheckpoint(ctx context.Context, jobID string) {
	if err := o.store.DeleteCheckpoint(ctx, jobID); err != nil {
		zap.L().Warn("checkpoint delete failed",
			zap.String("job_id", jobID), zap.Error(err))
	}
}

// attemptTier runs one tier with bounded transient retries and reports
// the audit record for it.
func (o *Orchestrator) attemptTier(ctx context.Context, tier, mpn, manufacturer string) (*candidate, model.TierAttempt) {
	adapter := o.adapters[tier]
	began := o.now()
	attempt := model.TierAttempt{Tier: tier}

	var raw *model.RawSourceResult
	var err error
	for try := 0; try <= o.cfg.TierRetries; try++ {
		if try > 0 {
			if serr := o.sleep(ctx, o.cfg.RetryBackoff); serr != nil {
				break
			}
		}
		raw, err = o.fetchOnce(ctx, adapter, mpn, manufacturer)
		if err == nil || !source.IsTransient(err) {
			break
		}
		zap.L().Debug("tier attempt failed, retrying",
			zap.String("tier", tier), zap.Int("try", try), zap.Error(err))
	}
	attempt.DurationMS = o.now().Sub(began).Milliseconds()

	switch {
	case err == nil:
		comp := normalize.Normalize(*raw)
		breakdown := quality.ScoreWith(&comp, o.cfg.Weights)
		attempt.Outcome = "hit"
		attempt.Score = breakdown.Final
		attempt.Bucket = string(breakdown.Bucket)
		return &candidate{component: &comp, score: breakdown, bucket: breakdown.Bucket}, attempt
	case source.IsNotFound(err):
		attempt.Outcome = "not_found"
		return nil, attempt
	default:
		attempt.Outcome = "error"
		attempt.Error = err.Error()
		zap.L().Warn("tier exhausted",
			zap.String("tier", tier), zap.String("mpn", mpn), zap.Error(err))
		return nil, attempt
	}
}

// fetchOnce runs a single fetch under the per-attempt timeout.
func (o *Orchestrator) fetchOnce(ctx context.Context, adapter source.Adapter, mpn, manufacturer string) (*model.RawSourceResult, error) {
	if o.cfg.TierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.TierTimeout)
		defer cancel()
	}
	return adapter.Fetch(ctx, mpn, manufacturer)
}

// finalize assembles the immutable result from the walk's outcome.
func (o *Orchestrator) finalize(job *model.JobRecord, best *candidate, attempts []model.TierAttempt, start time.Time) *model.EnrichmentResult {
	result := &model.EnrichmentResult{
		JobID:            job.ID,
		MPN:              job.MPN,
		Manufacturer:     job.Manufacturer,
		Destination:      model.RouteRejected,
		TierAttempts:     attempts,
		ProcessingTimeMS: o.now().Sub(start).Milliseconds(),
		State:            job.State,
		CompletedAt:      o.now(),
	}
	for _, a := range attempts {
		result.TiersUsed = append(result.TiersUsed, a.Tier)
		if a.Outcome == "hit" || a.Outcome == "error" {
			switch a.Tier {
			case source.TierAI:
				result.AIUsed = true
			case source.TierScrape:
				result.WebScrapingUsed = true
			}
		}
	}
	if best != nil {
		result.QualityScore = best.score.Final
		result.Component = best.component
		switch best.bucket {
		case quality.BucketProduction:
			result.Destination = model.RouteProduction
			result.Success = true
		case quality.BucketStaging:
			result.Destination = model.RouteStaging
			result.Success = true
		default:
			result.Destination = model.RouteRejected
		}
	}
	return result
}

// persist routes the accepted component and moves the job to its terminal
// state. The catalog upsert only happens for routed components.
func (o *Orchestrator) persist(ctx context.Context, job *model.JobRecord, best *candidate, result *model.EnrichmentResult) {
	if result.Success && best != nil {
		if err := o.store.UpsertComponent(ctx, best.component); err != nil {
			zap.L().Error("catalog upsert failed",
				zap.String("mpn", result.MPN), zap.Error(err))
			result.Degraded = true
		}
	}

	if job.State != model.StateCancelled {
		job.State = model.StateCompleted
	}
	score := result.QualityScore
	job.QualityScore = &score
	job.Destination = result.Destination
	job.Error = result.Error
	result.State = job.State
	o.transition(ctx, job, job.State)
}

// record appends the audit trail entry and publishes the terminal event.
// Neither failure is fatal; both mark the result degraded.
func (o *Orchestrator) record(ctx context.Context, job *model.JobRecord, result *model.EnrichmentResult) {
	if err := o.store.AppendHistory(ctx, result); err != nil {
		zap.L().Error("history append failed",
			zap.String("job_id", job.ID), zap.Error(err))
		result.Degraded = true
	}
	if err := o.emitter.EnrichmentCompleted(ctx, result); err != nil {
		zap.L().Error("event publish failed",
			zap.String("job_id", job.ID), zap.Error(err))
		result.Degraded = true
	}
}

// transition moves the job's persisted state. Failures are logged only;
// the in-memory state machine is authoritative for the current run.
func (o *Orchestrator) transition(ctx context.Context, job *model.JobRecord, state model.JobState) {
	job.State = state
	job.UpdatedAt = o.now()
	if err := o.store.UpdateJob(ctx, job); err != nil {
		zap.L().Warn("job state update failed",
			zap.String("job_id", job.ID), zap.String("state", string(state)), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
