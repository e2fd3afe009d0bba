package workflow

import (
	"context"

	"go.temporal.io/sdk/worker"
	temporalworkflow "go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/orchestrator"
	"github.com/partsledger/partsledger/internal/risk"
)

// BOMHealthInput feeds the ScoreBOMHealth activity.
type BOMHealthInput struct {
	OrgID string           `json:"org_id"`
	BOMID string           `json:"bom_id"`
	Items []model.LineItem `json:"items"`
}

// reviewPusher delivers staging-routed results to the manual review
// queue. Optional; a nil pusher skips delivery.
type reviewPusher interface {
	Push(ctx context.Context, result *model.EnrichmentResult) error
}

// Activities bundles the worker-side implementations behind the workflow
// definitions.
type Activities struct {
	orch   *orchestrator.Orchestrator
	risk   *risk.Calculator
	review reviewPusher
}

// ActivityOption configures optional activity collaborators.
type ActivityOption func(*Activities)

// WithReviewQueue delivers staging-routed results for manual review.
func WithReviewQueue(q reviewPusher) ActivityOption {
	return func(a *Activities) { a.review = q }
}

// NewActivities wires the orchestrator and risk calculator into Temporal
// activities.
func NewActivities(orch *orchestrator.Orchestrator, calc *risk.Calculator, opts ...ActivityOption) *Activities {
	a := &Activities{orch: orch, risk: calc}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EnrichPart runs one enrichment. Capacity rejections and cancellations
// return an error so Temporal's retry policy takes over; everything else,
// including quality rejections, is a successful activity with the outcome
// in the result.
func (a *Activities) EnrichPart(ctx context.Context, input SinglePartInput) (*model.EnrichmentResult, error) {
	result, err := a.orch.Enrich(ctx, input.MPN, input.Manufacturer, input.Context)
	if err != nil {
		return nil, err
	}
	if result.Success {
		// Fresh catalog data supersedes any cached risk score.
		a.risk.Invalidate(result.MPN, result.Manufacturer)
	}
	if a.review != nil && result.Destination == model.RouteStaging {
		if err := a.review.Push(ctx, result); err != nil {
			zap.L().Warn("review queue delivery failed",
				zap.String("mpn", result.MPN), zap.Error(err))
		}
	}
	return result, nil
}

// ScoreBOMHealth computes the aggregate BOM grade after a run.
func (a *Activities) ScoreBOMHealth(ctx context.Context, input BOMHealthInput) (model.BOMHealth, error) {
	health, err := a.risk.ScoreBOM(ctx, input.OrgID, input.BOMID, input.Items)
	if err != nil {
		return model.BOMHealth{}, err
	}
	zap.L().Info("bom health computed",
		zap.String("bom_id", input.BOMID),
		zap.String("grade", string(health.Grade)),
		zap.Float64("weighted_risk", health.WeightedRisk))
	return health, nil
}

// Register attaches the workflows and activities to a worker.
func Register(w worker.Worker, a *Activities) {
	w.RegisterWorkflowWithOptions(SinglePartEnrichment,
		temporalworkflow.RegisterOptions{Name: SinglePartWorkflowName})
	w.RegisterWorkflowWithOptions(BOMEnrichment,
		temporalworkflow.RegisterOptions{Name: BOMWorkflowName})
	w.RegisterActivity(a.EnrichPart)
	w.RegisterActivity(a.ScoreBOMHealth)
}
