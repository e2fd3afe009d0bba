// Package workflow hosts the durable-execution definitions: BOM and
// single-part enrichment runs driven by Temporal, with per-activity
// retry policies for slot-capacity rejection.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/partsledger/partsledger/internal/model"
)

// TaskQueue is the queue both the API and the workers point at.
const TaskQueue = "partsledger-enrichment"

// Workflow names, referenced by string so callers need no function value.
const (
	SinglePartWorkflowName = "singlePartEnrichmentWorkflow"
	BOMWorkflowName        = "bomEnrichmentWorkflow"
)

// enrichActivityOptions governs per-line enrichment. The retry policy
// absorbs REJECTED_NO_CAPACITY outcomes: a capacity rejection surfaces
// as an activity error and is retried with backoff until a slot frees.
var enrichActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 10 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    2 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    2 * time.Minute,
		MaximumAttempts:    8,
	},
}

var riskActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 2 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    3,
	},
}

// SinglePartInput starts one enrichment.
type SinglePartInput struct {
	MPN          string                  `json:"mpn"`
	Manufacturer string                  `json:"manufacturer,omitempty"`
	Context      model.EnrichmentContext `json:"context"`
}

// BOMInput starts an enrichment run over a whole BOM.
type BOMInput struct {
	BOMID   string                  `json:"bom_id"`
	Items   []model.LineItem        `json:"items"`
	Context model.EnrichmentContext `json:"context"`
}

// BOMResult summarizes a BOM run.
type BOMResult struct {
	BOMID     string                    `json:"bom_id"`
	Results   []*model.EnrichmentResult `json:"results"`
	Health    *model.BOMHealth          `json:"health,omitempty"`
	Succeeded int                       `json:"succeeded"`
	Failed    int                       `json:"failed"`
}

// SinglePartEnrichment runs one part through the pipeline. The workflow
// execution id doubles as the job id, so a retried activity resumes the
// job's persisted tier checkpoint instead of restarting the walk.
func SinglePartEnrichment(ctx workflow.Context, input SinglePartInput) (*model.EnrichmentResult, error) {
	if input.Context.JobID == "" {
		input.Context.JobID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	actCtx := workflow.WithActivityOptions(ctx, enrichActivityOptions)

	var result model.EnrichmentResult
	err := workflow.ExecuteActivity(actCtx, "EnrichPart", input).Get(ctx, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// BOMEnrichment fans enrichment activities out across the BOM's line
// items and finishes with a BOM health score. Line failures do not abort
// the run; they are counted and reported.
func BOMEnrichment(ctx workflow.Context, input BOMInput) (BOMResult, error) {
	actCtx := workflow.WithActivityOptions(ctx, enrichActivityOptions)
	out := BOMResult{BOMID: input.BOMID}

	futures := make([]workflow.Future, len(input.Items))
	runID := workflow.GetInfo(ctx).WorkflowExecution.ID
	for i, item := range input.Items {
		ec := input.Context
		ec.BOMID = input.BOMID
		ec.LineItemID = item.LineID
		// Stable per-line job id so a retried line resumes its checkpoint.
		ec.JobID = runID + "-" + item.LineID
		futures[i] = workflow.ExecuteActivity(actCtx, "EnrichPart", SinglePartInput{
			MPN:          item.MPN,
			Manufacturer: item.Manufacturer,
			Context:      ec,
		})
	}

	for i, future := range futures {
		var result model.EnrichmentResult
		if err := future.Get(ctx, &result); err != nil {
			workflow.GetLogger(ctx).Warn("line enrichment failed",
				"mpn", input.Items[i].MPN, "error", err)
			out.Failed++
			continue
		}
		out.Results = append(out.Results, &result)
		if result.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}

	riskCtx := workflow.WithActivityOptions(ctx, riskActivityOptions)
	var health model.BOMHealth
	if err := workflow.ExecuteActivity(riskCtx, "ScoreBOMHealth", BOMHealthInput{
		OrgID: input.Context.OrgID,
		BOMID: input.BOMID,
		Items: input.Items,
	}).Get(ctx, &health); err != nil {
		workflow.GetLogger(ctx).Warn("bom health scoring failed",
			"bom_id", input.BOMID, "error", err)
	} else {
		out.Health = &health
	}

	return out, nil
}
