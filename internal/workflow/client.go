package workflow

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"

	"github.com/partsledger/partsledger/internal/model"
)

// Dial connects to the Temporal frontend.
func Dial(hostPort, namespace string) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
	})
	if err != nil {
		return nil, eris.Wrap(err, "workflow: dial temporal")
	}
	return c, nil
}

// StartSinglePart launches a durable single-part enrichment and returns
// the workflow ID without waiting for completion.
func StartSinglePart(ctx context.Context, c client.Client, input SinglePartInput) (string, error) {
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("enrich-%s-%s", input.Context.OrgID, input.MPN),
		TaskQueue: TaskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, SinglePartWorkflowName, input)
	if err != nil {
		return "", eris.Wrap(err, "workflow: start single part")
	}
	return run.GetID(), nil
}

// StartBOM launches a durable BOM enrichment run.
func StartBOM(ctx context.Context, c client.Client, input BOMInput) (string, error) {
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("enrich-bom-%s", input.BOMID),
		TaskQueue: TaskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, BOMWorkflowName, input)
	if err != nil {
		return "", eris.Wrap(err, "workflow: start bom")
	}
	return run.GetID(), nil
}

// RunSinglePart starts a single-part enrichment and blocks for its result.
// Used by the CLI's synchronous enrich command.
func RunSinglePart(ctx context.Context, c client.Client, input SinglePartInput) (*model.EnrichmentResult, error) {
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("enrich-%s-%s", input.Context.OrgID, input.MPN),
		TaskQueue: TaskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, SinglePartWorkflowName, input)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: start single part")
	}
	var result model.EnrichmentResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, eris.Wrap(err, "workflow: await result")
	}
	return &result, nil
}
