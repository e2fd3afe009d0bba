package main

import (
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/review"
	"github.com/partsledger/partsledger/internal/workflow"
	"github.com/partsledger/partsledger/pkg/notion"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run an enrichment worker",
	Long:  "Polls the Temporal task queue and executes enrichment and risk-scoring activities against the shared store and Redis gate.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		temporalClient, err := workflow.Dial(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
		if err != nil {
			return err
		}
		defer temporalClient.Close()

		var opts []workflow.ActivityOption
		if cfg.Notion.Token != "" && cfg.Notion.ReviewDB != "" {
			queue := review.NewQueue(notion.NewClient(cfg.Notion.Token), cfg.Notion.ReviewDB)
			opts = append(opts, workflow.WithReviewQueue(queue))
			zap.L().Info("manual review queue enabled")
		}

		activities := workflow.NewActivities(env.Orchestrator, env.Risk, opts...)

		w := worker.New(temporalClient, workflow.TaskQueue, worker.Options{})
		workflow.Register(w, activities)

		zap.L().Info("worker starting",
			zap.String("task_queue", workflow.TaskQueue),
			zap.String("temporal", cfg.Temporal.HostPort))
		return w.Run(worker.InterruptCh())
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
