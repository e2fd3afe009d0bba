package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/workflow"
)

var (
	enrichManufacturer string
	enrichOrg          string
	enrichPriority     string
	enrichRemote       bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <mpn>",
	Short: "Enrich a single part",
	Long:  "Runs the tiered enrichment pipeline for one MPN. By default runs in-process; --remote submits to the Temporal task queue and waits for the durable run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mpn := args[0]

		ec := model.EnrichmentContext{
			OrgID:    enrichOrg,
			Source:   model.TriggerStaff,
			Priority: model.Priority(enrichPriority),
		}
		if ec.Priority != model.PriorityHigh {
			ec.Priority = model.PriorityNormal
		}

		var result *model.EnrichmentResult
		if enrichRemote {
			temporalClient, err := workflow.Dial(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			result, err = workflow.RunSinglePart(ctx, temporalClient, workflow.SinglePartInput{
				MPN:          mpn,
				Manufacturer: enrichManufacturer,
				Context:      ec,
			})
			if err != nil {
				return err
			}
		} else {
			env, err := initEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			result, err = env.Orchestrator.Enrich(ctx, mpn, enrichManufacturer, ec)
			if err != nil && result == nil {
				return err
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return eris.Wrap(err, "encode result")
		}

		if !result.Success {
			zap.L().Warn("enrichment did not produce an accepted component",
				zap.String("mpn", mpn),
				zap.String("state", string(result.State)))
			return fmt.Errorf("enrichment %s: %s", result.State, result.Error)
		}
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichManufacturer, "manufacturer", "", "manufacturer name hint")
	enrichCmd.Flags().StringVar(&enrichOrg, "org", "local", "organization id")
	enrichCmd.Flags().StringVar(&enrichPriority, "priority", "normal", "priority: normal or high")
	enrichCmd.Flags().BoolVar(&enrichRemote, "remote", false, "run via the Temporal task queue")
	rootCmd.AddCommand(enrichCmd)
}
