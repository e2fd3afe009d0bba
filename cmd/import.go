package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/bom"
	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/workflow"
)

var (
	importOrg    string
	importBOMID  string
	importDryRun bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a BOM and enrich its line items",
	Long:  "Parses an XLSX or CSV bill of materials and submits a BOM enrichment workflow. --dry-run prints the parsed line items without submitting.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		bomID := importBOMID
		if bomID == "" {
			bomID = uuid.NewString()
		}

		items, err := bom.Import(args[0], bomID)
		if err != nil {
			return err
		}
		zap.L().Info("bom parsed",
			zap.String("bom_id", bomID),
			zap.Int("line_items", len(items)))

		if importDryRun {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		temporalClient, err := workflow.Dial(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
		if err != nil {
			return err
		}
		defer temporalClient.Close()

		workflowID, err := workflow.StartBOM(ctx, temporalClient, workflow.BOMInput{
			BOMID: bomID,
			Items: items,
			Context: model.EnrichmentContext{
				OrgID:    importOrg,
				BOMID:    bomID,
				Source:   model.TriggerStaff,
				Priority: model.PriorityNormal,
			},
		})
		if err != nil {
			return err
		}

		fmt.Printf("started BOM enrichment: workflow_id=%s bom_id=%s line_items=%d\n",
			workflowID, bomID, len(items))
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importOrg, "org", "local", "organization id")
	importCmd.Flags().StringVar(&importBOMID, "bom-id", "", "BOM id (default: generated)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "parse only, do not submit")
	rootCmd.AddCommand(importCmd)
}
