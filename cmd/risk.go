package main

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/partsledger/partsledger/internal/bom"
)

var (
	riskOrg          string
	riskManufacturer string
	riskBOMFile      string
)

var riskCmd = &cobra.Command{
	Use:   "risk [mpn]",
	Short: "Score component or BOM supply-chain risk",
	Long:  "Computes the weighted risk score for an enriched MPN, or grades a whole BOM file with --bom. Parts never enriched cannot be scored.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if len(args) == 0 && riskBOMFile == "" {
			return eris.New("provide an MPN or --bom <file>")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if riskBOMFile != "" {
			bomID := uuid.NewString()
			items, err := bom.Import(riskBOMFile, bomID)
			if err != nil {
				return err
			}
			health, err := env.Risk.ScoreBOM(ctx, riskOrg, bomID, items)
			if err != nil {
				return err
			}
			return enc.Encode(health)
		}

		score, err := env.Risk.ScoreMPN(ctx, riskOrg, args[0], riskManufacturer)
		if err != nil {
			return err
		}
		return enc.Encode(score)
	},
}

func init() {
	riskCmd.Flags().StringVar(&riskOrg, "org", "local", "organization id (selects the risk profile)")
	riskCmd.Flags().StringVar(&riskManufacturer, "manufacturer", "", "manufacturer name hint")
	riskCmd.Flags().StringVar(&riskBOMFile, "bom", "", "score a whole BOM file (xlsx or csv)")
	rootCmd.AddCommand(riskCmd)
}
