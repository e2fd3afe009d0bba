package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/partsledger/partsledger/internal/monitoring"
	"github.com/partsledger/partsledger/internal/throttle"
)

var (
	statusOrg      string
	statusLimit    int
	statusJobID    string
	statusLookback int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect jobs, capacity, and outcome metrics",
	Long:  "Shows a single job (--job), recent jobs for an organization (--org), and an outcome metrics snapshot over the lookback window, plus current slot usage.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, pool, closeFn, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if closeFn != nil {
				closeFn()
			}
			if pool != nil {
				pool.Close()
			}
		}()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if statusJobID != "" {
			job, err := st.GetJob(ctx, statusJobID)
			if err != nil {
				return err
			}
			return enc.Encode(job)
		}

		out := map[string]any{}

		if statusOrg != "" {
			jobs, err := st.ListJobs(ctx, statusOrg, statusLimit)
			if err != nil {
				return err
			}
			out["jobs"] = jobs
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, statusLookback)
		if err != nil {
			return err
		}
		out["metrics"] = snap

		rdb := newRedisClient()
		defer rdb.Close()
		gate := throttle.NewThrottle(rdb, throttle.SlotKey("global"), cfg.Throttle.MaxConcurrent)
		if inFlight, err := gate.CurrentCount(ctx); err == nil {
			out["in_flight"] = inFlight
			out["max_concurrent"] = gate.Max()
		}

		return enc.Encode(out)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusJobID, "job", "", "show one job by id")
	statusCmd.Flags().StringVar(&statusOrg, "org", "", "list recent jobs for an organization")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max jobs to list")
	statusCmd.Flags().IntVar(&statusLookback, "lookback", 24, "metrics lookback window in hours")
	rootCmd.AddCommand(statusCmd)
}
