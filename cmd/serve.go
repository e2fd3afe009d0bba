package main

import (
	"github.com/spf13/cobra"

	"github.com/partsledger/partsledger/internal/server"
	"github.com/partsledger/partsledger/internal/throttle"
	"github.com/partsledger/partsledger/internal/workflow"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrichment trigger API",
	Long:  "Serves HTTP endpoints for starting, inspecting, and cancelling enrichments. Work runs on Temporal workers, not in the request path.",
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

		rdb := newRedisClient()
		defer rdb.Close()

		temporalClient, err := workflow.Dial(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
		if err != nil {
			return err
		}
		defer temporalClient.Close()

		gate := throttle.NewThrottle(rdb, throttle.SlotKey("global"), cfg.Throttle.MaxConcurrent)

		srv := server.New(
			server.TemporalStarter{Client: temporalClient},
			st,
			server.WithRateLimiter(throttle.NewRateLimiter(rdb), rateRules()),
			server.WithSlotCounter(gate),
		)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		return srv.Run(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
