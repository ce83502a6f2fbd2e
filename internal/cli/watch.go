package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"jobinsights/internal/metrics"
	"jobinsights/internal/scheduler"
)

func newWatchCmd(env *Env) *cobra.Command {
	var (
		runNow     bool
		noMetrics  bool
		jobsFile   string
		metricAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the scheduled analysis and rule mining until interrupted",
		Long: `Runs two cron schedules: analysis_schedule analyzes the lookback window and
posts the summary to Slack, mining_schedule posts rule suggestions mined from
the stored corrections. Prometheus metrics are served on metrics_addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()

			src, release, err := openSource(ctx, rt, jobsFile)
			if err != nil {
				return err
			}
			defer release()

			s := scheduler.New(rt.Config.Location, scheduler.WithLogger(rt.Logger))
			analyze := scheduler.AnalysisTask(rt.NewAnalyzer(src, 0), rt.Notifier)
			mine := scheduler.MiningTask(rt.Store, rt.Config.MinerMinCount, rt.Notifier, rt.Logger)
			if err := s.Add("analysis", rt.Config.AnalysisSchedule, analyze); err != nil {
				return err
			}
			if err := s.Add("mining", rt.Config.MiningSchedule, mine); err != nil {
				return err
			}
			if rt.Notifier == nil {
				rt.Logger.Warn("slack is not configured, scheduled results are only logged")
			}

			if runNow {
				if err := analyze(ctx); err != nil {
					rt.Logger.Error("initial analysis failed", "error", err)
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			if !noMetrics {
				addr := rt.Config.MetricsAddr
				if metricAddr != "" {
					addr = metricAddr
				}
				srv := metrics.NewServer(addr)
				g.Go(func() error {
					rt.Logger.Info("serving metrics", "addr", addr)
					return srv.Start()
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Stop(shutdownCtx)
				})
			}
			g.Go(func() error {
				s.Start(gctx)
				s.Wait()
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				rt.Logger.Info("shutting down")
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Run one analysis immediately before waiting for the schedule")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "Do not serve Prometheus metrics")
	cmd.Flags().StringVar(&metricAddr, "metrics-addr", "", "Metrics listen address (default: metrics_addr from config)")
	cmd.Flags().StringVar(&jobsFile, "jobs-file", "", "Read failed jobs from a JSON dump instead of the database")
	return cmd
}
