package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tomasbasham/uxsched"
	"github.com/tomasbasham/uxsched/internal/fairsim"
	"github.com/tomasbasham/uxsched/internal/metrics"
	"github.com/tomasbasham/uxsched/internal/policyfile"
)

var (
	scenarioPath string
	policyPath   string
	watchPolicy  bool
	pace         time.Duration
	metricsAddr  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a scenario through the overlay",
	Long: `Replays a YAML scenario on a simulated fair-share host with the UX overlay
attached, then prints how much CPU time each entity received.

With --verbose every context switch, preemption and migration is logged. With
--watch the policy file is reloaded whenever it changes; combine it with --pace
to slow the replay down enough to edit the policy by hand. With --metrics-addr
overlay counters are served for Prometheus for as long as the replay runs.

Example:
  uxsched simulate --scenario testdata/scenario.yaml --policy testdata/policy.yaml -v`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "Scenario file (required)")
	simulateCmd.Flags().StringVarP(&policyPath, "policy", "p", "", "Policy file (default: built-in tunables)")
	simulateCmd.Flags().BoolVar(&watchPolicy, "watch", false, "Reload the policy file when it changes")
	simulateCmd.Flags().DurationVar(&pace, "pace", 0, "Real time to wait per simulated tick")
	simulateCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the replay runs")
	_ = simulateCmd.MarkFlagRequired("scenario")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if watchPolicy && policyPath == "" {
		return errors.New("--watch requires --policy")
	}

	sc, err := fairsim.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}

	cfg := uxsched.DefaultConfig()
	if policyPath != "" {
		if cfg, err = policyfile.Load(policyPath); err != nil {
			return err
		}
	}

	collector := metrics.New()
	sim, err := sc.NewSim(
		fairsim.WithConfig(cfg),
		fairsim.WithLogger(logger),
		fairsim.WithMetricsHook(collector),
		fairsim.WithDecisionHook(collector.OnDecision),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           collector.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", metricsAddr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	if watchPolicy {
		w, err := policyfile.NewWatcher(policyPath, sim.Assist().Reconfigure,
			policyfile.WithLogger(logger),
			policyfile.WithObserver(collector))
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	var report *fairsim.Report
	g.Go(func() error {
		// The watcher runs for as long as the replay does.
		defer cancel()
		var err error
		report, err = sim.Replay(ctx, sc, pace)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	printReport(cmd.OutOrStdout(), sim, report)
	return nil
}

func printReport(w io.Writer, sim *fairsim.Sim, r *fairsim.Report) {
	fmt.Fprintf(w, "elapsed:     %s\n", r.Elapsed)
	fmt.Fprintf(w, "decisions:   %d\n", len(r.Decisions))
	fmt.Fprintf(w, "overrides:   %d\n", r.Overrides)
	fmt.Fprintf(w, "preemptions: %d\n", r.Preemptions)
	fmt.Fprintf(w, "migrations:  %d\n", r.Migrations)
	fmt.Fprintln(w)

	for _, id := range slices.Sorted(maps.Keys(r.Runtime)) {
		name := "-"
		if e, ok := sim.Assist().Lookup(id); ok {
			name = e.String()
		}
		fmt.Fprintf(w, "%6d  %-32s %s\n", id, name, r.Runtime[id])
	}
}
