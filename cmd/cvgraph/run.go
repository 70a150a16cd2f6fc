package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/born-ml/cvgraph/internal/config"
	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/registry"
	"github.com/born-ml/cvgraph/internal/scheduler"
	"github.com/born-ml/cvgraph/internal/telemetry"
)

// maxInlineValues is the largest output printed in full in table mode.
const maxInlineValues = 6

type runOptions struct {
	configPath  string
	steps       int
	derivatives bool
	metricsAddr string
	all         bool
}

func newRunCmd(outputFn func(*cobra.Command) *output) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build a graph and evaluate it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("steps") {
				f.Steps = opts.steps
			}
			if cmd.Flags().Changed("derivatives") {
				f.Derivatives = &opts.derivatives
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, f, opts, cmd.ErrOrStderr(), outputFn(cmd))
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Graph file (YAML)")
	cmd.Flags().IntVar(&opts.steps, "steps", 1, "Number of passes (overrides the file)")
	cmd.Flags().BoolVar(&opts.derivatives, "derivatives", true, "Compute derivatives (overrides the file)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address and wait for a signal after the run")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Also print the values of sources")
	cmd.MarkFlagRequired("config")

	return cmd
}

func run(ctx context.Context, f *config.File, opts runOptions, logW io.Writer, out *output) error {
	logger := f.Logger(logW)

	g, err := f.BuildGraph(logger, registry.Hooks{})
	if err != nil {
		return err
	}

	schedOpts := []scheduler.Option{scheduler.WithLogger(logger)}
	var srv *http.Server
	if opts.metricsAddr != "" {
		m, err := telemetry.NewMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		schedOpts = append(schedOpts, scheduler.WithMetrics(m))
		srv = serveMetrics(ctx, opts.metricsAddr, logger)
	}

	s, err := scheduler.New(g, f.SchedulerConfig(), schedOpts...)
	if err != nil {
		return err
	}

	start := time.Now()
	for i := 0; i < f.Steps; i++ {
		if err := s.Calculate(ctx); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	logger.Info("run complete",
		slog.Int("steps", s.Step()),
		slog.Int("chains", len(g.Chains())),
		slog.Duration("elapsed", time.Since(start)),
	)

	if err := printResults(out, g, opts.all); err != nil {
		return err
	}

	if srv != nil {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()
	return srv
}

// result is the JSON form of one output.
type result struct {
	Name        string    `json:"name"`
	Operation   string    `json:"operation"`
	Type        string    `json:"type"`
	Shape       []int     `json:"shape"`
	Values      []float64 `json:"values"`
	Derivatives int       `json:"derivatives"`
}

func collectResults(g *graph.Graph, all bool) []result {
	var results []result
	for _, op := range g.Order() {
		b := op.Base()
		if b.IsSource() && !all {
			continue
		}
		for _, v := range b.Outputs() {
			results = append(results, result{
				Name:        v.Name(),
				Operation:   b.Label(),
				Type:        b.Kind(),
				Shape:       append([]int{}, v.Shape()...),
				Values:      append([]float64{}, v.Data()...),
				Derivatives: b.NumDerivatives(),
			})
		}
	}
	return results
}

func printResults(out *output, g *graph.Graph, all bool) error {
	results := collectResults(g, all)
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Name,
			r.Type,
			fmt.Sprint(r.Shape),
			formatValues(r.Values),
			strconv.Itoa(r.Derivatives),
		})
	}
	return out.Print([]string{"OUTPUT", "TYPE", "SHAPE", "VALUE", "DERIVATIVES"}, rows, results)
}

func formatValues(xs []float64) string {
	if len(xs) > maxInlineValues {
		sum := 0.0
		for _, x := range xs {
			sum += x
		}
		return fmt.Sprintf("%d values, sum %.6g", len(xs), sum)
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.FormatFloat(x, 'g', 6, 64)
	}
	return strings.Join(parts, " ")
}
