package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fractal-lba/bouncer/internal/api"
	"github.com/fractal-lba/bouncer/internal/config"
	"github.com/fractal-lba/bouncer/internal/metrics"
	"github.com/fractal-lba/bouncer/internal/monitor"
	"github.com/fractal-lba/bouncer/internal/sigmadelta"
	"github.com/fractal-lba/bouncer/internal/verdict"
	"github.com/fractal-lba/bouncer/internal/wal"
	"github.com/fractal-lba/bouncer/pkg/canonical"
)

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if delta >= 0 {
		cfg.Monitor.Delta = delta
	}
	if parallelism > 0 {
		cfg.Monitor.Parallelism = parallelism
	}
	return cfg, cfg.Validate()
}

func buildMonitor(cfg *config.Config, errOut io.Writer) (*monitor.Monitor, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	return sigmadelta.SymbolicModel(cfg.ModelRanges()).Monitor(cfg.Monitor.Delta,
		monitor.WithParallelism(cfg.Monitor.Parallelism),
		monitor.WithSolveTimeout(cfg.Monitor.SolveTimeout),
		monitor.WithLogger(logger),
	)
}

// benchCmd runs the monitor over the generated datasets
func benchCmd() *cobra.Command {
	var (
		datasets     []string
		trajectories int
		steps        int
		seed         int64
		workers      int
		metricsOut   string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Evaluate the C, SPE and LPE sigma-delta datasets",
		Long: `Generates the conforming (C), slightly perturbed (SPE) and largely perturbed (LPE)
datasets and reports how many transitions of each the monitor accepts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cmd.Flags().Changed("trajectories") {
				cfg.Benchmark.Trajectories = trajectories
			}
			if cmd.Flags().Changed("steps") {
				cfg.Benchmark.Steps = steps
			}
			if cmd.Flags().Changed("seed") {
				cfg.Benchmark.Seed = seed
			}
			if cmd.Flags().Changed("workers") {
				cfg.Benchmark.Workers = workers
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			m, err := buildMonitor(cfg, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("failed to build monitor: %w", err)
			}

			reg := prometheus.NewRegistry()
			tracker := metrics.NewBenchmarkTracker(reg)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "=== Sigma-delta benchmark ===\n")
			fmt.Fprintf(out, "Delta: %g, worlds: %d, trajectories: %d x %d steps, seed: %d\n\n",
				m.Delta(), m.NumWorlds(), cfg.Benchmark.Trajectories, cfg.Benchmark.Steps, cfg.Benchmark.Seed)

			for _, name := range datasets {
				ds, err := sigmadelta.Named(name, cfg.Benchmark.Trajectories, cfg.Benchmark.Steps, cfg.Benchmark.Seed)
				if err != nil {
					return err
				}
				report, err := sigmadelta.Run(cmd.Context(), m, ds.Name, sigmadelta.Transitions(ds), cfg.Benchmark.Workers)
				if err != nil {
					return fmt.Errorf("dataset %s: %w", name, err)
				}
				tracker.Record(metrics.BenchmarkRun{
					Dataset:     report.Name,
					Transitions: report.Transitions,
					Inliers:     report.Inliers,
					Outliers:    report.Outliers,
					Errors:      report.Errors,
					Duration:    report.Duration,
				})
				fmt.Fprintln(out, report)
			}

			if _, ok := tracker.Run("C"); ok {
				for _, faulty := range []string{"SPE", "LPE"} {
					if _, ok := tracker.Run(faulty); ok {
						fmt.Fprintf(out, "Separation C vs %s: %.2f%%\n", faulty, 100*tracker.Separation("C", faulty))
					}
				}
			}

			if metricsOut != "" {
				if err := prometheus.WriteToTextfile(metricsOut, reg); err != nil {
					return fmt.Errorf("failed to write metrics: %w", err)
				}
				fmt.Fprintf(out, "\nMetrics written to %s\n", metricsOut)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&datasets, "dataset", []string{"C", "SPE", "LPE"}, "Datasets to run (C, SPE, LPE)")
	cmd.Flags().IntVar(&trajectories, "trajectories", sigmadelta.DefaultTrajectories, "Trajectories per dataset")
	cmd.Flags().IntVar(&steps, "steps", sigmadelta.DefaultSteps, "Steps per trajectory")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&workers, "workers", 4, "Transitions evaluated concurrently")
	cmd.Flags().StringVar(&metricsOut, "metrics-out", "", "Write Prometheus text metrics to this file")

	return cmd
}

// describeCmd prints the monitor setup and its possible worlds
func describeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the symbolic model, its possible worlds and their constraints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			m, err := buildMonitor(cfg, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("failed to build monitor: %w", err)
			}
			return m.Describe(cmd.OutOrStdout())
		},
	}
}

// evaluateCmd checks transitions given as JSON
func evaluateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate transition requests read from a file or stdin",
		Long: `Reads one JSON transition request, a JSON array of them, or one request per
line, and prints a verdict record per request.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			m, err := buildMonitor(cfg, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("failed to build monitor: %w", err)
			}

			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			reqs, err := decodeRequests(in)
			if err != nil {
				return fmt.Errorf("failed to read requests: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, req := range reqs {
				rec, err := evaluateRequest(cmd.Context(), m, req)
				if err != nil {
					return fmt.Errorf("request %q: %w", req.ID, err)
				}
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "Input file (- for stdin)")
	return cmd
}

// decodeRequests accepts a single object, an array or a stream of objects.
func decodeRequests(r io.Reader) ([]api.TransitionRequest, error) {
	dec := json.NewDecoder(r)
	var out []api.TransitionRequest
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); errors.Is(err, io.EOF) {
			return out, nil
		} else if err != nil {
			return nil, err
		}

		if len(raw) > 0 && raw[0] == '[' {
			var batch []api.TransitionRequest
			if err := json.Unmarshal(raw, &batch); err != nil {
				return nil, err
			}
			out = append(out, batch...)
			continue
		}
		var req api.TransitionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
}

func evaluateRequest(ctx context.Context, m *monitor.Monitor, req api.TransitionRequest) (*api.VerdictRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	digest, err := canonical.TransitionID(m.Fingerprint(), req.Source, req.Observations)
	if err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = digest
	}
	v, err := m.EvaluateDetailed(ctx, req.Transition())
	if err != nil {
		return nil, err
	}
	return api.NewVerdictRecord(id, req.Source, digest, v, time.Now()), nil
}

// replayCmd re-evaluates logged submissions
func replayCmd() *cobra.Command {
	var (
		walFiles []string
		persist  bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-evaluate submissions recorded in inbox WAL files",
		Long: `Reads inbox WAL files written by the server and evaluates every logged
submission against the current monitor. With --persist, verdicts are written
to the configured verdict store (first write wins).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(walFiles) == 0 {
				return errors.New("at least one --wal file is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			m, err := buildMonitor(cfg, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("failed to build monitor: %w", err)
			}

			var store verdict.Store
			if persist {
				store, err = verdict.Open(cmd.Context(), cfg.StoreOptions())
				if err != nil {
					return fmt.Errorf("failed to open verdict store: %w", err)
				}
				defer store.Close()
			}

			var stats replayStats
			out := cmd.OutOrStdout()
			for _, path := range walFiles {
				entries, skipped, err := wal.Replay(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				stats.torn += skipped

				for _, e := range entries {
					var req api.TransitionRequest
					if err := json.Unmarshal(e.Body, &req); err != nil {
						stats.malformed++
						continue
					}
					rec, err := evaluateRequest(cmd.Context(), m, req)
					if err != nil {
						if cmd.Context().Err() != nil {
							return cmd.Context().Err()
						}
						stats.rejected++
						if verbose {
							fmt.Fprintf(out, "%s rejected: %v\n", e.Timestamp.Format("15:04:05.000"), err)
						}
						continue
					}
					stats.count(rec)
					if verbose {
						fmt.Fprintf(out, "%s %s %s\n", e.Timestamp.Format("15:04:05.000"), rec.ID, rec.Verdict())
					}
					if store != nil {
						if err := store.Set(cmd.Context(), rec, cfg.Server.VerdictTTL); err != nil {
							return fmt.Errorf("failed to persist %s: %w", rec.ID, err)
						}
					}
				}
			}

			fmt.Fprintln(out, stats)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&walFiles, "wal", nil, "Inbox WAL file(s) to replay")
	cmd.Flags().BoolVar(&persist, "persist", false, "Write verdicts to the configured store")
	return cmd
}

// verdictsCmd lists stored verdicts for audits
func verdictsCmd() *cobra.Command {
	var (
		limit      int
		countsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "verdicts",
		Short: "List and count the verdicts held by the configured store",
		Long: `Prints the newest stored verdicts as JSON lines followed by the number of
live inliers and outliers. Only backends that support listing (sqlite) can be
audited.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, err := verdict.Open(cmd.Context(), cfg.StoreOptions())
			if err != nil {
				return fmt.Errorf("failed to open verdict store: %w", err)
			}
			defer store.Close()

			auditor, ok := store.(verdict.Auditor)
			if !ok {
				return fmt.Errorf("the %s backend does not support listing verdicts", cfg.Store.Backend)
			}

			out := cmd.OutOrStdout()
			if !countsOnly {
				recs, err := auditor.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				for _, rec := range recs {
					if err := enc.Encode(rec); err != nil {
						return err
					}
				}
			}

			inliers, outliers, err := auditor.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Stored verdicts: %d inliers, %d outliers\n", inliers, outliers)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of verdicts to list")
	cmd.Flags().BoolVar(&countsOnly, "counts", false, "Only print the inlier and outlier counts")
	return cmd
}

type replayStats struct {
	inliers, outliers, rejected, malformed, torn int
}

func (s *replayStats) count(rec *api.VerdictRecord) {
	if rec.Inlier {
		s.inliers++
	} else {
		s.outliers++
	}
}

func (s replayStats) String() string {
	return fmt.Sprintf("Replayed %d submissions: %d inliers, %d outliers, %d rejected, %d malformed, %d torn lines",
		s.inliers+s.outliers+s.rejected+s.malformed, s.inliers, s.outliers, s.rejected, s.malformed, s.torn)
}
