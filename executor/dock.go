package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brensch/mcdock/executor/device/host"
	"github.com/brensch/mcdock/executor/kernel"
	"github.com/brensch/mcdock/ligand"
	"github.com/brensch/mcdock/metrics"
	"github.com/brensch/mcdock/store"
)

type dockFlags struct {
	mapsPath    string
	ligands     []string
	launches    int
	top         int
	tui         bool
	metricsAddr string

	tasks       int
	generations int
	seed        uint64
}

// dockUpdate reports one finished launch.
type dockUpdate struct {
	Ligand   string
	Launch   int
	Best     float32
	Feasible int
	Elapsed  time.Duration
}

func newDockCmd(a *app) *cobra.Command {
	f := &dockFlags{}
	cmd := &cobra.Command{
		Use:   "dock --maps maps.parquet --ligand lig.yaml [--ligand ...]",
		Short: "Dock ligands against a grid map set and write the best poses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(f.tui); err != nil {
				return err
			}
			defer a.close()

			flags := cmd.Flags()
			if flags.Changed("tasks") {
				a.cfg.Search.Tasks = f.tasks
			}
			if flags.Changed("generations") {
				a.cfg.Search.Generations = f.generations
			}
			if flags.Changed("seed") {
				a.cfg.Search.Seed = f.seed
			}
			if flags.Changed("metrics-addr") {
				a.cfg.Metrics.Addr = f.metricsAddr
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return runDock(cmd, a, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.mapsPath, "maps", "", "grid map set (parquet)")
	fl.StringArrayVar(&f.ligands, "ligand", nil, "ligand topology (YAML), repeatable")
	fl.IntVar(&f.launches, "launches", 1, "launches per ligand")
	fl.IntVar(&f.top, "top", 0, "keep only the best N tasks per launch (0 keeps all)")
	fl.BoolVar(&f.tui, "tui", false, "show a live progress view")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fl.IntVar(&f.tasks, "tasks", 0, "override search.tasks")
	fl.IntVar(&f.generations, "generations", 0, "override search.generations")
	fl.Uint64Var(&f.seed, "seed", 0, "override search.seed")
	_ = cmd.MarkFlagRequired("maps")
	_ = cmd.MarkFlagRequired("ligand")
	return cmd
}

func runDock(cmd *cobra.Command, a *app, f *dockFlags) error {
	cfg, logger := a.cfg, a.logger
	if f.launches <= 0 {
		return fmt.Errorf("--launches must be positive, got %d", f.launches)
	}

	if f.launches > 1 && !cfg.Search.ReseedPerLaunch {
		// Unsalted launches would repeat the same chains.
		cfg.Search.ReseedPerLaunch = true
		logger.Info("reseeding per launch", zap.Int("launches", f.launches))
	}

	var rec metrics.Recorder = metrics.Nop{}
	if cfg.Metrics.Addr != "" {
		m := metrics.New()
		rec = m
		shutdown := m.Serve(cfg.Metrics.Addr, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	tab, err := loadTable(cmd, cfg, rec, logger)
	if err != nil {
		return err
	}
	box, maps, err := store.ReadMaps(f.mapsPath)
	if err != nil {
		return fmt.Errorf("read grid maps: %w", err)
	}

	ligands := make([]*ligand.Topology, 0, len(f.ligands))
	for _, path := range f.ligands {
		lig, err := ligand.Load(path)
		if err != nil {
			return err
		}
		for _, t := range lig.Types() {
			if int(t) >= len(maps) || maps[t] == nil {
				return fmt.Errorf("ligand %s uses atom type %s but %s has no map for it", path, t, f.mapsPath)
			}
		}
		ligands = append(ligands, lig)
	}

	platform := host.New(host.Options{Workers: cfg.Device.Workers, MemoryWords: cfg.Device.MemoryWords})
	k, err := kernel.New(platform, tab, maps, box, kernel.Config{
		NumTasks:        cfg.Search.Tasks,
		Generations:     cfg.Search.Generations,
		Seed:            cfg.Search.Seed,
		Schedule:        cfg.Search.Schedule,
		ReseedPerLaunch: cfg.Search.ReseedPerLaunch,
	}, kernel.WithLogger(logger), kernel.WithRecorder(rec))
	if err != nil {
		return err
	}
	defer k.Close()

	w, err := store.NewResultWriter(cfg.Store.OutDir)
	if err != nil {
		return err
	}

	work := func(ctx context.Context, progress func(dockUpdate)) error {
		for _, lig := range ligands {
			out := make([]float32, k.NumTasks()*lig.ResultStride())
			for l := 0; l < f.launches; l++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				start := time.Now()
				if err := k.Launch(out, lig); err != nil {
					return fmt.Errorf("dock %s launch %d: %w", lig.Name, l, err)
				}
				best := kernel.Best(kernel.Results(out, lig))
				if f.top > 0 && len(best) > f.top {
					best = best[:f.top]
				}
				rows := make([]store.ResultRow, 0, len(best))
				feasible := 0
				for rank, r := range best {
					if math.IsInf(float64(r.Energy), 0) || math.IsNaN(float64(r.Energy)) {
						continue
					}
					feasible++
					rows = append(rows, store.ResultRow{
						Ligand:       lig.Name,
						Launch:       int32(l),
						Task:         int32(r.Task),
						Rank:         int32(rank),
						Energy:       r.Energy,
						Seed:         int64(cfg.Search.Seed),
						Salt:         k.LastSalt(),
						Conformation: append([]float32(nil), r.Conformation...),
					})
				}
				if err := w.WriteRows(rows); err != nil {
					return fmt.Errorf("write results: %w", err)
				}
				u := dockUpdate{Ligand: lig.Name, Launch: l, Best: best[0].Energy, Feasible: feasible, Elapsed: time.Since(start)}
				rec.ObserveBestEnergy(lig.Name, u.Best)
				progress(u)
			}
		}
		return nil
	}

	if f.tui {
		err = runTUI(cmd.Context(), len(ligands)*f.launches, k.Stats, work)
	} else {
		err = work(cmd.Context(), func(u dockUpdate) {
			logger.Info("launch done",
				zap.String("ligand", u.Ligand),
				zap.Int("launch", u.Launch),
				zap.Float32("best", u.Best),
				zap.Int("feasible", u.Feasible),
				zap.Duration("elapsed", u.Elapsed),
			)
		})
	}

	path, n, ferr := w.Finalize()
	if err != nil {
		return err
	}
	if ferr != nil {
		return ferr
	}
	logger.Info("results written", zap.String("path", path), zap.Int("rows", n))
	if path != "" {
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	return nil
}
