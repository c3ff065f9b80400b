package main

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brensch/mcdock/config"
	"github.com/brensch/mcdock/metrics"
	"github.com/brensch/mcdock/scoring"
	"github.com/brensch/mcdock/store"
)

func newTableCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Precalculate the pairwise scoring table and write it to the cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(false); err != nil {
				return err
			}
			defer a.close()
			if out == "" {
				out = a.cfg.Store.TableCache
			}

			tab, err := buildTable(cmd, a.cfg.Scoring, metrics.Nop{}, a.logger)
			if err != nil {
				return err
			}
			if err := store.WriteTable(out, tab); err != nil {
				return fmt.Errorf("write table cache: %w", err)
			}
			a.logger.Info("scoring table cached", zap.String("path", out))
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (defaults to store.table_cache)")
	return cmd
}

func buildTable(cmd *cobra.Command, cfg config.ScoringConfig, rec metrics.Recorder, logger *zap.Logger) (*scoring.Table, error) {
	start := time.Now()
	tab := scoring.NewTable(cfg.NS, cfg.Cutoff)
	if err := tab.PrecalculateAllParallel(cmd.Context(), cfg.Workers); err != nil {
		return nil, fmt.Errorf("precalculate table: %w", err)
	}
	tab.Clear()
	rec.ObserveTable(time.Since(start))
	logger.Info("scoring table built",
		zap.Int("ns", tab.NS),
		zap.Float32("cutoff", tab.Cutoff),
		zap.Int("bins", tab.NR),
		zap.Duration("elapsed", time.Since(start)),
	)
	return tab, nil
}

// loadTable reads the cached table, building and caching it when absent or
// built at a different resolution.
func loadTable(cmd *cobra.Command, cfg *config.Config, rec metrics.Recorder, logger *zap.Logger) (*scoring.Table, error) {
	tab, err := store.ReadTable(cfg.Store.TableCache)
	switch {
	case err == nil && tab.NS == cfg.Scoring.NS && tab.Cutoff == cfg.Scoring.Cutoff:
		logger.Info("scoring table loaded", zap.String("path", cfg.Store.TableCache))
		return tab, nil
	case err == nil:
		logger.Info("cached scoring table has a different resolution, rebuilding",
			zap.Int("cached_ns", tab.NS), zap.Float32("cached_cutoff", tab.Cutoff))
	case errors.Is(err, fs.ErrNotExist):
	default:
		logger.Warn("cached scoring table unusable, rebuilding", zap.Error(err))
	}

	tab, err = buildTable(cmd, cfg.Scoring, rec, logger)
	if err != nil {
		return nil, err
	}
	if err := store.WriteTable(cfg.Store.TableCache, tab); err != nil {
		logger.Warn("could not cache scoring table", zap.Error(err))
	}
	return tab, nil
}
