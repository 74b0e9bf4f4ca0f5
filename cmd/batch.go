package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veridia-health/psur-cli/internal/obligation"
	"github.com/veridia-health/psur-cli/internal/store"
	"github.com/veridia-health/psur-cli/internal/trace"
)

var (
	batchTemplatePath string
	batchDir          string
	batchPeriodStart  string
	batchPeriodEnd    string
	batchConcurrency  int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Adjudicate a directory of proposal JSON files concurrently",
	Long:  "Reads every .json file in the directory as a slot proposal and adjudicates them with bounded concurrency. Trace appends for the same case stay serialized by the recorder, so chains remain dense whatever the interleaving.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		tpl, err := obligation.LoadTemplate(batchTemplatePath)
		if err != nil {
			return err
		}
		start, end, err := parsePeriod(batchPeriodStart, batchPeriodEnd)
		if err != nil {
			return err
		}

		paths, err := proposalFiles(batchDir)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			zap.L().Info("no proposal files found", zap.String("dir", batchDir))
			return nil
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		rec := trace.NewRecorder(st)

		concurrency := batchConcurrency
		if concurrency == 0 {
			concurrency = cfg.Batch.MaxConcurrentSlots
		}
		return runBatch(ctx, st, rec, tpl, paths, concurrency, start, end)
	},
}

// runBatch adjudicates the proposal files with bounded concurrency. One
// malformed file fails its own slot, not the batch.
func runBatch(
	ctx context.Context,
	st store.Store,
	rec *trace.Recorder,
	tpl *obligation.Template,
	paths []string,
	concurrency int,
	periodStart, periodEnd time.Time,
) error {
	zap.L().Info("adjudicating batch",
		zap.Int("proposals", len(paths)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var decided, failed atomic.Int64

	for _, path := range paths {
		g.Go(func() error {
			log := zap.L().With(zap.String("file", path))

			p, err := readProposalFile(path)
			if err != nil {
				failed.Add(1)
				log.Error("skipping malformed proposal", zap.Error(err))
				return nil // don't abort the batch on individual failure
			}

			applied, err := adjudicateOne(gctx, st, rec, tpl, *p, periodStart, periodEnd)
			if err != nil {
				failed.Add(1)
				log.Error("adjudication failed", zap.Error(err))
				return nil
			}

			decided.Add(1)
			log.Info("proposal decided",
				zap.String("proposal", applied.ProposalID),
				zap.String("status", string(applied.Status)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch adjudication")
	}

	zap.L().Info("batch complete",
		zap.Int64("decided", decided.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}

// proposalFiles lists the .json files of a directory in name order, so
// runs are reproducible independent of directory iteration order.
func proposalFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read proposal dir %s", dir)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func init() {
	batchCmd.Flags().StringVar(&batchTemplatePath, "template", "", "path to template definition YAML (required)")
	batchCmd.Flags().StringVar(&batchDir, "dir", "", "directory of proposal JSON files (required)")
	batchCmd.Flags().StringVar(&batchPeriodStart, "period-start", "", "reporting period start, YYYY-MM-DD (required)")
	batchCmd.Flags().StringVar(&batchPeriodEnd, "period-end", "", "reporting period end, YYYY-MM-DD (required)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "max concurrent adjudications (default from config)")
	_ = batchCmd.MarkFlagRequired("template")
	_ = batchCmd.MarkFlagRequired("dir")
	_ = batchCmd.MarkFlagRequired("period-start")
	_ = batchCmd.MarkFlagRequired("period-end")
	rootCmd.AddCommand(batchCmd)
}
