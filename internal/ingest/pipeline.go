// Package ingest finds the deals published since the last sync and replays
// them into storage, oldest first.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/domain"
	"github.com/kapu/dealsync-go/internal/store"
)

// CycleOptions tune one RunCycle call.
type CycleOptions struct {
	// DryRun prints what would be written and writes nothing.
	DryRun bool
	// Limit keeps only the Limit oldest new records when positive.
	Limit int
	// MaxPages bounds the scan.
	MaxPages int
}

// Syncer runs detect, resolve and replay in sequence.
type Syncer struct {
	store    store.Store
	detector *Detector
	resolver *Resolver
	upserter *Upserter
	out      io.Writer
	logger   *zap.Logger
}

func NewSyncer(st store.Store, detector *Detector, resolver *Resolver, upserter *Upserter, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		store:    st,
		detector: detector,
		resolver: resolver,
		upserter: upserter,
		out:      os.Stdout,
		logger:   logger,
	}
}

// SetOutput redirects the dry-run table.
func (s *Syncer) SetOutput(w io.Writer) {
	s.out = w
}

// RunCycle performs one sync. Errors are cycle-fatal: storage unreachable,
// the scan aborted, or investor resolution failed. Individual record
// failures are counted in the summary instead.
func (s *Syncer) RunCycle(ctx context.Context, opts CycleOptions) (Summary, error) {
	start := time.Now()
	summary := Summary{DryRun: opts.DryRun}

	if err := s.store.Ping(ctx); err != nil {
		return summary, fmt.Errorf("storage unreachable: %w", err)
	}
	before, err := s.store.Counts(ctx)
	if err != nil {
		return summary, fmt.Errorf("count entities: %w", err)
	}
	summary.Before = before
	summary.After = before

	stageStart := time.Now()
	records, scan, err := s.detector.FindNewRecords(ctx, opts.MaxPages)
	summary.Scan = scan
	summary.ScanTime = time.Since(stageStart)
	if err != nil {
		return summary, fmt.Errorf("detect new deals: %w", err)
	}
	summary.Found = len(records)

	if len(records) == 0 {
		s.logger.Info("No new deals")
		summary.Total = time.Since(start)
		summary.Log(s.logger)
		return summary, nil
	}

	if opts.Limit > 0 && len(records) > opts.Limit {
		s.logger.Info("Limiting replay to the oldest records",
			zap.Int("records", len(records)),
			zap.Int("limit", opts.Limit),
		)
		// records are newest first; keep the tail
		records = records[len(records)-opts.Limit:]
	}

	if opts.DryRun {
		rows, err := BuildDiff(ctx, s.store, records)
		if err != nil {
			return summary, fmt.Errorf("build dry-run diff: %w", err)
		}
		RenderDiff(s.out, rows)
		summary.Total = time.Since(start)
		summary.Log(s.logger)
		return summary, nil
	}

	stageStart = time.Now()
	index, resolved, err := s.resolver.Resolve(ctx, domain.CollectInvestorRefs(records))
	summary.Resolve = resolved
	summary.ResolveTime = time.Since(stageStart)
	if err != nil {
		return summary, fmt.Errorf("resolve investors: %w", err)
	}

	stageStart = time.Now()
	replay, err := s.upserter.Replay(ctx, records, index, 0)
	summary.Replay = replay
	summary.ReplayTime = time.Since(stageStart)
	if err != nil {
		return summary, fmt.Errorf("replay: %w", err)
	}

	after, err := s.store.Counts(ctx)
	if err != nil {
		s.logger.Warn("Could not count entities after replay", zap.Error(err))
	} else {
		summary.After = after
	}
	summary.Total = time.Since(start)
	summary.Log(s.logger)

	if replay.Failed > 0 {
		s.logger.Warn("Some records failed; they are picked up again only while newer than the stop marker",
			zap.Int("failed", replay.Failed),
		)
	}
	return summary, nil
}
