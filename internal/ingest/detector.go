package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/constants"
	"github.com/kapu/dealsync-go/internal/domain"
	"github.com/kapu/dealsync-go/internal/retry"
	"github.com/kapu/dealsync-go/internal/scraper"
	"github.com/kapu/dealsync-go/internal/util"
	"github.com/kapu/dealsync-go/pkg/errors"
)

// ListingParser turns one page of markup into records.
type ListingParser interface {
	ParseDealRows(html string, page int) ([]domain.DealRecord, []error, error)
}

// MarkerSource provides the most recently persisted round.
type MarkerSource interface {
	LatestRound(ctx context.Context) (*domain.Round, *domain.Project, error)
}

type DetectorConfig struct {
	// StopAfterPages caps a scan below MaxPages when positive.
	StopAfterPages int
	// FirstRunPageBudget bounds the scan when nothing has been stored yet.
	FirstRunPageBudget int
	// Concurrency is how many pages are fetched at once.
	Concurrency int
}

// ScanReport describes how a scan ended.
type ScanReport struct {
	StopMarker   string
	MarkerFound  bool
	MarkerPage   int
	FirstRun     bool
	PagesScanned int
	PageLimit    int
	FailedPages  []int
	RowErrors    int
	EndOfListing bool
	HitMaxPages  bool
	// RenamedMarker lists project names that differ from the stop marker only
	// in case, spacing or punctuation. They do not stop the scan.
	RenamedMarker []string
}

// Detector finds the listing records newer than the latest stored round.
//
// The stop marker is the project name of that round, compared by exact
// trimmed equality. A project renamed on the listing after it was stored is
// not recognised, so the scan runs on to the page limit; replay is idempotent,
// which keeps that over-collection harmless apart from the wasted fetches.
// Names that only differ from the marker in case or punctuation are logged.
type Detector struct {
	markers MarkerSource
	fetcher scraper.PageFetcher
	parser  ListingParser
	breaker *util.CircuitBreaker
	policy  retry.Policy
	cfg     DetectorConfig
	logger  *zap.Logger
}

func NewDetector(markers MarkerSource, fetcher scraper.PageFetcher, parser ListingParser, breaker *util.CircuitBreaker, policy retry.Policy, cfg DetectorConfig, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = constants.BrowserConfig.Concurrency
	}
	if cfg.FirstRunPageBudget <= 0 {
		cfg.FirstRunPageBudget = constants.SyncConfig.FirstRunPageBudget
	}
	if breaker == nil {
		breaker = util.NewCircuitBreaker("listing",
			constants.CircuitBreakerConfig.FailureThreshold,
			constants.CircuitBreakerConfig.ResetTimeout,
			logger)
	}
	return &Detector{
		markers: markers,
		fetcher: fetcher,
		parser:  parser,
		breaker: breaker,
		policy:  policy,
		cfg:     cfg,
		logger:  logger,
	}
}

type pageResult struct {
	page    int
	records []domain.DealRecord
	rowErrs int
	err     error
}

// FindNewRecords scans from page 1 until the stop marker, an empty page, or
// the page limit. Records come back in listing order, newest first, without
// the marker record or anything after it.
func (d *Detector) FindNewRecords(ctx context.Context, maxPages int) ([]domain.DealRecord, ScanReport, error) {
	var report ScanReport

	_, project, err := d.markers.LatestRound(ctx)
	if err != nil {
		return nil, report, fmt.Errorf("read stop marker: %w", err)
	}

	limit := maxPages
	if project != nil {
		report.StopMarker = strings.TrimSpace(project.Name)
	}
	if report.StopMarker == "" {
		report.FirstRun = true
		limit = min(limit, d.cfg.FirstRunPageBudget)
	}
	if d.cfg.StopAfterPages > 0 {
		limit = min(limit, d.cfg.StopAfterPages)
	}
	report.PageLimit = limit

	d.logger.Info("Scanning listing for new deals",
		zap.String("stop_marker", report.StopMarker),
		zap.Bool("first_run", report.FirstRun),
		zap.Int("page_limit", limit),
	)

	markerKey := util.NormalizeKey(report.StopMarker)
	collected := make([]domain.DealRecord, 0)
	for first := 1; first <= limit; first += d.cfg.Concurrency {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}
		if !d.breaker.CanExecute() {
			return nil, report, errors.NewFetchError("listing circuit open, aborting scan", "", first, 0, true, nil)
		}

		last := min(first+d.cfg.Concurrency-1, limit)
		for _, res := range d.fetchGroup(ctx, first, last) {
			report.PagesScanned++
			if res.err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, report, ctxErr
				}
				d.logger.Warn("Skipping unscrapable page",
					zap.Int("page", res.page),
					zap.Error(res.err),
				)
				report.FailedPages = append(report.FailedPages, res.page)
				continue
			}
			report.RowErrors += res.rowErrs

			if len(res.records) == 0 && res.rowErrs == 0 {
				d.logger.Info("Reached end of listing", zap.Int("page", res.page))
				report.EndOfListing = true
				return collected, report, nil
			}

			for _, record := range res.records {
				if report.StopMarker != "" && strings.TrimSpace(record.ProjectName) == report.StopMarker {
					report.MarkerFound = true
					report.MarkerPage = res.page
					d.logger.Info("Stop marker found",
						zap.String("project", report.StopMarker),
						zap.Int("page", res.page),
						zap.Int("records", len(collected)),
					)
					return collected, report, nil
				}
				if markerKey != "" && util.NormalizeKey(record.ProjectName) == markerKey {
					d.logger.Warn("Listing name resembles stop marker but does not match it",
						zap.String("stop_marker", report.StopMarker),
						zap.String("project", record.ProjectName),
						zap.Int("page", res.page),
					)
					report.RenamedMarker = append(report.RenamedMarker, record.ProjectName)
				}
				collected = append(collected, record)
			}
		}
	}

	switch {
	case report.FirstRun:
		d.logger.Info("First run page budget scanned", zap.Int("pages", report.PagesScanned))
	case d.cfg.StopAfterPages > 0 && limit == d.cfg.StopAfterPages && limit < maxPages:
		d.logger.Info("Stopped after configured page count", zap.Int("pages", limit))
	default:
		report.HitMaxPages = true
		d.logger.Warn("Stop marker not found within page limit; local data may be further behind",
			zap.String("stop_marker", report.StopMarker),
			zap.Int("max_pages", maxPages),
		)
	}
	return collected, report, nil
}

// fetchGroup fetches pages first..last concurrently and returns them in page order.
func (d *Detector) fetchGroup(ctx context.Context, first, last int) []pageResult {
	results := make([]pageResult, last-first+1)

	p := pool.New().WithMaxGoroutines(d.cfg.Concurrency)
	for page := first; page <= last; page++ {
		p.Go(func() {
			results[page-first] = d.fetchPage(ctx, page)
		})
	}
	p.Wait()

	return results
}

func (d *Detector) fetchPage(ctx context.Context, page int) pageResult {
	html, err := retry.Do(ctx, d.policy, fmt.Sprintf("fetch page %d", page), func(ctx context.Context) (string, error) {
		return d.fetcher.FetchListingPage(ctx, page)
	})
	if err != nil {
		d.breaker.RecordFailure()
		return pageResult{page: page, err: err}
	}
	d.breaker.RecordSuccess()

	records, rowErrs, err := d.parser.ParseDealRows(html, page)
	if err != nil {
		return pageResult{page: page, err: err}
	}
	return pageResult{page: page, records: records, rowErrs: len(rowErrs)}
}
