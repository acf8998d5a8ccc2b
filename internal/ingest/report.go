package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/constants"
	"github.com/kapu/dealsync-go/internal/domain"
	"github.com/kapu/dealsync-go/internal/store"
	"github.com/kapu/dealsync-go/internal/util"
)

// DiffRow is one would-be write in a dry run.
type DiffRow struct {
	Page         int
	Rank         string
	Project      string
	ProjectKnown bool
	RoundType    string
	Date         time.Time
	DateText     string
	Raised       string
	Investors    []string
	NewInvestors []string
}

// BuildDiff describes what replaying records would do, oldest first, using
// read-only lookups.
func BuildDiff(ctx context.Context, q store.Queries, records []domain.DealRecord) ([]DiffRow, error) {
	refs := domain.CollectInvestorRefs(records)
	variants := make([]string, 0, len(refs)*2)
	for _, ref := range refs {
		variants = append(variants, domain.CandidatesFor(ref).Variants()...)
	}
	known := make(map[string]struct{})
	if len(variants) > 0 {
		investors, err := q.FindInvestorsBySlugs(ctx, util.Unique(variants))
		if err != nil {
			return nil, fmt.Errorf("look up investors: %w", err)
		}
		for _, inv := range investors {
			known[inv.Slug] = struct{}{}
		}
	}

	rows := make([]DiffRow, 0, len(records))
	for _, record := range util.Reversed(records) {
		project, err := q.FindProjectBySlugOrName(ctx, util.Slugify(record.ProjectName), strings.TrimSpace(record.ProjectName))
		if err != nil {
			return nil, fmt.Errorf("look up project %q: %w", record.ProjectName, err)
		}

		row := DiffRow{
			Page:         record.Page,
			Rank:         record.Rank,
			Project:      record.ProjectName,
			ProjectKnown: project != nil,
			RoundType:    record.RoundType,
			DateText:     record.DateText,
			Raised:       "-",
		}
		if date, err := util.ParseDealDate(record.DateText); err == nil {
			row.Date = date
		}
		if record.RaisedAmount.Valid {
			row.Raised = "$" + record.RaisedAmount.Decimal.StringFixed(0)
		}
	next:
		for _, ref := range record.InvestorRefs {
			row.Investors = append(row.Investors, ref.Name)
			for _, v := range domain.CandidatesFor(ref).Variants() {
				if _, ok := known[v]; ok {
					continue next
				}
			}
			row.NewInvestors = append(row.NewInvestors, ref.Name)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// RenderDiff writes rows as a table to w.
func RenderDiff(w io.Writer, rows []DiffRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Page", "Rank", "Project", "Known", "Round", "Date", "Raised", "Investors", "New investors"})
	for i, row := range rows {
		date := util.FormatDay(row.Date)
		if row.Date.IsZero() {
			date = fmt.Sprintf("? (%s)", row.DateText)
		}
		t.AppendRow(table.Row{
			i + 1,
			row.Page,
			row.Rank,
			util.TruncateString(row.Project, constants.StringLimits.DiffProjectName),
			yesNo(row.ProjectKnown),
			row.RoundType,
			date,
			row.Raised,
			util.TruncateString(strings.Join(row.Investors, ", "), constants.StringLimits.DiffInvestors),
			util.TruncateString(strings.Join(row.NewInvestors, ", "), constants.StringLimits.DiffInvestors),
		})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d records", len(rows))})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Summary is the outcome of one sync cycle.
type Summary struct {
	DryRun      bool
	Scan        ScanReport
	Found       int
	Resolve     ResolveReport
	Replay      ReplayReport
	Before      domain.Counts
	After       domain.Counts
	ScanTime    time.Duration
	ResolveTime time.Duration
	ReplayTime  time.Duration
	Total       time.Duration
}

// Delta is how much each table grew during the cycle.
func (s Summary) Delta() domain.Counts {
	return s.After.Sub(s.Before)
}

// Log writes the summary as one structured line.
func (s Summary) Log(logger *zap.Logger) {
	delta := s.Delta()
	logger.Info("Sync cycle finished",
		zap.Bool("dry_run", s.DryRun),
		zap.Int("pages", s.Scan.PagesScanned),
		zap.Ints("failed_pages", s.Scan.FailedPages),
		zap.Bool("marker_found", s.Scan.MarkerFound),
		zap.Int("found", s.Found),
		zap.Int("created", s.Replay.Created),
		zap.Int("skipped", s.Replay.Skipped),
		zap.Int("failed", s.Replay.Failed),
		zap.Int("investors_unresolved", s.Resolve.Abandoned+s.Resolve.Failed),
		zap.Int64("projects", delta.Projects),
		zap.Int64("rounds", delta.Rounds),
		zap.Int64("investors", delta.Investors),
		zap.Int64("investments", delta.Investments),
		zap.Duration("scan", s.ScanTime),
		zap.Duration("resolve", s.ResolveTime),
		zap.Duration("replay", s.ReplayTime),
		zap.Duration("total", s.Total),
	)
}
