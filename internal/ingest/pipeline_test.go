package ingest

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kapu/dealsync-go/internal/config"
	"github.com/kapu/dealsync-go/internal/domain"
	"github.com/kapu/dealsync-go/internal/scraper/scrapertest"
	"github.com/kapu/dealsync-go/internal/store/memstore"
)

func newSyncer(st *memstore.Store, fetcher *scrapertest.Fetcher) *Syncer {
	detector := newDetector(st, fetcher, nil, DetectorConfig{Concurrency: 2})
	resolver := NewResolver(st, nil, nil, fastPolicy(), ResolverConfig{}, nil)
	upserter := newUpserter(st, config.DatePolicyFallback)
	return NewSyncer(st, detector, resolver, upserter, nil)
}

func scenarioListing() *scrapertest.Fetcher {
	return scrapertest.NewFetcher(map[int][]scrapertest.Row{
		1: {{
			Rank: "1", Project: "ProjectA", ProjectHref: "/projects/project-a",
			Round: "Seed", Date: "2025-10-01", Raised: "$1M",
			Investors: []scrapertest.Investor{{Name: "Alpha", Href: "/investors/alpha"}},
		}},
		2: {{Rank: "1", Project: "ProjectB", Round: "Seed", Date: "2025-09-01", Raised: "$1M"}},
		3: rows("Old", 1),
	})
}

func TestRunCycleScenario(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seedRound(t, st, "ProjectB", day(2025, time.September, 1))
	fetcher := scenarioListing()
	s := newSyncer(st, fetcher)

	summary, err := s.RunCycle(ctx, CycleOptions{MaxPages: 10})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Found)
	require.True(t, summary.Scan.MarkerFound)
	require.Equal(t, 2, summary.Scan.MarkerPage)
	require.Equal(t, 1, summary.Replay.Created)
	require.Equal(t, domain.Counts{Projects: 1, Rounds: 1, Investors: 1, Investments: 1}, summary.Delta())

	var projectA domain.Project
	for _, p := range st.Projects() {
		if p.Name == "ProjectA" {
			projectA = p
		}
	}
	require.Equal(t, "project-a", projectA.Slug)

	investors := st.Investors()
	require.Len(t, investors, 1)
	require.Equal(t, "alpha", investors[0].Slug)

	var round domain.Round
	for _, r := range st.Rounds() {
		if r.ProjectID == projectA.ID {
			round = r
		}
	}
	require.Equal(t, "Seed", round.Type)
	require.Equal(t, day(2025, time.October, 1), round.Date)
	require.True(t, decimal.NewFromInt(1_000_000).Equal(round.Amount.Decimal))

	investments := st.Investments()
	require.Len(t, investments, 1)
	require.Equal(t, round.ID, investments[0].RoundID)
	require.Equal(t, investors[0].ID, investments[0].InvestorID)

	// ProjectA is now the stop marker, so nothing is new.
	summary, err = s.RunCycle(ctx, CycleOptions{MaxPages: 10})
	require.NoError(t, err)
	require.Zero(t, summary.Found)
	require.Equal(t, domain.Counts{}, summary.Delta())

	// Replaying the same records again writes nothing.
	records, _, err := newDetector(memstore.New(), scenarioListing(), nil, DetectorConfig{FirstRunPageBudget: 1}).
		FindNewRecords(ctx, 10)
	require.NoError(t, err)
	index, _, err := s.resolver.Resolve(ctx, domain.CollectInvestorRefs(records))
	require.NoError(t, err)
	report, err := s.upserter.Replay(ctx, records, index, 0)
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Zero(t, report.Created)
	require.Len(t, st.Investors(), 1)
}

func TestRunCycleDryRunWritesNothing(t *testing.T) {
	st := memstore.New()
	seedRound(t, st, "ProjectB", day(2025, time.September, 1))
	s := newSyncer(st, scenarioListing())

	var out bytes.Buffer
	s.SetOutput(&out)

	summary, err := s.RunCycle(context.Background(), CycleOptions{DryRun: true, MaxPages: 10})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Found)
	require.Equal(t, domain.Counts{}, summary.Delta())
	require.Contains(t, out.String(), "ProjectA")
	require.Contains(t, out.String(), "2025-10-01")
	require.Contains(t, out.String(), "Alpha")
	require.Len(t, st.Projects(), 1)
}

func TestRunCycleLimitKeepsOldest(t *testing.T) {
	st := memstore.New()
	seedRound(t, st, "Marker", day(2025, time.January, 1))
	fetcher := scrapertest.NewFetcher(map[int][]scrapertest.Row{
		1: {
			{Rank: "1", Project: "Third", Round: "Seed", Date: "3 Mar 2025"},
			{Rank: "2", Project: "Second", Round: "Seed", Date: "2 Mar 2025"},
			{Rank: "3", Project: "First", Round: "Seed", Date: "1 Mar 2025"},
			{Rank: "4", Project: "Marker", Round: "Seed", Date: "1 Jan 2025"},
		},
	})
	s := newSyncer(st, fetcher)

	summary, err := s.RunCycle(context.Background(), CycleOptions{Limit: 2, MaxPages: 5})
	require.NoError(t, err)
	require.Equal(t, 3, summary.Found)
	require.Equal(t, 2, summary.Replay.Records)

	_, project, err := st.LatestRound(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Second", project.Name)
}

func TestRunCycleFailsWhenStorageUnreachable(t *testing.T) {
	st := memstore.New()
	st.SetPingError(stderrors.New("connection refused"))
	fetcher := scenarioListing()

	_, err := newSyncer(st, fetcher).RunCycle(context.Background(), CycleOptions{MaxPages: 10})
	require.Error(t, err)
	require.Empty(t, fetcher.Calls())
}
