package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kapu/dealsync-go/internal/domain"
	"github.com/kapu/dealsync-go/internal/retry"
	"github.com/kapu/dealsync-go/internal/scraper"
	"github.com/kapu/dealsync-go/internal/scraper/scrapertest"
	"github.com/kapu/dealsync-go/internal/store"
	"github.com/kapu/dealsync-go/internal/store/memstore"
	"github.com/kapu/dealsync-go/internal/util"
)

const listingBase = "https://deals.example.com/funding-rounds/"

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Classify: retry.IsRetryable}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func usd(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func newParser() *scraper.Parser {
	return scraper.NewParser(scraper.DefaultSelectors(), listingBase, nil)
}

// seedRound stores a project with one round so it becomes the stop marker.
func seedRound(t *testing.T, st *memstore.Store, project string, date time.Time) {
	t.Helper()
	err := st.WithTx(context.Background(), time.Second, func(ctx context.Context, q store.Queries) error {
		p := &domain.Project{Slug: util.Slugify(project), Name: project, Status: domain.StatusActive}
		if err := q.CreateProject(ctx, p); err != nil {
			return err
		}
		return q.CreateRound(ctx, &domain.Round{ProjectID: p.ID, Type: "Seed", Date: date, Amount: usd(1_000_000)})
	})
	require.NoError(t, err)
}

// rows builds n listing rows named prefix1..prefixN.
func rows(prefix string, n int) []scrapertest.Row {
	out := make([]scrapertest.Row, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, scrapertest.Row{
			Rank:    fmt.Sprint(i),
			Project: fmt.Sprintf("%s%d", prefix, i),
			Round:   "Seed",
			Date:    "Oct 2025",
			Raised:  "$1M",
		})
	}
	return out
}

func names(records []domain.DealRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ProjectName
	}
	return out
}

func newDetector(st MarkerSource, fetcher scraper.PageFetcher, breaker *util.CircuitBreaker, cfg DetectorConfig) *Detector {
	return NewDetector(st, fetcher, newParser(), breaker, fastPolicy(), cfg, nil)
}
