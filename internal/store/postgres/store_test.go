package postgres

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/domain"
	"github.com/kapu/dealsync-go/internal/service/database"
	"github.com/kapu/dealsync-go/internal/store"
	"github.com/kapu/dealsync-go/internal/testutil"
	"github.com/kapu/dealsync-go/pkg/errors"
)

func TestClassifyPostgresErrors(t *testing.T) {
	cases := map[pq.ErrorCode]errors.StoreErrorKind{
		"40001": errors.StoreKindConflict,
		"40P01": errors.StoreKindConflict,
		"23505": errors.StoreKindConflict,
		"57014": errors.StoreKindTimeout,
		"08006": errors.StoreKindUnavailable,
		"53300": errors.StoreKindUnavailable,
		"23503": errors.StoreKindInvalid,
		"42P01": errors.StoreKindInvalid,
		"XX000": errors.StoreKindTransient,
	}
	for code, want := range cases {
		err := translate("op", &pq.Error{Code: code})
		var storeErr *errors.StoreError
		require.True(t, stderrors.As(err, &storeErr), "code %s", code)
		require.Equal(t, want, storeErr.Kind, "code %s", code)
	}

	require.Nil(t, translate("op", nil))
	plain := stderrors.New("plain")
	require.Equal(t, plain, translate("op", plain))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := testutil.PostgresURL(t)

	ctx := context.Background()
	svc, err := database.NewPostgresService(ctx, database.PostgresConfig{URL: dsn}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	require.NoError(t, svc.Migrate(ctx))
	_, err = svc.GetDB().ExecContext(ctx, `TRUNCATE investments, rounds, investors, projects`)
	require.NoError(t, err)

	return New(svc.GetDB(), zap.NewNop())
}

func TestPostgresRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	amount := decimal.NewNullDecimal(decimal.RequireFromString("1000000"))

	var roundID, investorID string
	err := s.WithTx(ctx, 10*time.Second, func(ctx context.Context, q store.Queries) error {
		project := &domain.Project{Slug: "project-a", Name: "ProjectA", Categories: []string{"DeFi"}}
		if err := q.CreateProject(ctx, project); err != nil {
			return err
		}
		investor := &domain.Investor{Slug: "alpha", Name: "Alpha", Links: domain.InvestorLinks{Twitter: "https://x.com/alpha"}}
		if err := q.CreateInvestor(ctx, investor); err != nil {
			return err
		}
		round := &domain.Round{ProjectID: project.ID, Type: "Seed", Date: date, Amount: amount}
		if err := q.CreateRound(ctx, round); err != nil {
			return err
		}
		roundID, investorID = round.ID, investor.ID
		_, err := q.CreateInvestments(ctx, []domain.Investment{{
			RoundID: round.ID, InvestorID: investor.ID, Amount: amount, Currency: "USD", InvestedAt: date,
		}})
		return err
	})
	require.NoError(t, err)

	round, project, err := s.LatestRound(ctx)
	require.NoError(t, err)
	require.Equal(t, "ProjectA", project.Name)
	require.Equal(t, []string{"DeFi"}, project.Categories)
	require.True(t, round.Date.Equal(date))

	found, err := s.FindRound(ctx, project.ID, "Seed", date, decimal.NewNullDecimal(decimal.RequireFromString("1000000.00")))
	require.NoError(t, err)
	require.NotNil(t, found)

	missing, err := s.FindRound(ctx, project.ID, "Seed", date, decimal.NullDecimal{})
	require.NoError(t, err)
	require.Nil(t, missing)

	n, err := s.CreateInvestments(ctx, []domain.Investment{{
		RoundID: roundID, InvestorID: investorID, Currency: "USD", InvestedAt: date,
	}})
	require.NoError(t, err)
	require.Zero(t, n)

	investors, err := s.FindInvestorsBySlugs(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, investors, 1)
	require.Equal(t, "https://x.com/alpha", investors[0].Links.Twitter)

	err = s.CreateProject(ctx, &domain.Project{Slug: "project-a", Name: "Dup"})
	var storeErr *errors.StoreError
	require.True(t, stderrors.As(err, &storeErr))
	require.Equal(t, errors.StoreKindConflict, storeErr.Kind)
}

func TestPostgresRoundIdentityWithNullAmount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	project := &domain.Project{Slug: "gamma", Name: "Gamma"}
	require.NoError(t, s.CreateProject(ctx, project))

	unpriced := &domain.Round{ProjectID: project.ID, Type: "Seed", Date: date}
	require.NoError(t, s.CreateRound(ctx, unpriced))

	found, err := s.FindRound(ctx, project.ID, "Seed", date, decimal.NullDecimal{})
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, unpriced.ID, found.ID)
	require.False(t, found.Amount.Valid)

	priced, err := s.FindRound(ctx, project.ID, "Seed", date, decimal.NewNullDecimal(decimal.NewFromInt(5)))
	require.NoError(t, err)
	require.Nil(t, priced)

	err = s.CreateRound(ctx, &domain.Round{ProjectID: project.ID, Type: "Seed", Date: date})
	var storeErr *errors.StoreError
	require.True(t, stderrors.As(err, &storeErr), "a second unpriced round with the same type and date must be rejected")
	require.Equal(t, errors.StoreKindConflict, storeErr.Kind)
}

func TestPostgresLatestRoundOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	round, project, err := s.LatestRound(ctx)
	require.NoError(t, err)
	require.Nil(t, round)
	require.Nil(t, project)

	create := func(name string, date time.Time) {
		p := &domain.Project{Slug: strings.ToLower(name), Name: name}
		require.NoError(t, s.CreateProject(ctx, p))
		require.NoError(t, s.CreateRound(ctx, &domain.Round{ProjectID: p.ID, Type: "Seed", Date: date}))
	}
	sameDay := time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC)
	create("Later", sameDay)
	create("Earlier", time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC))
	create("LaterStill", sameDay)

	_, project, err = s.LatestRound(ctx)
	require.NoError(t, err)
	require.Equal(t, "LaterStill", project.Name, "same-day rounds fall back to creation order")
}

func TestPostgresInvestmentsInsertOnlyNewPairs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	project := &domain.Project{Slug: "delta", Name: "Delta"}
	require.NoError(t, s.CreateProject(ctx, project))
	round := &domain.Round{ProjectID: project.ID, Type: "Seed", Date: date}
	require.NoError(t, s.CreateRound(ctx, round))

	ids := make([]string, 0, 3)
	for _, slug := range []string{"alpha", "beta", "gamma"} {
		inv := &domain.Investor{Slug: slug, Name: slug}
		require.NoError(t, s.CreateInvestor(ctx, inv))
		ids = append(ids, inv.ID)
	}
	investment := func(id string) domain.Investment {
		return domain.Investment{RoundID: round.ID, InvestorID: id, Currency: "USD", InvestedAt: date}
	}

	n, err := s.CreateInvestments(ctx, []domain.Investment{investment(ids[0])})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.CreateInvestments(ctx, []domain.Investment{investment(ids[0]), investment(ids[1]), investment(ids[2])})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	recorded, err := s.InvestorIDsForRound(ctx, round.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, ids, recorded)
}
