package ingest

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kapu/dealsync-go/internal/constants"
	"github.com/kapu/dealsync-go/internal/domain"
	"github.com/kapu/dealsync-go/internal/rewrite"
	"github.com/kapu/dealsync-go/internal/scraper"
	"github.com/kapu/dealsync-go/internal/store/memstore"
	"github.com/kapu/dealsync-go/pkg/errors"
)

func profilePage(canonical, name, logo, description string) string {
	return fmt.Sprintf(`<html><head><link rel="canonical" href="/investors/%s/"></head>
<body><div class="profile-header"><img src="%s"><h1>%s</h1></div>
<div class="investor-description">%s</div>
<div class="investor-links"><a href="https://x.com/%s">X</a></div></body></html>`,
		canonical, logo, name, description, canonical)
}

type profileServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newProfileServer(t *testing.T, pages map[string]string) *profileServer {
	t.Helper()
	ps := &profileServer{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.hits.Add(1)
		if body, ok := pages[r.URL.Path]; ok {
			fmt.Fprint(w, body)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(ps.Close)
	return ps
}

func newResolver(st InvestorStore, ps *profileServer, rewriter DescriptionRewriter) *Resolver {
	var profiles ProfileSource
	if ps != nil {
		profiles = scraper.NewProfileScraper(scraper.ProfileScraperConfig{BaseURL: ps.URL + "/investors"}, nil, nil)
	}
	return NewResolver(st, profiles, rewriter, fastPolicy(), ResolverConfig{Concurrency: 2}, nil)
}

func TestResolveConvergesSlugVariants(t *testing.T) {
	ps := newProfileServer(t, map[string]string{
		"/investors/a16z-crypto/": profilePage("a16z-crypto", "a16z crypto", "/img/a16z.png", "Backs crypto founders."),
	})
	st := memstore.New()

	refs := []domain.InvestorRef{
		{Name: "a16z", URL: ps.URL + "/investors/a16z-crypto/"},
		{Name: "a16z crypto"},
		{Name: "a16z"},
	}
	index, report, err := newResolver(st, ps, nil).Resolve(context.Background(), refs)
	require.NoError(t, err)
	require.Equal(t, 1, report.Groups)
	require.Equal(t, 1, report.Created)

	first, ok := index.Lookup(refs[0])
	require.True(t, ok)
	for _, ref := range refs[1:] {
		id, ok := index.Lookup(ref)
		require.True(t, ok, ref.Name)
		require.Equal(t, first, id, ref.Name)
	}

	investors := st.Investors()
	require.Len(t, investors, 1)
	inv := investors[0]
	require.Equal(t, "a16z", inv.Slug)
	require.Equal(t, "a16z", inv.Name)
	require.Equal(t, ps.URL+"/img/a16z.png", inv.Logo)
	require.Equal(t, "Backs crypto founders.", inv.Description)
	require.Equal(t, "https://x.com/a16z-crypto", inv.Links.Twitter)
	require.EqualValues(t, 1, ps.hits.Load())
}

func TestResolveMatchesExistingInvestorByAnyVariant(t *testing.T) {
	st := memstore.New()
	existing := &domain.Investor{Slug: "a16z-crypto", Name: "a16z crypto", Status: domain.StatusActive}
	require.NoError(t, st.CreateInvestor(context.Background(), existing))

	refs := []domain.InvestorRef{
		{Name: "a16z", URL: "https://deals.example.com/investors/a16z-crypto"},
		{Name: "a16z"},
	}
	index, report, err := newResolver(st, nil, nil).Resolve(context.Background(), refs)
	require.NoError(t, err)
	require.Equal(t, 1, report.Matched)
	require.Zero(t, report.Created)

	for _, ref := range refs {
		id, ok := index.Lookup(ref)
		require.True(t, ok)
		require.Equal(t, existing.ID, id)
	}
	require.Len(t, st.Investors(), 1)
}

func TestResolveCreatesWithoutProfile(t *testing.T) {
	ps := newProfileServer(t, nil)
	st := memstore.New()

	refs := []domain.InvestorRef{
		{Name: "Alpha"},
		{Name: constants.IndividualInvestors},
	}
	index, report, err := newResolver(st, ps, nil).Resolve(context.Background(), refs)
	require.NoError(t, err)
	require.Equal(t, 2, report.Created)

	_, ok := index.Lookup(refs[0])
	require.True(t, ok)
	_, ok = index.Lookup(refs[1])
	require.True(t, ok)

	bySlug := map[string]domain.Investor{}
	for _, inv := range st.Investors() {
		bySlug[inv.Slug] = inv
	}
	require.Contains(t, bySlug, "alpha")
	require.Equal(t, domain.InvestorTypeAngel, bySlug["individual-investors"].Type)
	// only Alpha is looked up; the synthetic investor has no profile
	require.EqualValues(t, 1, ps.hits.Load())
}

func TestResolveRebindsToCanonicalProfileSlug(t *testing.T) {
	ps := newProfileServer(t, map[string]string{
		"/investors/pv/": profilePage("paradigm", "Paradigm", "/img/paradigm.png", "Research-driven."),
	})
	st := memstore.New()
	existing := &domain.Investor{Slug: "paradigm", Name: "Paradigm", Status: domain.StatusActive}
	require.NoError(t, st.CreateInvestor(context.Background(), existing))

	ref := domain.InvestorRef{Name: "Paradigm Ventures", URL: ps.URL + "/investors/pv/"}
	index, report, err := newResolver(st, ps, nil).Resolve(context.Background(), []domain.InvestorRef{ref})
	require.NoError(t, err)
	require.Zero(t, report.Created)
	require.Equal(t, 1, report.Matched)

	id, ok := index.Lookup(ref)
	require.True(t, ok)
	require.Equal(t, existing.ID, id)

	investors := st.Investors()
	require.Len(t, investors, 1)
	require.Equal(t, ps.URL+"/img/paradigm.png", investors[0].Logo)
}

// takenSlugs reports every slug as taken without matching any investor.
type takenSlugs struct {
	*memstore.Store
}

func (takenSlugs) InvestorSlugExists(context.Context, string) (bool, error) {
	return true, nil
}

func TestResolveAbandonsInvestorWhenSlugsExhausted(t *testing.T) {
	st := takenSlugs{memstore.New()}
	r := NewResolver(st, nil, nil, fastPolicy(), ResolverConfig{MaxSlugAttempts: 3}, nil)

	ref := domain.InvestorRef{Name: "Crowded"}
	index, report, err := r.Resolve(context.Background(), []domain.InvestorRef{ref})
	require.NoError(t, err)
	require.Equal(t, 1, report.Abandoned)
	_, ok := index.Lookup(ref)
	require.False(t, ok)
	require.Empty(t, st.Investors())
}

// failingCreate rejects every write of one slug as if storage were down.
type failingCreate struct {
	*memstore.Store
	slug string
}

func (f failingCreate) CreateInvestor(ctx context.Context, inv *domain.Investor) error {
	if inv.Slug == f.slug {
		return errors.NewStoreError("create investor", errors.StoreKindUnavailable, stderrors.New("connection reset"))
	}
	return f.Store.CreateInvestor(ctx, inv)
}

func TestResolveContinuesPastFailedInvestor(t *testing.T) {
	st := failingCreate{Store: memstore.New(), slug: "beta"}
	r := NewResolver(st, nil, nil, fastPolicy(), ResolverConfig{}, nil)

	refs := []domain.InvestorRef{{Name: "Alpha"}, {Name: "Beta"}, {Name: "Gamma"}}
	index, report, err := r.Resolve(context.Background(), refs)
	require.NoError(t, err)
	require.Equal(t, 2, report.Created)
	require.Equal(t, 1, report.Failed)

	for _, ref := range []domain.InvestorRef{refs[0], refs[2]} {
		_, ok := index.Lookup(ref)
		require.True(t, ok, ref.Name)
	}
	_, ok := index.Lookup(refs[1])
	require.False(t, ok)
	require.Len(t, st.Investors(), 2)
}

func TestResolveStopsWhenCancelled(t *testing.T) {
	st := failingCreate{Store: memstore.New(), slug: "alpha"}
	r := NewResolver(st, nil, nil, fastPolicy(), ResolverConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := r.Resolve(ctx, []domain.InvestorRef{{Name: "Alpha"}})
	require.ErrorIs(t, err, context.Canceled)
}

type upperRewriter struct{ calls int }

func (u *upperRewriter) Enabled() bool { return true }

func (u *upperRewriter) Rewrite(_ context.Context, in rewrite.Input) (string, error) {
	u.calls++
	return "Rewritten: " + in.Description, nil
}

func TestResolveRewritesDescriptions(t *testing.T) {
	ps := newProfileServer(t, map[string]string{
		"/investors/beta/": profilePage("beta", "Beta", "/img/beta.png", "Original text."),
	})
	st := memstore.New()
	rw := &upperRewriter{}

	_, _, err := newResolver(st, ps, rw).Resolve(context.Background(), []domain.InvestorRef{{Name: "Beta"}})
	require.NoError(t, err)
	require.Equal(t, 1, rw.calls)
	require.Equal(t, "Rewritten: Original text.", st.Investors()[0].Description)
}
