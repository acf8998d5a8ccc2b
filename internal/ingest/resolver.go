package ingest

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/constants"
	"github.com/kapu/dealsync-go/internal/domain"
	"github.com/kapu/dealsync-go/internal/retry"
	"github.com/kapu/dealsync-go/internal/rewrite"
	"github.com/kapu/dealsync-go/internal/scraper"
	"github.com/kapu/dealsync-go/internal/util"
	"github.com/kapu/dealsync-go/pkg/errors"
)

// InvestorStore is the part of storage the resolver needs.
type InvestorStore interface {
	FindInvestorsBySlugs(ctx context.Context, slugs []string) ([]domain.Investor, error)
	InvestorSlugExists(ctx context.Context, slug string) (bool, error)
	CreateInvestor(ctx context.Context, investor *domain.Investor) error
	UpdateInvestorLogo(ctx context.Context, id, logo string) error
}

// ProfileSource looks up investor profile pages.
type ProfileSource interface {
	Fetch(ctx context.Context, ref domain.InvestorRef, slug string) (*scraper.Profile, error)
}

// DescriptionRewriter polishes scraped descriptions.
type DescriptionRewriter interface {
	Enabled() bool
	Rewrite(ctx context.Context, in rewrite.Input) (string, error)
}

type ResolverConfig struct {
	Concurrency     int
	MaxSlugAttempts int
}

// ResolveReport counts what a Resolve call did.
type ResolveReport struct {
	Refs      int
	Groups    int
	Matched   int
	Created   int
	Abandoned int
	Failed    int
}

// Resolver maps investor references to stored investor ids, creating the
// investors that do not exist yet. It runs before any deal is written so the
// per-record transactions never scrape or create investors.
type Resolver struct {
	store    InvestorStore
	profiles ProfileSource
	rewriter DescriptionRewriter
	policy   retry.Policy
	cfg      ResolverConfig
	logger   *zap.Logger
}

func NewResolver(store InvestorStore, profiles ProfileSource, rewriter DescriptionRewriter, policy retry.Policy, cfg ResolverConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = constants.SyncConfig.ProfileConcurrency
	}
	if cfg.MaxSlugAttempts <= 0 {
		cfg.MaxSlugAttempts = constants.SyncConfig.MaxSlugAttempts
	}
	return &Resolver{
		store:    store,
		profiles: profiles,
		rewriter: rewriter,
		policy:   policy,
		cfg:      cfg,
		logger:   logger,
	}
}

// investorGroup is every reference that shares at least one slug variant,
// directly or through other references.
type investorGroup struct {
	refs     []domain.InvestorRef
	variants []string
	base     string
	profile  *scraper.Profile
}

func (g *investorGroup) ref() domain.InvestorRef {
	for _, r := range g.refs {
		if r.URL != "" {
			return domain.InvestorRef{Name: g.refs[0].Name, URL: r.URL}
		}
	}
	return g.refs[0]
}

func (g *investorGroup) synthetic() bool {
	return g.refs[0].Name == constants.IndividualInvestors && g.refs[0].URL == ""
}

// Resolve returns an index in which every slug variant of every resolvable
// reference maps to an investor id.
func (r *Resolver) Resolve(ctx context.Context, refs []domain.InvestorRef) (domain.InvestorIndex, ResolveReport, error) {
	index := domain.InvestorIndex{}
	groups := groupRefs(refs)
	report := ResolveReport{Refs: len(refs), Groups: len(groups)}
	if len(groups) == 0 {
		return index, report, nil
	}

	allVariants := make([]string, 0)
	for _, g := range groups {
		allVariants = append(allVariants, g.variants...)
	}

	existing, err := retry.Do(ctx, r.policy, "find investors", func(ctx context.Context) ([]domain.Investor, error) {
		return r.store.FindInvestorsBySlugs(ctx, allVariants)
	})
	if err != nil {
		return nil, report, fmt.Errorf("batch investor lookup: %w", err)
	}
	bySlug := make(map[string]domain.Investor, len(existing))
	for _, inv := range existing {
		bySlug[inv.Slug] = inv
	}

	missing := make([]*investorGroup, 0)
	for _, g := range groups {
		if inv, ok := matchGroup(g, bySlug); ok {
			index.Bind(inv.ID, g.variants...)
			index.Bind(inv.ID, inv.Slug)
			report.Matched++
			continue
		}
		missing = append(missing, g)
	}

	if len(missing) > 0 {
		r.scrapeProfiles(ctx, missing)
	}

	for _, g := range missing {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}
		inv, created, err := r.createGroup(ctx, g, index)
		if err != nil {
			var identityErr *errors.IdentityError
			if stderrors.As(err, &identityErr) {
				r.logger.Warn("Abandoning investor: no free slug",
					zap.String("investor", g.refs[0].Name),
					zap.String("base_slug", g.base),
					zap.Int("attempts", identityErr.Attempts),
				)
				report.Abandoned++
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, report, ctxErr
			}
			// records naming this investor are written without it
			r.logger.Error("Failed to create investor",
				zap.String("investor", g.refs[0].Name),
				zap.String("base_slug", g.base),
				zap.Error(err),
			)
			report.Failed++
			continue
		}
		index.Bind(inv.ID, g.variants...)
		index.Bind(inv.ID, inv.Slug)
		if g.profile != nil {
			index.Bind(inv.ID, g.profile.Slug)
		}
		if created {
			report.Created++
		} else {
			report.Matched++
		}
	}

	r.logger.Info("Investors resolved",
		zap.Int("refs", report.Refs),
		zap.Int("groups", report.Groups),
		zap.Int("matched", report.Matched),
		zap.Int("created", report.Created),
		zap.Int("abandoned", report.Abandoned),
		zap.Int("failed", report.Failed),
	)
	return index, report, nil
}

func matchGroup(g *investorGroup, bySlug map[string]domain.Investor) (domain.Investor, bool) {
	for _, v := range g.variants {
		if inv, ok := bySlug[v]; ok {
			return inv, true
		}
	}
	return domain.Investor{}, false
}

// scrapeProfiles fetches the profile of every missing group concurrently.
// A failed fetch leaves the group without a profile.
func (r *Resolver) scrapeProfiles(ctx context.Context, groups []*investorGroup) {
	if r.profiles == nil {
		return
	}

	p := pool.New().WithMaxGoroutines(r.cfg.Concurrency)
	for _, g := range groups {
		if g.synthetic() {
			continue
		}
		p.Go(func() {
			profile, err := retry.Do(ctx, r.policy, "fetch profile "+g.base, func(ctx context.Context) (*scraper.Profile, error) {
				return r.profiles.Fetch(ctx, g.ref(), g.base)
			})
			if err != nil {
				r.logger.Warn("Investor profile unavailable, creating from listing data",
					zap.String("investor", g.refs[0].Name),
					zap.Error(err),
				)
				return
			}
			g.profile = profile
		})
	}
	p.Wait()
}

// createGroup creates the investor for g under a free slug, unless the
// profile's canonical slug points at an investor that already exists.
// The boolean reports whether a new investor was stored.
func (r *Resolver) createGroup(ctx context.Context, g *investorGroup, index domain.InvestorIndex) (*domain.Investor, bool, error) {
	if g.profile != nil && g.profile.Slug != "" && !util.Contains(g.variants, g.profile.Slug) {
		if id, ok := index[g.profile.Slug]; ok {
			return &domain.Investor{ID: id, Slug: g.profile.Slug}, false, nil
		}
		found, err := retry.Do(ctx, r.policy, "find investor", func(ctx context.Context) ([]domain.Investor, error) {
			return r.store.FindInvestorsBySlugs(ctx, []string{g.profile.Slug})
		})
		if err != nil {
			return nil, false, err
		}
		if len(found) > 0 {
			existing := found[0]
			if existing.Logo == "" && g.profile.Logo != "" {
				if err := r.store.UpdateInvestorLogo(ctx, existing.ID, g.profile.Logo); err != nil {
					r.logger.Warn("Investor logo backfill failed", zap.String("slug", existing.Slug), zap.Error(err))
				}
			}
			return &existing, false, nil
		}
	}

	investor := r.buildInvestor(ctx, g)
	created, err := retry.Do(ctx, r.policy, "create investor "+g.base, func(ctx context.Context) (*domain.Investor, error) {
		slug, err := r.freeSlug(ctx, g.base, index)
		if err != nil {
			return nil, err
		}
		candidate := investor
		candidate.Slug = slug
		if err := r.store.CreateInvestor(ctx, &candidate); err != nil {
			return nil, err
		}
		r.logger.Debug("Investor created", zap.String("slug", slug), zap.String("name", candidate.Name))
		return &candidate, nil
	})
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// freeSlug probes base, base-2, base-3, ... against the slugs bound in this
// batch and against storage.
func (r *Resolver) freeSlug(ctx context.Context, base string, index domain.InvestorIndex) (string, error) {
	for n := 1; n <= r.cfg.MaxSlugAttempts; n++ {
		slug := util.SuffixSlug(base, n)
		if _, taken := index[slug]; taken {
			continue
		}
		exists, err := r.store.InvestorSlugExists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
	}
	return "", errors.NewIdentityError("investor", base, r.cfg.MaxSlugAttempts)
}

func (r *Resolver) buildInvestor(ctx context.Context, g *investorGroup) domain.Investor {
	name := g.refs[0].Name
	if name == "" && g.profile != nil {
		name = g.profile.Name
	}
	if name == "" {
		name = g.base
	}

	investor := domain.Investor{
		Name:   name,
		Type:   domain.ClassifyInvestor(name),
		Status: domain.StatusActive,
	}
	if g.profile == nil {
		investor.Links.Profile = g.ref().URL
		return investor
	}

	investor.Logo = g.profile.Logo
	investor.Links = g.profile.Links
	investor.Links.Profile = g.profile.SourceURL
	investor.Description = g.profile.Description

	if r.rewriter != nil && r.rewriter.Enabled() && investor.Description != "" {
		text, err := r.rewriter.Rewrite(ctx, rewrite.Input{
			Name:        investor.Name,
			Type:        string(investor.Type),
			Website:     investor.Links.Website,
			Description: investor.Description,
		})
		if err != nil {
			r.logger.Warn("Description rewrite failed, keeping scraped text",
				zap.String("investor", investor.Name),
				zap.Error(err),
			)
		}
		investor.Description = text
	}
	return investor
}

// groupRefs merges references that share any slug variant, keeping the
// order in which groups first appear.
func groupRefs(refs []domain.InvestorRef) []*investorGroup {
	parent := make(map[string]string)
	var find func(string) string
	find = func(s string) string {
		if parent[s] != s {
			parent[s] = find(parent[s])
		}
		return parent[s]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	sets := make([]domain.CandidateSlugSet, len(refs))
	order := make([]string, 0)
	for i, ref := range refs {
		sets[i] = domain.CandidatesFor(ref)
		for _, v := range sets[i].Variants() {
			if _, ok := parent[v]; !ok {
				parent[v] = v
				order = append(order, v)
			}
		}
	}
	for _, set := range sets {
		variants := set.Variants()
		for _, v := range variants[min(1, len(variants)):] {
			union(variants[0], v)
		}
	}

	byRoot := make(map[string]*investorGroup)
	groups := make([]*investorGroup, 0)
	for i, ref := range refs {
		if sets[i].Empty() {
			continue
		}
		root := find(sets[i].Variants()[0])
		g, ok := byRoot[root]
		if !ok {
			g = &investorGroup{base: sets[i].Base()}
			byRoot[root] = g
			groups = append(groups, g)
		}
		g.refs = append(g.refs, ref)
	}
	for _, v := range order {
		g := byRoot[find(v)]
		g.variants = append(g.variants, v)
	}
	return groups
}
