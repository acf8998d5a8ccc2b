// Package memstore is an in-memory store.Store used by tests and dry runs
// against a snapshot. It enforces the same uniqueness rules as the Postgres
// schema.
package memstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kapu/dealsync-go/internal/domain"
	"github.com/kapu/dealsync-go/internal/store"
	"github.com/kapu/dealsync-go/pkg/errors"
)

type state struct {
	projects    []domain.Project
	rounds      []domain.Round
	investors   []domain.Investor
	investments []domain.Investment
}

func (s *state) clone() *state {
	return &state{
		projects:    slices.Clone(s.projects),
		rounds:      slices.Clone(s.rounds),
		investors:   slices.Clone(s.investors),
		investments: slices.Clone(s.investments),
	}
}

// Store keeps all entities in memory. Transactions work on a copy of the
// state that replaces the original on commit.
type Store struct {
	mu       sync.Mutex
	st       *state
	lastTime time.Time
	now      func() time.Time
	txErrs   []error
	pingErr  error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: &state{}, now: time.Now}
}

// InjectTxError makes the next len(errs) transactions fail at commit with
// the given errors, in order.
func (s *Store) InjectTxError(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txErrs = append(s.txErrs, errs...)
}

// SetPingError makes Ping fail with err until cleared with nil.
func (s *Store) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

// tick returns a creation timestamp strictly after every earlier one.
// Caller holds mu.
func (s *Store) tick() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastTime) {
		t = s.lastTime.Add(time.Microsecond)
	}
	s.lastTime = t
	return t
}

func (s *Store) WithTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, q store.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	working := s.st.clone()
	if err := fn(ctx, &queries{s: s, st: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		kind := errors.StoreKindTimeout
		if stderrors.Is(err, context.Canceled) {
			kind = errors.StoreKindInvalid
		}
		return errors.NewStoreError("commit", kind, err)
	}
	if len(s.txErrs) > 0 {
		err := s.txErrs[0]
		s.txErrs = s.txErrs[1:]
		return err
	}

	s.st = working
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingErr != nil {
		return errors.NewStoreError("ping", errors.StoreKindUnavailable, s.pingErr)
	}
	return ctx.Err()
}

func (s *Store) Close() error { return nil }

func (s *Store) direct() *queries { return &queries{s: s, st: s.st} }

func (s *Store) LatestRound(ctx context.Context) (*domain.Round, *domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().LatestRound(ctx)
}

func (s *Store) FindProjectBySlugOrName(ctx context.Context, slug, name string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().FindProjectBySlugOrName(ctx, slug, name)
}

func (s *Store) ProjectSlugExists(ctx context.Context, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().ProjectSlugExists(ctx, slug)
}

func (s *Store) CreateProject(ctx context.Context, project *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().CreateProject(ctx, project)
}

func (s *Store) UpdateProjectLogo(ctx context.Context, id, logo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().UpdateProjectLogo(ctx, id, logo)
}

func (s *Store) FindRound(ctx context.Context, projectID, roundType string, date time.Time, amount decimal.NullDecimal) (*domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().FindRound(ctx, projectID, roundType, date, amount)
}

func (s *Store) CreateRound(ctx context.Context, round *domain.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().CreateRound(ctx, round)
}

func (s *Store) FindInvestorsBySlugs(ctx context.Context, slugs []string) ([]domain.Investor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().FindInvestorsBySlugs(ctx, slugs)
}

func (s *Store) InvestorSlugExists(ctx context.Context, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InvestorSlugExists(ctx, slug)
}

func (s *Store) CreateInvestor(ctx context.Context, investor *domain.Investor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().CreateInvestor(ctx, investor)
}

func (s *Store) UpdateInvestorLogo(ctx context.Context, id, logo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().UpdateInvestorLogo(ctx, id, logo)
}

func (s *Store) InvestorIDsForRound(ctx context.Context, roundID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InvestorIDsForRound(ctx, roundID)
}

func (s *Store) CreateInvestments(ctx context.Context, investments []domain.Investment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().CreateInvestments(ctx, investments)
}

func (s *Store) Counts(ctx context.Context) (domain.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().Counts(ctx)
}

// Projects returns a snapshot of all projects in creation order.
func (s *Store) Projects() []domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.projects)
}

// Rounds returns a snapshot of all rounds in creation order.
func (s *Store) Rounds() []domain.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.rounds)
}

// Investors returns a snapshot of all investors in creation order.
func (s *Store) Investors() []domain.Investor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.investors)
}

// Investments returns a snapshot of all investments in creation order.
func (s *Store) Investments() []domain.Investment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.investments)
}

// queries implements store.Queries on one state. The owning Store's mutex is
// held by the caller.
type queries struct {
	s  *Store
	st *state
}

func (q *queries) LatestRound(ctx context.Context) (*domain.Round, *domain.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var latest *domain.Round
	for i := range q.st.rounds {
		r := &q.st.rounds[i]
		if latest == nil ||
			r.Date.After(latest.Date) ||
			(r.Date.Equal(latest.Date) && r.CreatedAt.After(latest.CreatedAt)) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil, nil
	}
	round := *latest
	for _, p := range q.st.projects {
		if p.ID == round.ProjectID {
			project := p
			return &round, &project, nil
		}
	}
	return nil, nil, errors.NewStoreError("latest round", errors.StoreKindNotFound,
		fmt.Errorf("project %s of round %s missing", round.ProjectID, round.ID))
}

func (q *queries) FindProjectBySlugOrName(ctx context.Context, slug, name string) (*domain.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var byName *domain.Project
	for i := range q.st.projects {
		p := q.st.projects[i]
		if slug != "" && p.Slug == slug {
			return &p, nil
		}
		if byName == nil && name != "" && p.Name == name {
			byName = &p
		}
	}
	return byName, nil
}

func (q *queries) ProjectSlugExists(ctx context.Context, slug string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return slices.ContainsFunc(q.st.projects, func(p domain.Project) bool { return p.Slug == slug }), nil
}

func (q *queries) CreateProject(ctx context.Context, project *domain.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if exists, _ := q.ProjectSlugExists(ctx, project.Slug); exists {
		return errors.NewStoreError("create project", errors.StoreKindConflict,
			fmt.Errorf("duplicate project slug %q", project.Slug))
	}
	project.ID = uuid.NewString()
	project.CreatedAt = q.s.tick()
	q.st.projects = append(q.st.projects, *project)
	return nil
}

func (q *queries) UpdateProjectLogo(ctx context.Context, id, logo string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range q.st.projects {
		if q.st.projects[i].ID == id {
			q.st.projects[i].Logo = logo
			return nil
		}
	}
	return errors.NewStoreError("update project logo", errors.StoreKindNotFound, fmt.Errorf("project %s", id))
}

func sameAmount(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func (q *queries) FindRound(ctx context.Context, projectID, roundType string, date time.Time, amount decimal.NullDecimal) (*domain.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, r := range q.st.rounds {
		if r.ProjectID == projectID && r.Type == roundType && r.Date.Equal(date) && sameAmount(r.Amount, amount) {
			round := r
			return &round, nil
		}
	}
	return nil, nil
}

func (q *queries) CreateRound(ctx context.Context, round *domain.Round) error {
	existing, err := q.FindRound(ctx, round.ProjectID, round.Type, round.Date, round.Amount)
	if err != nil {
		return err
	}
	if existing != nil {
		return errors.NewStoreError("create round", errors.StoreKindConflict,
			fmt.Errorf("duplicate round for project %s", round.ProjectID))
	}
	round.ID = uuid.NewString()
	round.CreatedAt = q.s.tick()
	q.st.rounds = append(q.st.rounds, *round)
	return nil
}

func (q *queries) FindInvestorsBySlugs(ctx context.Context, slugs []string) ([]domain.Investor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found := make([]domain.Investor, 0)
	for _, inv := range q.st.investors {
		if slices.Contains(slugs, inv.Slug) {
			found = append(found, inv)
		}
	}
	return found, nil
}

func (q *queries) InvestorSlugExists(ctx context.Context, slug string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return slices.ContainsFunc(q.st.investors, func(i domain.Investor) bool { return i.Slug == slug }), nil
}

func (q *queries) CreateInvestor(ctx context.Context, investor *domain.Investor) error {
	if exists, err := q.InvestorSlugExists(ctx, investor.Slug); err != nil {
		return err
	} else if exists {
		return errors.NewStoreError("create investor", errors.StoreKindConflict,
			fmt.Errorf("duplicate investor slug %q", investor.Slug))
	}
	investor.ID = uuid.NewString()
	investor.CreatedAt = q.s.tick()
	q.st.investors = append(q.st.investors, *investor)
	return nil
}

func (q *queries) UpdateInvestorLogo(ctx context.Context, id, logo string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range q.st.investors {
		if q.st.investors[i].ID == id {
			q.st.investors[i].Logo = logo
			return nil
		}
	}
	return errors.NewStoreError("update investor logo", errors.StoreKindNotFound, fmt.Errorf("investor %s", id))
}

func (q *queries) InvestorIDsForRound(ctx context.Context, roundID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := make([]string, 0)
	for _, inv := range q.st.investments {
		if inv.RoundID == roundID {
			ids = append(ids, inv.InvestorID)
		}
	}
	return ids, nil
}

func (q *queries) CreateInvestments(ctx context.Context, investments []domain.Investment) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	created := 0
	for _, inv := range investments {
		dup := slices.ContainsFunc(q.st.investments, func(e domain.Investment) bool {
			return e.RoundID == inv.RoundID && e.InvestorID == inv.InvestorID
		})
		if dup {
			continue
		}
		inv.ID = uuid.NewString()
		inv.CreatedAt = q.s.tick()
		q.st.investments = append(q.st.investments, inv)
		created++
	}
	return created, nil
}

func (q *queries) Counts(ctx context.Context) (domain.Counts, error) {
	if err := ctx.Err(); err != nil {
		return domain.Counts{}, err
	}
	return domain.Counts{
		Projects:    int64(len(q.st.projects)),
		Rounds:      int64(len(q.st.rounds)),
		Investors:   int64(len(q.st.investors)),
		Investments: int64(len(q.st.investments)),
	}, nil
}
