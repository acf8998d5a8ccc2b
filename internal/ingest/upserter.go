package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/config"
	"github.com/kapu/dealsync-go/internal/constants"
	"github.com/kapu/dealsync-go/internal/domain"
	"github.com/kapu/dealsync-go/internal/retry"
	"github.com/kapu/dealsync-go/internal/store"
	"github.com/kapu/dealsync-go/internal/util"
	"github.com/kapu/dealsync-go/pkg/errors"
)

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ApplyResult is what one record changed in storage.
type ApplyResult struct {
	Outcome            Outcome
	ProjectCreated     bool
	RoundCreated       bool
	InvestmentsCreated int
	MissingInvestors   int
}

type UpserterConfig struct {
	TxTimeout       time.Duration
	DatePolicy      config.DatePolicy
	MaxSlugAttempts int
	Currency        string
}

// Upserter writes deal records one transaction at a time.
type Upserter struct {
	store  store.Store
	policy retry.Policy
	cfg    UpserterConfig
	now    func() time.Time
	logger *zap.Logger
}

func NewUpserter(st store.Store, policy retry.Policy, cfg UpserterConfig, logger *zap.Logger) *Upserter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = constants.SyncConfig.TxTimeout
	}
	if cfg.DatePolicy == "" {
		cfg.DatePolicy = config.DatePolicyFallback
	}
	if cfg.MaxSlugAttempts <= 0 {
		cfg.MaxSlugAttempts = constants.SyncConfig.MaxSlugAttempts
	}
	if cfg.Currency == "" {
		cfg.Currency = constants.SyncConfig.Currency
	}
	return &Upserter{store: st, policy: policy, cfg: cfg, now: time.Now, logger: logger}
}

// ApplyRecord writes record in a single bounded transaction, retrying the
// whole transaction on transient failures. Investor ids come from index only.
func (u *Upserter) ApplyRecord(ctx context.Context, record domain.DealRecord, index domain.InvestorIndex) (ApplyResult, error) {
	var date time.Time
	if record.HasRound() {
		d, err := u.roundDate(record)
		if err != nil {
			return ApplyResult{Outcome: OutcomeFailed}, err
		}
		date = d
	}

	name := fmt.Sprintf("apply %s (page %d)", record.ProjectName, record.Page)
	res, err := retry.Do(ctx, u.policy, name, func(ctx context.Context) (ApplyResult, error) {
		var res ApplyResult
		err := u.store.WithTx(ctx, u.cfg.TxTimeout, func(ctx context.Context, q store.Queries) error {
			var err error
			res, err = u.apply(ctx, q, record, date, index)
			return err
		})
		return res, err
	})
	if err != nil {
		return ApplyResult{Outcome: OutcomeFailed}, err
	}

	if res.RoundCreated || res.InvestmentsCreated > 0 {
		res.Outcome = OutcomeCreated
	} else {
		res.Outcome = OutcomeSkipped
	}
	return res, nil
}

func (u *Upserter) roundDate(record domain.DealRecord) (time.Time, error) {
	date, err := util.ParseDealDate(record.DateText)
	if err == nil {
		return date, nil
	}
	if u.cfg.DatePolicy == config.DatePolicySkip {
		return time.Time{}, errors.NewParseError(
			fmt.Sprintf("unparseable date %q for %s", record.DateText, record.ProjectName),
			record.Page, 0, err)
	}
	now := u.now().UTC()
	fallback := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	u.logger.Warn("Unparseable deal date, using today",
		zap.String("project", record.ProjectName),
		zap.String("date_text", record.DateText),
		zap.String("fallback", util.FormatDay(fallback)),
	)
	return fallback, nil
}

func (u *Upserter) apply(ctx context.Context, q store.Queries, record domain.DealRecord, date time.Time, index domain.InvestorIndex) (ApplyResult, error) {
	var res ApplyResult

	project, created, err := u.ensureProject(ctx, q, record)
	if err != nil {
		return res, err
	}
	res.ProjectCreated = created
	if !record.HasRound() {
		return res, nil
	}

	roundType := strings.TrimSpace(record.RoundType)
	round, err := q.FindRound(ctx, project.ID, roundType, date, record.RaisedAmount)
	if err != nil {
		return res, err
	}
	if round == nil {
		round = &domain.Round{
			ProjectID: project.ID,
			Type:      roundType,
			Date:      date,
			Amount:    record.RaisedAmount,
		}
		if err := q.CreateRound(ctx, round); err != nil {
			return res, err
		}
		res.RoundCreated = true
	}

	refs := domain.CollectInvestorRefs([]domain.DealRecord{record})
	investorIDs := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, ok := index.Lookup(ref)
		if !ok {
			res.MissingInvestors++
			u.logger.Debug("Investor not resolved, leaving it off the round",
				zap.String("project", record.ProjectName),
				zap.String("investor", ref.Name),
			)
			continue
		}
		investorIDs = append(investorIDs, id)
	}
	investorIDs = util.Unique(investorIDs)
	if len(investorIDs) == 0 {
		return res, nil
	}

	recorded, err := q.InvestorIDsForRound(ctx, round.ID)
	if err != nil {
		return res, err
	}
	// unresolved investors still take part in the round, so they count toward the split
	share := perInvestorShare(record.RaisedAmount, len(investorIDs)+res.MissingInvestors)

	investments := make([]domain.Investment, 0, len(investorIDs))
	for _, id := range investorIDs {
		if util.Contains(recorded, id) {
			continue
		}
		investments = append(investments, domain.Investment{
			RoundID:    round.ID,
			InvestorID: id,
			Amount:     share,
			Currency:   u.cfg.Currency,
			InvestedAt: round.Date,
		})
	}
	if len(investments) == 0 {
		return res, nil
	}

	n, err := q.CreateInvestments(ctx, investments)
	if err != nil {
		return res, err
	}
	res.InvestmentsCreated = n
	return res, nil
}

// ensureProject finds the project by slug or name, creating it under a free
// slug when neither matches. A known project only gets a missing logo filled in.
func (u *Upserter) ensureProject(ctx context.Context, q store.Queries, record domain.DealRecord) (*domain.Project, bool, error) {
	name := strings.TrimSpace(record.ProjectName)
	base := util.Slugify(name)
	if base == "" {
		base = util.SlugFromURL(record.ProjectURL)
	}
	if base == "" {
		return nil, false, errors.NewParseError("project has no usable slug", record.Page, 0, nil)
	}

	project, err := q.FindProjectBySlugOrName(ctx, base, name)
	if err != nil {
		return nil, false, err
	}
	if project != nil {
		if project.Logo == "" && record.LogoURL != "" {
			if err := q.UpdateProjectLogo(ctx, project.ID, record.LogoURL); err != nil {
				return nil, false, err
			}
			project.Logo = record.LogoURL
		}
		return project, false, nil
	}

	slug, err := u.freeProjectSlug(ctx, q, base)
	if err != nil {
		return nil, false, err
	}
	project = &domain.Project{
		Slug:       slug,
		Name:       name,
		Logo:       record.LogoURL,
		Categories: record.Categories,
		Status:     domain.StatusActive,
	}
	if err := q.CreateProject(ctx, project); err != nil {
		return nil, false, err
	}
	return project, true, nil
}

func (u *Upserter) freeProjectSlug(ctx context.Context, q store.Queries, base string) (string, error) {
	for n := 1; n <= u.cfg.MaxSlugAttempts; n++ {
		slug := util.SuffixSlug(base, n)
		exists, err := q.ProjectSlugExists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
	}
	return "", errors.NewIdentityError("project", base, u.cfg.MaxSlugAttempts)
}

// perInvestorShare splits amount evenly, rounded to cents.
func perInvestorShare(amount decimal.NullDecimal, investors int) decimal.NullDecimal {
	if !amount.Valid || investors <= 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(amount.Decimal.DivRound(decimal.NewFromInt(int64(investors)), 2))
}

// ReplayReport tallies a Replay call.
type ReplayReport struct {
	Records            int
	Created            int
	Skipped            int
	Failed             int
	ProjectsCreated    int
	RoundsCreated      int
	InvestmentsCreated int
}

// Replay applies newest-first records oldest-first, one at a time. A positive
// limit keeps only the limit oldest records. A failed record is logged and the
// replay moves on; cancellation stops it.
func (u *Upserter) Replay(ctx context.Context, records []domain.DealRecord, index domain.InvestorIndex, limit int) (ReplayReport, error) {
	ordered := util.Reversed(records)
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}

	report := ReplayReport{Records: len(ordered)}
	for i, record := range ordered {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, err := u.ApplyRecord(ctx, record, index)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			u.logger.Error("Record failed",
				zap.Int("index", i+1),
				zap.String("project", record.ProjectName),
				zap.String("round_type", record.RoundType),
				zap.Int("page", record.Page),
				zap.Error(err),
			)
			continue
		}

		if res.ProjectCreated {
			report.ProjectsCreated++
		}
		if res.RoundCreated {
			report.RoundsCreated++
		}
		report.InvestmentsCreated += res.InvestmentsCreated

		switch res.Outcome {
		case OutcomeCreated:
			report.Created++
		default:
			report.Skipped++
		}
		u.logger.Debug("Record applied",
			zap.Int("index", i+1),
			zap.String("project", record.ProjectName),
			zap.String("outcome", string(res.Outcome)),
			zap.Int("investments", res.InvestmentsCreated),
		)
	}
	return report, nil
}
