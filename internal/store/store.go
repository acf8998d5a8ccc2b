// Package store defines the storage operations the ingestion pipeline needs.
// Lookups return (nil, nil) when nothing matches.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kapu/dealsync-go/internal/domain"
)

// Queries are the reads and writes available both inside and outside a transaction.
type Queries interface {
	// LatestRound returns the most recently dated round (ties broken by
	// creation time) and its project.
	LatestRound(ctx context.Context) (*domain.Round, *domain.Project, error)

	FindProjectBySlugOrName(ctx context.Context, slug, name string) (*domain.Project, error)
	ProjectSlugExists(ctx context.Context, slug string) (bool, error)
	CreateProject(ctx context.Context, project *domain.Project) error
	UpdateProjectLogo(ctx context.Context, id, logo string) error

	// FindRound matches all of (projectID, type, date, amount) exactly; a
	// null amount only matches a null amount.
	FindRound(ctx context.Context, projectID, roundType string, date time.Time, amount decimal.NullDecimal) (*domain.Round, error)
	CreateRound(ctx context.Context, round *domain.Round) error

	FindInvestorsBySlugs(ctx context.Context, slugs []string) ([]domain.Investor, error)
	InvestorSlugExists(ctx context.Context, slug string) (bool, error)
	CreateInvestor(ctx context.Context, investor *domain.Investor) error
	UpdateInvestorLogo(ctx context.Context, id, logo string) error

	InvestorIDsForRound(ctx context.Context, roundID string) ([]string, error)
	// CreateInvestments inserts all rows in one statement and returns how many
	// were written. Existing (round, investor) pairs are left alone.
	CreateInvestments(ctx context.Context, investments []domain.Investment) (int, error)

	Counts(ctx context.Context) (domain.Counts, error)
}

// Store is the transactional storage collaborator.
type Store interface {
	Queries

	// WithTx runs fn in one transaction bounded by timeout. The transaction
	// commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}
