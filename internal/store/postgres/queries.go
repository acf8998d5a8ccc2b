package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/kapu/dealsync-go/internal/domain"
)

type queries struct {
	q querier
}

func (r *queries) LatestRound(ctx context.Context) (*domain.Round, *domain.Project, error) {
	query := `
		SELECT r.id, r.project_id, r.type, r.date, r.amount, r.created_at,
		       p.id, p.slug, p.name, p.logo, p.categories, p.status, p.created_at
		FROM rounds r
		JOIN projects p ON p.id = r.project_id
		ORDER BY r.date DESC, r.created_at DESC
		LIMIT 1
	`

	var (
		round      domain.Round
		project    domain.Project
		categories pq.StringArray
	)
	err := r.q.QueryRowContext(ctx, query).Scan(
		&round.ID, &round.ProjectID, &round.Type, &round.Date, &round.Amount, &round.CreatedAt,
		&project.ID, &project.Slug, &project.Name, &project.Logo, &categories, &project.Status, &project.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, translate("latest round", fmt.Errorf("failed to query latest round: %w", err))
	}

	round.Date = round.Date.UTC()
	project.Categories = []string(categories)
	return &round, &project, nil
}

func (r *queries) FindProjectBySlugOrName(ctx context.Context, slug, name string) (*domain.Project, error) {
	query := `
		SELECT id, slug, name, logo, categories, status, created_at
		FROM projects
		WHERE slug = $1 OR name = $2
		ORDER BY (slug = $1) DESC, created_at ASC
		LIMIT 1
	`

	var (
		project    domain.Project
		categories pq.StringArray
	)
	err := r.q.QueryRowContext(ctx, query, slug, name).Scan(
		&project.ID, &project.Slug, &project.Name, &project.Logo, &categories, &project.Status, &project.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translate("find project", fmt.Errorf("failed to query project %q: %w", slug, err))
	}

	project.Categories = []string(categories)
	return &project, nil
}

func (r *queries) ProjectSlugExists(ctx context.Context, slug string) (bool, error) {
	return r.exists(ctx, "project slug", `SELECT EXISTS (SELECT 1 FROM projects WHERE slug = $1)`, slug)
}

func (r *queries) CreateProject(ctx context.Context, project *domain.Project) error {
	query := `
		INSERT INTO projects (id, slug, name, logo, categories, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	id := uuid.NewString()
	if project.Status == "" {
		project.Status = domain.StatusActive
	}
	categories := project.Categories
	if categories == nil {
		categories = []string{}
	}
	err := r.q.QueryRowContext(ctx, query,
		id, project.Slug, project.Name, project.Logo, pq.Array(categories), project.Status,
	).Scan(&project.CreatedAt)
	if err != nil {
		return translate("create project", fmt.Errorf("failed to insert project %q: %w", project.Slug, err))
	}

	project.ID = id
	return nil
}

func (r *queries) UpdateProjectLogo(ctx context.Context, id, logo string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE projects SET logo = $2 WHERE id = $1`, id, logo)
	if err != nil {
		return translate("update project logo", fmt.Errorf("failed to update project logo: %w", err))
	}
	return nil
}

func (r *queries) FindRound(ctx context.Context, projectID, roundType string, date time.Time, amount decimal.NullDecimal) (*domain.Round, error) {
	query := `
		SELECT id, project_id, type, date, amount, created_at
		FROM rounds
		WHERE project_id = $1
		  AND type = $2
		  AND date = $3
		  AND amount IS NOT DISTINCT FROM $4::numeric
		LIMIT 1
	`

	var round domain.Round
	err := r.q.QueryRowContext(ctx, query, projectID, roundType, date.UTC(), amount).Scan(
		&round.ID, &round.ProjectID, &round.Type, &round.Date, &round.Amount, &round.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translate("find round", fmt.Errorf("failed to query round: %w", err))
	}

	round.Date = round.Date.UTC()
	return &round, nil
}

func (r *queries) CreateRound(ctx context.Context, round *domain.Round) error {
	query := `
		INSERT INTO rounds (id, project_id, type, date, amount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	id := uuid.NewString()
	err := r.q.QueryRowContext(ctx, query, id, round.ProjectID, round.Type, round.Date.UTC(), round.Amount).
		Scan(&round.CreatedAt)
	if err != nil {
		return translate("create round", fmt.Errorf("failed to insert round: %w", err))
	}

	round.ID = id
	return nil
}

func (r *queries) FindInvestorsBySlugs(ctx context.Context, slugs []string) ([]domain.Investor, error) {
	if len(slugs) == 0 {
		return []domain.Investor{}, nil
	}

	query := `
		SELECT id, slug, name, logo, links, type, status, description, created_at
		FROM investors
		WHERE slug = ANY($1)
	`

	rows, err := r.q.QueryContext(ctx, query, pq.Array(slugs))
	if err != nil {
		return nil, translate("find investors", fmt.Errorf("failed to query investors: %w", err))
	}
	defer rows.Close()

	investors := make([]domain.Investor, 0, len(slugs))
	for rows.Next() {
		var (
			inv       domain.Investor
			linksJSON []byte
			invType   string
		)
		if err := rows.Scan(&inv.ID, &inv.Slug, &inv.Name, &inv.Logo, &linksJSON, &invType,
			&inv.Status, &inv.Description, &inv.CreatedAt); err != nil {
			return nil, translate("find investors", fmt.Errorf("failed to scan investor: %w", err))
		}
		if len(linksJSON) > 0 {
			if err := json.Unmarshal(linksJSON, &inv.Links); err != nil {
				return nil, fmt.Errorf("failed to decode links of investor %q: %w", inv.Slug, err)
			}
		}
		inv.Type = domain.InvestorType(invType)
		investors = append(investors, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("find investors", err)
	}

	return investors, nil
}

func (r *queries) InvestorSlugExists(ctx context.Context, slug string) (bool, error) {
	return r.exists(ctx, "investor slug", `SELECT EXISTS (SELECT 1 FROM investors WHERE slug = $1)`, slug)
}

func (r *queries) CreateInvestor(ctx context.Context, investor *domain.Investor) error {
	query := `
		INSERT INTO investors (id, slug, name, logo, links, type, status, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	linksJSON, err := json.Marshal(investor.Links)
	if err != nil {
		return fmt.Errorf("failed to encode investor links: %w", err)
	}
	if investor.Status == "" {
		investor.Status = domain.StatusActive
	}
	if investor.Type == "" {
		investor.Type = domain.InvestorTypeOther
	}

	id := uuid.NewString()
	err = r.q.QueryRowContext(ctx, query,
		id, investor.Slug, investor.Name, investor.Logo, linksJSON,
		string(investor.Type), investor.Status, investor.Description,
	).Scan(&investor.CreatedAt)
	if err != nil {
		return translate("create investor", fmt.Errorf("failed to insert investor %q: %w", investor.Slug, err))
	}

	investor.ID = id
	return nil
}

func (r *queries) UpdateInvestorLogo(ctx context.Context, id, logo string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE investors SET logo = $2 WHERE id = $1`, id, logo)
	if err != nil {
		return translate("update investor logo", fmt.Errorf("failed to update investor logo: %w", err))
	}
	return nil
}

func (r *queries) InvestorIDsForRound(ctx context.Context, roundID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT investor_id FROM investments WHERE round_id = $1`, roundID)
	if err != nil {
		return nil, translate("round investors", fmt.Errorf("failed to query round investors: %w", err))
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, translate("round investors", err)
		}
		ids = append(ids, id)
	}
	return ids, translate("round investors", rows.Err())
}

// CreateInvestments writes all rows with a single multi-row INSERT.
func (r *queries) CreateInvestments(ctx context.Context, investments []domain.Investment) (int, error) {
	if len(investments) == 0 {
		return 0, nil
	}

	const cols = 6
	var builder strings.Builder
	builder.WriteString(`INSERT INTO investments (id, round_id, investor_id, amount, currency, invested_at) VALUES `)
	args := make([]any, 0, len(investments)*cols)
	for i, inv := range investments {
		if i > 0 {
			builder.WriteString(", ")
		}
		base := i * cols
		fmt.Fprintf(&builder, "($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, uuid.NewString(), inv.RoundID, inv.InvestorID, inv.Amount, inv.Currency, inv.InvestedAt.UTC())
	}
	builder.WriteString(` ON CONFLICT (round_id, investor_id) DO NOTHING`)

	result, err := r.q.ExecContext(ctx, builder.String(), args...)
	if err != nil {
		return 0, translate("create investments", fmt.Errorf("failed to insert %d investments: %w", len(investments), err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, translate("create investments", err)
	}
	return int(affected), nil
}

func (r *queries) Counts(ctx context.Context) (domain.Counts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM projects),
			(SELECT COUNT(*) FROM rounds),
			(SELECT COUNT(*) FROM investors),
			(SELECT COUNT(*) FROM investments)
	`

	var counts domain.Counts
	err := r.q.QueryRowContext(ctx, query).Scan(&counts.Projects, &counts.Rounds, &counts.Investors, &counts.Investments)
	if err != nil {
		return domain.Counts{}, translate("counts", fmt.Errorf("failed to count entities: %w", err))
	}
	return counts, nil
}

func (r *queries) exists(ctx context.Context, op, query string, arg any) (bool, error) {
	var exists bool
	if err := r.q.QueryRowContext(ctx, query, arg).Scan(&exists); err != nil {
		return false, translate(op, fmt.Errorf("failed to check %s: %w", op, err))
	}
	return exists, nil
}
