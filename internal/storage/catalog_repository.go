package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/types"
)

// CatalogStore is the off-chain project catalog
type CatalogStore interface {
	ListActive(ctx context.Context) ([]*types.CatalogProject, error)
	Create(ctx context.Context, p *types.NewCatalogProject) (*types.CatalogProject, error)
	GetByID(ctx context.Context, id int64) (*types.CatalogProject, error)
	SetBlockchainProjectID(ctx context.Context, id, chainID int64, txHash string) error
	UpdateImpactScoreByChainID(ctx context.Context, chainID int64, score int) error
}

// ValidateNewCatalogProject checks the required create fields
func ValidateNewCatalogProject(p *types.NewCatalogProject) error {
	var missing []string
	if strings.TrimSpace(p.ProjectAddress) == "" {
		missing = append(missing, "projectAddress")
	}
	if strings.TrimSpace(p.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(p.GithubURL) == "" {
		missing = append(missing, "githubUrl")
	}
	if len(missing) > 0 {
		return errors.NewInvalidParameterError(strings.Join(missing, ","), "missing required fields")
	}
	return nil
}

const catalogColumns = `
	id, project_address, name, description, github_url, requested_amount::text,
	votes_for, votes_against, is_approved, is_funded, is_active, is_verified,
	blockchain_tx_hash, blockchain_project_id, impact_score, total_grants_received::text,
	created_at, updated_at`

// CatalogRepository stores catalog rows in Postgres
type CatalogRepository struct {
	db *PostgresDB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *PostgresDB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListActive returns active rows, highest impact score first
func (r *CatalogRepository) ListActive(ctx context.Context) ([]*types.CatalogProject, error) {
	query := `SELECT ` + catalogColumns + `
		FROM projects
		WHERE is_active = TRUE
		ORDER BY impact_score DESC NULLS LAST, id ASC`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, errors.NewDatabaseError("list projects", err)
	}
	defer rows.Close()

	var projects []*types.CatalogProject
	for rows.Next() {
		p, err := scanCatalogProject(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("scan project", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate projects", err)
	}
	return projects, nil
}

// Create inserts a catalog row
func (r *CatalogRepository) Create(ctx context.Context, p *types.NewCatalogProject) (*types.CatalogProject, error) {
	if err := ValidateNewCatalogProject(p); err != nil {
		return nil, err
	}

	requested := "0"
	if p.RequestedAmount != nil {
		requested = p.RequestedAmount.String()
	}

	query := `
		INSERT INTO projects (
			project_address, name, description, github_url, requested_amount,
			blockchain_tx_hash, blockchain_project_id, impact_score, is_verified
		)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
		RETURNING ` + catalogColumns

	row := r.db.Pool().QueryRow(ctx, query,
		p.ProjectAddress,
		p.Name,
		p.Description,
		p.GithubURL,
		requested,
		p.BlockchainTxHash,
		p.BlockchainProjectID,
		p.AIScore,
		p.BlockchainProjectID != nil,
	)

	created, err := scanCatalogProject(row)
	if err != nil {
		return nil, errors.NewDatabaseError("create project", err)
	}
	return created, nil
}

// GetByID retrieves a row by catalog id
func (r *CatalogRepository) GetByID(ctx context.Context, id int64) (*types.CatalogProject, error) {
	query := `SELECT ` + catalogColumns + ` FROM projects WHERE id = $1`

	p, err := scanCatalogProject(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("project", fmt.Sprintf("%d", id))
		}
		return nil, errors.NewDatabaseError("get project", err)
	}
	return p, nil
}

// SetBlockchainProjectID records the confirmed chain id for a row
func (r *CatalogRepository) SetBlockchainProjectID(ctx context.Context, id, chainID int64, txHash string) error {
	query := `
		UPDATE projects
		SET blockchain_project_id = $2, blockchain_tx_hash = COALESCE(NULLIF($3, ''), blockchain_tx_hash),
		    is_verified = TRUE, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Pool().Exec(ctx, query, id, chainID, txHash)
	if err != nil {
		return errors.NewDatabaseError("set blockchain project id", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("project", fmt.Sprintf("%d", id))
	}
	return nil
}

// UpdateImpactScoreByChainID updates the row reconciled to chainID. Rows
// without a stored chain id match through the legacy catalogId-1 rule.
func (r *CatalogRepository) UpdateImpactScoreByChainID(ctx context.Context, chainID int64, score int) error {
	query := `
		UPDATE projects
		SET impact_score = $2, updated_at = NOW()
		WHERE blockchain_project_id = $1
		   OR (blockchain_project_id IS NULL AND id = $1 + 1)`

	tag, err := r.db.Pool().Exec(ctx, query, chainID, score)
	if err != nil {
		return errors.NewDatabaseError("update impact score", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("project", fmt.Sprintf("chain:%d", chainID))
	}
	return nil
}

func scanCatalogProject(row pgx.Row) (*types.CatalogProject, error) {
	var (
		p                  types.CatalogProject
		requested, granted string
		impact             *int32
	)
	err := row.Scan(
		&p.ID,
		&p.ProjectAddress,
		&p.Name,
		&p.Description,
		&p.GithubURL,
		&requested,
		&p.VotesFor,
		&p.VotesAgainst,
		&p.IsApproved,
		&p.IsFunded,
		&p.IsActive,
		&p.IsVerified,
		&p.BlockchainTxHash,
		&p.BlockchainProjectID,
		&impact,
		&granted,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.RequestedAmount, err = types.ParseAmount(requested); err != nil {
		return nil, fmt.Errorf("requested_amount: %w", err)
	}
	if p.TotalGrantsReceived, err = types.ParseAmount(granted); err != nil {
		return nil, fmt.Errorf("total_grants_received: %w", err)
	}
	if impact != nil {
		v := int(*impact)
		p.ImpactScore = &v
	}
	return &p, nil
}

// MemoryCatalog is an in-process CatalogStore used when Postgres is disabled
type MemoryCatalog struct {
	mu     sync.RWMutex
	rows   map[int64]*types.CatalogProject
	nextID int64
	now    func() time.Time
}

// NewMemoryCatalog creates an empty in-memory catalog
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		rows:   make(map[int64]*types.CatalogProject),
		nextID: 1,
		now:    time.Now,
	}
}

// ListActive returns active rows, highest impact score first
func (m *MemoryCatalog) ListActive(ctx context.Context) ([]*types.CatalogProject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.CatalogProject, 0, len(m.rows))
	for _, p := range m.rows {
		if p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ImpactScore, out[j].ImpactScore
		switch {
		case a != nil && b != nil && *a != *b:
			return *a > *b
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Create inserts a row with the next catalog id
func (m *MemoryCatalog) Create(ctx context.Context, p *types.NewCatalogProject) (*types.CatalogProject, error) {
	if err := ValidateNewCatalogProject(p); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p.BlockchainProjectID != nil {
		for _, row := range m.rows {
			if row.BlockchainProjectID != nil && *row.BlockchainProjectID == *p.BlockchainProjectID {
				return nil, errors.NewConflictError(fmt.Sprintf("chain project %d already catalogued", *p.BlockchainProjectID))
			}
		}
	}

	now := m.now()
	row := &types.CatalogProject{
		ID:                  m.nextID,
		ProjectAddress:      p.ProjectAddress,
		Name:                p.Name,
		Description:         p.Description,
		GithubURL:           p.GithubURL,
		IsActive:            true,
		IsVerified:          p.BlockchainProjectID != nil,
		BlockchainTxHash:    p.BlockchainTxHash,
		BlockchainProjectID: p.BlockchainProjectID,
		ImpactScore:         p.AIScore,
		TotalGrantsReceived: types.AmountFromUint64(0),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if p.RequestedAmount != nil {
		row.RequestedAmount = *p.RequestedAmount
	} else {
		row.RequestedAmount = types.AmountFromUint64(0)
	}
	m.rows[row.ID] = row
	m.nextID++

	cp := *row
	return &cp, nil
}

// Put stores a row as-is, for seeding legacy data
func (m *MemoryCatalog) Put(p *types.CatalogProject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.rows[p.ID] = &cp
	if p.ID >= m.nextID {
		m.nextID = p.ID + 1
	}
}

// GetByID retrieves a row by catalog id
func (m *MemoryCatalog) GetByID(ctx context.Context, id int64) (*types.CatalogProject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, errors.NewNotFoundError("project", fmt.Sprintf("%d", id))
	}
	cp := *row
	return &cp, nil
}

// SetBlockchainProjectID records the confirmed chain id for a row
func (m *MemoryCatalog) SetBlockchainProjectID(ctx context.Context, id, chainID int64, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return errors.NewNotFoundError("project", fmt.Sprintf("%d", id))
	}
	row.BlockchainProjectID = &chainID
	if txHash != "" {
		row.BlockchainTxHash = &txHash
	}
	row.IsVerified = true
	row.UpdatedAt = m.now()
	return nil
}

// UpdateImpactScoreByChainID updates the row reconciled to chainID
func (m *MemoryCatalog) UpdateImpactScoreByChainID(ctx context.Context, chainID int64, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := false
	for _, row := range m.rows {
		confirmed := row.BlockchainProjectID != nil && *row.BlockchainProjectID == chainID
		legacy := row.BlockchainProjectID == nil && row.ID == chainID+1
		if confirmed || legacy {
			s := score
			row.ImpactScore = &s
			row.UpdatedAt = m.now()
			updated = true
		}
	}
	if !updated {
		return errors.NewNotFoundError("project", fmt.Sprintf("chain:%d", chainID))
	}
	return nil
}
