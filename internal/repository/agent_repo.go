package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/racesettle/internal/domain"
	"github.com/jmoiron/sqlx"
)

// AgentRepository reads the agent directory. The directory itself is owned by
// another service; this side only ever reads it.
type AgentRepository struct {
	db *sqlx.DB
}

// NewAgentRepository creates a new AgentRepository.
func NewAgentRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// GetByID fetches an agent by id.
func (r *AgentRepository) GetByID(ctx context.Context, id int64) (*domain.Agent, error) {
	var a domain.Agent
	err := r.db.GetContext(ctx, &a, `
		SELECT id, username, parent_id, rebate_mode, rebate_percentage, market_type, balance, updated_at
		FROM agents WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAgentNotFound
		}
		return nil, fmt.Errorf("agent_repo.GetByID: %w", err)
	}
	return &a, nil
}
