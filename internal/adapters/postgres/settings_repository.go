package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"sentinel/internal/domain/settings"
	"sentinel/pkg/errors"
)

// Compile-time check
var _ settings.Repository = (*SettingsRepository)(nil)

// SettingsRepository implements settings.Repository using sqlx
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetByStrategy retrieves adaptive settings for a strategy
func (r *SettingsRepository) GetByStrategy(ctx context.Context, strategyID uuid.UUID) (settings.AdaptiveSettings, error) {
	var row settings.AdaptiveSettings

	query := `SELECT * FROM adaptive_settings WHERE strategy_id = $1`

	err := r.db.GetContext(ctx, &row, query, strategyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settings.AdaptiveSettings{}, errors.Wrapf(errors.ErrNotFound, "settings for strategy %s", strategyID)
		}
		return settings.AdaptiveSettings{}, errors.Wrap(err, "failed to get settings")
	}

	return row, nil
}

// List retrieves all adaptive settings rows
func (r *SettingsRepository) List(ctx context.Context) ([]settings.AdaptiveSettings, error) {
	var rows []settings.AdaptiveSettings

	query := `SELECT * FROM adaptive_settings ORDER BY strategy_id`

	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "failed to list settings")
	}

	return rows, nil
}
