package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"sentinel/internal/domain/settings"
	"sentinel/pkg/logger"
)

// SettingsCache keeps the per-strategy adaptive settings in memory. The
// refresh worker repopulates it; rule evaluation never blocks on the
// database.
type SettingsCache struct {
	repo settings.Repository
	log  *logger.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]settings.AdaptiveSettings
}

// NewSettingsCache creates a settings cache over a repository
func NewSettingsCache(repo settings.Repository) *SettingsCache {
	return &SettingsCache{
		repo:  repo,
		log:   logger.Get().With("component", "settings_cache"),
		cache: make(map[uuid.UUID]settings.AdaptiveSettings),
	}
}

// Refresh reloads all settings rows. Called by the scheduler; on error the
// previous cache contents stay in effect.
func (c *SettingsCache) Refresh(ctx context.Context) error {
	rows, err := c.repo.List(ctx)
	if err != nil {
		c.log.Warnf("Settings refresh failed, keeping cached values: %v", err)
		return err
	}

	fresh := make(map[uuid.UUID]settings.AdaptiveSettings, len(rows))
	for _, row := range rows {
		fresh[row.StrategyID] = row
	}

	c.mu.Lock()
	c.cache = fresh
	c.mu.Unlock()

	c.log.Debugf("Settings refreshed, %d strategies", len(rows))
	return nil
}

// Get returns the settings for a strategy, falling back to conservative
// defaults when the strategy has no row.
func (c *SettingsCache) Get(strategyID uuid.UUID) settings.AdaptiveSettings {
	c.mu.RLock()
	s, ok := c.cache[strategyID]
	c.mu.RUnlock()

	if !ok {
		return settings.Default(strategyID)
	}
	return s
}
