package services

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"candyscope/internal/config"
	"candyscope/internal/nutrition"
)

// NutritionItem is one row of the nutrition table
type NutritionItem struct {
	Category    string `json:"category"`
	DisplayName string `json:"display_name"`
	Calories    int    `json:"calories"`
	Sugar       int    `json:"sugar_g"`
}

// ConfigImplementation exposes the effective configuration and the
// nutrition table
type ConfigImplementation struct {
	cfg    *config.Config
	store  *nutrition.Store
	logger *zap.SugaredLogger
}

// NewConfigService creates a new config service implementation
func NewConfigService(cfg *config.Config, store *nutrition.Store, logger *zap.SugaredLogger) *ConfigImplementation {
	return &ConfigImplementation{cfg: cfg, store: store, logger: logger.Named("config")}
}

// Get returns the effective configuration
func (c *ConfigImplementation) Get(ctx context.Context) (*config.Config, error) {
	cp := *c.cfg
	return &cp, nil
}

// Nutrition returns the active table sorted by category
func (c *ConfigImplementation) Nutrition(ctx context.Context) ([]*NutritionItem, error) {
	table := c.store.Current()
	return lo.Map(table.Keys(), func(key string, _ int) *NutritionItem {
		e := table[key]
		return &NutritionItem{
			Category:    key,
			DisplayName: nutrition.DisplayName(key),
			Calories:    e.Calories,
			Sugar:       e.Sugar,
		}
	}), nil
}

// ReloadNutrition re-reads the nutrition file
func (c *ConfigImplementation) ReloadNutrition(ctx context.Context) ([]*NutritionItem, error) {
	if err := c.store.Reload(); err != nil {
		c.logger.Warnw("nutrition reload failed", "error", err)
		return nil, err
	}
	return c.Nutrition(ctx)
}
