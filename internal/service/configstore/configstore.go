// Package configstore persists the configs of local-process and remote tool servers
// so they survive a restart of the gateway.
package configstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/toolgate/toolgate/internal/model"
	"github.com/toolgate/toolgate/pkg/types"
)

// Store saves, deletes and lists server configs.
type Store interface {
	Save(ctx context.Context, cfg *types.ToolServerConfig) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*types.ToolServerConfig, error)
}

// DBStore keeps configs in a relational database through gorm.
type DBStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDBStore creates a store on an already migrated database.
func NewDBStore(db *gorm.DB, logger *zap.Logger) *DBStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBStore{db: db, logger: logger}
}

// Save inserts the config or replaces the one stored under the same id.
func (s *DBStore) Save(ctx context.Context, cfg *types.ToolServerConfig) error {
	row, err := model.FromConfig(cfg)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "server_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "kind", "transport", "description", "config", "enabled", "updated_at", "deleted_at",
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to save tool server %s: %w", cfg.ID, err)
	}
	return nil
}

// Delete removes the config of id. Deleting an unknown id is not an error.
func (s *DBStore) Delete(ctx context.Context, id string) error {
	// hard delete so that the unique index on server_id frees the id
	err := s.db.WithContext(ctx).Unscoped().Where("server_id = ?", id).Delete(&model.ToolServer{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete tool server %s: %w", id, err)
	}
	return nil
}

// List returns every stored config ordered by id. Rows that cannot be decoded are skipped.
func (s *DBStore) List(ctx context.Context) ([]*types.ToolServerConfig, error) {
	var rows []model.ToolServer
	if err := s.db.WithContext(ctx).Order("server_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list tool servers: %w", err)
	}
	out := make([]*types.ToolServerConfig, 0, len(rows))
	for i := range rows {
		cfg, err := rows[i].ToConfig()
		if err != nil {
			s.logger.Warn("skipping unreadable tool server config", zap.String("server_id", rows[i].ServerID), zap.Error(err))
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Get returns the config stored under id.
func (s *DBStore) Get(ctx context.Context, id string) (*types.ToolServerConfig, error) {
	var row model.ToolServer
	err := s.db.WithContext(ctx).Where("server_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tool server %s: %w", id, err)
	}
	return row.ToConfig()
}

// ErrNotFound is returned by Get for ids that were never saved.
var ErrNotFound = errors.New("tool server config not found")
