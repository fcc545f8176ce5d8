// Package migrations brings the database schema up to date.
package migrations

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/toolgate/toolgate/internal/model"
)

// Migrate runs the auto-migrations for every persisted model.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.ToolServer{}); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}
