package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/abhishekgusain07/clip-farm/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.Models()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return ensureIndexes(db)
}

func ensureIndexes(db *gorm.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_clips_status_completed ON clips (status, completed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_video_downloads_active_accessed ON video_downloads (is_active, last_accessed_at)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
