package testutil

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/abhishekgusain07/clip-farm/internal/data/db"
	types "github.com/abhishekgusain07/clip-farm/internal/domain"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error

	dbSeq atomic.Int64
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB opens a private in-memory SQLite database with the full schema. It is
// closed when the test ends.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(tb.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000", name, dbSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		tb.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrateAll(conn); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return conn
}

func Tx(tb testing.TB, conn *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := conn.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

// SeedSource inserts an active cached source row.
func SeedSource(tb testing.TB, conn *gorm.DB, videoID, path string, size int64, duration time.Duration) *types.SourceVideo {
	tb.Helper()
	ms := duration.Milliseconds()
	secs := int(duration.Seconds())
	now := time.Now().UTC()
	row := &types.SourceVideo{
		VideoID:        videoID,
		SourceURL:      "https://www.youtube.com/watch?v=" + videoID,
		FilePath:       path,
		FileSize:       &size,
		Duration:       &secs,
		DurationMs:     &ms,
		FetchState:     types.FetchStateReady,
		DownloadedAt:   now,
		LastAccessedAt: &now,
		IsActive:       true,
	}
	if err := conn.Create(row).Error; err != nil {
		tb.Fatalf("seed source: %v", err)
	}
	return row
}
