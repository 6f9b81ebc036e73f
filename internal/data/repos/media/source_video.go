package media

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/abhishekgusain07/clip-farm/internal/domain"
	"github.com/abhishekgusain07/clip-farm/internal/pkg/dbctx"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

type SourceVideoRepo interface {
	Get(dbc dbctx.Context, videoID string) (*types.SourceVideo, error)
	BeginFetch(dbc dbctx.Context, videoID, sourceURL string) (*types.SourceVideo, error)
	CompleteFetch(dbc dbctx.Context, videoID, filePath string, size int64, duration time.Duration) (*types.SourceVideo, error)
	DeletePlaceholder(dbc dbctx.Context, videoID string) error
	MarkEvicted(dbc dbctx.Context, videoID string) (bool, error)
	Touch(dbc dbctx.Context, videoID string, at time.Time) error
	ListByFetchState(dbc dbctx.Context, state string) ([]*types.SourceVideo, error)
	ListActive(dbc dbctx.Context) ([]*types.SourceVideo, error)
	ListIdleSince(dbc dbctx.Context, before time.Time, limit int) ([]*types.SourceVideo, error)
	ListLeastRecentlyUsed(dbc dbctx.Context, limit int) ([]*types.SourceVideo, error)
	ActiveBytes(dbc dbctx.Context) (int64, error)
}

type sourceVideoRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSourceVideoRepo(db *gorm.DB, baseLog *logger.Logger) SourceVideoRepo {
	return &sourceVideoRepo{
		db:  db,
		log: baseLog.With("repo", "SourceVideoRepo"),
	}
}

const lastUsedExpr = "COALESCE(last_accessed_at, downloaded_at)"

func (r *sourceVideoRepo) Get(dbc dbctx.Context, videoID string) (*types.SourceVideo, error) {
	var row types.SourceVideo
	err := dbc.DB(r.db).Where("video_id = ?", videoID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("get source video", err)
	}
	return &row, nil
}

// BeginFetch claims the fetch for videoID by inserting a placeholder, or by
// resetting an inactive row. It returns ErrConflict when the row is active
// or another fetch already holds it.
func (r *sourceVideoRepo) BeginFetch(dbc dbctx.Context, videoID, sourceURL string) (*types.SourceVideo, error) {
	now := time.Now().UTC()
	row := &types.SourceVideo{
		VideoID:      videoID,
		SourceURL:    sourceURL,
		FetchState:   types.FetchStateFetching,
		DownloadedAt: now,
		IsActive:     false,
	}
	res := dbc.DB(r.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Select("*").
		Create(row)
	if res.Error != nil {
		return nil, mapError("insert placeholder", res.Error)
	}
	if res.RowsAffected == 1 {
		return row, nil
	}

	res = dbc.DB(r.db).Model(&types.SourceVideo{}).
		Where("video_id = ? AND is_active = ? AND fetch_state <> ?", videoID, false, types.FetchStateFetching).
		Updates(map[string]interface{}{
			"source_url":       sourceURL,
			"file_path":        "",
			"file_size":        nil,
			"duration":         nil,
			"duration_ms":      nil,
			"fetch_state":      types.FetchStateFetching,
			"downloaded_at":    now,
			"last_accessed_at": nil,
		})
	if res.Error != nil {
		return nil, mapError("reset placeholder", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrConflict
	}
	return r.Get(dbc, videoID)
}

func (r *sourceVideoRepo) CompleteFetch(dbc dbctx.Context, videoID, filePath string, size int64, duration time.Duration) (*types.SourceVideo, error) {
	now := time.Now().UTC()
	ms := duration.Milliseconds()
	secs := int((duration + time.Second - 1) / time.Second)
	res := dbc.DB(r.db).Model(&types.SourceVideo{}).
		Where("video_id = ? AND fetch_state = ?", videoID, types.FetchStateFetching).
		Updates(map[string]interface{}{
			"file_path":        filePath,
			"file_size":        size,
			"duration":         secs,
			"duration_ms":      ms,
			"fetch_state":      types.FetchStateReady,
			"downloaded_at":    now,
			"last_accessed_at": now,
			"is_active":        true,
		})
	if res.Error != nil {
		return nil, mapError("complete fetch", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrConflict
	}
	return r.Get(dbc, videoID)
}

func (r *sourceVideoRepo) DeletePlaceholder(dbc dbctx.Context, videoID string) error {
	err := dbc.DB(r.db).
		Where("video_id = ? AND fetch_state = ?", videoID, types.FetchStateFetching).
		Delete(&types.SourceVideo{}).Error
	return mapError("delete placeholder", err)
}

func (r *sourceVideoRepo) MarkEvicted(dbc dbctx.Context, videoID string) (bool, error) {
	res := dbc.DB(r.db).Model(&types.SourceVideo{}).
		Where("video_id = ? AND fetch_state <> ?", videoID, types.FetchStateFetching).
		Updates(map[string]interface{}{
			"is_active":   false,
			"fetch_state": types.FetchStateEvicted,
		})
	if res.Error != nil {
		return false, mapError("mark evicted", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *sourceVideoRepo) Touch(dbc dbctx.Context, videoID string, at time.Time) error {
	err := dbc.DB(r.db).Model(&types.SourceVideo{}).
		Where("video_id = ?", videoID).
		Update("last_accessed_at", at.UTC()).Error
	return mapError("touch source video", err)
}

func (r *sourceVideoRepo) ListByFetchState(dbc dbctx.Context, state string) ([]*types.SourceVideo, error) {
	var out []*types.SourceVideo
	if err := dbc.DB(r.db).Where("fetch_state = ?", state).Find(&out).Error; err != nil {
		return nil, mapError("list by fetch state", err)
	}
	return out, nil
}

func (r *sourceVideoRepo) ListActive(dbc dbctx.Context) ([]*types.SourceVideo, error) {
	var out []*types.SourceVideo
	if err := dbc.DB(r.db).Where("is_active = ?", true).Find(&out).Error; err != nil {
		return nil, mapError("list active", err)
	}
	return out, nil
}

func (r *sourceVideoRepo) ListIdleSince(dbc dbctx.Context, before time.Time, limit int) ([]*types.SourceVideo, error) {
	var out []*types.SourceVideo
	q := dbc.DB(r.db).
		Where("is_active = ? AND "+lastUsedExpr+" < ?", true, before.UTC()).
		Order(lastUsedExpr + " ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, mapError("list idle", err)
	}
	return out, nil
}

func (r *sourceVideoRepo) ListLeastRecentlyUsed(dbc dbctx.Context, limit int) ([]*types.SourceVideo, error) {
	var out []*types.SourceVideo
	q := dbc.DB(r.db).
		Where("is_active = ?", true).
		Order(lastUsedExpr + " ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, mapError("list lru", err)
	}
	return out, nil
}

func (r *sourceVideoRepo) ActiveBytes(dbc dbctx.Context) (int64, error) {
	var total int64
	err := dbc.DB(r.db).Model(&types.SourceVideo{}).
		Where("is_active = ?", true).
		Select("COALESCE(SUM(file_size), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, mapError("sum active bytes", err)
	}
	return total, nil
}
