package media

import (
	"errors"
	"time"

	"gorm.io/gorm"

	types "github.com/abhishekgusain07/clip-farm/internal/domain"
	"github.com/abhishekgusain07/clip-farm/internal/pkg/dbctx"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

type ClipRepo interface {
	Create(dbc dbctx.Context, clip *types.Clip) error
	Get(dbc dbctx.Context, clipID string) (*types.Clip, error)
	Transition(dbc dbctx.Context, clipID, fromStatus string, updates map[string]interface{}) (bool, error)
	ListByStatus(dbc dbctx.Context, status string, limit int) ([]*types.Clip, error)
	ListReadyCompletedBefore(dbc dbctx.Context, before time.Time, limit int) ([]*types.Clip, error)
	CountByStatus(dbc dbctx.Context) (map[string]int64, error)
}

type clipRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClipRepo(db *gorm.DB, baseLog *logger.Logger) ClipRepo {
	return &clipRepo{
		db:  db,
		log: baseLog.With("repo", "ClipRepo"),
	}
}

func (r *clipRepo) Create(dbc dbctx.Context, clip *types.Clip) error {
	if clip == nil {
		return nil
	}
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = time.Now().UTC()
	}
	return mapError("create clip", dbc.DB(r.db).Create(clip).Error)
}

func (r *clipRepo) Get(dbc dbctx.Context, clipID string) (*types.Clip, error) {
	var row types.Clip
	err := dbc.DB(r.db).Where("clip_id = ?", clipID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("get clip", err)
	}
	return &row, nil
}

// Transition applies updates only while the clip is still in fromStatus and
// reports whether this call won the transition.
func (r *clipRepo) Transition(dbc dbctx.Context, clipID, fromStatus string, updates map[string]interface{}) (bool, error) {
	res := dbc.DB(r.db).Model(&types.Clip{}).
		Where("clip_id = ? AND status = ?", clipID, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return false, mapError("transition clip", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *clipRepo) ListByStatus(dbc dbctx.Context, status string, limit int) ([]*types.Clip, error) {
	var out []*types.Clip
	q := dbc.DB(r.db).Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, mapError("list clips by status", err)
	}
	return out, nil
}

func (r *clipRepo) ListReadyCompletedBefore(dbc dbctx.Context, before time.Time, limit int) ([]*types.Clip, error) {
	var out []*types.Clip
	q := dbc.DB(r.db).
		Where("status = ? AND completed_at < ?", types.ClipStatusReady, before.UTC()).
		Order("completed_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, mapError("list expirable clips", err)
	}
	return out, nil
}

func (r *clipRepo) CountByStatus(dbc dbctx.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := dbc.DB(r.db).Model(&types.Clip{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, mapError("count clips", err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
