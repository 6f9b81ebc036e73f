package repos

import (
	"gorm.io/gorm"

	"github.com/abhishekgusain07/clip-farm/internal/data/repos/media"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

type SourceVideoRepo = media.SourceVideoRepo
type ClipRepo = media.ClipRepo

var ErrConflict = media.ErrConflict

type Set struct {
	SourceVideos SourceVideoRepo
	Clips        ClipRepo
}

func New(db *gorm.DB, log *logger.Logger) Set {
	return Set{
		SourceVideos: media.NewSourceVideoRepo(db, log),
		Clips:        media.NewClipRepo(db, log),
	}
}
