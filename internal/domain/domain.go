package domain

import "github.com/abhishekgusain07/clip-farm/internal/domain/media"

type (
	SourceVideo = media.SourceVideo
	Clip        = media.Clip
)

const (
	FetchStateFetching = media.FetchStateFetching
	FetchStateReady    = media.FetchStateReady
	FetchStateEvicted  = media.FetchStateEvicted

	ClipStatusPending = media.ClipStatusPending
	ClipStatusReady   = media.ClipStatusReady
	ClipStatusFailed  = media.ClipStatusFailed
	ClipStatusExpired = media.ClipStatusExpired
)

// Models lists every persisted model in migration order.
func Models() []any {
	return []any{
		&media.SourceVideo{},
		&media.Clip{},
	}
}
