package media

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ClipStatusPending = "pending"
	ClipStatusReady   = "ready"
	ClipStatusFailed  = "failed"
	ClipStatusExpired = "expired"
)

// Clip tracks one create-clip request from pending to a terminal state.
type Clip struct {
	ClipID         string         `gorm:"column:clip_id;primaryKey;size:36" json:"clip_id"`
	VideoID        string         `gorm:"column:video_id;size:64;not null;index" json:"video_id"`
	SourceURL      string         `gorm:"column:source_url;type:text" json:"source_url"`
	StartSeconds   float64        `gorm:"column:start_seconds;not null" json:"start_seconds"`
	EndSeconds     float64        `gorm:"column:end_seconds;not null" json:"end_seconds"`
	Status         string         `gorm:"column:status;size:16;not null;index" json:"status"`
	ArtifactPath   string         `gorm:"column:artifact_path;type:text" json:"-"`
	ArtifactSize   *int64         `gorm:"column:artifact_size" json:"artifact_size,omitempty"`
	DurationMs     *int64         `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	FailureReason  string         `gorm:"column:failure_reason;size:32" json:"failure_reason,omitempty"`
	FailureMessage string         `gorm:"column:failure_message;type:text" json:"failure_message,omitempty"`
	Details        datatypes.JSON `gorm:"column:details" json:"details,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;autoCreateTime;index" json:"created_at"`
	CompletedAt    *time.Time     `gorm:"column:completed_at;index" json:"completed_at,omitempty"`
	ExpiredAt      *time.Time     `gorm:"column:expired_at" json:"expired_at,omitempty"`
}

func (Clip) TableName() string { return "clips" }

func (c *Clip) Terminal() bool {
	return c != nil && c.Status != ClipStatusPending
}

func (c *Clip) Start() time.Duration {
	return time.Duration(c.StartSeconds * float64(time.Second))
}

func (c *Clip) End() time.Duration {
	return time.Duration(c.EndSeconds * float64(time.Second))
}
