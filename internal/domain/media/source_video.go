package media

import "time"

const (
	FetchStateFetching = "fetching"
	FetchStateReady    = "ready"
	FetchStateEvicted  = "evicted"
)

// SourceVideo is the durable record of one cached source download.
type SourceVideo struct {
	VideoID        string     `gorm:"column:video_id;primaryKey;size:64" json:"video_id"`
	SourceURL      string     `gorm:"column:source_url;type:text" json:"source_url"`
	FilePath       string     `gorm:"column:file_path;type:text" json:"file_path"`
	FileSize       *int64     `gorm:"column:file_size" json:"file_size,omitempty"`
	Duration       *int       `gorm:"column:duration" json:"duration,omitempty"`
	DurationMs     *int64     `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	FetchState     string     `gorm:"column:fetch_state;size:16;not null;index" json:"fetch_state"`
	DownloadedAt   time.Time  `gorm:"column:downloaded_at;not null;autoCreateTime" json:"downloaded_at"`
	LastAccessedAt *time.Time `gorm:"column:last_accessed_at;index" json:"last_accessed_at,omitempty"`
	IsActive       bool       `gorm:"column:is_active;not null;default:true;index" json:"is_active"`
}

func (SourceVideo) TableName() string { return "video_downloads" }

// DurationValue returns the exact media duration, or 0 when unknown.
func (v *SourceVideo) DurationValue() time.Duration {
	if v == nil {
		return 0
	}
	if v.DurationMs != nil {
		return time.Duration(*v.DurationMs) * time.Millisecond
	}
	if v.Duration != nil {
		return time.Duration(*v.Duration) * time.Second
	}
	return 0
}

func (v *SourceVideo) Size() int64 {
	if v == nil || v.FileSize == nil {
		return 0
	}
	return *v.FileSize
}
