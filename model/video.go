package model

import "time"

// DefaultCategory is assigned when an upload does not name one.
const DefaultCategory = "General"

// Video is one uploaded video and the artifacts derived from it. Artifact
// columns hold media-root-relative slash paths; an empty string means the
// artifact does not exist yet.
type Video struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Title       string    `json:"title" gorm:"size:80;uniqueIndex;not null"`
	Description string    `json:"description" gorm:"size:500"`
	Category    string    `json:"category" gorm:"size:50;default:General"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time `json:"updated_at"`
	VideoFile   string    `json:"-" gorm:"size:500"`
	HLSMaster   string    `json:"-" gorm:"column:hls_master;size:500"`
	Trailer     string    `json:"-" gorm:"size:500"`
	Thumbnail   string    `json:"-" gorm:"size:500"`
}

// TableName 指定表名
func (Video) TableName() string {
	return "videos"
}

// HasHLS reports whether a master playlist has been produced.
func (v *Video) HasHLS() bool {
	return v.HLSMaster != ""
}
