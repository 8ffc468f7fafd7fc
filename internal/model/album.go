package model

import "time"

// Album 专辑（feed 条目的 subject）
type Album struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title     string    `gorm:"type:varchar(255);index;not null" json:"title"`
	Artist    string    `gorm:"type:varchar(255);index" json:"artist"`
	Year      *int      `json:"year,omitempty"`
	CoverURL  string    `gorm:"type:text" json:"cover_url,omitempty"`
	SpotifyID *string   `gorm:"type:varchar(64);uniqueIndex" json:"spotify_id,omitempty"`
	CreatedBy string    `gorm:"type:varchar(36)" json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Album) TableName() string { return "albums" }
