package model

import "time"

// User 用户资料（仅 feed 补水需要的字段）
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"uid"`
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	FirstName string    `gorm:"type:varchar(64)" json:"first_name,omitempty"`
	LastName  string    `gorm:"type:varchar(64)" json:"last_name,omitempty"`
	PhotoURL  string    `gorm:"type:text" json:"photo_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// UserSummary 是嵌入 feed/评论/通知里的作者快照。
type UserSummary struct {
	ID       string `json:"uid"`
	Username string `json:"username"`
	PhotoURL string `json:"photo_url,omitempty"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, PhotoURL: u.PhotoURL}
}
