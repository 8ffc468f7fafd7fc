package model

import (
	"time"

	"github.com/d60-Lab/vinylfeed/internal/pagination"
)

// Comment 评论（关系库）
type Comment struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	PostID    string    `gorm:"type:varchar(64);index:idx_comment_post,priority:1;not null" json:"post_id"`
	UserID    string    `gorm:"type:varchar(36);not null" json:"user_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_comment_post,priority:2" json:"created_at"`
}

func (Comment) TableName() string { return "comments" }

func (c Comment) SortKey() pagination.Cursor {
	return pagination.Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
}

type CommentWithUser struct {
	Comment
	User UserSummary `json:"user"`
}
