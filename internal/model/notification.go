package model

import (
	"time"

	"github.com/d60-Lab/vinylfeed/internal/pagination"
)

type NotificationType string

const (
	NotificationFollow  NotificationType = "follow"
	NotificationLike    NotificationType = "like"
	NotificationComment NotificationType = "comment"
)

// Notification 通知记录。创建后只允许 mark-read 修改。
// PostID/CommentID 用空串而非 NULL，使 ux_notification_dedup 对无 subject 的通知也生效。
type Notification struct {
	ID        string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string           `gorm:"type:varchar(36);not null;uniqueIndex:ux_notification_dedup,priority:1;index:idx_notification_user,priority:1" json:"user_id"`
	ActorID   string           `gorm:"type:varchar(36);not null;uniqueIndex:ux_notification_dedup,priority:2" json:"actor_id"`
	Type      NotificationType `gorm:"type:varchar(16);not null;uniqueIndex:ux_notification_dedup,priority:3" json:"type"`
	PostID    string           `gorm:"type:varchar(64);not null;default:'';uniqueIndex:ux_notification_dedup,priority:4;index" json:"post_id,omitempty"`
	CommentID string           `gorm:"type:varchar(36);not null;default:'';uniqueIndex:ux_notification_dedup,priority:5" json:"comment_id,omitempty"`
	Read      bool             `gorm:"not null;default:false;index" json:"read"`
	CreatedAt time.Time        `gorm:"index:idx_notification_user,priority:2" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

func (n Notification) SortKey() pagination.Cursor {
	return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
}

// Subject 通知指向的帖子/评论，可为空
type Subject struct {
	PostID    string
	CommentID string
}

type NotificationWithActor struct {
	Notification
	Actor UserSummary `json:"actor"`
}
