package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
)

type NotificationRepository interface {
	// Create 命中唯一约束 ux_notification_dedup 时返回 false，不报错
	Create(ctx context.Context, n *model.Notification) (bool, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	// UnreadKeys 返回全部未读通知的 (created_at, id)，供会话计数去重
	UnreadKeys(ctx context.Context, userID string) ([]pagination.Cursor, error)
	// MarkAllRead 只处理 created_at <= before 的未读通知
	MarkAllRead(ctx context.Context, userID string, before time.Time) (int64, error)
	List(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]model.Notification, error)
	DeleteByPost(ctx context.Context, postID string) (int64, error)
}

type notificationRepository struct{ db *gorm.DB }

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(n)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		return recordChange(tx, n.TableName(), model.OpInsert, n.ID, n)
	})
	if err != nil {
		return false, wrapErr("create notification", err)
	}
	return created, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&n).Error
	return n, wrapErr("count unread", err)
}

func (r *notificationRepository) UnreadKeys(ctx context.Context, userID string) ([]pagination.Cursor, error) {
	var rows []model.Notification
	err := r.db.WithContext(ctx).Model(&model.Notification{}).
		Select("id", "created_at").
		Where("user_id = ? AND read = ?", userID, false).
		Find(&rows).Error
	if err != nil {
		return nil, wrapErr("unread keys", err)
	}
	keys := make([]pagination.Cursor, len(rows))
	for i, n := range rows {
		keys[i] = n.SortKey()
	}
	return keys, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID string, before time.Time) (int64, error) {
	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Notification{}).
			Where("user_id = ? AND read = ? AND created_at <= ?", userID, false, before.UTC()).
			Update("read", true)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		if affected == 0 {
			return nil
		}
		return recordChange(tx, model.Notification{}.TableName(), model.OpUpdate, "",
			map[string]any{"user_id": userID, "read": true})
	})
	return affected, wrapErr("mark all read", err)
}

func (r *notificationRepository) List(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]model.Notification, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if after != nil {
		at := after.CreatedAt.UTC()
		q = q.Where("(created_at < ?) OR (created_at = ? AND id > ?)", at, at, after.ID)
	}
	var out []model.Notification
	err := q.Order("created_at DESC").Order("id").Limit(limit).Find(&out).Error
	return out, wrapErr("list notifications", err)
}

func (r *notificationRepository) DeleteByPost(ctx context.Context, postID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("post_id = ?", postID).Delete(&model.Notification{})
	return res.RowsAffected, wrapErr("delete notifications", res.Error)
}
