package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/vinylfeed/internal/model"
)

type CommentRepository interface {
	Create(ctx context.Context, c *model.Comment) error
	Get(ctx context.Context, id string) (*model.Comment, error)
	// Delete 删除不存在的评论是 no-op；返回被删除的评论（不存在时为 nil）
	Delete(ctx context.Context, id string) (*model.Comment, error)
	// ListByPost 按时间升序
	ListByPost(ctx context.Context, postID string, limit int) ([]model.Comment, error)
	ListIDsByPost(ctx context.Context, postID string) ([]string, error)
}

type commentRepository struct{ db *gorm.DB }

func NewCommentRepository(db *gorm.DB) CommentRepository { return &commentRepository{db: db} }

func (r *commentRepository) Create(ctx context.Context, c *model.Comment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		return recordChange(tx, c.TableName(), model.OpInsert, c.ID, c)
	})
	return wrapErr("create comment", err)
}

func (r *commentRepository) Get(ctx context.Context, id string) (*model.Comment, error) {
	var c model.Comment
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, wrapErr("get comment", err)
	}
	return &c, nil
}

func (r *commentRepository) Delete(ctx context.Context, id string) (*model.Comment, error) {
	var deleted *model.Comment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Comment
		if err := tx.First(&c, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		res := tx.Delete(&model.Comment{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = &c
		return recordChange(tx, c.TableName(), model.OpDelete, c.ID, c)
	})
	if err != nil {
		return nil, wrapErr("delete comment", err)
	}
	return deleted, nil
}

func (r *commentRepository) ListByPost(ctx context.Context, postID string, limit int) ([]model.Comment, error) {
	var out []model.Comment
	q := r.db.WithContext(ctx).Where("post_id = ?", postID).Order("created_at").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return out, wrapErr("list comments", q.Find(&out).Error)
}

func (r *commentRepository) ListIDsByPost(ctx context.Context, postID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Comment{}).Where("post_id = ?", postID).Order("id").Pluck("id", &ids).Error
	return ids, wrapErr("list comment ids", err)
}
