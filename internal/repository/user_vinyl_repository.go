package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
)

type UserVinylRepository interface {
	// Add 重复条目返回 ErrAlreadyExists
	Add(ctx context.Context, v *model.UserVinyl) error
	// Remove 不存在时为 no-op，返回是否删除
	Remove(ctx context.Context, userID, releaseID string, kind model.UserVinylType) (bool, error)
	// Move 在一个事务里把条目从 from 移到 to，AddedAt 刷新
	Move(ctx context.Context, userID, releaseID string, from, to model.UserVinylType, newID string) (*model.UserVinyl, error)
	List(ctx context.Context, userID string, kind model.UserVinylType, after *pagination.Cursor, limit int) ([]model.UserVinyl, error)
	Count(ctx context.Context, userID string, kind model.UserVinylType) (int64, error)
	Stats(ctx context.Context, userID string) (model.VinylStats, error)
}

type userVinylRepository struct{ db *gorm.DB }

func NewUserVinylRepository(db *gorm.DB) UserVinylRepository { return &userVinylRepository{db: db} }

func (r *userVinylRepository) Add(ctx context.Context, v *model.UserVinyl) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return addVinyl(tx, v)
	})
	return wrapErr("add vinyl", err)
}

func addVinyl(tx *gorm.DB, v *model.UserVinyl) error {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(v)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", v.Type, v.ReleaseID, apperr.ErrAlreadyExists)
	}
	return recordChange(tx, v.TableName(), model.OpInsert, v.ID, v)
}

func (r *userVinylRepository) Remove(ctx context.Context, userID, releaseID string, kind model.UserVinylType) (bool, error) {
	removed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := removeVinyl(tx, userID, releaseID, kind)
		removed = v != nil
		return err
	})
	return removed, wrapErr("remove vinyl", err)
}

func removeVinyl(tx *gorm.DB, userID, releaseID string, kind model.UserVinylType) (*model.UserVinyl, error) {
	var v model.UserVinyl
	err := tx.First(&v, "user_id = ? AND release_id = ? AND type = ?", userID, releaseID, kind).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Delete(&model.UserVinyl{}, "id = ?", v.ID).Error; err != nil {
		return nil, err
	}
	return &v, recordChange(tx, v.TableName(), model.OpDelete, v.ID, v)
}

func (r *userVinylRepository) Move(ctx context.Context, userID, releaseID string, from, to model.UserVinylType, newID string) (*model.UserVinyl, error) {
	var moved *model.UserVinyl
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old, err := removeVinyl(tx, userID, releaseID, from)
		if err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("%s %s: %w", from, releaseID, apperr.ErrNotFound)
		}
		v := &model.UserVinyl{ID: newID, UserID: userID, ReleaseID: releaseID, Type: to, AddedAt: tx.NowFunc()}
		if err := addVinyl(tx, v); err != nil {
			return err
		}
		moved = v
		return nil
	})
	if err != nil {
		return nil, wrapErr("move vinyl", err)
	}
	return moved, nil
}

func (r *userVinylRepository) List(ctx context.Context, userID string, kind model.UserVinylType, after *pagination.Cursor, limit int) ([]model.UserVinyl, error) {
	q := r.db.WithContext(ctx).Where("user_id = ? AND type = ?", userID, kind)
	if after != nil {
		at := after.CreatedAt.UTC()
		q = q.Where("(added_at < ?) OR (added_at = ? AND id > ?)", at, at, after.ID)
	}
	var out []model.UserVinyl
	err := q.Order("added_at DESC").Order("id").Limit(limit).Find(&out).Error
	return out, wrapErr("list vinyls", err)
}

func (r *userVinylRepository) Count(ctx context.Context, userID string, kind model.UserVinylType) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.UserVinyl{}).
		Where("user_id = ? AND type = ?", userID, kind).
		Count(&n).Error
	return n, wrapErr("count vinyls", err)
}

func (r *userVinylRepository) Stats(ctx context.Context, userID string) (model.VinylStats, error) {
	var rows []struct {
		Type model.UserVinylType
		N    int64
	}
	err := r.db.WithContext(ctx).Model(&model.UserVinyl{}).
		Select("type, COUNT(*) AS n").
		Where("user_id = ?", userID).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return model.VinylStats{}, wrapErr("vinyl stats", err)
	}
	var s model.VinylStats
	for _, row := range rows {
		switch row.Type {
		case model.VinylCollection:
			s.CollectionCount = row.N
		case model.VinylWishlist:
			s.WishlistCount = row.N
		}
	}
	return s, nil
}
