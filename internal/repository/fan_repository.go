package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/vinylfeed/internal/model"
)

// FanRepository 粉丝冗余表，由 FanReplicator 异步维护
type FanRepository interface {
	Create(ctx context.Context, userID, fanID string) (bool, error)
	Delete(ctx context.Context, userID, fanID string) error
	ListFans(ctx context.Context, userID string, offset, limit int) ([]*model.Fan, error)
	CountFans(ctx context.Context, userID string) (int64, error)
}

type fanRepository struct{ db *gorm.DB }

func NewFanRepository(db *gorm.DB) FanRepository { return &fanRepository{db: db} }

func (r *fanRepository) Create(ctx context.Context, userID, fanID string) (bool, error) {
	f := &model.Fan{ID: uuid.New().String(), UserID: userID, FanID: fanID}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(f)
	if res.Error != nil {
		return false, wrapErr("create fan", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *fanRepository) Delete(ctx context.Context, userID, fanID string) error {
	err := r.db.WithContext(ctx).Where("user_id = ? AND fan_id = ?", userID, fanID).Delete(&model.Fan{}).Error
	return wrapErr("delete fan", err)
}

func (r *fanRepository) ListFans(ctx context.Context, userID string, offset, limit int) ([]*model.Fan, error) {
	var res []*model.Fan
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("fan_id").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, wrapErr("list fans", err)
}

func (r *fanRepository) CountFans(ctx context.Context, userID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Fan{}).Where("user_id = ?", userID).Count(&cnt).Error
	return cnt, wrapErr("count fans", err)
}
