package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/vinylfeed/internal/model"
)

// OutboxRepository 关系库变更事件的认领与确认
type OutboxRepository interface {
	// Claim 认领一批 pending 事件并标记为 processing
	Claim(ctx context.Context, limit int) ([]model.Outbox, error)
	MarkDone(ctx context.Context, ids []string) error
	// Release 把处理失败的事件放回 pending
	Release(ctx context.Context, ids []string) error
	CountPending(ctx context.Context) (int64, error)
}

type outboxRepository struct{ db *gorm.DB }

func NewOutboxRepository(db *gorm.DB) OutboxRepository { return &outboxRepository{db: db} }

// recordChange 在业务事务内追加一条变更事件，row 按 json 标签编码为列值
func recordChange(tx *gorm.DB, table string, op model.ChangeOp, rowID string, row any) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return tx.Create(&model.Outbox{
		ID:        uuid.New().String(),
		Table:     table,
		Op:        op,
		RowID:     rowID,
		Payload:   string(payload),
		CreatedAt: time.Now().UTC(),
		Status:    model.OutboxPending,
	}).Error
}

func (r *outboxRepository) Claim(ctx context.Context, limit int) ([]model.Outbox, error) {
	var batch []model.Outbox
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", model.OutboxPending).Order("created_at").Limit(limit)
		// SKIP LOCKED 让多个 relay 并行认领；sqlite 单写者不需要也不支持
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		return tx.Model(&model.Outbox{}).Where("id IN ?", ids).Update("status", model.OutboxProcessing).Error
	})
	if err != nil {
		return nil, wrapErr("claim outbox", err)
	}
	return batch, nil
}

func (r *outboxRepository) MarkDone(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"status": model.OutboxDone, "processed_at": now}).Error
	return wrapErr("mark outbox done", err)
}

func (r *outboxRepository) Release(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("id IN ?", ids).
		Update("status", model.OutboxPending).Error
	return wrapErr("release outbox", err)
}

func (r *outboxRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Outbox{}).Where("status = ?", model.OutboxPending).Count(&n).Error
	return n, wrapErr("count outbox", err)
}
