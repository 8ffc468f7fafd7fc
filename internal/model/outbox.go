package model

import "time"

// ChangeOp 行级变更类型
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// Outbox 关系库变更事件外发盒：业务写入与事件在同一事务落地，
// 再由 ChangeRelay 推送到 redis 频道 changes:<table>。
type Outbox struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Table       string     `gorm:"column:source_table;type:varchar(64);not null" json:"table"`
	Op          ChangeOp   `gorm:"type:varchar(8);not null" json:"op"`
	RowID       string     `gorm:"type:varchar(64)" json:"row_id"`
	Payload     string     `gorm:"type:text" json:"payload"` // JSON 编码的列值
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	Status      string     `gorm:"type:varchar(16);index" json:"status"` // pending, processing, done
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func (Outbox) TableName() string { return "outbox" }

const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDone       = "done"
)

// ChangeEvent 是推送给订阅者的行变更
type ChangeEvent struct {
	Table string         `json:"table"`
	Op    ChangeOp       `json:"op"`
	RowID string         `json:"row_id"`
	Row   map[string]any `json:"row"`
	At    time.Time      `json:"at"`
}
