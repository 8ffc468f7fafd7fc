package model

import "time"

// Fan 粉丝关系（B 的粉丝是 A）冗余自 Follow，由 FanReplicator 异步写入
type Fan struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"type:varchar(36);index:idx_fan_user;index:idx_fan_pair,unique;not null" json:"user_id"`
	FanID     string    `gorm:"type:varchar(36);not null;index:idx_fan_pair,unique" json:"fan_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Fan) TableName() string { return "fans" }
