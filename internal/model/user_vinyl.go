package model

import (
	"time"

	"github.com/d60-Lab/vinylfeed/internal/pagination"
)

type UserVinylType string

const (
	VinylCollection UserVinylType = "collection"
	VinylWishlist   UserVinylType = "wishlist"
)

func (t UserVinylType) Valid() bool {
	return t == VinylCollection || t == VinylWishlist
}

// UserVinyl 用户收藏/心愿单条目，按 added_at 游标分页
type UserVinyl struct {
	ID        string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string        `gorm:"type:varchar(36);not null;uniqueIndex:ux_user_vinyl,priority:1;index:idx_user_vinyl_list,priority:1" json:"user_id"`
	ReleaseID string        `gorm:"type:varchar(36);not null;uniqueIndex:ux_user_vinyl,priority:2" json:"release_id"`
	Type      UserVinylType `gorm:"type:varchar(16);not null;uniqueIndex:ux_user_vinyl,priority:3;index:idx_user_vinyl_list,priority:2" json:"type"`
	AddedAt   time.Time     `gorm:"not null;index:idx_user_vinyl_list,priority:3" json:"added_at"`
}

func (UserVinyl) TableName() string { return "user_vinyls" }

func (v UserVinyl) SortKey() pagination.Cursor {
	return pagination.Cursor{CreatedAt: v.AddedAt, ID: v.ID}
}

type UserVinylWithAlbum struct {
	UserVinyl
	Album Album `json:"album"`
}

type VinylStats struct {
	CollectionCount int64 `json:"collection_count"`
	WishlistCount   int64 `json:"wishlist_count"`
}
