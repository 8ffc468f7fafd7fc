package model

import (
	"time"

	"github.com/d60-Lab/vinylfeed/internal/pagination"
)

// PostType 自动发帖的动作类型
type PostType string

const (
	PostCollectionAdd PostType = "collection_add"
	PostWishlistAdd   PostType = "wishlist_add"
)

func (t PostType) Valid() bool {
	return t == PostCollectionAdd || t == PostWishlistAdd
}

// Post 存在文档库里的 feed 条目。CreatedAt 由服务端写入时分配，只在单个作者内单调。
// 计数器只由点赞/评论的增删修改。
type Post struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Type          PostType  `json:"type"`
	AlbumID       string    `json:"albumId"`
	CreatedAt     time.Time `json:"createdAt"`
	LikesCount    int64     `json:"likesCount"`
	CommentsCount int64     `json:"commentsCount"`
}

func (p Post) SortKey() pagination.Cursor {
	return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
}

// FeedItem 补水后的帖子：作者与专辑来自关系库。
type FeedItem struct {
	Post
	User  UserSummary `json:"user"`
	Album Album       `json:"album"`
}
