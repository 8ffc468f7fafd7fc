package feed

import (
	"context"
	"fmt"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
)

// Loader 把 viewer 的 feed 适配为分页加载函数
func (b *Builder) Loader(viewerID string) pagination.LoadFunc[model.FeedItem] {
	return func(ctx context.Context, cursor *pagination.Cursor, limit int) ([]model.FeedItem, error) {
		return b.Build(ctx, viewerID, limit, cursor)
	}
}

// BuildPage 由不透明 token 读取一页
func (b *Builder) BuildPage(ctx context.Context, viewerID, token string, pageSize int) (pagination.Page[model.FeedItem], error) {
	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		return pagination.Page[model.FeedItem]{}, err
	}
	if pageSize <= 0 {
		pageSize = pagination.DefaultInitialPageSize
	}
	items, err := b.Build(ctx, viewerID, pageSize, cursor)
	if err != nil {
		return pagination.Page[model.FeedItem]{}, err
	}
	return pagination.NewPage(items, cursor, pageSize), nil
}

// UserPosts 某个用户自己的帖子（个人主页），同样补水
func (b *Builder) UserPosts(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]model.FeedItem, error) {
	if limit <= 0 {
		limit = pagination.DefaultInitialPageSize
	}
	return b.fill(ctx, []string{userID}, limit, after)
}

// UserPostsLoader 个人主页分页
func (b *Builder) UserPostsLoader(userID string) pagination.LoadFunc[model.FeedItem] {
	return func(ctx context.Context, cursor *pagination.Cursor, limit int) ([]model.FeedItem, error) {
		return b.UserPosts(ctx, userID, cursor, limit)
	}
}

// Post 读取单个帖子。显式请求单个实体时，作者或专辑缺失返回 ErrNotFound。
func (b *Builder) Post(ctx context.Context, postID string) (*model.FeedItem, error) {
	p, err := b.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	users, err := b.entities.Users(ctx, []string{p.UserID})
	if err != nil {
		return nil, err
	}
	albums, err := b.entities.Albums(ctx, []string{p.AlbumID})
	if err != nil {
		return nil, err
	}
	u, ok := users[p.UserID]
	if !ok {
		return nil, fmt.Errorf("author %s of post %s: %w", p.UserID, postID, apperr.ErrNotFound)
	}
	a, ok := albums[p.AlbumID]
	if !ok {
		return nil, fmt.Errorf("album %s of post %s: %w", p.AlbumID, postID, apperr.ErrNotFound)
	}
	return &model.FeedItem{Post: *p, User: u, Album: a}, nil
}
