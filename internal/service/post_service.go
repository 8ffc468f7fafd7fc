package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/feed"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
	"github.com/d60-Lab/vinylfeed/internal/repository"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

// PostService 帖子的发布、读取与级联删除
type PostService struct {
	posts   repository.PostRepository
	feed    *feed.Builder
	cascade *CascadeDeleter
}

func NewPostService(posts repository.PostRepository, builder *feed.Builder, cascade *CascadeDeleter) *PostService {
	return &PostService{posts: posts, feed: builder, cascade: cascade}
}

// CreatePost 时间戳由文档库服务端分配，计数器从 0 开始
func (s *PostService) CreatePost(ctx context.Context, userID string, kind model.PostType, albumID string) (*model.Post, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("post type %q: %w", kind, apperr.ErrInvalidArgument)
	}
	if userID == "" || albumID == "" {
		return nil, fmt.Errorf("post needs user and album: %w", apperr.ErrInvalidArgument)
	}
	p := &model.Post{ID: uuid.New().String(), UserID: userID, Type: kind, AlbumID: albumID}
	if err := s.posts.Create(ctx, p); err != nil {
		return nil, err
	}
	logger.Info("post created", zap.String("post", p.ID), zap.String("user", userID), zap.String("type", string(kind)))
	return p, nil
}

func (s *PostService) GetPost(ctx context.Context, postID string) (*model.FeedItem, error) {
	return s.feed.Post(ctx, postID)
}

// FeedLoader viewer 的首页分页
func (s *PostService) FeedLoader(viewerID string) pagination.LoadFunc[model.FeedItem] {
	return s.feed.Loader(viewerID)
}

// UserPostsLoader 个人主页分页
func (s *PostService) UserPostsLoader(userID string) pagination.LoadFunc[model.FeedItem] {
	return s.feed.UserPostsLoader(userID)
}

// DeletePost 只允许作者删除；帖子已不存在时是 no-op
func (s *PostService) DeletePost(ctx context.Context, viewerID, postID string) error {
	p, err := s.posts.Get(ctx, postID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.UserID != viewerID {
		return fmt.Errorf("delete post %s: %w", postID, apperr.ErrForbidden)
	}
	return s.cascade.DeleteRoot(ctx, postID)
}
