package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
	"github.com/d60-Lab/vinylfeed/internal/realtime"
	"github.com/d60-Lab/vinylfeed/internal/repository"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

// AlbumLookup 批量查专辑，返回的 map 只含找到的 id
type AlbumLookup interface {
	Albums(ctx context.Context, ids []string) (map[string]model.Album, error)
}

// PostPublisher 自动发帖
type PostPublisher interface {
	CreatePost(ctx context.Context, userID string, kind model.PostType, albumID string) (*model.Post, error)
}

// CollectionService 收藏与心愿单
type CollectionService struct {
	vinyls  repository.UserVinylRepository
	albums  AlbumLookup
	posts   PostPublisher
	changes ChangeSource
}

func NewCollectionService(vinyls repository.UserVinylRepository, albums AlbumLookup, posts PostPublisher, changes ChangeSource) *CollectionService {
	return &CollectionService{vinyls: vinyls, albums: albums, posts: posts, changes: changes}
}

// List 按加入时间倒序，专辑补水；专辑缺失的条目被丢弃
func (s *CollectionService) List(ctx context.Context, userID string, kind model.UserVinylType, after *pagination.Cursor, limit int) ([]model.UserVinylWithAlbum, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("list type %q: %w", kind, apperr.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = pagination.DefaultInitialPageSize
	}
	items, err := s.vinyls.List(ctx, userID, kind, after, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, v := range items {
		ids[i] = v.ReleaseID
	}
	albums, err := s.albums.Albums(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.UserVinylWithAlbum, 0, len(items))
	for _, v := range items {
		a, ok := albums[v.ReleaseID]
		if !ok {
			logger.Warn("drop vinyl with missing album", zap.String("id", v.ID), zap.String("release", v.ReleaseID))
			continue
		}
		out = append(out, model.UserVinylWithAlbum{UserVinyl: v, Album: a})
	}
	return out, nil
}

func (s *CollectionService) Loader(userID string, kind model.UserVinylType) pagination.LoadFunc[model.UserVinylWithAlbum] {
	return func(ctx context.Context, cursor *pagination.Cursor, limit int) ([]model.UserVinylWithAlbum, error) {
		return s.List(ctx, userID, kind, cursor, limit)
	}
}

// Counter 供列表控制器读取权威总数
func (s *CollectionService) Counter(userID string, kind model.UserVinylType) func(ctx context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		return s.vinyls.Count(ctx, userID, kind)
	}
}

func (s *CollectionService) Count(ctx context.Context, userID string, kind model.UserVinylType) (int64, error) {
	return s.vinyls.Count(ctx, userID, kind)
}

func (s *CollectionService) Stats(ctx context.Context, userID string) (model.VinylStats, error) {
	return s.vinyls.Stats(ctx, userID)
}

// Add 加入收藏或心愿单并自动发帖；重复加入返回 ErrAlreadyExists。
// 发帖失败不回滚条目。
func (s *CollectionService) Add(ctx context.Context, userID, releaseID string, kind model.UserVinylType) (*model.UserVinyl, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("vinyl type %q: %w", kind, apperr.ErrInvalidArgument)
	}
	v := &model.UserVinyl{
		ID:        uuid.New().String(),
		UserID:    userID,
		ReleaseID: releaseID,
		Type:      kind,
		AddedAt:   time.Now().UTC(),
	}
	if err := s.vinyls.Add(ctx, v); err != nil {
		return nil, err
	}
	s.announce(ctx, userID, releaseID, postTypeFor(kind))
	return v, nil
}

// Remove 不存在时 no-op
func (s *CollectionService) Remove(ctx context.Context, userID, releaseID string, kind model.UserVinylType) error {
	if !kind.Valid() {
		return fmt.Errorf("vinyl type %q: %w", kind, apperr.ErrInvalidArgument)
	}
	_, err := s.vinyls.Remove(ctx, userID, releaseID, kind)
	return err
}

// MoveToCollection 心愿单条目移入收藏。不在心愿单里返回 ErrNotFound，已在收藏里返回 ErrAlreadyExists。
func (s *CollectionService) MoveToCollection(ctx context.Context, userID, releaseID string) (*model.UserVinyl, error) {
	v, err := s.vinyls.Move(ctx, userID, releaseID, model.VinylWishlist, model.VinylCollection, uuid.New().String())
	if err != nil {
		return nil, err
	}
	s.announce(ctx, userID, releaseID, model.PostCollectionAdd)
	return v, nil
}

// Source 某用户收藏/心愿单上的变更
func (s *CollectionService) Source(userID string) realtime.Source {
	return s.changes.Source(model.UserVinyl{}.TableName(), realtime.Filter{Column: "user_id", Value: userID})
}

func (s *CollectionService) announce(ctx context.Context, userID, releaseID string, kind model.PostType) {
	if s.posts == nil {
		return
	}
	if _, err := s.posts.CreatePost(ctx, userID, kind, releaseID); err != nil {
		logger.Warn("auto post failed", zap.String("user", userID), zap.String("release", releaseID), zap.Error(err))
	}
}

func postTypeFor(kind model.UserVinylType) model.PostType {
	if kind == model.VinylWishlist {
		return model.PostWishlistAdd
	}
	return model.PostCollectionAdd
}
