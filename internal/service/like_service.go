package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/repository"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

type LikeService struct {
	posts    repository.PostRepository
	likes    repository.LikeRepository
	notifier EventRecorder
}

func NewLikeService(posts repository.PostRepository, likes repository.LikeRepository, notifier EventRecorder) *LikeService {
	return &LikeService{posts: posts, likes: likes, notifier: notifier}
}

// Like 幂等：只有新点赞才 +1 并通知作者。返回帖子当前点赞数。
func (s *LikeService) Like(ctx context.Context, postID, userID string) (int64, error) {
	p, err := s.posts.Get(ctx, postID)
	if err != nil {
		return 0, err
	}
	_, created, err := s.likes.Create(ctx, postID, userID)
	if err != nil {
		return 0, err
	}
	if !created {
		return p.LikesCount, nil
	}
	n, err := s.posts.AdjustLikes(ctx, postID, 1)
	if err != nil {
		return 0, err
	}
	if s.notifier != nil {
		if _, err := s.notifier.RecordEvent(ctx, p.UserID, userID, model.NotificationLike, model.Subject{PostID: postID}); err != nil {
			logger.Warn("record like notification failed", zap.String("post", postID), zap.Error(err))
		}
	}
	return n, nil
}

// Unlike 幂等：未点赞时 no-op
func (s *LikeService) Unlike(ctx context.Context, postID, userID string) error {
	deleted, err := s.likes.Delete(ctx, model.LikeID(postID, userID))
	if err != nil || !deleted {
		return err
	}
	if _, err := s.posts.AdjustLikes(ctx, postID, -1); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return nil
}

func (s *LikeService) HasLiked(ctx context.Context, postID, userID string) (bool, error) {
	return s.likes.Exists(ctx, postID, userID)
}

func (s *LikeService) Likes(ctx context.Context, postID string) ([]model.Like, error) {
	return s.likes.ListByPost(ctx, postID)
}
