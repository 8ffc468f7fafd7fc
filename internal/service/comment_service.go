package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/realtime"
	"github.com/d60-Lab/vinylfeed/internal/repository"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

const MaxCommentLength = 500

type CommentService struct {
	posts    repository.PostRepository
	comments repository.CommentRepository
	users    UserLookup
	notifier EventRecorder
	changes  ChangeSource
}

func NewCommentService(posts repository.PostRepository, comments repository.CommentRepository, users UserLookup, notifier EventRecorder, changes ChangeSource) *CommentService {
	return &CommentService{posts: posts, comments: comments, users: users, notifier: notifier, changes: changes}
}

// AddComment 写评论、评论数 +1、通知帖子作者
func (s *CommentService) AddComment(ctx context.Context, postID, userID, content string) (*model.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > MaxCommentLength {
		return nil, fmt.Errorf("comment length must be 1..%d: %w", MaxCommentLength, apperr.ErrInvalidArgument)
	}
	p, err := s.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	c := &model.Comment{
		ID:        uuid.New().String(),
		PostID:    postID,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.comments.Create(ctx, c); err != nil {
		return nil, err
	}
	if _, err := s.posts.AdjustComments(ctx, postID, 1); err != nil {
		logger.Warn("adjust comments count failed", zap.String("post", postID), zap.Error(err))
	}
	if s.notifier != nil {
		if _, err := s.notifier.RecordEvent(ctx, p.UserID, userID, model.NotificationComment, model.Subject{PostID: postID, CommentID: c.ID}); err != nil {
			logger.Warn("record comment notification failed", zap.String("post", postID), zap.Error(err))
		}
	}
	return c, nil
}

// DeleteComment 评论作者或帖子作者可删；不存在时 no-op
func (s *CommentService) DeleteComment(ctx context.Context, viewerID, commentID string) error {
	c, err := s.comments.Get(ctx, commentID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if c.UserID != viewerID {
		p, err := s.posts.Get(ctx, c.PostID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if p == nil || p.UserID != viewerID {
			return fmt.Errorf("delete comment %s: %w", commentID, apperr.ErrForbidden)
		}
	}
	deleted, err := s.comments.Delete(ctx, commentID)
	if err != nil || deleted == nil {
		return err
	}
	if _, err := s.posts.AdjustComments(ctx, deleted.PostID, -1); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		logger.Warn("adjust comments count failed", zap.String("post", deleted.PostID), zap.Error(err))
	}
	return nil
}

// ListComments 全部评论按时间升序，作者缺失的评论被丢弃
func (s *CommentService) ListComments(ctx context.Context, postID string) ([]model.CommentWithUser, error) {
	items, err := s.comments.ListByPost(ctx, postID, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, c := range items {
		ids[i] = c.UserID
	}
	users, err := s.users.Users(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.CommentWithUser, 0, len(items))
	for _, c := range items {
		u, ok := users[c.UserID]
		if !ok {
			logger.Warn("drop comment with missing author", zap.String("id", c.ID), zap.String("user", c.UserID))
			continue
		}
		out = append(out, model.CommentWithUser{Comment: c, User: u})
	}
	return out, nil
}

// CommentsKey 某 viewer 对帖子评论的订阅 key
func CommentsKey(postID, viewerID string) realtime.Key {
	return realtime.Key{Scope: "comments:" + postID, Viewer: viewerID}
}

// Watch 订阅帖子评论，任何变更都整体重读并回调 onData。订阅建立后先推一次当前值。
func (s *CommentService) Watch(ctx context.Context, m *realtime.Manager, key realtime.Key, postID string, onData func([]model.CommentWithUser), opts ...realtime.Option) (*realtime.Handle, error) {
	reload := func(ctx context.Context) error {
		items, err := s.ListComments(ctx, postID)
		if err != nil {
			return err
		}
		onData(items)
		return nil
	}
	src := s.changes.Source(model.Comment{}.TableName(), realtime.Filter{Column: "post_id", Value: postID})
	h, err := m.Subscribe(ctx, key, src, realtime.Reload(reload), opts...)
	if err != nil {
		return h, err
	}
	if err := reload(ctx); err != nil {
		h.Unsubscribe()
		return nil, err
	}
	return h, nil
}
