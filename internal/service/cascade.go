package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/repository"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

const defaultCascadeConcurrency = 8

// CascadeDeleter 删除帖子及其依赖：点赞、评论、通知，最后是帖子本身。
// 任何依赖删除失败时帖子保留，调用方可以原样重试。
type CascadeDeleter struct {
	posts         repository.PostRepository
	likes         repository.LikeRepository
	comments      repository.CommentRepository
	notifications repository.NotificationRepository
	concurrency   int
}

func NewCascadeDeleter(posts repository.PostRepository, likes repository.LikeRepository, comments repository.CommentRepository, notifications repository.NotificationRepository) *CascadeDeleter {
	return &CascadeDeleter{
		posts:         posts,
		likes:         likes,
		comments:      comments,
		notifications: notifications,
		concurrency:   defaultCascadeConcurrency,
	}
}

// DeleteRoot 依次处理 likes、comments、notifications，全部成功才删除帖子。
// 每一步都会执行完（不因前一步失败而跳过），失败汇总在 *apperr.CascadeError 里。
// 帖子已不存在时是 no-op。
func (d *CascadeDeleter) DeleteRoot(ctx context.Context, postID string) error {
	var failures []apperr.StepFailure

	likes, err := d.likes.ListByPost(ctx, postID)
	if err != nil {
		failures = append(failures, apperr.StepFailure{Step: apperr.StepLikes, Err: err})
	} else {
		ids := make([]string, len(likes))
		for i, l := range likes {
			ids[i] = l.ID
		}
		failures = append(failures, d.each(ctx, apperr.StepLikes, ids, func(ctx context.Context, id string) error {
			_, err := d.likes.Delete(ctx, id)
			return err
		})...)
	}

	commentIDs, err := d.comments.ListIDsByPost(ctx, postID)
	if err != nil {
		failures = append(failures, apperr.StepFailure{Step: apperr.StepComments, Err: err})
	} else {
		failures = append(failures, d.each(ctx, apperr.StepComments, commentIDs, func(ctx context.Context, id string) error {
			_, err := d.comments.Delete(ctx, id)
			return err
		})...)
	}

	if _, err := d.notifications.DeleteByPost(ctx, postID); err != nil {
		failures = append(failures, apperr.StepFailure{Step: apperr.StepNotifications, Err: err})
	}

	if len(failures) > 0 {
		cerr := &apperr.CascadeError{RootID: postID, Failures: failures}
		logger.Warn("cascade delete incomplete, root kept",
			zap.String("post", postID),
			zap.Strings("steps", cerr.FailedSteps()),
			zap.Int("failures", len(failures)))
		return cerr
	}

	if err := d.posts.Delete(ctx, postID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return &apperr.CascadeError{RootID: postID, Failures: []apperr.StepFailure{{Step: apperr.StepRoot, ID: postID, Err: err}}}
	}
	logger.Info("post deleted",
		zap.String("post", postID),
		zap.Int("likes", len(likes)),
		zap.Int("comments", len(commentIDs)))
	return nil
}

// each 以有限并发删除同一步的依赖项，返回失败项
func (d *CascadeDeleter) each(ctx context.Context, step string, ids []string, del func(context.Context, string) error) []apperr.StepFailure {
	if len(ids) == 0 {
		return nil
	}
	sem := make(chan struct{}, max(d.concurrency, 1))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []apperr.StepFailure
	)
	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := del(ctx, id); err != nil {
				mu.Lock()
				failures = append(failures, apperr.StepFailure{Step: step, ID: id, Err: fmt.Errorf("delete %s %s: %w", step, id, err)})
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return failures
}
