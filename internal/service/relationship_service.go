package service

import (
	"context"
	"fmt"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/repository"
)

var ErrFollowSelf = fmt.Errorf("cannot follow self: %w", apperr.ErrInvalidArgument)

// RelationshipService 关系链服务
type RelationshipService interface {
	Follow(ctx context.Context, fromUserID, toUserID string) error
	Unfollow(ctx context.Context, fromUserID, toUserID string) error
	IsFollowing(ctx context.Context, fromUserID, toUserID string) (bool, error)
	ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	ListFans(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	Counts(ctx context.Context, userID string) (following, fans int64, err error)
}

type relationshipService struct {
	followRepo repository.FollowRepository
	fanRepo    repository.FanRepository
	replicator *FanReplicator
}

func NewRelationshipService(followRepo repository.FollowRepository, fanRepo repository.FanRepository, replicator *FanReplicator) RelationshipService {
	return &relationshipService{followRepo: followRepo, fanRepo: fanRepo, replicator: replicator}
}

// Follow 幂等；只有新建关注才异步写粉丝表并发通知
func (s *relationshipService) Follow(ctx context.Context, fromUserID, toUserID string) error {
	if fromUserID == toUserID {
		return ErrFollowSelf
	}
	created, err := s.followRepo.Create(ctx, fromUserID, toUserID)
	if err != nil {
		return err
	}
	if created && s.replicator != nil {
		s.replicator.EnqueueAdd(toUserID, fromUserID)
	}
	return nil
}

func (s *relationshipService) Unfollow(ctx context.Context, fromUserID, toUserID string) error {
	if err := s.followRepo.Delete(ctx, fromUserID, toUserID); err != nil {
		return err
	}
	if s.replicator != nil {
		s.replicator.EnqueueRemove(toUserID, fromUserID)
	}
	return nil
}

func (s *relationshipService) IsFollowing(ctx context.Context, fromUserID, toUserID string) (bool, error) {
	return s.followRepo.Exists(ctx, fromUserID, toUserID)
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	offset, limit := pageWindow(page, pageSize)
	items, err := s.followRepo.ListFollowings(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FolloweeID
	}
	return res, nil
}

func (s *relationshipService) ListFans(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	offset, limit := pageWindow(page, pageSize)
	items, err := s.fanRepo.ListFans(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FanID
	}
	return res, nil
}

func (s *relationshipService) Counts(ctx context.Context, userID string) (int64, int64, error) {
	following, err := s.followRepo.CountFollowings(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	fans, err := s.fanRepo.CountFans(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	return following, fans, nil
}

func pageWindow(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return (page - 1) * pageSize, pageSize
}
