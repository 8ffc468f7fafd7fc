package service

import (
	"context"
	"fmt"
	"sync"
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

// UserLookup 批量查作者，返回的 map 只含找到的 id
type UserLookup interface {
	Users(ctx context.Context, ids []string) (map[string]model.UserSummary, error)
}

// ChangeSource 打开关系库某张表的变更订阅，由 realtime.ChangeFeed 实现
type ChangeSource interface {
	Source(table string, filter realtime.Filter) realtime.Source
}

// NotificationService 通知的记录、未读数与列表
type NotificationService struct {
	repo    repository.NotificationRepository
	users   UserLookup
	changes ChangeSource
	now     func() time.Time
}

func NewNotificationService(repo repository.NotificationRepository, users UserLookup, changes ChangeSource) *NotificationService {
	return &NotificationService{
		repo:    repo,
		users:   users,
		changes: changes,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecordEvent 记录一条通知。给自己的事件不记录；同一
// (recipient, actor, kind, subject) 只记录一次，重复调用返回 nil, nil。
func (s *NotificationService) RecordEvent(ctx context.Context, recipientID, actorID string, kind model.NotificationType, subject model.Subject) (*model.Notification, error) {
	if recipientID == "" || actorID == "" {
		return nil, fmt.Errorf("record %s notification: empty user: %w", kind, apperr.ErrInvalidArgument)
	}
	if recipientID == actorID {
		return nil, nil
	}
	n := &model.Notification{
		ID:        uuid.New().String(),
		UserID:    recipientID,
		ActorID:   actorID,
		Type:      kind,
		PostID:    subject.PostID,
		CommentID: subject.CommentID,
		CreatedAt: s.now(),
	}
	created, err := s.repo.Create(ctx, n)
	if err != nil {
		return nil, err
	}
	if !created {
		logger.Debug("duplicate notification ignored",
			zap.String("user", recipientID), zap.String("actor", actorID), zap.String("type", string(kind)))
		return nil, nil
	}
	return n, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkAllRead 只标记调用开始前已存在的通知，期间新到的保持未读
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, _, err := s.markAllRead(ctx, userID)
	return n, err
}

// markAllRead 同时返回本次使用的时间上界
func (s *NotificationService) markAllRead(ctx context.Context, userID string) (int64, time.Time, error) {
	before := s.now()
	n, err := s.repo.MarkAllRead(ctx, userID, before)
	return n, before, err
}

// List 按时间倒序，作者补水；作者缺失的通知被丢弃
func (s *NotificationService) List(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]model.NotificationWithActor, error) {
	if limit <= 0 {
		limit = pagination.DefaultInitialPageSize
	}
	items, err := s.repo.List(ctx, userID, after, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, n := range items {
		ids[i] = n.ActorID
	}
	actors, err := s.users.Users(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.NotificationWithActor, 0, len(items))
	for _, n := range items {
		a, ok := actors[n.ActorID]
		if !ok {
			logger.Warn("drop notification with missing actor", zap.String("id", n.ID), zap.String("actor", n.ActorID))
			continue
		}
		out = append(out, model.NotificationWithActor{Notification: n, Actor: a})
	}
	return out, nil
}

func (s *NotificationService) Loader(userID string) pagination.LoadFunc[model.NotificationWithActor] {
	return func(ctx context.Context, cursor *pagination.Cursor, limit int) ([]model.NotificationWithActor, error) {
		return s.List(ctx, userID, cursor, limit)
	}
}

// Source 某用户通知表上的变更
func (s *NotificationService) Source(userID string, ops ...model.ChangeOp) realtime.Source {
	return s.changes.Source(model.Notification{}.TableName(), realtime.Filter{Column: "user_id", Value: userID, Ops: ops})
}

// UnreadCounter 会话级未读计数：初始化时取权威的未读集合，之后每条新插入的未读通知 +1。
// 计数按通知 id 去重，权威集合已包含的行再收到 INSERT 事件不会重复计数。
type UnreadCounter struct {
	svc      *NotificationService
	manager  *realtime.Manager
	scope    string
	onChange func(int64)

	mu      sync.Mutex
	viewer  string
	unread  map[string]time.Time // id -> created_at
	pending []*model.ChangeEvent // 权威集合就绪前到达的事件
	readTo  time.Time            // 最近一次全部已读的上界
	ready   bool
	handle  *realtime.Handle
	started bool
}

// NewUnreadCounter scope 为空时用 "notifications:unread"；同一 viewer 的多个会话需要各自的 scope。
func (s *NotificationService) NewUnreadCounter(manager *realtime.Manager, scope string, onChange func(int64)) *UnreadCounter {
	if scope == "" {
		scope = "notifications:unread"
	}
	return &UnreadCounter{svc: s, manager: manager, scope: scope, onChange: onChange, unread: map[string]time.Time{}}
}

// Init 为 viewer 建立计数。同一 viewer 重复调用是 no-op；换 viewer 先拆掉旧订阅。
func (u *UnreadCounter) Init(ctx context.Context, viewerID string) error {
	u.mu.Lock()
	if u.started && u.viewer == viewerID && u.handle != nil && !u.handle.State().Terminal() {
		u.mu.Unlock()
		return nil
	}
	u.mu.Unlock()
	u.Teardown()

	u.mu.Lock()
	u.viewer = viewerID
	u.started = true
	u.mu.Unlock()

	// 先订阅再取权威集合；期间到达的事件先缓存，取到集合后按 id 去重补上
	h, err := u.manager.Subscribe(ctx, realtime.Key{Scope: u.scope, Viewer: viewerID},
		u.svc.Source(viewerID, model.OpInsert), u.onInsert(viewerID))
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.handle = h
	u.mu.Unlock()

	keys, err := u.svc.repo.UnreadKeys(ctx, viewerID)
	if err != nil {
		return err
	}

	u.mu.Lock()
	if u.viewer != viewerID {
		u.mu.Unlock()
		return nil
	}
	for _, k := range keys {
		u.unread[k.ID] = k.CreatedAt
	}
	for _, ev := range u.pending {
		u.applyLocked(ev)
	}
	u.pending = nil
	u.ready = true
	n := int64(len(u.unread))
	u.mu.Unlock()
	u.notify(n)
	return nil
}

func (u *UnreadCounter) onInsert(viewerID string) realtime.Handler {
	return func(_ context.Context, ev realtime.Event) {
		if ev.Change == nil {
			return
		}
		u.mu.Lock()
		if u.viewer != viewerID {
			u.mu.Unlock()
			return
		}
		if !u.ready {
			u.pending = append(u.pending, ev.Change)
			u.mu.Unlock()
			return
		}
		changed := u.applyLocked(ev.Change)
		n := int64(len(u.unread))
		u.mu.Unlock()
		if changed {
			u.notify(n)
		}
	}
}

// applyLocked 把一条 INSERT 计入未读集合，返回集合是否变化
func (u *UnreadCounter) applyLocked(ev *model.ChangeEvent) bool {
	if read, _ := ev.Row["read"].(bool); read {
		return false
	}
	id := ev.RowID
	if id == "" {
		id, _ = ev.Row["id"].(string)
	}
	if _, dup := u.unread[id]; dup || id == "" {
		return false
	}
	at := rowTime(ev.Row["created_at"])
	if !u.readTo.IsZero() && !at.IsZero() && !at.After(u.readTo) {
		return false
	}
	u.unread[id] = at
	return true
}

func rowTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (u *UnreadCounter) notify(n int64) {
	if u.onChange != nil {
		u.onChange(n)
	}
}

func (u *UnreadCounter) Count() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return int64(len(u.unread))
}

// Reset 本地清零
func (u *UnreadCounter) Reset() {
	u.mu.Lock()
	u.unread = map[string]time.Time{}
	u.mu.Unlock()
	u.notify(0)
}

// MarkAllRead 标记已读；上界之后插入的通知保持计数
func (u *UnreadCounter) MarkAllRead(ctx context.Context) error {
	u.mu.Lock()
	viewer := u.viewer
	u.mu.Unlock()
	if viewer == "" {
		return nil
	}
	_, before, err := u.svc.markAllRead(ctx, viewer)
	if err != nil {
		return err
	}
	u.mu.Lock()
	if u.viewer != viewer {
		u.mu.Unlock()
		return nil
	}
	u.readTo = before
	for id, at := range u.unread {
		if at.IsZero() || !at.After(before) {
			delete(u.unread, id)
		}
	}
	n := int64(len(u.unread))
	u.mu.Unlock()
	u.notify(n)
	return nil
}

// Teardown 取消订阅并清空状态，可重复调用
func (u *UnreadCounter) Teardown() {
	u.mu.Lock()
	h := u.handle
	u.handle = nil
	u.started = false
	u.ready = false
	u.viewer = ""
	u.unread = map[string]time.Time{}
	u.pending = nil
	u.readTo = time.Time{}
	u.mu.Unlock()
	if h != nil {
		h.Unsubscribe()
	}
}
