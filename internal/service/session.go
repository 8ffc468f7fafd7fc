package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/docstore"
	"github.com/d60-Lab/vinylfeed/internal/feed"
	"github.com/d60-Lab/vinylfeed/internal/listsync"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/realtime"
	"github.com/d60-Lab/vinylfeed/internal/repository"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

// FeedSourceFunc 打开 viewer 首页的变更订阅；loadedAt 是首页首屏开始加载的时间
type FeedSourceFunc func(ctx context.Context, viewerID string, loadedAt time.Time) (realtime.Source, error)

// PostsWatchSource 订阅 viewer 首页作者的帖子写入，只有这些作者的写入才触发首页重载
func PostsWatchSource(builder *feed.Builder, posts repository.PostRepository, store *docstore.RedisStore, pingInterval, subscribeTimeout time.Duration) FeedSourceFunc {
	return func(ctx context.Context, viewerID string, loadedAt time.Time) (realtime.Source, error) {
		authors, err := builder.ResolveAuthors(ctx, viewerID)
		if err != nil {
			return nil, err
		}
		return store.WatchSource(posts.Query(authors), pingInterval, subscribeTimeout, docstore.OpenedAfter(loadedAt)), nil
	}
}

// SessionEvent 会话内某个视图发生变化
type SessionEvent struct {
	Kind   string `json:"kind"` // unread | feed | notifications | collection | wishlist
	Unread int64  `json:"unread,omitempty"`
}

type SessionDeps struct {
	Manager          *realtime.Manager
	Feed             *feed.Builder
	FeedSource       FeedSourceFunc
	Notifications    *NotificationService
	Collections      *CollectionService
	InitialPageSize  int
	LoadMorePageSize int
}

// Session 一个登录会话持有的实时状态：未读数与四个列表。
// Stop（登出）释放全部订阅，之后不会再有回调。
type Session struct {
	id      string
	deps    SessionDeps
	onEvent func(SessionEvent)

	mu            sync.Mutex
	viewer        string
	unread        *UnreadCounter
	feed          *listsync.Controller[model.FeedItem]
	notifications *listsync.Controller[model.NotificationWithActor]
	collection    *listsync.Controller[model.UserVinylWithAlbum]
	wishlist      *listsync.Controller[model.UserVinylWithAlbum]
}

func NewSession(deps SessionDeps, onEvent func(SessionEvent)) *Session {
	if onEvent == nil {
		onEvent = func(SessionEvent) {}
	}
	return &Session{id: uuid.New().String(), deps: deps, onEvent: onEvent}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Viewer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewer
}

func (s *Session) scope(kind string) string { return kind + ":" + s.id }

func (s *Session) key(kind, viewerID string) realtime.Key {
	return realtime.Key{Scope: s.scope(kind), Viewer: viewerID}
}

// Start 为 viewer 建立会话。同一 viewer 重复调用是 no-op，换 viewer 先 Stop。
func (s *Session) Start(ctx context.Context, viewerID string) error {
	s.mu.Lock()
	if s.viewer == viewerID && s.unread != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.Stop()

	d := s.deps
	pages := listsync.WithPageSizes(d.InitialPageSize, d.LoadMorePageSize)
	// Stop 之后迟到的加载结果不再上报
	fire := func(ev SessionEvent) {
		s.mu.Lock()
		live := s.viewer == viewerID
		s.mu.Unlock()
		if live {
			s.onEvent(ev)
		}
	}
	emit := func(kind string) listsync.ControllerOption {
		return listsync.WithOnChange(func() { fire(SessionEvent{Kind: kind}) })
	}

	unread := d.Notifications.NewUnreadCounter(d.Manager, s.scope("unread"), func(n int64) {
		fire(SessionEvent{Kind: "unread", Unread: n})
	})
	feedCtl := listsync.NewController(s.scope("feed"), d.Feed.Loader(viewerID), pages, emit("feed"))
	notifCtl := listsync.NewController(s.scope("notifications"), d.Notifications.Loader(viewerID), pages, emit("notifications"))
	collCtl := listsync.NewController(s.scope("collection"), d.Collections.Loader(viewerID, model.VinylCollection), pages, emit("collection"))
	collCtl.SetCounter(d.Collections.Counter(viewerID, model.VinylCollection))
	wishCtl := listsync.NewController(s.scope("wishlist"), d.Collections.Loader(viewerID, model.VinylWishlist), pages, emit("wishlist"))
	wishCtl.SetCounter(d.Collections.Counter(viewerID, model.VinylWishlist))

	s.mu.Lock()
	s.viewer = viewerID
	s.unread = unread
	s.feed, s.notifications, s.collection, s.wishlist = feedCtl, notifCtl, collCtl, wishCtl
	s.mu.Unlock()

	if err := unread.Init(ctx, viewerID); err != nil {
		s.Stop()
		return fmt.Errorf("init unread counter: %w", err)
	}
	loadedAt := time.Now()
	for _, load := range []func(context.Context) error{feedCtl.LoadInitial, notifCtl.LoadInitial, collCtl.LoadInitial, wishCtl.LoadInitial} {
		if err := load(ctx); err != nil {
			s.Stop()
			return err
		}
	}

	lost := realtime.WithOnLost(func(err error) {
		logger.Warn("session subscription lost", zap.String("session", s.id), zap.String("viewer", viewerID), zap.Error(err))
	})
	if d.FeedSource != nil {
		if src, err := d.FeedSource(ctx, viewerID, loadedAt); err != nil {
			logger.Warn("open feed source failed", zap.String("viewer", viewerID), zap.Error(err))
		} else if _, err := feedCtl.Watch(ctx, d.Manager, s.key("feed", viewerID), src, lost); err != nil {
			logger.Warn("watch feed failed", zap.String("viewer", viewerID), zap.Error(err))
		}
	}
	if _, err := notifCtl.Watch(ctx, d.Manager, s.key("notifications", viewerID), d.Notifications.Source(viewerID), lost); err != nil {
		logger.Warn("watch notifications failed", zap.String("viewer", viewerID), zap.Error(err))
	}
	if _, err := collCtl.Watch(ctx, d.Manager, s.key("collection", viewerID), d.Collections.Source(viewerID), lost); err != nil {
		logger.Warn("watch collection failed", zap.String("viewer", viewerID), zap.Error(err))
	}
	if _, err := wishCtl.Watch(ctx, d.Manager, s.key("wishlist", viewerID), d.Collections.Source(viewerID), lost); err != nil {
		logger.Warn("watch wishlist failed", zap.String("viewer", viewerID), zap.Error(err))
	}
	logger.Info("session started", zap.String("session", s.id), zap.String("viewer", viewerID))
	return nil
}

// Stop 释放会话的全部订阅，可重复调用
func (s *Session) Stop() {
	s.mu.Lock()
	viewer := s.viewer
	unread := s.unread
	ctls := []interface{ Close() }{}
	if s.feed != nil {
		ctls = append(ctls, s.feed, s.notifications, s.collection, s.wishlist)
	}
	s.viewer, s.unread = "", nil
	s.feed, s.notifications, s.collection, s.wishlist = nil, nil, nil, nil
	s.mu.Unlock()

	for _, c := range ctls {
		c.Close()
	}
	if unread != nil {
		unread.Teardown()
		logger.Info("session stopped", zap.String("session", s.id), zap.String("viewer", viewer))
	}
}

func (s *Session) Unread() *UnreadCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Session) Feed() *listsync.Controller[model.FeedItem] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed
}

func (s *Session) Notifications() *listsync.Controller[model.NotificationWithActor] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifications
}

func (s *Session) Collection() *listsync.Controller[model.UserVinylWithAlbum] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection
}

func (s *Session) Wishlist() *listsync.Controller[model.UserVinylWithAlbum] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wishlist
}
