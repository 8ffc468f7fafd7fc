package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/feed"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
	"github.com/d60-Lab/vinylfeed/internal/realtime"
	"github.com/d60-Lab/vinylfeed/internal/repository"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, model.ChangeEvent) error {
	return errors.New("redis down")
}

func TestChangeRelayPublishesAndMarksDone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.createPost(t, "author", "a1")

	sub := e.rdb.Subscribe(ctx, realtime.ChangeChannel("comments"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	svc := NewCommentService(e.posts, e.comments, e.cache, nil, e.changes)
	c, err := svc.AddComment(ctx, p.ID, "fan1", "nice pressing")
	require.NoError(t, err)

	// 推送失败的事件回到 pending
	broken := NewChangeRelay(e.outbox, failingPublisher{}, 1, 10, time.Hour)
	n, err := broken.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	pending, err := e.outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	n, err = e.relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	pending, err = e.outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var ev model.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	assert.Equal(t, model.OpInsert, ev.Op)
	assert.Equal(t, c.ID, ev.RowID)
	assert.Equal(t, p.ID, ev.Row["post_id"])

	select {
	case d := <-e.relay.Metrics():
		assert.GreaterOrEqual(t, d, time.Duration(0))
	default:
		t.Fatal("expected a latency sample")
	}
}

func TestChangeRelayStartStop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	relay := NewChangeRelay(e.outbox, e.changes, 2, 10, 10*time.Millisecond)
	stop := relay.Start()

	_, err := e.notifications.RecordEvent(ctx, "author", "fan1", model.NotificationFollow, model.Subject{})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		n, err := e.outbox.CountPending(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, stop(stopCtx))
}

func TestLikeIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.createPost(t, "author", "a1")
	svc := NewLikeService(e.posts, e.likes, e.notifications)

	n, err := svc.Like(ctx, p.ID, "fan1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = svc.Like(ctx, p.ID, "fan1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	liked, err := svc.HasLiked(ctx, p.ID, "fan1")
	require.NoError(t, err)
	assert.True(t, liked)

	// 给自己点赞不产生通知
	_, err = svc.Like(ctx, p.ID, "author")
	require.NoError(t, err)
	unread, err := e.notifications.UnreadCount(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	require.NoError(t, svc.Unlike(ctx, p.ID, "fan1"))
	require.NoError(t, svc.Unlike(ctx, p.ID, "fan1"))
	got, err := e.posts.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.LikesCount)

	_, err = svc.Like(ctx, "missing", "fan1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCommentLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.createPost(t, "author", "a1")
	svc := NewCommentService(e.posts, e.comments, e.cache, e.notifications, e.changes)

	_, err := svc.AddComment(ctx, p.ID, "fan1", "   ")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	c, err := svc.AddComment(ctx, p.ID, "fan1", " great record ")
	require.NoError(t, err)
	assert.Equal(t, "great record", c.Content)
	_, err = svc.AddComment(ctx, p.ID, "fan2", "agreed")
	require.NoError(t, err)

	list, err := svc.ListComments(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "fan1", list[0].User.Username)

	got, err := e.posts.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.CommentsCount)

	assert.ErrorIs(t, svc.DeleteComment(ctx, "fan2", c.ID), apperr.ErrForbidden)
	// 帖子作者可以删别人的评论
	require.NoError(t, svc.DeleteComment(ctx, "author", c.ID))
	require.NoError(t, svc.DeleteComment(ctx, "author", c.ID))

	got, err = e.posts.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.CommentsCount)
}

func TestWatchCommentsReloadsOnChange(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.createPost(t, "author", "a1")
	svc := NewCommentService(e.posts, e.comments, e.cache, nil, e.changes)

	var mu sync.Mutex
	var last []model.CommentWithUser
	h, err := svc.Watch(ctx, e.manager, CommentsKey(p.ID, "viewer"), p.ID, func(items []model.CommentWithUser) {
		mu.Lock()
		last = items
		mu.Unlock()
	})
	require.NoError(t, err)
	defer h.Unsubscribe()

	_, err = svc.AddComment(ctx, p.ID, "fan1", "first!")
	require.NoError(t, err)
	_, err = e.relay.ProcessOnce(ctx)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].Content == "first!"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCollectionAddAndMove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	posts := NewPostService(e.posts, e.builder, NewCascadeDeleter(e.posts, e.likes, e.comments, e.notifRepo))
	svc := NewCollectionService(e.vinyls, e.cache, posts, e.changes)

	_, err := svc.Add(ctx, "viewer", "a1", model.VinylWishlist)
	require.NoError(t, err)
	_, err = svc.Add(ctx, "viewer", "a1", model.VinylWishlist)
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
	_, err = svc.Add(ctx, "viewer", "a2", "shelf")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	feedPosts, err := e.posts.ListByAuthors(ctx, []string{"viewer"}, nil, 10)
	require.NoError(t, err)
	require.Len(t, feedPosts, 1)
	assert.Equal(t, model.PostWishlistAdd, feedPosts[0].Type)

	v, err := svc.MoveToCollection(ctx, "viewer", "a1")
	require.NoError(t, err)
	assert.Equal(t, model.VinylCollection, v.Type)
	_, err = svc.MoveToCollection(ctx, "viewer", "a1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	stats, err := svc.Stats(ctx, "viewer")
	require.NoError(t, err)
	assert.Equal(t, model.VinylStats{CollectionCount: 1}, stats)

	list, err := svc.List(ctx, "viewer", model.VinylCollection, nil, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Kind of Blue", list[0].Album.Title)

	require.NoError(t, svc.Remove(ctx, "viewer", "a1", model.VinylCollection))
	require.NoError(t, svc.Remove(ctx, "viewer", "a1", model.VinylCollection))
	n, err := svc.Count(ctx, "viewer", model.VinylCollection)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFollowReplicatesFanAndNotifies(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	replicator := NewFanReplicator(e.fans, e.notifications, 16)
	stop := replicator.Start(1)
	svc := NewRelationshipService(e.follows, e.fans, replicator)

	assert.ErrorIs(t, svc.Follow(ctx, "viewer", "viewer"), ErrFollowSelf)
	require.NoError(t, svc.Follow(ctx, "viewer", "author"))
	require.NoError(t, svc.Follow(ctx, "viewer", "author"))

	assert.Eventually(t, func() bool {
		_, fans, err := svc.Counts(ctx, "author")
		return err == nil && fans == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, stop(ctx))

	ok, err := svc.IsFollowing(ctx, "viewer", "author")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Eventually(t, func() bool {
		n, err := e.notifications.UnreadCount(ctx, "author")
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	following, err := svc.ListFollowing(ctx, "viewer", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"author"}, following)
}

func TestSessionStartAndStop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	posts := NewPostService(e.posts, e.builder, NewCascadeDeleter(e.posts, e.likes, e.comments, e.notifRepo))
	collections := NewCollectionService(e.vinyls, e.cache, posts, e.changes)

	_, err := e.follows.Create(ctx, "viewer", "author")
	require.NoError(t, err)
	e.createPost(t, "author", "a1")
	_, err = e.notifications.RecordEvent(ctx, "viewer", "author", model.NotificationFollow, model.Subject{})
	require.NoError(t, err)
	_, err = e.relay.ProcessOnce(ctx)
	require.NoError(t, err)

	var mu sync.Mutex
	kinds := make(map[string]int)
	session := NewSession(SessionDeps{
		Manager:       e.manager,
		Feed:          e.builder,
		FeedSource:    PostsWatchSource(e.builder, e.posts, e.store, time.Second, time.Second),
		Notifications: e.notifications,
		Collections:   collections,
	}, func(ev SessionEvent) {
		mu.Lock()
		kinds[ev.Kind]++
		mu.Unlock()
	})

	require.NoError(t, session.Start(ctx, "viewer"))
	require.NoError(t, session.Start(ctx, "viewer"))
	assert.Equal(t, "viewer", session.Viewer())
	assert.Equal(t, int64(1), session.Unread().Count())
	assert.Len(t, session.Feed().View().Items, 1)
	assert.Len(t, session.Notifications().View().Items, 1)
	assert.Equal(t, 5, e.manager.Len())

	// 加入收藏：收藏列表与首页（自己的自动发帖）都应刷新
	_, err = collections.Add(ctx, "viewer", "a2", model.VinylCollection)
	require.NoError(t, err)
	_, err = e.relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return len(session.Collection().View().Items) == 1 && len(session.Feed().View().Items) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), session.Collection().View().Total)

	session.Stop()
	session.Stop()
	assert.Zero(t, e.manager.Len())
	assert.Nil(t, session.Feed())

	mu.Lock()
	assert.Positive(t, kinds["feed"])
	assert.Positive(t, kinds["unread"])
	mu.Unlock()
}

// countingPosts 统计 feed 查询次数
type countingPosts struct {
	repository.PostRepository
	lists atomic.Int32
}

func (c *countingPosts) ListByAuthors(ctx context.Context, ids []string, after *pagination.Cursor, limit int) ([]model.Post, error) {
	c.lists.Add(1)
	return c.PostRepository.ListByAuthors(ctx, ids, after, limit)
}

func TestSessionFeedIgnoresUnwatchedAuthors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	counting := &countingPosts{PostRepository: e.posts}
	builder := feed.NewBuilder(e.follows, counting, e.cache, feed.Config{FollowCap: feed.DefaultFollowCap, InClauseLimit: feed.DefaultInClauseLimit})
	posts := NewPostService(e.posts, builder, NewCascadeDeleter(e.posts, e.likes, e.comments, e.notifRepo))

	_, err := e.follows.Create(ctx, "viewer", "author")
	require.NoError(t, err)
	e.createPost(t, "author", "a1")

	session := NewSession(SessionDeps{
		Manager:       e.manager,
		Feed:          builder,
		FeedSource:    PostsWatchSource(builder, e.posts, e.store, time.Second, time.Second),
		Notifications: e.notifications,
		Collections:   NewCollectionService(e.vinyls, e.cache, posts, e.changes),
	}, nil)
	require.NoError(t, session.Start(ctx, "viewer"))
	defer session.Stop()

	// 首屏之后没有新帖：订阅确认不触发重载
	time.Sleep(200 * time.Millisecond)
	loaded := counting.lists.Load()
	require.Positive(t, loaded)

	// 未关注的人发帖、被点赞都不影响首页
	other := e.createPost(t, "fan1", "a2")
	_, err = e.posts.AdjustLikes(ctx, other.ID, 1)
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, loaded, counting.lists.Load())
	assert.Len(t, session.Feed().View().Items, 1)

	e.createPost(t, "author", "a2")
	assert.Eventually(t, func() bool {
		return len(session.Feed().View().Items) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Greater(t, counting.lists.Load(), loaded)
}
