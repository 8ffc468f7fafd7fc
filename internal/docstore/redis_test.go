package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
	"github.com/d60-Lab/vinylfeed/internal/realtime"
)

func newStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStore(client)
}

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func post(id, author string, minutesAgo int) Doc {
	body, _ := json.Marshal(map[string]string{"userId": author})
	return Doc{
		ID:        id,
		CreatedAt: base.Add(-time.Duration(minutesAgo) * time.Minute),
		Index:     map[string]string{"userId": author},
		Body:      body,
	}
}

func ids(docs []Doc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestInsertUsesServerTime(t *testing.T) {
	mr, s := newStore(t)
	now := time.Date(2024, 6, 1, 8, 30, 0, 123456789, time.UTC)
	mr.SetTime(now)
	ctx := context.Background()

	out, err := s.BatchInsert(ctx, "posts", []Doc{{ID: "p1", Index: map[string]string{"userId": "u1"}, Body: json.RawMessage(`{}`)}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].CreatedAt.Equal(now.Truncate(time.Microsecond)))

	got, err := s.Get(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(out[0].CreatedAt))
	assert.Empty(t, got.Counters)

	_, err = s.Get(ctx, "posts", "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestQueryOrderAndCursor(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()

	_, err := s.BatchInsert(ctx, "posts", []Doc{
		post("b", "u1", 0), post("a", "u2", 0), post("c", "u1", 1),
		post("d", "u3", 2), post("e", "u2", 3),
	})
	require.NoError(t, err)

	all, err := s.Query(ctx, Query{Collection: "posts"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(all))

	page, err := s.Query(ctx, Query{Collection: "posts", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(page))

	rest, err := s.Query(ctx, Query{Collection: "posts", After: &pagination.Cursor{CreatedAt: base, ID: "a"}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(rest))

	in, err := s.Query(ctx, Query{Collection: "posts", Filter: In("userId", []string{"u1", "u2"}), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "e"}, ids(in))

	eq, err := s.Query(ctx, Query{Collection: "posts", Filter: Eq("userId", "u3")})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(eq))
}

func TestQueryTiesSpanChunks(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()

	docs := make([]Doc, 0, 150)
	for i := 0; i < 150; i++ {
		docs = append(docs, post(fmt.Sprintf("p%03d", i), "u1", 0))
	}
	_, err := s.BatchInsert(ctx, "posts", docs)
	require.NoError(t, err)

	got, err := s.Query(ctx, Query{Collection: "posts", Filter: Eq("userId", "u1"), Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"p000", "p001", "p002"}, ids(got))
}

func TestQueryRejectsTooManyValues(t *testing.T) {
	_, s := newStore(t)
	values := make([]string, MaxInValues+1)
	for i := range values {
		values[i] = fmt.Sprintf("u%d", i)
	}
	_, err := s.Query(context.Background(), Query{Collection: "posts", Filter: In("userId", values)})
	assert.ErrorIs(t, err, ErrTooManyValues)

	empty, err := s.Query(context.Background(), Query{Collection: "posts", Filter: In("userId", nil)})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBatchDelete(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()
	_, err := s.BatchInsert(ctx, "likes", []Doc{post("l1", "u1", 0), post("l2", "u1", 1)})
	require.NoError(t, err)
	_, err = s.Increment(ctx, "likes", "l1", "n", 3)
	require.NoError(t, err)

	deleted, err := s.BatchDelete(ctx, "likes", []string{"l1", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, []string{"l1"}, deleted)
	deleted, err = s.BatchDelete(ctx, "likes", []string{"l1"})
	require.NoError(t, err)
	assert.Empty(t, deleted)

	left, err := s.Query(ctx, Query{Collection: "likes", Filter: Eq("userId", "u1")})
	require.NoError(t, err)
	assert.Equal(t, []string{"l2"}, ids(left))

	// 重新插入同 id 时计数器从零开始
	_, err = s.BatchInsert(ctx, "likes", []Doc{post("l1", "u1", 0)})
	require.NoError(t, err)
	got, err := s.Get(ctx, "likes", "l1")
	require.NoError(t, err)
	assert.Zero(t, got.Counters["n"])
}

func TestIncrementFloorsAtZero(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()
	_, err := s.BatchInsert(ctx, "posts", []Doc{post("p1", "u1", 0)})
	require.NoError(t, err)

	n, err := s.Increment(ctx, "posts", "p1", "likesCount", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Increment(ctx, "posts", "p1", "likesCount", -5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = s.Increment(ctx, "posts", "nope", "likesCount", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIncrementConcurrent(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()
	_, err := s.BatchInsert(ctx, "posts", []Doc{post("p1", "u1", 0)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, "posts", "p1", "commentsCount", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Counters["commentsCount"])
}

func TestSnapshotSource(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()
	_, err := s.BatchInsert(ctx, "likes", []Doc{post("l1", "u1", 0)})
	require.NoError(t, err)

	m := realtime.NewManager(0)
	snaps := make(chan Snapshot, 4)
	h, err := m.Subscribe(ctx, realtime.Key{Scope: "likes:u1", Viewer: "u1"},
		s.SnapshotSource(Query{Collection: "likes", Filter: Eq("userId", "u1")}, time.Minute, time.Second),
		func(_ context.Context, ev realtime.Event) { snaps <- ev.Payload.(Snapshot) })
	require.NoError(t, err)
	defer h.Unsubscribe()

	first := <-snaps
	assert.Equal(t, []string{"l1"}, ids(first.Docs))

	_, err = s.BatchInsert(ctx, "likes", []Doc{post("l0", "u1", -1)})
	require.NoError(t, err)

	select {
	case next := <-snaps:
		assert.Equal(t, []string{"l0", "l1"}, ids(next.Docs))
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after write")
	}
}

func TestInsertIfAbsent(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()

	first, created, err := s.InsertIfAbsent(ctx, "likes", post("p1_u1", "u1", 0))
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.InsertIfAbsent(ctx, "likes", post("p1_u1", "u1", 5))
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, first.CreatedAt.Equal(again.CreatedAt))

	got, err := s.Query(ctx, Query{Collection: "likes", Filter: Eq("userId", "u1")})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1_u1"}, ids(got))
}

func TestWriteNoticeTouches(t *testing.T) {
	n := WriteNotice{Op: "insert", IDs: []string{"p1", "p2"}, Index: []map[string]string{{"userId": "u1"}, {"userId": "u2"}}}
	assert.True(t, n.Touches(nil))
	assert.True(t, n.Touches(In("userId", []string{"u9", "u2"})))
	assert.False(t, n.Touches(Eq("userId", "u3")))
	assert.False(t, n.Touches(Eq("postId", "u1")))

	// 旧格式没有索引信息
	legacy := WriteNotice{Op: "insert", IDs: []string{"p1"}}
	assert.True(t, legacy.Touches(Eq("userId", "u3")))
}

func watch(t *testing.T, s *RedisStore, src realtime.Source) <-chan realtime.Event {
	t.Helper()
	m := realtime.NewManager(0)
	t.Cleanup(m.Close)
	events := make(chan realtime.Event, 8)
	h, err := m.Subscribe(context.Background(), realtime.Key{Scope: t.Name(), Viewer: "u1"}, src,
		func(_ context.Context, ev realtime.Event) { events <- ev })
	require.NoError(t, err)
	t.Cleanup(h.Unsubscribe)
	return events
}

func nextEvent(t *testing.T, events <-chan realtime.Event) realtime.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return realtime.Event{}
	}
}

func assertQuiet(t *testing.T, events <-chan realtime.Event) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatchSourceOnlyForwardsWatchedAuthors(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()
	_, err := s.BatchInsert(ctx, "posts", []Doc{post("old", "u2", 5)})
	require.NoError(t, err)

	authors := []string{"u1"}
	for i := 0; i < 40; i++ {
		authors = append(authors, fmt.Sprintf("f%02d", i))
	}
	events := watch(t, s, s.WatchSource(Query{Collection: "posts", Filter: In("userId", authors)}, time.Minute, time.Second))

	_, err = s.BatchInsert(ctx, "posts", []Doc{post("other", "u2", 0)})
	require.NoError(t, err)
	_, err = s.Increment(ctx, "posts", "other", "likesCount", 1)
	require.NoError(t, err)
	_, err = s.BatchDelete(ctx, "posts", []string{"old"})
	require.NoError(t, err)
	assertQuiet(t, events)

	_, err = s.BatchInsert(ctx, "posts", []Doc{post("mine", "f39", 0)})
	require.NoError(t, err)
	ev := nextEvent(t, events)
	assert.Equal(t, realtime.EventWrite, ev.Type)
	assert.Equal(t, []string{"mine"}, ev.Payload.(WriteNotice).IDs)

	_, err = s.Increment(ctx, "posts", "mine", "likesCount", 1)
	require.NoError(t, err)
	assert.Equal(t, "update", nextEvent(t, events).Payload.(WriteNotice).Op)

	_, err = s.BatchDelete(ctx, "posts", []string{"mine"})
	require.NoError(t, err)
	assert.Equal(t, "delete", nextEvent(t, events).Payload.(WriteNotice).Op)
}

func TestWatchSourceOpenedAfter(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()
	_, err := s.BatchInsert(ctx, "posts", []Doc{post("p1", "u1", 0)})
	require.NoError(t, err)
	q := Query{Collection: "posts", Filter: Eq("userId", "u1")}

	// 结果已包含 p1：订阅确认时不再补发
	quiet := watch(t, s, s.WatchSource(q, time.Minute, time.Second, OpenedAfter(base)))
	assertQuiet(t, quiet)

	// 加载早于 p1：订阅确认时补发一次
	catchUp := watch(t, s, s.WatchSource(q, time.Minute, time.Second, OpenedAfter(base.Add(-time.Minute))))
	assert.Equal(t, realtime.EventWrite, nextEvent(t, catchUp).Type)
}

func TestSnapshotSourceSkipsUnrelatedWrites(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()
	events := watch(t, s, s.SnapshotSource(Query{Collection: "likes", Filter: Eq("userId", "u1")}, time.Minute, time.Second))
	first := nextEvent(t, events)
	assert.Empty(t, first.Payload.(Snapshot).Docs)

	_, err := s.BatchInsert(ctx, "likes", []Doc{post("l1", "u2", 0)})
	require.NoError(t, err)
	assertQuiet(t, events)

	_, err = s.BatchInsert(ctx, "likes", []Doc{post("l2", "u1", 0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"l2"}, ids(nextEvent(t, events).Payload.(Snapshot).Docs))
}
