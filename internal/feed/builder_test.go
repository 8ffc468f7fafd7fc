package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
)

type fakeFollows struct {
	following map[string][]string // 已按关注时间排序
	err       error
}

func (f *fakeFollows) ListFolloweeIDs(_ context.Context, id string, limit int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for _, x := range f.following[id] {
		if x == id {
			continue
		}
		out = append(out, x)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeFollows) CountFollowings(_ context.Context, id string) (int64, error) {
	return int64(len(f.following[id])), nil
}

type fakePosts struct {
	mu       sync.Mutex
	posts    []model.Post
	batches  [][]string
	failWith error
}

func (f *fakePosts) ListByAuthors(_ context.Context, ids []string, after *pagination.Cursor, limit int) ([]model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(ids) > DefaultInClauseLimit {
		return nil, fmt.Errorf("too many values: %d", len(ids))
	}
	f.batches = append(f.batches, append([]string(nil), ids...))
	if f.failWith != nil {
		return nil, f.failWith
	}
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	var out []model.Post
	for _, p := range f.posts {
		if in[p.UserID] && after.After(p.CreatedAt, p.ID) {
			out = append(out, p)
		}
	}
	pagination.Sort(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePosts) Get(_ context.Context, id string) (*model.Post, error) {
	for _, p := range f.posts {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, apperr.ErrNotFound
}

type fakeEntities struct {
	users     map[string]model.UserSummary
	albums    map[string]model.Album
	failBatch bool
}

func (f *fakeEntities) Users(_ context.Context, ids []string) (map[string]model.UserSummary, error) {
	if f.failBatch && len(ids) > 1 {
		return nil, errors.New("cache unavailable")
	}
	out := map[string]model.UserSummary{}
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (f *fakeEntities) Albums(_ context.Context, ids []string) (map[string]model.Album, error) {
	out := map[string]model.Album{}
	for _, id := range ids {
		if a, ok := f.albums[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// world 构造 n 个作者，每人 perAuthor 条帖子，时间交错
func world(authors []string, perAuthor int) (*fakePosts, *fakeEntities) {
	posts := &fakePosts{}
	ents := &fakeEntities{users: map[string]model.UserSummary{}, albums: map[string]model.Album{"alb": {ID: "alb", Title: "Kind of Blue"}}}
	for ai, a := range authors {
		ents.users[a] = model.UserSummary{ID: a, Username: a}
		for j := 0; j < perAuthor; j++ {
			posts.posts = append(posts.posts, model.Post{
				ID:        fmt.Sprintf("%s-p%02d", a, j),
				UserID:    a,
				Type:      model.PostCollectionAdd,
				AlbumID:   "alb",
				CreatedAt: epoch.Add(-time.Duration(j*len(authors)+ai) * time.Minute),
			})
		}
	}
	return posts, ents
}

func followList(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("f%02d", i)
	}
	return out
}

func TestResolveAuthorsCapsAtTenPlusSelf(t *testing.T) {
	following := append([]string{"viewer"}, followList(15)...)
	b := NewBuilder(&fakeFollows{following: map[string][]string{"viewer": following}}, &fakePosts{}, &fakeEntities{}, Config{FollowCap: 10})

	authors, err := b.ResolveAuthors(context.Background(), "viewer")
	require.NoError(t, err)
	assert.Len(t, authors, 11)
	assert.Equal(t, append(followList(10), "viewer"), authors)

	again, err := b.ResolveAuthors(context.Background(), "viewer")
	require.NoError(t, err)
	assert.Equal(t, authors, again)

	selfCount := 0
	for _, a := range authors {
		if a == "viewer" {
			selfCount++
		}
	}
	assert.Equal(t, 1, selfCount)
}

func TestResolveAuthorsNoFollows(t *testing.T) {
	b := NewBuilder(&fakeFollows{}, &fakePosts{}, &fakeEntities{}, Config{FollowCap: 10})
	authors, err := b.ResolveAuthors(context.Background(), "loner")
	require.NoError(t, err)
	assert.Equal(t, []string{"loner"}, authors)
}

func TestBuildMergesAcrossBatches(t *testing.T) {
	follows := followList(44)
	posts, ents := world(append(follows, "viewer"), 3)
	b := NewBuilder(&fakeFollows{following: map[string][]string{"viewer": follows}}, posts, ents,
		Config{FollowCap: 44, InClauseLimit: 30})

	items, err := b.Build(context.Background(), "viewer", 20, nil)
	require.NoError(t, err)
	require.Len(t, items, 20)

	require.Len(t, posts.batches, 2)
	for _, batch := range posts.batches {
		assert.LessOrEqual(t, len(batch), 30)
	}

	// 与全量排序后的前 20 条一致
	all := append([]model.Post(nil), posts.posts...)
	pagination.Sort(all)
	for i := range items {
		assert.Equal(t, all[i].ID, items[i].ID, "position %d", i)
	}
}

func TestBuildPaginatesFiftyItems(t *testing.T) {
	follows := followList(4)
	posts, ents := world(append(follows, "viewer"), 10)
	b := NewBuilder(&fakeFollows{following: map[string][]string{"viewer": follows}}, posts, ents, Config{FollowCap: 10})
	ctx := context.Background()

	page, err := b.BuildPage(ctx, "viewer", "", 20)
	require.NoError(t, err)
	seen := append([]model.FeedItem(nil), page.Items...)
	for page.HasMore {
		page, err = b.BuildPage(ctx, "viewer", page.NextCursor, 15)
		require.NoError(t, err)
		seen = append(seen, page.Items...)
	}
	require.Len(t, seen, 50)
	ids := make([]string, len(seen))
	for i, it := range seen {
		ids[i] = it.ID
		if i > 0 {
			assert.True(t, pagination.Less(seen[i-1].SortKey(), it.SortKey()))
		}
	}
	assert.True(t, sort.SliceIsSorted(seen, func(i, j int) bool { return pagination.Less(seen[i].SortKey(), seen[j].SortKey()) }))
}

func TestBuildDropsUnresolvedAndRefills(t *testing.T) {
	follows := []string{"ghost", "alice"}
	posts, ents := world(append(follows, "viewer"), 5)
	delete(ents.users, "ghost") // 作者已注销
	b := NewBuilder(&fakeFollows{following: map[string][]string{"viewer": follows}}, posts, ents, Config{FollowCap: 10})

	items, err := b.Build(context.Background(), "viewer", 6, nil)
	require.NoError(t, err)
	assert.Len(t, items, 6)
	for _, it := range items {
		assert.NotEqual(t, "ghost", it.UserID)
		assert.NotEmpty(t, it.User.Username)
		assert.Equal(t, "Kind of Blue", it.Album.Title)
	}
}

func TestHydrateFallsBackPerItem(t *testing.T) {
	posts, ents := world([]string{"a", "b"}, 2)
	ents.failBatch = true
	b := NewBuilder(&fakeFollows{}, posts, ents, Config{})

	items := b.Hydrate(context.Background(), posts.posts)
	assert.Len(t, items, 4)
}

func TestBuildFailsWholePageOnBatchError(t *testing.T) {
	posts, ents := world([]string{"viewer"}, 3)
	posts.failWith = errors.New("deadline exceeded")
	b := NewBuilder(&fakeFollows{}, posts, ents, Config{FollowCap: 10})

	items, err := b.Build(context.Background(), "viewer", 20, nil)
	assert.Nil(t, items)
	assert.True(t, apperr.IsTransient(err))

	b2 := NewBuilder(&fakeFollows{err: errors.New("db down")}, posts, ents, Config{FollowCap: 10})
	_, err = b2.Build(context.Background(), "viewer", 20, nil)
	assert.True(t, apperr.IsTransient(err))
}

func TestPostSurfacesNotFound(t *testing.T) {
	posts, ents := world([]string{"a"}, 1)
	b := NewBuilder(&fakeFollows{}, posts, ents, Config{})
	ctx := context.Background()

	item, err := b.Post(ctx, "a-p00")
	require.NoError(t, err)
	assert.Equal(t, "a", item.User.ID)

	delete(ents.albums, "alb")
	_, err = b.Post(ctx, "a-p00")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = b.Post(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestChunk(t *testing.T) {
	assert.Nil(t, chunk(nil, 30))
	assert.Len(t, chunk(followList(30), 30), 1)
	parts := chunk(followList(61), 30)
	require.Len(t, parts, 3)
	assert.Len(t, parts[2], 1)
}
