package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
	"github.com/d60-Lab/vinylfeed/pkg/database"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	return db
}

func TestListFolloweeIDsStableOrder(t *testing.T) {
	db := openDB(t)
	repo := NewFollowRepository(db)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 15; i >= 1; i-- {
		require.NoError(t, db.Create(&model.Follow{
			ID: uuid.New().String(), FollowerID: "viewer", FolloweeID: fmt.Sprintf("f%02d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}
	// 自己关注自己不计入上限
	require.NoError(t, db.Create(&model.Follow{ID: uuid.New().String(), FollowerID: "viewer", FolloweeID: "viewer", CreatedAt: base}).Error)

	ids, err := repo.ListFolloweeIDs(ctx, "viewer", 10)
	require.NoError(t, err)
	require.Len(t, ids, 10)
	assert.Equal(t, "f01", ids[0])
	assert.Equal(t, "f10", ids[9])
	assert.NotContains(t, ids, "viewer")

	n, err := repo.CountFollowings(ctx, "viewer")
	require.NoError(t, err)
	assert.Equal(t, int64(15), n)

	created, err := repo.Create(ctx, "viewer", "f01")
	require.NoError(t, err)
	assert.False(t, created)
}

func notification(user, actor string, kind model.NotificationType, postID string, at time.Time) *model.Notification {
	return &model.Notification{ID: uuid.New().String(), UserID: user, ActorID: actor, Type: kind, PostID: postID, CreatedAt: at}
}

func TestNotificationDedupAndMarkRead(t *testing.T) {
	db := openDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := repo.Create(ctx, notification("u1", "u2", model.NotificationLike, "p1", now.Add(-time.Minute)))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Create(ctx, notification("u1", "u2", model.NotificationLike, "p1", now))
	require.NoError(t, err)
	assert.False(t, created)

	// 没有 subject 的 follow 通知同样去重
	created, err = repo.Create(ctx, notification("u1", "u3", model.NotificationFollow, "", now.Add(-time.Minute)))
	require.NoError(t, err)
	assert.True(t, created)
	created, err = repo.Create(ctx, notification("u1", "u3", model.NotificationFollow, "", now))
	require.NoError(t, err)
	assert.False(t, created)

	later := notification("u1", "u4", model.NotificationComment, "p1", now.Add(time.Hour))
	_, err = repo.Create(ctx, later)
	require.NoError(t, err)

	unread, err := repo.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	affected, err := repo.MarkAllRead(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	unread, err = repo.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	var pending int64
	require.NoError(t, db.Model(&model.Outbox{}).Where("source_table = ?", "notifications").Count(&pending).Error)
	assert.Equal(t, int64(4), pending) // 3 inserts + 1 bulk update

	n, err := repo.DeleteByPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestNotificationListCursor(t *testing.T) {
	db := openDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()
	at := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		n := notification("u1", fmt.Sprintf("a%d", i), model.NotificationFollow, "", at.Add(-time.Duration(i/2)*time.Minute))
		n.ID = fmt.Sprintf("n%d", i)
		_, err := repo.Create(ctx, n)
		require.NoError(t, err)
	}

	first, err := repo.List(ctx, "u1", nil, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, []string{"n0", "n1", "n2"}, []string{first[0].ID, first[1].ID, first[2].ID})

	cur := first[2].SortKey()
	rest, err := repo.List(ctx, "u1", &cur, 3)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "n3", rest[0].ID)
	assert.Equal(t, "n4", rest[1].ID)
}

func TestCommentDeleteIsIdempotent(t *testing.T) {
	db := openDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	c := &model.Comment{ID: "c1", PostID: "p1", UserID: "u1", Content: "great pressing"}
	require.NoError(t, repo.Create(ctx, c))

	deleted, err := repo.Delete(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, "p1", deleted.PostID)

	deleted, err = repo.Delete(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, deleted)

	_, err = repo.Get(ctx, "c1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	var events []model.Outbox
	require.NoError(t, db.Order("created_at").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, model.OpInsert, events[0].Op)
	assert.Equal(t, model.OpDelete, events[1].Op)

	var row map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[1].Payload), &row))
	assert.Equal(t, "p1", row["post_id"])
}

func TestUserVinylLifecycle(t *testing.T) {
	db := openDB(t)
	repo := NewUserVinylRepository(db)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, repo.Add(ctx, &model.UserVinyl{
			ID: fmt.Sprintf("w%d", i), UserID: "u1", ReleaseID: fmt.Sprintf("r%d", i),
			Type: model.VinylWishlist, AddedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	err := repo.Add(ctx, &model.UserVinyl{ID: "dup", UserID: "u1", ReleaseID: "r0", Type: model.VinylWishlist, AddedAt: base})
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)

	page, err := repo.List(ctx, "u1", model.VinylWishlist, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, "w3", page[0].ID)
	cur := page[1].SortKey()
	page, err = repo.List(ctx, "u1", model.VinylWishlist, &cur, 2)
	require.NoError(t, err)
	assert.Equal(t, "w1", page[0].ID)

	moved, err := repo.Move(ctx, "u1", "r0", model.VinylWishlist, model.VinylCollection, "c0")
	require.NoError(t, err)
	assert.Equal(t, model.VinylCollection, moved.Type)

	_, err = repo.Move(ctx, "u1", "r0", model.VinylWishlist, model.VinylCollection, "c0b")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	stats, err := repo.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.VinylStats{CollectionCount: 1, WishlistCount: 3}, stats)

	removed, err := repo.Remove(ctx, "u1", "r1", model.VinylWishlist)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.Remove(ctx, "u1", "r1", model.VinylWishlist)
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := repo.Count(ctx, "u1", model.VinylWishlist)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestOutboxClaim(t *testing.T) {
	db := openDB(t)
	comments := NewCommentRepository(db)
	outbox := NewOutboxRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, comments.Create(ctx, &model.Comment{ID: fmt.Sprintf("c%d", i), PostID: "p1", UserID: "u1", Content: "x"}))
	}

	batch, err := outbox.Claim(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	pending, err := outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	require.NoError(t, outbox.Release(ctx, []string{batch[1].ID}))
	require.NoError(t, outbox.MarkDone(ctx, []string{batch[0].ID}))

	pending, err = outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)
}

func TestNotificationListAfterCursorUsesTieBreak(t *testing.T) {
	db := openDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()
	at := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

	for _, id := range []string{"b", "a", "c"} {
		n := notification("u1", "actor-"+id, model.NotificationFollow, "", at)
		n.ID = id
		_, err := repo.Create(ctx, n)
		require.NoError(t, err)
	}
	cur := &pagination.Cursor{CreatedAt: at, ID: "a"}
	rest, err := repo.List(ctx, "u1", cur, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "b", rest[0].ID)
	assert.Equal(t, "c", rest[1].ID)
}

func TestAlbumLookupAndSearch(t *testing.T) {
	db := openDB(t)
	repo := NewAlbumRepository(db)
	ctx := context.Background()

	spotify := "4sb0eMpDn3upAFfyi4q2rw"
	require.NoError(t, repo.Create(ctx, &model.Album{ID: "a1", Title: "Blue Train", Artist: "John Coltrane", SpotifyID: &spotify}))
	require.NoError(t, repo.Create(ctx, &model.Album{ID: "a2", Title: "Kind of Blue", Artist: "Miles Davis"}))
	require.NoError(t, repo.Create(ctx, &model.Album{ID: "a3", Title: "100% Blues", Artist: "Various"}))

	got, err := repo.GetBySpotifyID(ctx, spotify)
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	_, err = repo.GetBySpotifyID(ctx, "unknown")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	dup := spotify
	err = repo.Create(ctx, &model.Album{ID: "a4", Title: "Blue Train (Remaster)", SpotifyID: &dup})
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)

	found, err := repo.Search(ctx, "BLUE", 10)
	require.NoError(t, err)
	assert.Len(t, found, 3)

	byArtist, err := repo.Search(ctx, "davis", 10)
	require.NoError(t, err)
	require.Len(t, byArtist, 1)
	assert.Equal(t, "a2", byArtist[0].ID)

	// % 按字面匹配
	pct, err := repo.Search(ctx, "0%", 10)
	require.NoError(t, err)
	require.Len(t, pct, 1)
	assert.Equal(t, "a3", pct[0].ID)
}

func TestUserProfileAndSearch(t *testing.T) {
	db := openDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.User{ID: "u1", Username: "zoe", FirstName: "Zoé", LastName: "Martin"}))
	require.NoError(t, repo.Create(ctx, &model.User{ID: "u2", Username: "marty", FirstName: "Paul"}))
	require.NoError(t, repo.Create(ctx, &model.User{ID: "u3", Username: "nina"}))

	err := repo.Create(ctx, &model.User{ID: "u4", Username: "nina"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)

	found, err := repo.Search(ctx, "MART", 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "marty", found[0].Username)
	assert.Equal(t, "zoe", found[1].Username)

	u, err := repo.Get(ctx, "u3")
	require.NoError(t, err)
	u.PhotoURL = "https://img.example/nina.jpg"
	require.NoError(t, repo.Update(ctx, u))

	u, err = repo.Get(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/nina.jpg", u.PhotoURL)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAlbumUpdateCover(t *testing.T) {
	db := openDB(t)
	repo := NewAlbumRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Album{ID: "a1", Title: "Blue Train"}))
	require.NoError(t, repo.UpdateCover(ctx, "a1", "https://img.example/a1.jpg"))
	a, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/a1.jpg", a.CoverURL)

	assert.ErrorIs(t, repo.UpdateCover(ctx, "missing", "x"), apperr.ErrNotFound)
}
