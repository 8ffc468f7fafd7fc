package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/repository"
)

func newCatalog(e *env) *CatalogService {
	return NewCatalogService(repository.NewAlbumRepository(e.db), repository.NewUserRepository(e.db), e.cache)
}

func TestCreateAlbumDedupsBySpotifyID(t *testing.T) {
	e := newEnv(t)
	catalog := newCatalog(e)
	ctx := context.Background()

	a, created, err := catalog.CreateAlbum(ctx, "author", AlbumInput{Title: " Giant Steps ", Artist: "John Coltrane", SpotifyID: "sp-giant"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Giant Steps", a.Title)
	assert.Equal(t, "author", a.CreatedBy)

	again, created, err := catalog.CreateAlbum(ctx, "viewer", AlbumInput{Title: "Giant Steps (Mono)", SpotifyID: "sp-giant"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, again.ID)

	found, err := catalog.AlbumBySpotifyID(ctx, "sp-giant")
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)

	_, err = catalog.AlbumBySpotifyID(ctx, "sp-none")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, _, err = catalog.CreateAlbum(ctx, "author", AlbumInput{Title: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	// 新专辑可以直接用于补水
	albums, err := e.cache.Albums(ctx, []string{a.ID})
	require.NoError(t, err)
	assert.Contains(t, albums, a.ID)
}

func TestUpdateAlbumCoverRefreshesHydration(t *testing.T) {
	e := newEnv(t)
	catalog := newCatalog(e)
	ctx := context.Background()

	before, err := e.cache.Album(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, before.CoverURL)

	require.NoError(t, catalog.UpdateAlbumCover(ctx, "a1", "https://img.example/kob.jpg"))
	after, err := e.cache.Album(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/kob.jpg", after.CoverURL)

	assert.ErrorIs(t, catalog.UpdateAlbumCover(ctx, "nope", "x"), apperr.ErrNotFound)
}

func TestSaveProfileRefreshesHydration(t *testing.T) {
	e := newEnv(t)
	catalog := newCatalog(e)
	ctx := context.Background()

	cached, err := e.cache.User(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, "author", cached.Username)

	u, err := catalog.SaveProfile(ctx, "author", ProfileInput{Username: "miles_fan", PhotoURL: "https://img.example/me.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "miles_fan", u.Username)

	cached, err = e.cache.User(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, "miles_fan", cached.Username)
	assert.Equal(t, "https://img.example/me.jpg", cached.PhotoURL)

	_, err = catalog.SaveProfile(ctx, "viewer", ProfileInput{Username: "miles_fan"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)

	_, err = catalog.SaveProfile(ctx, "viewer", ProfileInput{Username: "x"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	created, err := catalog.SaveProfile(ctx, "newcomer", ProfileInput{Username: "newcomer", FirstName: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "Ana", created.FirstName)

	_, err = catalog.SaveProfile(ctx, "ghost", ProfileInput{FirstName: "No"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestSearchCatalog(t *testing.T) {
	e := newEnv(t)
	catalog := newCatalog(e)
	ctx := context.Background()

	albums, err := catalog.SearchAlbums(ctx, "coltrane", 0)
	require.NoError(t, err)
	require.Len(t, albums, 1)
	assert.Equal(t, "a2", albums[0].ID)

	short, err := catalog.SearchAlbums(ctx, " k ", 10)
	require.NoError(t, err)
	assert.Empty(t, short)

	users, err := catalog.SearchUsers(ctx, "fan", 10)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "fan1", users[0].Username)
	assert.Equal(t, "fan2", users[1].Username)

	got, err := catalog.GetUser(ctx, "viewer")
	require.NoError(t, err)
	assert.Equal(t, "viewer", got.Username)

	_, err = catalog.GetAlbum(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
