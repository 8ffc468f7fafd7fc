package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/d60-Lab/vinylfeed/internal/model"
)

type AlbumRepository interface {
	Create(ctx context.Context, a *model.Album) error
	Get(ctx context.Context, id string) (*model.Album, error)
	GetBySpotifyID(ctx context.Context, spotifyID string) (*model.Album, error)
	UpdateCover(ctx context.Context, id, coverURL string) error
	// Search 标题或艺人包含 term（不区分大小写）
	Search(ctx context.Context, term string, limit int) ([]model.Album, error)
}

type albumRepository struct{ db *gorm.DB }

func NewAlbumRepository(db *gorm.DB) AlbumRepository { return &albumRepository{db: db} }

func (r *albumRepository) Create(ctx context.Context, a *model.Album) error {
	return wrapErr("create album", r.db.WithContext(ctx).Create(a).Error)
}

func (r *albumRepository) Get(ctx context.Context, id string) (*model.Album, error) {
	var a model.Album
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, wrapErr("get album", err)
	}
	return &a, nil
}

func (r *albumRepository) GetBySpotifyID(ctx context.Context, spotifyID string) (*model.Album, error) {
	var a model.Album
	if err := r.db.WithContext(ctx).First(&a, "spotify_id = ?", spotifyID).Error; err != nil {
		return nil, wrapErr("get album by spotify id", err)
	}
	return &a, nil
}

func (r *albumRepository) Search(ctx context.Context, term string, limit int) ([]model.Album, error) {
	like := "%" + escapeLike(strings.ToLower(term)) + "%"
	var out []model.Album
	err := r.db.WithContext(ctx).
		Where(`LOWER(title) LIKE ? ESCAPE '\' OR LOWER(artist) LIKE ? ESCAPE '\'`, like, like).
		Order("title ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, wrapErr("search albums", err)
}

func (r *albumRepository) UpdateCover(ctx context.Context, id, coverURL string) error {
	res := r.db.WithContext(ctx).Model(&model.Album{}).Where("id = ?", id).Update("cover_url", coverURL)
	if res.Error != nil {
		return wrapErr("update album cover", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrapErr("update album cover", gorm.ErrRecordNotFound)
	}
	return nil
}
