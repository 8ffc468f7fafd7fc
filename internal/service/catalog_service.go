package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/repository"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

const (
	minSearchLen       = 2
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)

// EntityInvalidator 资料变更后清理补水缓存
type EntityInvalidator interface {
	InvalidateUser(ctx context.Context, id string) error
	InvalidateAlbum(ctx context.Context, id string) error
}

// AlbumInput 新建专辑
type AlbumInput struct {
	Title     string
	Artist    string
	Year      *int
	CoverURL  string
	SpotifyID string
}

// ProfileInput 空字段保持原值
type ProfileInput struct {
	Username  string
	FirstName string
	LastName  string
	PhotoURL  string
}

// CatalogService 专辑目录与用户资料
type CatalogService struct {
	albums repository.AlbumRepository
	users  repository.UserRepository
	cache  EntityInvalidator
}

func NewCatalogService(albums repository.AlbumRepository, users repository.UserRepository, cache EntityInvalidator) *CatalogService {
	return &CatalogService{albums: albums, users: users, cache: cache}
}

// CreateAlbum 带 spotify id 时先查重，已存在则返回已有专辑且 created=false
func (s *CatalogService) CreateAlbum(ctx context.Context, creatorID string, in AlbumInput) (*model.Album, bool, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, false, fmt.Errorf("album title: %w", apperr.ErrInvalidArgument)
	}
	spotifyID := strings.TrimSpace(in.SpotifyID)
	if spotifyID != "" {
		existing, err := s.albums.GetBySpotifyID(ctx, spotifyID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, false, err
		}
	}

	a := &model.Album{
		ID:        uuid.NewString(),
		Title:     title,
		Artist:    strings.TrimSpace(in.Artist),
		Year:      in.Year,
		CoverURL:  in.CoverURL,
		CreatedBy: creatorID,
	}
	if spotifyID != "" {
		a.SpotifyID = &spotifyID
	}
	if err := s.albums.Create(ctx, a); err != nil {
		// 并发创建同一 spotify 专辑时唯一索引兜底
		if spotifyID != "" && errors.Is(err, apperr.ErrAlreadyExists) {
			existing, gErr := s.albums.GetBySpotifyID(ctx, spotifyID)
			if gErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	logger.Info("album created", zap.String("album", a.ID), zap.String("by", creatorID))
	return a, true, nil
}

// AlbumBySpotifyID 不存在返回 ErrNotFound
func (s *CatalogService) AlbumBySpotifyID(ctx context.Context, spotifyID string) (*model.Album, error) {
	return s.albums.GetBySpotifyID(ctx, spotifyID)
}

func (s *CatalogService) GetAlbum(ctx context.Context, id string) (*model.Album, error) {
	return s.albums.Get(ctx, id)
}

// UpdateAlbumCover 更新封面并让 feed 补水重新读取
func (s *CatalogService) UpdateAlbumCover(ctx context.Context, id, coverURL string) error {
	if err := s.albums.UpdateCover(ctx, id, coverURL); err != nil {
		return err
	}
	if err := s.cache.InvalidateAlbum(ctx, id); err != nil {
		logger.Warn("invalidate album failed", zap.String("album", id), zap.Error(err))
	}
	return nil
}

// SearchAlbums 少于两个字符返回空
func (s *CatalogService) SearchAlbums(ctx context.Context, query string, limit int) ([]model.Album, error) {
	q, limit := normalizeSearch(query, limit)
	if q == "" {
		return []model.Album{}, nil
	}
	out, err := s.albums.Search(ctx, q, limit)
	if out == nil {
		out = []model.Album{}
	}
	return out, err
}

func (s *CatalogService) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.users.Get(ctx, id)
}

// SearchUsers 少于两个字符返回空
func (s *CatalogService) SearchUsers(ctx context.Context, query string, limit int) ([]model.UserSummary, error) {
	q, limit := normalizeSearch(query, limit)
	if q == "" {
		return []model.UserSummary{}, nil
	}
	users, err := s.users.Search(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.UserSummary, len(users))
	for i := range users {
		out[i] = users[i].Summary()
	}
	return out, nil
}

// SaveProfile 首次调用建档，之后只覆盖非空字段。username 冲突返回 ErrAlreadyExists。
func (s *CatalogService) SaveProfile(ctx context.Context, userID string, in ProfileInput) (*model.User, error) {
	if in.Username != "" && !usernamePattern.MatchString(in.Username) {
		return nil, fmt.Errorf("username %q: %w", in.Username, apperr.ErrInvalidArgument)
	}

	u, err := s.users.Get(ctx, userID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		if in.Username == "" {
			return nil, fmt.Errorf("username required: %w", apperr.ErrInvalidArgument)
		}
		u = &model.User{ID: userID, Username: in.Username, FirstName: in.FirstName, LastName: in.LastName, PhotoURL: in.PhotoURL}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	case err != nil:
		return nil, err
	}

	if in.Username != "" {
		u.Username = in.Username
	}
	if in.FirstName != "" {
		u.FirstName = in.FirstName
	}
	if in.LastName != "" {
		u.LastName = in.LastName
	}
	if in.PhotoURL != "" {
		u.PhotoURL = in.PhotoURL
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		logger.Warn("invalidate user failed", zap.String("user", userID), zap.Error(err))
	}
	return u, nil
}

func normalizeSearch(query string, limit int) (string, int) {
	q := strings.TrimSpace(query)
	if len([]rune(q)) < minSearchLen {
		return "", 0
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return q, min(limit, maxSearchLimit)
}
