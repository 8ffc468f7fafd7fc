package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/d60-Lab/vinylfeed/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	Get(ctx context.Context, id string) (*model.User, error)
	Update(ctx context.Context, u *model.User) error
	// Search username、名或姓包含 term，按 username 升序
	Search(ctx context.Context, term string, limit int) ([]model.User, error)
}

type userRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepository{db: db} }

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	return wrapErr("create user", r.db.WithContext(ctx).Create(u).Error)
}

func (r *userRepository) Get(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, wrapErr("get user", err)
	}
	return &u, nil
}

func (r *userRepository) Update(ctx context.Context, u *model.User) error {
	err := r.db.WithContext(ctx).Model(u).
		Select("username", "first_name", "last_name", "photo_url").
		Updates(u).Error
	return wrapErr("update user", err)
}

func (r *userRepository) Search(ctx context.Context, term string, limit int) ([]model.User, error) {
	like := "%" + escapeLike(strings.ToLower(term)) + "%"
	var out []model.User
	err := r.db.WithContext(ctx).
		Where(`LOWER(username) LIKE ? ESCAPE '\' OR LOWER(first_name) LIKE ? ESCAPE '\' OR LOWER(last_name) LIKE ? ESCAPE '\'`, like, like, like).
		Order("username ASC").
		Limit(limit).
		Find(&out).Error
	return out, wrapErr("search users", err)
}
