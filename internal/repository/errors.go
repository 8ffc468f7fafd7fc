package repository

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
)

// wrapErr 把 gorm 错误映射到 apperr 分类
func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, apperr.ErrAlreadyExists)
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrAlreadyExists):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w", op, apperr.Transient(err))
	}
}

func isNotFound(err error) bool { return errors.Is(err, apperr.ErrNotFound) }

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// escapeLike 转义 LIKE 通配符，配合 ESCAPE '\' 使用
func escapeLike(s string) string { return likeEscaper.Replace(s) }
