// Package pagination implements forward-only cursor pagination over
// collections ordered by (createdAt desc, id asc).
package pagination

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
)

// Cursor 是最后一条已读条目的排序键。
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Keyed 由可分页的条目实现。
type Keyed interface {
	SortKey() Cursor
}

// Encode 生成不透明的续传 token。
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor 解析 Encode 产生的 token；空串表示从头开始（nil）。
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidCursor, err)
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, apperr.ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidCursor, err)
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// Less 报告 a 是否排在 b 之前：createdAt 降序，id 升序兜底。
func Less(a, b Cursor) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// After 报告 (createdAt, id) 是否严格位于游标之后。nil 游标接受所有条目。
func (c *Cursor) After(createdAt time.Time, id string) bool {
	if c == nil {
		return true
	}
	return Less(*c, Cursor{CreatedAt: createdAt, ID: id})
}

// Sort 按 (createdAt desc, id asc) 原地排序。
func Sort[T Keyed](items []T) {
	sort.SliceStable(items, func(i, j int) bool {
		return Less(items[i].SortKey(), items[j].SortKey())
	})
}

// NextCursor 返回 items 最后一条的 token；空页返回 fallback。
func NextCursor[T Keyed](items []T, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return items[len(items)-1].SortKey().Encode()
}
