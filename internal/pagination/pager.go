package pagination

import (
	"context"
	"sync"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
)

const (
	DefaultInitialPageSize  = 20
	DefaultLoadMorePageSize = 15
)

// Page 一页结果。HasMore 是启发式的：返回条数等于请求的 pageSize 即为 true，
// 调用方需要容忍“HasMore=true 之后下一页为空”。
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// LoadFunc 加载 cursor 之后最多 limit 条，已按 (createdAt desc, id asc) 排序。
type LoadFunc[T Keyed] func(ctx context.Context, cursor *Cursor, limit int) ([]T, error)

// NewPage 用 LoadFunc 的结果组装 Page。
func NewPage[T Keyed](items []T, cursor *Cursor, pageSize int) Page[T] {
	fallback := ""
	if cursor != nil {
		fallback = cursor.Encode()
	}
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		NextCursor: NextCursor(items, fallback),
		HasMore:    pageSize > 0 && len(items) == pageSize,
	}
}

// Pager 对同一 scope 同时只允许一个在途加载。
type Pager[T Keyed] struct {
	load LoadFunc[T]

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewPager load 可以为 nil：长期持有、按 scope 区分数据源的 Pager 每次调用
// LoadPageWith 传入本次的加载函数，在途表仍然共享。
func NewPager[T Keyed](load LoadFunc[T]) *Pager[T] {
	return &Pager[T]{load: load, inflight: make(map[string]struct{})}
}

// LoadPage 读取 token 之后的一页。若该 scope 已有加载在途，直接返回
// ErrLoadInProgress 且不发起查询。
func (p *Pager[T]) LoadPage(ctx context.Context, scope, token string, pageSize int) (Page[T], error) {
	return p.LoadPageWith(ctx, scope, token, pageSize, p.load)
}

// LoadPageWith 同 LoadPage，但用 load 代替构造时的加载函数。
func (p *Pager[T]) LoadPageWith(ctx context.Context, scope, token string, pageSize int, load LoadFunc[T]) (Page[T], error) {
	cursor, err := DecodeCursor(token)
	if err != nil {
		return Page[T]{}, err
	}
	if pageSize <= 0 {
		pageSize = DefaultInitialPageSize
	}

	if !p.acquire(scope) {
		return Page[T]{}, apperr.ErrLoadInProgress
	}
	defer p.release(scope)

	items, err := load(ctx, cursor, pageSize)
	if err != nil {
		return Page[T]{}, err
	}
	if len(items) > pageSize {
		items = items[:pageSize]
	}
	return NewPage(items, cursor, pageSize), nil
}

// InFlight 报告 scope 是否有加载在途。
func (p *Pager[T]) InFlight(scope string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[scope]
	return ok
}

func (p *Pager[T]) acquire(scope string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[scope]; busy {
		return false
	}
	p.inflight[scope] = struct{}{}
	return true
}

func (p *Pager[T]) release(scope string) {
	p.mu.Lock()
	delete(p.inflight, scope)
	p.mu.Unlock()
}
