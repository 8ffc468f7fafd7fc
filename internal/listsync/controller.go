package listsync

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
	"github.com/d60-Lab/vinylfeed/internal/realtime"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

// CountFunc 读取权威总数（收藏数、未读数等）
type CountFunc func(ctx context.Context) (int64, error)

// Controller 把 Pager、List 和一个实时订阅组合成一个 scope 的列表状态。
type Controller[T pagination.Keyed] struct {
	scope       string
	list        *List[T]
	load        pagination.LoadFunc[T]
	pager       *pagination.Pager[T]
	initialSize int
	moreSize    int

	onChange func()

	mu      sync.Mutex
	counter CountFunc
	handle  *realtime.Handle
}

type ControllerOption func(*controllerOptions)

type controllerOptions struct {
	initialSize int
	moreSize    int
	onChange    func()
}

// WithOnChange 列表内容变化后回调（用于推送给前端）
func WithOnChange(fn func()) ControllerOption {
	return func(o *controllerOptions) { o.onChange = fn }
}

// WithPageSizes 覆盖首屏与 load more 的页大小
func WithPageSizes(initial, more int) ControllerOption {
	return func(o *controllerOptions) {
		if initial > 0 {
			o.initialSize = initial
		}
		if more > 0 {
			o.moreSize = more
		}
	}
}

func NewController[T pagination.Keyed](scope string, load pagination.LoadFunc[T], opts ...ControllerOption) *Controller[T] {
	o := controllerOptions{
		initialSize: pagination.DefaultInitialPageSize,
		moreSize:    pagination.DefaultLoadMorePageSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Controller[T]{
		scope:       scope,
		list:        NewList[T](),
		load:        load,
		pager:       pagination.NewPager(load),
		initialSize: o.initialSize,
		moreSize:    o.moreSize,
		onChange:    o.onChange,
	}
}

func (c *Controller[T]) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

func (c *Controller[T]) Scope() string { return c.scope }

func (c *Controller[T]) List() *List[T] { return c.list }

func (c *Controller[T]) View() View[T] { return c.list.Snapshot() }

// SetCounter 指定 total 的权威来源，LoadInitial/Refresh 时读取
func (c *Controller[T]) SetCounter(fn CountFunc) {
	c.mu.Lock()
	c.counter = fn
	c.mu.Unlock()
}

// LoadInitial 清空列表后加载第一页
func (c *Controller[T]) LoadInitial(ctx context.Context) error {
	c.list.Reset()
	return c.loadHead(ctx)
}

// Refresh 重新加载第一页（实时事件触发），保留已加载的更旧部分
func (c *Controller[T]) Refresh(ctx context.Context) error {
	return c.loadHead(ctx)
}

// loadKey 在途表的 key 带上代：Reset 之后的加载不被旧代的在途请求挡住
func (c *Controller[T]) loadKey(part string) string {
	return c.scope + "#" + part + "@" + strconv.FormatUint(c.list.Generation(), 10)
}

// starting 包装 load：拿到在途槽位后才置加载标记，被挡回的调用不碰标记
func (c *Controller[T]) starting(more bool, gen *uint64) pagination.LoadFunc[T] {
	return func(ctx context.Context, cursor *pagination.Cursor, limit int) ([]T, error) {
		*gen = c.list.begin(more)
		return c.load(ctx, cursor, limit)
	}
}

func (c *Controller[T]) loadHead(ctx context.Context) error {
	var gen uint64
	page, err := c.pager.LoadPageWith(ctx, c.loadKey("head"), "", c.initialSize, c.starting(false, &gen))
	if errors.Is(err, apperr.ErrLoadInProgress) {
		// 在途的那次加载负责清除 Loading
		return nil
	}
	if err == nil {
		err = c.refreshTotal(ctx, gen)
	}
	if c.list.finish(gen, false, err, func() {
		c.list.reloadLocked(page.Items, page.NextCursor, page.HasMore)
	}) {
		c.changed()
	}
	return err
}

func (c *Controller[T]) refreshTotal(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	counter := c.counter
	c.mu.Unlock()
	if counter == nil {
		return nil
	}
	n, err := counter(ctx)
	if err != nil {
		return err
	}
	c.list.finishTotal(gen, n)
	return nil
}

// LoadMore 加载下一页。已有 load more 在途或没有更多数据时是 no-op。
func (c *Controller[T]) LoadMore(ctx context.Context) error {
	v := c.list.Snapshot()
	if !v.HasMore || v.LoadingMore {
		return nil
	}
	var gen uint64
	page, err := c.pager.LoadPageWith(ctx, c.loadKey("more"), v.NextCursor, c.moreSize, c.starting(true, &gen))
	if errors.Is(err, apperr.ErrLoadInProgress) {
		return nil
	}
	if c.list.finish(gen, true, err, func() {
		c.list.appendLocked(page.Items, page.NextCursor, page.HasMore)
	}) {
		c.changed()
	}
	return err
}

// Remove 服务端删除成功后的本地移除
func (c *Controller[T]) Remove(id string) bool {
	if !c.list.RemoveLocal(id) {
		return false
	}
	c.changed()
	return true
}

// Watch 订阅 src，任何变更都重新加载第一页
func (c *Controller[T]) Watch(ctx context.Context, m *realtime.Manager, key realtime.Key, src realtime.Source, opts ...realtime.Option) (*realtime.Handle, error) {
	h, err := m.Subscribe(ctx, key, src, realtime.Reload(c.Refresh), opts...)
	if h != nil {
		c.mu.Lock()
		prev := c.handle
		c.handle = h
		c.mu.Unlock()
		if prev != nil && prev != h {
			prev.Unsubscribe()
		}
	}
	return h, err
}

// Close 取消订阅；之后的实时事件不会再改动列表
func (c *Controller[T]) Close() {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.mu.Unlock()
	if h != nil {
		h.Unsubscribe()
		logger.Debug("list controller closed", zap.String("scope", c.scope))
	}
}
