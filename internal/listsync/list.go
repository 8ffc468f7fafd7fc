// Package listsync 维护客户端有序列表：分页加载、实时事件、本地删除三路写入
// 都收敛到同一个 (createdAt desc, id asc) 有序且无重复的列表。
package listsync

import (
	"sync"

	"github.com/d60-Lab/vinylfeed/internal/pagination"
)

// View 列表在某一时刻的只读快照
type View[T any] struct {
	Items       []T    `json:"items"`
	NextCursor  string `json:"next_cursor,omitempty"`
	HasMore     bool   `json:"has_more"`
	Loading     bool   `json:"loading"`
	LoadingMore bool   `json:"loading_more"`
	Total       int64  `json:"total"`
	Err         error  `json:"-"`
	Generation  uint64 `json:"generation"`
}

// List 是单个 scope 的有序列表。
// 本地删除过的 id 在 Reset 之前一直被记住，迟到的分页不能把它们带回来。
type List[T pagination.Keyed] struct {
	mu          sync.Mutex
	items       []T
	ids         map[string]struct{}
	removed     map[string]struct{}
	nextCursor  string
	hasMore     bool
	loading     bool
	loadingMore bool
	total       int64
	err         error
	gen         uint64
}

func NewList[T pagination.Keyed]() *List[T] {
	return &List[T]{
		ids:     make(map[string]struct{}),
		removed: make(map[string]struct{}),
	}
}

func idOf[T pagination.Keyed](item T) string { return item.SortKey().ID }

// AppendPage 把一页合并到尾部，已存在或已删除的 id 被忽略。返回新增条数。
func (l *List[T]) AppendPage(items []T, nextCursor string, hasMore bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(items, nextCursor, hasMore)
}

func (l *List[T]) appendLocked(items []T, nextCursor string, hasMore bool) int {
	added := l.mergeLocked(items)
	l.nextCursor = nextCursor
	l.hasMore = hasMore
	l.err = nil
	return added
}

// PrependLive 插入一条实时事件带来的条目；已存在则替换（计数器等字段更新）。
// 新条目使 total 加一。
func (l *List[T]) PrependLive(item T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := idOf(item)
	if _, gone := l.removed[id]; gone {
		return false
	}
	if _, ok := l.ids[id]; ok {
		for i := range l.items {
			if idOf(l.items[i]) == id {
				l.items[i] = item
				break
			}
		}
		l.sortLocked()
		return false
	}
	l.ids[id] = struct{}{}
	l.items = append(l.items, item)
	l.sortLocked()
	l.total++
	return true
}

// FullReload 用第一页替换列表头部。若这一页之后还有数据，
// 比该页末尾更旧、已经加载过的尾部会被保留（连同其游标），
// 这样与并发的 load more 以任意顺序执行都得到同一结果。
func (l *List[T]) FullReload(items []T, nextCursor string, hasMore bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reloadLocked(items, nextCursor, hasMore)
}

func (l *List[T]) reloadLocked(items []T, nextCursor string, hasMore bool) {
	var tail []T
	if hasMore && len(items) > 0 {
		last := items[0].SortKey()
		for _, it := range items[1:] {
			if k := it.SortKey(); pagination.Less(last, k) {
				last = k
			}
		}
		for _, it := range l.items {
			if last.After(it.SortKey().CreatedAt, idOf(it)) {
				tail = append(tail, it)
			}
		}
	}

	oldCursor, oldHasMore := l.nextCursor, l.hasMore
	l.items = l.items[:0:0]
	l.ids = make(map[string]struct{}, len(items)+len(tail))
	l.mergeLocked(items)
	if len(tail) > 0 {
		l.mergeLocked(tail)
		l.nextCursor, l.hasMore = oldCursor, oldHasMore
	} else {
		l.nextCursor, l.hasMore = nextCursor, hasMore
	}
	l.err = nil
}

// RemoveLocal 在服务端删除成功后调用。每个 id 只扣减一次 total，且 total 不小于 0。
func (l *List[T]) RemoveLocal(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, gone := l.removed[id]; gone {
		return false
	}
	l.removed[id] = struct{}{}
	if _, ok := l.ids[id]; ok {
		delete(l.ids, id)
		for i := range l.items {
			if idOf(l.items[i]) == id {
				l.items = append(l.items[:i], l.items[i+1:]...)
				break
			}
		}
	}
	if l.total > 0 {
		l.total--
	}
	return true
}

// Reset 清空全部状态并进入新一代；切换 scope/viewer 时在设置 loading 之前调用。
func (l *List[T]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
	l.ids = make(map[string]struct{})
	l.removed = make(map[string]struct{})
	l.nextCursor = ""
	l.hasMore = false
	l.loading = false
	l.loadingMore = false
	l.total = 0
	l.err = nil
	l.gen++
}

// SetTotal 设置权威计数，负数按 0 处理
func (l *List[T]) SetTotal(n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = max(n, 0)
}

func (l *List[T]) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *List[T]) Snapshot() View[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := make([]T, len(l.items))
	copy(items, l.items)
	return View[T]{
		Items:       items,
		NextCursor:  l.nextCursor,
		HasMore:     l.hasMore,
		Loading:     l.loading,
		LoadingMore: l.loadingMore,
		Total:       l.total,
		Err:         l.err,
		Generation:  l.gen,
	}
}

// begin 标记加载开始，返回当前代；more 区分首屏与 load more
func (l *List[T]) begin(more bool) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if more {
		l.loadingMore = true
	} else {
		l.loading = true
	}
	return l.gen
}

// finish 在代未变化时执行 apply 并清除加载标记；代已变化则丢弃结果。
func (l *List[T]) finish(gen uint64, more bool, err error, apply func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return false
	}
	if more {
		l.loadingMore = false
	} else {
		l.loading = false
	}
	if err != nil {
		l.err = err
		return false
	}
	if apply != nil {
		apply()
	}
	return true
}

func (l *List[T]) mergeLocked(items []T) int {
	added := 0
	for _, it := range items {
		id := idOf(it)
		if _, gone := l.removed[id]; gone {
			continue
		}
		if _, dup := l.ids[id]; dup {
			continue
		}
		l.ids[id] = struct{}{}
		l.items = append(l.items, it)
		added++
	}
	if added > 0 {
		l.sortLocked()
	}
	return added
}

func (l *List[T]) sortLocked() {
	pagination.Sort(l.items)
}

func (l *List[T]) finishTotal(gen uint64, n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen == l.gen {
		l.total = max(n, 0)
	}
}
