// Package docstore 是帖子与点赞所在的文档库：JSON 文档 + 按字段的有序索引，
// 服务端时间戳，批量写，计数器，以及写入通知（实时快照）。
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/d60-Lab/vinylfeed/internal/pagination"
)

// MaxInValues 单次 In 查询允许的最大取值数
const MaxInValues = 30

var ErrTooManyValues = errors.New("too many values in IN filter")

// Doc 一条文档。Index 中的字段会建立 (createdAt desc) 的有序索引，
// Counters 与正文分开存储，只能通过 Increment 修改。
type Doc struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"createdAt"`
	Index     map[string]string `json:"index,omitempty"`
	Body      json.RawMessage   `json:"body"`
	Counters  map[string]int64  `json:"-"`
}

func (d Doc) SortKey() pagination.Cursor {
	return pagination.Cursor{CreatedAt: d.CreatedAt, ID: d.ID}
}

// Filter 等值/IN 过滤，Values 只有一个时等同 Eq
type Filter struct {
	Field  string
	Values []string
}

func Eq(field, value string) *Filter { return &Filter{Field: field, Values: []string{value}} }

func In(field string, values []string) *Filter { return &Filter{Field: field, Values: values} }

// Query 按 (createdAt desc, id asc) 返回 After 之后至多 Limit 条；Limit<=0 表示不限。
type Query struct {
	Collection string
	Filter     *Filter
	After      *pagination.Cursor
	Limit      int
}

// Store 文档库操作
type Store interface {
	Get(ctx context.Context, collection, id string) (*Doc, error)
	Query(ctx context.Context, q Query) ([]Doc, error)
	// BatchInsert 原子写入；CreatedAt 为零值的文档使用服务端时间。返回落库后的文档。
	BatchInsert(ctx context.Context, collection string, docs []Doc) ([]Doc, error)
	// InsertIfAbsent 仅当 id 不存在时写入，返回落库后的文档与是否新建。
	InsertIfAbsent(ctx context.Context, collection string, doc Doc) (Doc, bool, error)
	// BatchDelete 原子删除；不存在的 id 忽略。返回实际删除的 id。
	BatchDelete(ctx context.Context, collection string, ids []string) ([]string, error)
	// Increment 调整计数器，结果不小于 0。
	Increment(ctx context.Context, collection, id, counter string, delta int64) (int64, error)
}

// WriteNotice 每次写入后发布到 Channel(collection)。Index 与 IDs 一一对应，
// 是被写文档的索引字段，订阅方据此判断写入是否落在自己的查询范围内。
type WriteNotice struct {
	Op    string              `json:"op"` // insert | delete | update
	IDs   []string            `json:"ids"`
	Index []map[string]string `json:"index,omitempty"`
}

// Touches 报告写入是否可能影响 f 过滤的结果集。缺少索引信息时按命中处理。
func (n WriteNotice) Touches(f *Filter) bool {
	if f == nil || len(n.Index) != len(n.IDs) {
		return true
	}
	for _, idx := range n.Index {
		v, ok := idx[f.Field]
		if !ok {
			continue
		}
		for _, want := range f.Values {
			if v == want {
				return true
			}
		}
	}
	return false
}

// Channel 集合写入通知所在的频道
func Channel(collection string) string { return "docs:" + collection }
