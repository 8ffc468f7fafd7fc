package docstore

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/realtime"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

// Snapshot 是 onSnapshot 推送的完整结果集
type Snapshot struct {
	Docs []Doc
	At   time.Time
}

type snapshotConfig struct {
	openedAfter time.Time
}

type SnapshotOption func(*snapshotConfig)

// OpenedAfter 调用方在 t 时已持有结果：订阅确认时只有出现 t 之后创建的文档才推送首个快照。
// t 之后、订阅确认之前的删除不会被发现。
func OpenedAfter(t time.Time) SnapshotOption {
	return func(c *snapshotConfig) { c.openedAfter = t }
}

// SnapshotSource 订阅 q 所在集合：订阅确认后推送一次当前结果，之后每次触及 q.Filter 的写入都重新执行 q。
// 查询失败的那次通知被跳过，不终止订阅。
func (s *RedisStore) SnapshotSource(q Query, pingInterval, subscribeTimeout time.Duration, opts ...SnapshotOption) realtime.Source {
	var cfg snapshotConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	query := func(ctx context.Context) ([]Doc, bool) {
		docs, err := s.Query(ctx, q)
		if err != nil {
			logger.Warn("snapshot query failed", zap.String("collection", q.Collection), zap.Error(err))
			return nil, false
		}
		return docs, true
	}
	event := func(docs []Doc) realtime.Event {
		return realtime.Event{
			Type:    realtime.EventSnapshot,
			Payload: Snapshot{Docs: docs, At: time.Now().UTC()},
		}
	}

	return &realtime.RedisSource{
		Client:           s.client,
		Channel:          Channel(q.Collection),
		PingInterval:     pingInterval,
		SubscribeTimeout: subscribeTimeout,
		OnOpen: func(ctx context.Context) (realtime.Event, bool) {
			docs, ok := query(ctx)
			if !ok {
				return realtime.Event{}, false
			}
			if !cfg.openedAfter.IsZero() && !newerThan(docs, cfg.openedAfter) {
				return realtime.Event{}, false
			}
			return event(docs), true
		},
		OnMessage: func(ctx context.Context, payload string) (realtime.Event, bool) {
			var n WriteNotice
			if err := json.Unmarshal([]byte(payload), &n); err == nil && !n.Touches(q.Filter) {
				return realtime.Event{}, false
			}
			docs, ok := query(ctx)
			if !ok {
				return realtime.Event{}, false
			}
			return event(docs), true
		},
	}
}

// WatchSource 只转发触及 q.Filter 的写入通知（Payload 为 WriteNotice），不执行查询。
// 适合收到通知后自行重载的订阅方；q.Filter 可以超过 MaxInValues。
// 带 OpenedAfter 时，订阅确认后若已有更新的文档，补发一次通知。
func (s *RedisStore) WatchSource(q Query, pingInterval, subscribeTimeout time.Duration, opts ...SnapshotOption) realtime.Source {
	var cfg snapshotConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	src := &realtime.RedisSource{
		Client:           s.client,
		Channel:          Channel(q.Collection),
		PingInterval:     pingInterval,
		SubscribeTimeout: subscribeTimeout,
		OnMessage: func(ctx context.Context, payload string) (realtime.Event, bool) {
			var n WriteNotice
			if err := json.Unmarshal([]byte(payload), &n); err != nil {
				logger.Warn("bad write notice", zap.String("collection", q.Collection), zap.Error(err))
				return realtime.Event{}, false
			}
			if !n.Touches(q.Filter) {
				return realtime.Event{}, false
			}
			return realtime.Event{Type: realtime.EventWrite, Payload: n}, true
		},
	}
	if !cfg.openedAfter.IsZero() {
		src.OnOpen = func(ctx context.Context) (realtime.Event, bool) {
			newer, err := s.hasNewer(ctx, q, cfg.openedAfter)
			if err != nil {
				logger.Warn("watch open check failed", zap.String("collection", q.Collection), zap.Error(err))
				return realtime.Event{}, false
			}
			if !newer {
				return realtime.Event{}, false
			}
			return realtime.Event{Type: realtime.EventWrite, Payload: WriteNotice{Op: "insert"}}, true
		}
	}
	return src
}

// hasNewer 按 MaxInValues 分批查每批最新一条
func (s *RedisStore) hasNewer(ctx context.Context, q Query, t time.Time) (bool, error) {
	if q.Filter == nil {
		docs, err := s.Query(ctx, Query{Collection: q.Collection, Limit: 1})
		return err == nil && newerThan(docs, t), err
	}
	values := q.Filter.Values
	for start := 0; start < len(values); start += MaxInValues {
		end := min(start+MaxInValues, len(values))
		docs, err := s.Query(ctx, Query{
			Collection: q.Collection,
			Filter:     In(q.Filter.Field, values[start:end]),
			Limit:      1,
		})
		if err != nil {
			return false, err
		}
		if newerThan(docs, t) {
			return true, nil
		}
	}
	return false, nil
}

func newerThan(docs []Doc, t time.Time) bool {
	for _, d := range docs {
		if d.CreatedAt.After(t) {
			return true
		}
	}
	return false
}
