package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

// ChangeChannel 关系库表变更所在的 redis 频道
func ChangeChannel(table string) string { return "changes:" + table }

// Filter 列等值过滤，例如 {Column: "post_id", Value: id}。零值不过滤。
type Filter struct {
	Column string
	Value  string
	Ops    []model.ChangeOp // 为空表示 INSERT/UPDATE/DELETE 全部
}

func (f Filter) Match(ev *model.ChangeEvent) bool {
	if len(f.Ops) > 0 {
		ok := false
		for _, op := range f.Ops {
			if op == ev.Op {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Column == "" {
		return true
	}
	v, ok := ev.Row[f.Column]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

// ChangeFeed 提供关系库的 subscribeChanges(table, filter)
type ChangeFeed struct {
	client           *redis.Client
	pingInterval     time.Duration
	subscribeTimeout time.Duration
}

func NewChangeFeed(client *redis.Client, pingInterval, subscribeTimeout time.Duration) *ChangeFeed {
	return &ChangeFeed{client: client, pingInterval: pingInterval, subscribeTimeout: subscribeTimeout}
}

// Publish 推送一条变更（由 ChangeRelay 调用）
func (f *ChangeFeed) Publish(ctx context.Context, ev model.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, ChangeChannel(ev.Table), payload).Err()
}

// Source 订阅 table 上满足 filter 的变更
func (f *ChangeFeed) Source(table string, filter Filter) Source {
	return &RedisSource{
		Client:           f.client,
		Channel:          ChangeChannel(table),
		PingInterval:     f.pingInterval,
		SubscribeTimeout: f.subscribeTimeout,
		OnMessage: func(_ context.Context, payload string) (Event, bool) {
			var ev model.ChangeEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				logger.Warn("drop malformed change event", zap.String("table", table), zap.Error(err))
				return Event{}, false
			}
			if !filter.Match(&ev) {
				return Event{}, false
			}
			return Event{Type: EventChange, Change: &ev}, true
		},
	}
}
