// Package entitycache 为 feed 补水提供作者/专辑的批量读取：先 redis MGET，
// 未命中的一次性回源关系库并回填。
package entitycache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

const (
	userPrefix  = "user:"
	albumPrefix = "album:"
)

// Cache 缓存 UserSummary 与 Album。返回的 map 只包含能解析到的 id。
type Cache struct {
	db  *gorm.DB
	rdb *redis.Client
	ttl time.Duration

	hits    atomic.Int64
	misses  atomic.Int64
	dbLoads atomic.Int64
}

func New(db *gorm.DB, rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{db: db, rdb: rdb, ttl: ttl}
}

// Users 批量读取作者信息
func (c *Cache) Users(ctx context.Context, ids []string) (map[string]model.UserSummary, error) {
	return load(ctx, c, userPrefix, ids, func(missing []string) (map[string]model.UserSummary, error) {
		var users []model.User
		if err := c.db.WithContext(ctx).Where("id IN ?", missing).Find(&users).Error; err != nil {
			return nil, err
		}
		out := make(map[string]model.UserSummary, len(users))
		for i := range users {
			out[users[i].ID] = users[i].Summary()
		}
		return out, nil
	})
}

// Albums 批量读取专辑
func (c *Cache) Albums(ctx context.Context, ids []string) (map[string]model.Album, error) {
	return load(ctx, c, albumPrefix, ids, func(missing []string) (map[string]model.Album, error) {
		var albums []model.Album
		if err := c.db.WithContext(ctx).Where("id IN ?", missing).Find(&albums).Error; err != nil {
			return nil, err
		}
		out := make(map[string]model.Album, len(albums))
		for _, a := range albums {
			out[a.ID] = a
		}
		return out, nil
	})
}

// User 单个读取；不存在返回 ErrNotFound
func (c *Cache) User(ctx context.Context, id string) (model.UserSummary, error) {
	m, err := c.Users(ctx, []string{id})
	if err != nil {
		return model.UserSummary{}, err
	}
	u, ok := m[id]
	if !ok {
		return model.UserSummary{}, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	return u, nil
}

// Album 单个读取；不存在返回 ErrNotFound
func (c *Cache) Album(ctx context.Context, id string) (model.Album, error) {
	m, err := c.Albums(ctx, []string{id})
	if err != nil {
		return model.Album{}, err
	}
	a, ok := m[id]
	if !ok {
		return model.Album{}, fmt.Errorf("album %s: %w", id, apperr.ErrNotFound)
	}
	return a, nil
}

// InvalidateUser 资料变更后调用
func (c *Cache) InvalidateUser(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, userPrefix+id).Err()
}

func (c *Cache) InvalidateAlbum(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, albumPrefix+id).Err()
}

func load[T any](ctx context.Context, c *Cache, prefix string, ids []string, fetch func([]string) (map[string]T, error)) (map[string]T, error) {
	ids = unique(ids)
	out := make(map[string]T, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = prefix + id
	}
	// redis 故障时降级为直接回源
	if vals, err := c.rdb.MGet(ctx, keys...).Result(); err == nil {
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var e T
			if uErr := json.Unmarshal([]byte(str), &e); uErr == nil {
				out[ids[i]] = e
			}
		}
	} else {
		logger.Warn("entity cache mget failed", zap.String("prefix", prefix), zap.Error(err))
	}

	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			missing = append(missing, id)
		}
	}
	c.hits.Add(int64(len(ids) - len(missing)))
	c.misses.Add(int64(len(missing)))
	if len(missing) == 0 {
		return out, nil
	}

	c.dbLoads.Add(1)
	loaded, err := fetch(missing)
	if err != nil {
		return nil, fmt.Errorf("load %s%v: %w", prefix, missing, apperr.Transient(err))
	}
	if len(loaded) > 0 {
		pipe := c.rdb.Pipeline()
		for id, e := range loaded {
			out[id] = e
			if payload, err := json.Marshal(e); err == nil {
				pipe.Set(ctx, prefix+id, payload, c.ttl)
			}
		}
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("entity cache fill failed", zap.String("prefix", prefix), zap.Error(err))
		}
	}
	return out, nil
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Counters 统计缓存命中与回源次数
type Counters struct {
	Hits    int64
	Misses  int64
	DBLoads int64
}

func (c *Cache) Counters() Counters {
	return Counters{Hits: c.hits.Load(), Misses: c.misses.Load(), DBLoads: c.dbLoads.Load()}
}

func (c *Cache) ResetCounters() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.dbLoads.Store(0)
}
