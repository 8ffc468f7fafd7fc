package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

const (
	allIndex        = "_all"
	maxWatchRetries = 10
)

// RedisStore 用 redis 实现 Store：
//
//	doc:{c}                 hash  id -> JSON
//	cnt:{c}:{id}            hash  counter -> int
//	idx:{c}:{field}:{value} zset  id, score = createdAt 微秒
//	idx:{c}:_all            zset
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Client() *redis.Client { return s.client }

func docKey(c string) string { return "doc:" + c }
func counterKey(c, id string) string { return "cnt:" + c + ":" + id }
func indexKey(c, field, v string) string { return "idx:" + c + ":" + field + ":" + v }
func allKey(c string) string { return "idx:" + c + ":" + allIndex }

func micros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func transient(op string, err error) error {
	return fmt.Errorf("docstore %s: %w", op, apperr.Transient(err))
}

func (s *RedisStore) Get(ctx context.Context, collection, id string) (*Doc, error) {
	docs, err := s.load(ctx, collection, []string{id})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, apperr.ErrNotFound
	}
	return &docs[0], nil
}

func (s *RedisStore) Query(ctx context.Context, q Query) ([]Doc, error) {
	keys := []string{allKey(q.Collection)}
	if q.Filter != nil {
		if len(q.Filter.Values) > MaxInValues {
			return nil, fmt.Errorf("%w: %d > %d", ErrTooManyValues, len(q.Filter.Values), MaxInValues)
		}
		if len(q.Filter.Values) == 0 {
			return []Doc{}, nil
		}
		keys = keys[:0]
		for _, v := range dedup(q.Filter.Values) {
			keys = append(keys, indexKey(q.Collection, q.Filter.Field, v))
		}
	}

	var refs []pagination.Cursor
	for _, key := range keys {
		part, err := s.scan(ctx, key, q.After, q.Limit)
		if err != nil {
			return nil, err
		}
		refs = append(refs, part...)
	}
	sort.SliceStable(refs, func(i, j int) bool { return pagination.Less(refs[i], refs[j]) })
	if q.Limit > 0 && len(refs) > q.Limit {
		refs = refs[:q.Limit]
	}

	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return s.load(ctx, q.Collection, ids)
}

// scan 从一个索引读取 after 之后的候选，保证同分值（同时间戳）的成员全部取到
func (s *RedisStore) scan(ctx context.Context, key string, after *pagination.Cursor, limit int) ([]pagination.Cursor, error) {
	max := "+inf"
	if after != nil {
		max = strconv.FormatInt(micros(after.CreatedAt), 10)
	}
	chunk := int64(64)
	if limit > 0 && int64(limit)+1 > chunk {
		chunk = int64(limit) + 1
	}

	var out []pagination.Cursor
	var offset int64
	for {
		zs, err := s.client.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min: "-inf", Max: max, Offset: offset, Count: chunk,
		}).Result()
		if err != nil {
			return nil, transient("scan", err)
		}
		for _, z := range zs {
			id, _ := z.Member.(string)
			at := fromMicros(int64(z.Score))
			if after.After(at, id) {
				out = append(out, pagination.Cursor{CreatedAt: at, ID: id})
			}
		}
		offset += int64(len(zs))
		if int64(len(zs)) < chunk {
			return out, nil
		}
		if limit > 0 && len(out) > limit {
			lastScore := int64(zs[len(zs)-1].Score)
			if lastScore < micros(out[limit-1].CreatedAt) {
				return out, nil
			}
		}
	}
}

// load 按 ids 顺序读取文档与计数器，缺失的文档跳过
func (s *RedisStore) load(ctx context.Context, collection string, ids []string) ([]Doc, error) {
	if len(ids) == 0 {
		return []Doc{}, nil
	}
	raws, err := s.client.HMGet(ctx, docKey(collection), ids...).Result()
	if err != nil {
		return nil, transient("load", err)
	}

	pipe := s.client.Pipeline()
	counters := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		counters[i] = pipe.HGetAll(ctx, counterKey(collection, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, transient("load counters", err)
	}

	out := make([]Doc, 0, len(ids))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var d Doc
		if err := json.Unmarshal([]byte(str), &d); err != nil {
			logger.Warn("skip malformed document", zap.String("collection", collection), zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		d.Counters = make(map[string]int64)
		for name, v := range counters[i].Val() {
			n, err := strconv.ParseInt(v, 10, 64)
			if err == nil {
				d.Counters[name] = n
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *RedisStore) serverTime(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, transient("time", err)
	}
	return t.UTC().Truncate(time.Microsecond), nil
}

func (s *RedisStore) BatchInsert(ctx context.Context, collection string, docs []Doc) ([]Doc, error) {
	if len(docs) == 0 {
		return docs, nil
	}
	var now time.Time
	out := make([]Doc, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return nil, errors.New("docstore: document id is required")
		}
		if d.CreatedAt.IsZero() {
			if now.IsZero() {
				t, err := s.serverTime(ctx)
				if err != nil {
					return nil, err
				}
				now = t
			}
			d.CreatedAt = now
		}
		d.CreatedAt = d.CreatedAt.UTC().Truncate(time.Microsecond)
		out[i] = d
	}

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, d := range out {
			raw, err := json.Marshal(d)
			if err != nil {
				return err
			}
			z := redis.Z{Score: float64(micros(d.CreatedAt)), Member: d.ID}
			p.HSet(ctx, docKey(collection), d.ID, raw)
			p.ZAdd(ctx, allKey(collection), z)
			for field, v := range d.Index {
				p.ZAdd(ctx, indexKey(collection, field, v), z)
			}
			p.Del(ctx, counterKey(collection, d.ID))
			if len(d.Counters) > 0 {
				vals := make(map[string]any, len(d.Counters))
				for k, v := range d.Counters {
					vals[k] = v
				}
				p.HSet(ctx, counterKey(collection, d.ID), vals)
			}
		}
		return nil
	})
	if err != nil {
		return nil, transient("insert", err)
	}

	ids := make([]string, len(out))
	index := make([]map[string]string, len(out))
	for i, d := range out {
		ids[i], index[i] = d.ID, d.Index
		if d.Counters == nil {
			out[i].Counters = map[string]int64{}
		}
	}
	s.notify(ctx, collection, WriteNotice{Op: "insert", IDs: ids, Index: index})
	return out, nil
}

func (s *RedisStore) InsertIfAbsent(ctx context.Context, collection string, doc Doc) (Doc, bool, error) {
	if doc.ID == "" {
		return Doc{}, false, errors.New("docstore: document id is required")
	}
	if doc.CreatedAt.IsZero() {
		now, err := s.serverTime(ctx)
		if err != nil {
			return Doc{}, false, err
		}
		doc.CreatedAt = now
	}
	doc.CreatedAt = doc.CreatedAt.UTC().Truncate(time.Microsecond)
	raw, err := json.Marshal(doc)
	if err != nil {
		return Doc{}, false, err
	}

	created, err := s.client.HSetNX(ctx, docKey(collection), doc.ID, raw).Result()
	if err != nil {
		return Doc{}, false, transient("insert", err)
	}
	if !created {
		existing, err := s.Get(ctx, collection, doc.ID)
		if err != nil {
			return Doc{}, false, err
		}
		return *existing, false, nil
	}

	z := redis.Z{Score: float64(micros(doc.CreatedAt)), Member: doc.ID}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, allKey(collection), z)
		for field, v := range doc.Index {
			p.ZAdd(ctx, indexKey(collection, field, v), z)
		}
		return nil
	})
	if err != nil {
		return Doc{}, false, transient("index", err)
	}
	doc.Counters = map[string]int64{}
	s.notify(ctx, collection, WriteNotice{Op: "insert", IDs: []string{doc.ID}, Index: []map[string]string{doc.Index}})
	return doc, true, nil
}

func (s *RedisStore) BatchDelete(ctx context.Context, collection string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	existing, err := s.load(ctx, collection, ids)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, nil
	}

	dels := make([]*redis.IntCmd, len(existing))
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, d := range existing {
			dels[i] = p.HDel(ctx, docKey(collection), d.ID)
			p.ZRem(ctx, allKey(collection), d.ID)
			for field, v := range d.Index {
				p.ZRem(ctx, indexKey(collection, field, v), d.ID)
			}
			p.Del(ctx, counterKey(collection, d.ID))
		}
		return nil
	})
	if err != nil {
		return nil, transient("delete", err)
	}

	// 并发删除时只有一方的 HDEL 返回 1
	var deleted []string
	var index []map[string]string
	for i, d := range existing {
		if dels[i].Val() > 0 {
			deleted = append(deleted, d.ID)
			index = append(index, d.Index)
		}
	}
	if len(deleted) > 0 {
		s.notify(ctx, collection, WriteNotice{Op: "delete", IDs: deleted, Index: index})
	}
	return deleted, nil
}

func (s *RedisStore) Increment(ctx context.Context, collection, id, counter string, delta int64) (int64, error) {
	ck := counterKey(collection, id)
	var next int64
	var index map[string]string

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, docKey(collection), id).Result()
		if errors.Is(err, redis.Nil) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return err
		}
		var d Doc
		if err := json.Unmarshal([]byte(raw), &d); err == nil {
			index = d.Index
		}
		cur, err := tx.HGet(ctx, ck, counter).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next = cur + delta
		if next < 0 {
			next = 0
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, ck, counter, next)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, ck)
		switch {
		case err == nil:
			s.notify(ctx, collection, WriteNotice{Op: "update", IDs: []string{id}, Index: []map[string]string{index}})
			return next, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, apperr.ErrNotFound):
			return 0, fmt.Errorf("increment %s/%s: %w", collection, id, err)
		default:
			return 0, transient("increment", err)
		}
	}
	return 0, transient("increment", errors.New("too much contention"))
}

func (s *RedisStore) notify(ctx context.Context, collection string, n WriteNotice) {
	payload, _ := json.Marshal(n)
	if err := s.client.Publish(ctx, Channel(collection), payload).Err(); err != nil {
		// 写入已成功，通知丢失只影响实时刷新
		logger.Warn("publish write notice failed", zap.String("collection", collection), zap.Error(err))
	}
}

func dedup(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
