// Package feed 组装首页 feed：作者集合 → 分批 IN 查询 → 归并截断 → 补水。
package feed

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

const (
	DefaultFollowCap     = 10
	DefaultInClauseLimit = 30

	// 补水丢弃条目后最多再补拉几轮
	maxFillRounds = 3
)

// FollowSource 提供关注列表
type FollowSource interface {
	ListFolloweeIDs(ctx context.Context, followerID string, limit int) ([]string, error)
	CountFollowings(ctx context.Context, followerID string) (int64, error)
}

// PostSource 文档库中的帖子
type PostSource interface {
	ListByAuthors(ctx context.Context, authorIDs []string, after *pagination.Cursor, limit int) ([]model.Post, error)
	Get(ctx context.Context, id string) (*model.Post, error)
}

// EntitySource 作者与专辑的批量查找，返回的 map 只含找到的 id
type EntitySource interface {
	Users(ctx context.Context, ids []string) (map[string]model.UserSummary, error)
	Albums(ctx context.Context, ids []string) (map[string]model.Album, error)
}

type Config struct {
	FollowCap     int
	InClauseLimit int
}

// Builder fan-out on read 的 feed 构建器
type Builder struct {
	follows  FollowSource
	posts    PostSource
	entities EntitySource
	cfg      Config
	tracer   trace.Tracer
}

func NewBuilder(follows FollowSource, posts PostSource, entities EntitySource, cfg Config) *Builder {
	if cfg.FollowCap < 0 {
		cfg.FollowCap = DefaultFollowCap
	}
	if cfg.InClauseLimit <= 0 {
		cfg.InClauseLimit = DefaultInClauseLimit
	}
	return &Builder{
		follows:  follows,
		posts:    posts,
		entities: entities,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/d60-Lab/vinylfeed/internal/feed"),
	}
}

// ResolveAuthors 返回前 FollowCap 个关注（按关注时间稳定排序）加上自己，自己恰好出现一次。
func (b *Builder) ResolveAuthors(ctx context.Context, viewerID string) ([]string, error) {
	ctx, span := b.tracer.Start(ctx, "feed.ResolveAuthors")
	defer span.End()

	var followed []string
	if b.cfg.FollowCap > 0 {
		ids, err := b.follows.ListFolloweeIDs(ctx, viewerID, b.cfg.FollowCap)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolve authors")
			return nil, fmt.Errorf("resolve authors for %s: %w", viewerID, apperr.Transient(err))
		}
		followed = ids
	}

	seen := map[string]struct{}{viewerID: {}}
	authors := make([]string, 0, len(followed)+1)
	for _, id := range followed {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		authors = append(authors, id)
		if len(authors) == b.cfg.FollowCap {
			break
		}
	}

	if b.cfg.FollowCap > 0 && len(authors) == b.cfg.FollowCap {
		if total, err := b.follows.CountFollowings(ctx, viewerID); err == nil && total > int64(b.cfg.FollowCap) {
			logger.Info("author set truncated",
				zap.String("viewer", viewerID),
				zap.Int64("following", total),
				zap.Int("cap", b.cfg.FollowCap))
		}
	}

	authors = append(authors, viewerID)
	span.SetAttributes(attribute.Int("feed.authors", len(authors)))
	return authors, nil
}

// Build 返回 after 之后至多 pageSize 条补水后的 feed。
// 作者解析或任一批次查询失败则整页失败；补水缺失的条目被丢弃。
func (b *Builder) Build(ctx context.Context, viewerID string, pageSize int, after *pagination.Cursor) ([]model.FeedItem, error) {
	ctx, span := b.tracer.Start(ctx, "feed.Build", trace.WithAttributes(
		attribute.String("feed.viewer", viewerID),
		attribute.Int("feed.page_size", pageSize),
	))
	defer span.End()

	if pageSize <= 0 {
		pageSize = pagination.DefaultInitialPageSize
	}
	authors, err := b.ResolveAuthors(ctx, viewerID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	items, err := b.fill(ctx, authors, pageSize, after)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build feed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("feed.items", len(items)))
	return items, nil
}

// fill 合并+补水；补水丢掉的条目由后续帖子补齐，使页大小启发式仍然成立
func (b *Builder) fill(ctx context.Context, authors []string, pageSize int, after *pagination.Cursor) ([]model.FeedItem, error) {
	out := make([]model.FeedItem, 0, pageSize)
	cursor := after
	for round := 0; round < maxFillRounds && len(out) < pageSize; round++ {
		need := pageSize - len(out)
		posts, err := b.merge(ctx, authors, need, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, b.Hydrate(ctx, posts)...)
		if len(posts) < need {
			break
		}
		last := posts[len(posts)-1].SortKey()
		cursor = &last
	}
	return out, nil
}

// merge 按 InClauseLimit 分批并发查询，每批最多取 limit 条，归并后截断
func (b *Builder) merge(ctx context.Context, authors []string, limit int, after *pagination.Cursor) ([]model.Post, error) {
	batches := chunk(authors, b.cfg.InClauseLimit)

	var wg sync.WaitGroup
	resultChan := make(chan []model.Post, len(batches))
	errChan := make(chan error, len(batches))

	for i, batch := range batches {
		wg.Add(1)
		go func(idx int, ids []string) {
			defer wg.Done()
			bctx, span := b.tracer.Start(ctx, "feed.QueryBatch", trace.WithAttributes(
				attribute.Int("feed.batch", idx),
				attribute.Int("feed.batch_size", len(ids)),
			))
			defer span.End()

			posts, err := b.posts.ListByAuthors(bctx, ids, after, limit)
			if err != nil {
				span.RecordError(err)
				errChan <- err
				return
			}
			resultChan <- posts
		}(i, batch)
	}

	wg.Wait()
	close(resultChan)
	close(errChan)

	if len(errChan) > 0 {
		return nil, fmt.Errorf("query feed batch: %w", apperr.Transient(<-errChan))
	}

	var all []model.Post
	for posts := range resultChan {
		all = append(all, posts...)
	}
	pagination.Sort(all)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Hydrate 为帖子补上作者与专辑。查不到的条目丢弃并记录日志。
func (b *Builder) Hydrate(ctx context.Context, posts []model.Post) []model.FeedItem {
	if len(posts) == 0 {
		return nil
	}
	ctx, span := b.tracer.Start(ctx, "feed.Hydrate", trace.WithAttributes(attribute.Int("feed.posts", len(posts))))
	defer span.End()

	userIDs := make([]string, 0, len(posts))
	albumIDs := make([]string, 0, len(posts))
	for _, p := range posts {
		userIDs = append(userIDs, p.UserID)
		albumIDs = append(albumIDs, p.AlbumID)
	}

	var (
		wg     sync.WaitGroup
		users  map[string]model.UserSummary
		albums map[string]model.Album
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		users = lookup(ctx, userIDs, b.entities.Users)
	}()
	go func() {
		defer wg.Done()
		albums = lookup(ctx, albumIDs, b.entities.Albums)
	}()
	wg.Wait()

	items := make([]model.FeedItem, 0, len(posts))
	dropped := 0
	for _, p := range posts {
		u, okUser := users[p.UserID]
		a, okAlbum := albums[p.AlbumID]
		if !okUser || !okAlbum {
			dropped++
			logger.Warn("drop feed item with unresolved reference",
				zap.String("post", p.ID),
				zap.Bool("author_found", okUser),
				zap.Bool("album_found", okAlbum))
			continue
		}
		items = append(items, model.FeedItem{Post: p, User: u, Album: a})
	}
	span.SetAttributes(attribute.Int("feed.dropped", dropped))
	return items
}

// lookup 先整批查找；整批失败时逐个查找，单个失败视为缺失
func lookup[T any](ctx context.Context, ids []string, find func(context.Context, []string) (map[string]T, error)) map[string]T {
	found, err := find(ctx, ids)
	if err == nil {
		return found
	}
	logger.Warn("batch hydration failed, falling back to per-item lookups", zap.Error(err))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	found = make(map[string]T, len(ids))
	for _, id := range uniq(ids) {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			one, err := find(ctx, []string{id})
			if err != nil {
				return
			}
			mu.Lock()
			for k, v := range one {
				found[k] = v
			}
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return found
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func uniq(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
