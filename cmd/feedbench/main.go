package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/d60-Lab/vinylfeed/config"
	"github.com/d60-Lab/vinylfeed/internal/docstore"
	"github.com/d60-Lab/vinylfeed/internal/entitycache"
	"github.com/d60-Lab/vinylfeed/internal/feed"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/realtime"
	"github.com/d60-Lab/vinylfeed/internal/repository"
	"github.com/d60-Lab/vinylfeed/internal/service"
	"github.com/d60-Lab/vinylfeed/pkg/cache"
	"github.com/d60-Lab/vinylfeed/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func envInt(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// backends MEMORY=1 用 sqlite 内存库 + miniredis，否则读配置
func backends(ctx context.Context) (*config.Config, *gorm.DB, *redis.Client, func()) {
	cfg := must(config.Load())
	if os.Getenv("MEMORY") == "1" {
		db := must(database.OpenMemory())
		mr := must(miniredis.Run())
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return cfg, db, rdb, func() {
			_ = rdb.Close()
			mr.Close()
		}
	}
	db := must(database.InitDB(cfg))
	rdb := must(cache.NewRedis(ctx, cfg.Redis))
	return cfg, db, rdb, func() { _ = rdb.Close() }
}

func main() {
	ctx := context.Background()
	cfg, db, rdb, closeFn := backends(ctx)
	defer closeFn()

	numAuthors := envInt("AUTHORS", 50) // 被关注的作者数
	postsPerAuthor := envInt("POSTS", 40)
	followCap := envInt("FOLLOW_CAP", cfg.Feed.FollowCap)
	pageSize := envInt("PAGE", cfg.Feed.InitialPageSize)
	reads := envInt("READS", 200)   // feed 读取次数
	events := envInt("EVENTS", 500) // 通过 outbox 推送的通知数

	store := docstore.NewRedisStore(rdb)
	entities := entitycache.New(db, rdb, cfg.Feed.HydrationCacheTTL)
	followRepo := repository.NewFollowRepository(db)
	postRepo := repository.NewPostRepository(store)
	builder := feed.NewBuilder(followRepo, postRepo, entities, feed.Config{FollowCap: followCap, InClauseLimit: cfg.Feed.InClauseLimit})

	// seed: 一个 viewer 关注全部作者，每个作者 postsPerAuthor 条帖子，专辑共用
	run := uuid.New().String()[:8]
	viewer := model.User{ID: "viewer-" + run, Username: "viewer-" + run}
	must(0, db.Create(&viewer).Error)
	album := model.Album{ID: "album-" + run, Title: "Blue Train", Artist: "John Coltrane"}
	must(0, db.Create(&album).Error)
	authors := make([]model.User, numAuthors)
	for i := range authors {
		id := fmt.Sprintf("author-%s-%03d", run, i)
		authors[i] = model.User{ID: id, Username: id}
	}
	if len(authors) > 0 {
		must(0, db.CreateInBatches(&authors, 500).Error)
	}
	for _, a := range authors {
		must(followRepo.Create(ctx, viewer.ID, a.ID))
		for j := 0; j < postsPerAuthor; j++ {
			p := &model.Post{ID: uuid.New().String(), UserID: a.ID, Type: model.PostCollectionAdd, AlbumID: album.ID}
			must(0, postRepo.Create(ctx, p))
		}
	}
	fmt.Printf("AUTHORS=%d POSTS=%d FOLLOW_CAP=%d PAGE=%d IN_LIMIT=%d\n",
		numAuthors, postsPerAuthor, followCap, pageSize, cfg.Feed.InClauseLimit)

	// feed 首屏：冷缓存 vs 热缓存
	for _, warm := range []bool{false, true} {
		lat := make([]time.Duration, 0, reads)
		entities.ResetCounters()
		items := 0
		for i := 0; i < reads; i++ {
			if !warm {
				evict(ctx, entities, viewer.ID, album.ID, authors)
			}
			st := time.Now()
			page := must(builder.Build(ctx, viewer.ID, pageSize, nil))
			lat = append(lat, time.Since(st))
			items = len(page)
		}
		c := entities.Counters()
		fmt.Printf("Feed build warm=%v: avg=%v p95=%v p99=%v items=%d cache hits=%d misses=%d dbLoads=%d\n",
			warm, avg(lat), pct(lat, 0.95), pct(lat, 0.99), items, c.Hits, c.Misses, c.DBLoads)
	}

	// 翻页到底
	st := time.Now()
	pages, total, token := 0, 0, ""
	for {
		pg := must(builder.BuildPage(ctx, viewer.ID, token, pageSize))
		pages++
		total += len(pg.Items)
		if !pg.HasMore || pg.NextCursor == "" {
			break
		}
		token = pg.NextCursor
	}
	fmt.Printf("Feed full scroll: pages=%d items=%d elapsed=%v\n", pages, total, time.Since(st))

	// outbox -> changes:<table> 落地延迟
	changes := realtime.NewChangeFeed(rdb, cfg.Realtime.PingInterval, cfg.Realtime.SubscribeTimeout)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), entities, changes)
	relay := service.NewChangeRelay(repository.NewOutboxRepository(db), changes, 1, cfg.Realtime.RelayClaimLimit, cfg.Realtime.RelayPollInterval)
	stop := relay.Start()
	defer stop(ctx)

	recorded := make([]time.Duration, 0, events)
	for i := 0; i < events && len(authors) > 0; i++ {
		a := authors[i%len(authors)]
		st := time.Now()
		subject := model.Subject{PostID: fmt.Sprintf("bench-%d", i), CommentID: uuid.New().String()}
		if _, err := notifications.RecordEvent(ctx, viewer.ID, a.ID, model.NotificationComment, subject); err != nil {
			panic(err)
		}
		recorded = append(recorded, time.Since(st))
	}

	land := make([]time.Duration, 0, events)
	timeout := time.After(2 * time.Minute)
wait:
	for len(land) < len(recorded) {
		select {
		case d := <-relay.Metrics():
			land = append(land, d)
		case <-timeout:
			fmt.Printf("timeout while waiting for relay metrics: got=%d want=%d\n", len(land), len(recorded))
			break wait
		}
	}
	fmt.Printf("RecordEvent tx latency: avg=%v p95=%v p99=%v\n",
		avg(recorded), pct(recorded, 0.95), pct(recorded, 0.99))
	fmt.Printf("Relay landing (outbox->published): samples=%d avg=%v p95=%v p99=%v\n",
		len(land), avg(land), pct(land, 0.95), pct(land, 0.99))
}

// evict 清掉补水缓存，帖子本身在文档库里不受影响
func evict(ctx context.Context, c *entitycache.Cache, viewerID, albumID string, authors []model.User) {
	_ = c.InvalidateUser(ctx, viewerID)
	_ = c.InvalidateAlbum(ctx, albumID)
	for _, a := range authors {
		_ = c.InvalidateUser(ctx, a.ID)
	}
}
