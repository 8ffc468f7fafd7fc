// Package handler HTTP 接口
package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/vinylfeed/config"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
	"github.com/d60-Lab/vinylfeed/internal/realtime"
	"github.com/d60-Lab/vinylfeed/internal/service"
)

// Handler 聚合各业务服务
type Handler struct {
	relService    service.RelationshipService
	posts         *service.PostService
	likes         *service.LikeService
	comments      *service.CommentService
	notifications *service.NotificationService
	collections   *service.CollectionService
	catalog       *service.CatalogService
	manager       *realtime.Manager
	sessionDeps   service.SessionDeps
	feedCfg       config.FeedConfig

	// 长期持有，同一 viewer 同一列表同时只有一个在途加载
	feedPager      *pagination.Pager[model.FeedItem]
	userPostsPager *pagination.Pager[model.FeedItem]
	notifPager     *pagination.Pager[model.NotificationWithActor]
	vinylPager     *pagination.Pager[model.UserVinylWithAlbum]
}

type Deps struct {
	Relations     service.RelationshipService
	Posts         *service.PostService
	Likes         *service.LikeService
	Comments      *service.CommentService
	Notifications *service.NotificationService
	Collections   *service.CollectionService
	Catalog       *service.CatalogService
	Manager       *realtime.Manager
	Session       service.SessionDeps
	Feed          config.FeedConfig
}

func New(d Deps) *Handler {
	return &Handler{
		relService:    d.Relations,
		posts:         d.Posts,
		likes:         d.Likes,
		comments:      d.Comments,
		notifications: d.Notifications,
		collections:   d.Collections,
		catalog:       d.Catalog,
		manager:       d.Manager,
		sessionDeps:   d.Session,
		feedCfg:       d.Feed,

		feedPager:      pagination.NewPager[model.FeedItem](nil),
		userPostsPager: pagination.NewPager[model.FeedItem](nil),
		notifPager:     pagination.NewPager[model.NotificationWithActor](nil),
		vinylPager:     pagination.NewPager[model.UserVinylWithAlbum](nil),
	}
}

// RegisterValidators 注册 binding 标签里用到的自定义校验
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	if err := v.RegisterValidation("post_type", func(fl validator.FieldLevel) bool {
		return model.PostType(fl.Field().String()).Valid()
	}); err != nil {
		return err
	}
	return v.RegisterValidation("vinyl_type", func(fl validator.FieldLevel) bool {
		return model.UserVinylType(fl.Field().String()).Valid()
	})
}

// pageSize 读取 page_size，首屏与加载更多用不同默认值
func (h *Handler) pageSize(c *gin.Context) int {
	def := h.feedCfg.InitialPageSize
	if c.Query("cursor") != "" {
		def = h.feedCfg.LoadMorePageSize
	}
	n, err := strconv.Atoi(c.Query("page_size"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, 100)
}
