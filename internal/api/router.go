// Package api 组装 HTTP 路由
package api

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/vinylfeed/config"
	"github.com/d60-Lab/vinylfeed/docs"
	"github.com/d60-Lab/vinylfeed/internal/api/handler"
	"github.com/d60-Lab/vinylfeed/internal/api/middleware"
)

// NewRouter 注册全部路由，返回包好 CORS 的 http.Handler
func NewRouter(cfg *config.Config, h *handler.Handler) http.Handler {
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(
		middleware.Recovery(),
		middleware.Sentry(),
		otelgin.Middleware(cfg.Tracing.ServiceName),
		middleware.RequestLogger(),
		// SSE 不能压缩
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`.*/stream$`})),
	)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	docs.SwaggerInfo.BasePath = "/api/v1"
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateBurst)
	v1 := r.Group("/api/v1", middleware.Auth(cfg.JWT.Secret, cfg.JWT.Issuer), limiter.Middleware())
	{
		rel := v1.Group("/relations")
		rel.POST("/follow", h.Follow)
		rel.POST("/unfollow", h.Unfollow)
		rel.GET("/:user_id/following", h.ListFollowing)
		rel.GET("/:user_id/fans", h.ListFans)
		rel.GET("/:user_id/counts", h.RelationCounts)

		v1.GET("/feed", h.Feed)
		v1.GET("/stream", h.SessionStream)

		users := v1.Group("/users/:user_id")
		users.GET("", h.GetUser)
		users.GET("/posts", h.UserPosts)
		users.GET("/vinyls/stats", h.VinylStats)
		users.GET("/vinyls/:type", h.ListVinyls)

		posts := v1.Group("/posts")
		posts.POST("", h.CreatePost)
		posts.GET("/:post_id", h.GetPost)
		posts.DELETE("/:post_id", h.DeletePost)
		posts.POST("/:post_id/likes", h.Like)
		posts.DELETE("/:post_id/likes", h.Unlike)
		posts.GET("/:post_id/comments", h.ListComments)
		posts.POST("/:post_id/comments", h.AddComment)
		posts.GET("/:post_id/comments/stream", h.CommentStream)
		v1.DELETE("/comments/:comment_id", h.DeleteComment)

		notes := v1.Group("/notifications")
		notes.GET("", h.ListNotifications)
		notes.GET("/unread-count", h.UnreadCount)
		notes.POST("/read-all", h.MarkAllRead)

		albums := v1.Group("/albums")
		albums.POST("", h.CreateAlbum)
		albums.GET("", h.AlbumBySpotifyID)
		albums.GET("/:album_id", h.GetAlbum)
		albums.PUT("/:album_id/cover", h.UpdateAlbumCover)

		search := v1.Group("/search")
		search.GET("/albums", h.SearchAlbums)
		search.GET("/users", h.SearchUsers)

		v1.PUT("/me/profile", h.SaveProfile)

		vinyls := v1.Group("/vinyls")
		vinyls.POST("", h.AddVinyl)
		vinyls.DELETE("/:type/:release_id", h.RemoveVinyl)
		vinyls.POST("/wishlist/:release_id/move", h.MoveToCollection)
	}

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(r)
}
