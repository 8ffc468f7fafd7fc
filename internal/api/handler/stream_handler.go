package handler

import (
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/api/middleware"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/realtime"
	"github.com/d60-Lab/vinylfeed/internal/service"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
	"github.com/d60-Lab/vinylfeed/pkg/response"
)

const streamKeepAlive = 25 * time.Second

// SessionStream 建立一个会话，以 SSE 推送未读数与四个列表的最新视图。连接断开即登出。
// @Summary 会话实时流
// @Tags realtime
// @Produce text/event-stream
// @Security BearerAuth
// @Success 200 {string} string "event stream"
// @Router /stream [get]
func (h *Handler) SessionStream(c *gin.Context) {
	viewer := middleware.ViewerID(c)
	ctx := c.Request.Context()

	events := make(chan service.SessionEvent, 64)
	session := service.NewSession(h.sessionDeps, func(ev service.SessionEvent) {
		select {
		case events <- ev:
		default:
			logger.Warn("session stream backlog full, event dropped", zap.String("viewer", viewer), zap.String("kind", ev.Kind))
		}
	})
	if err := session.Start(ctx, viewer); err != nil {
		response.Error(c, err)
		return
	}
	defer session.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"session": session.ID(), "unread": session.Unread().Count()})

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case ev := <-events:
			c.SSEvent(ev.Kind, sessionPayload(session, ev))
			return true
		}
	})
}

// latest 只保留最新一份的单槽缓冲。push 可能同时来自请求 goroutine 和订阅 goroutine，
// 清空与写入必须在同一把锁里，否则两边都清空后第二个写入会阻塞。
type latest[T any] struct {
	mu sync.Mutex
	ch chan T
}

func newLatest[T any]() *latest[T] { return &latest[T]{ch: make(chan T, 1)} }

func (l *latest[T]) push(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.ch:
	default:
	}
	l.ch <- v
}

func sessionPayload(s *service.Session, ev service.SessionEvent) any {
	switch ev.Kind {
	case "unread":
		return gin.H{"unread": ev.Unread}
	case "feed":
		if ctl := s.Feed(); ctl != nil {
			return ctl.View()
		}
	case "notifications":
		if ctl := s.Notifications(); ctl != nil {
			return ctl.View()
		}
	case "collection":
		if ctl := s.Collection(); ctl != nil {
			return ctl.View()
		}
	case "wishlist":
		if ctl := s.Wishlist(); ctl != nil {
			return ctl.View()
		}
	}
	return nil
}

// CommentStream 推送帖子评论的完整列表，每次变更推一次
// @Summary 评论实时流
// @Tags realtime
// @Produce text/event-stream
// @Security BearerAuth
// @Param post_id path string true "帖子ID"
// @Success 200 {string} string "event stream"
// @Router /posts/{post_id}/comments/stream [get]
func (h *Handler) CommentStream(c *gin.Context) {
	ctx := c.Request.Context()
	postID := c.Param("post_id")
	viewer := middleware.ViewerID(c)

	updates := newLatest[[]model.CommentWithUser]()
	lost := make(chan error, 1)
	// 同一 viewer 可能在多个标签页打开同一帖子，按连接区分订阅
	key := service.CommentsKey(postID, viewer)
	key.Scope += "#" + uuid.NewString()
	handle, err := h.comments.Watch(ctx, h.manager, key, postID, updates.push,
		realtime.WithOnLost(func(err error) {
			select {
			case lost <- err:
			default:
			}
		}))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer handle.Unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case err := <-lost:
			c.SSEvent("error", gin.H{"message": err.Error()})
			return false
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case items := <-updates.ch:
			c.SSEvent("comments", items)
			return true
		}
	})
}
