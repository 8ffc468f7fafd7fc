package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/vinylfeed/internal/api/middleware"
	"github.com/d60-Lab/vinylfeed/pkg/response"
)

// ListNotifications 通知列表（时间倒序）
// @Summary 通知列表
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param cursor query string false "上一页返回的 next_cursor"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=pagination.Page[model.NotificationWithActor]}
// @Router /notifications [get]
func (h *Handler) ListNotifications(c *gin.Context) {
	viewer := middleware.ViewerID(c)
	page, err := h.notifPager.LoadPageWith(c.Request.Context(), "notifications:"+viewer, c.Query("cursor"), h.pageSize(c),
		h.notifications.Loader(viewer))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, page)
}

// UnreadCount 未读数
// @Summary 未读通知数
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /notifications/unread-count [get]
func (h *Handler) UnreadCount(c *gin.Context) {
	n, err := h.notifications.UnreadCount(c.Request.Context(), middleware.ViewerID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"unread": n})
}

// MarkAllRead 全部标记已读（只影响请求开始前的通知）
// @Summary 全部已读
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /notifications/read-all [post]
func (h *Handler) MarkAllRead(c *gin.Context) {
	n, err := h.notifications.MarkAllRead(c.Request.Context(), middleware.ViewerID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"marked": n})
}
