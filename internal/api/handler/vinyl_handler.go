package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/vinylfeed/internal/api/middleware"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/pkg/response"
)

type vinylRequest struct {
	ReleaseID string `json:"release_id" binding:"required"`
	Type      string `json:"type" binding:"required,vinyl_type"`
}

// ListVinyls 收藏或心愿单
// @Summary 收藏 / 心愿单
// @Tags vinyls
// @Produce json
// @Security BearerAuth
// @Param user_id path string true "用户ID"
// @Param type path string true "collection | wishlist"
// @Param cursor query string false "上一页返回的 next_cursor"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=pagination.Page[model.UserVinylWithAlbum]}
// @Router /users/{user_id}/vinyls/{type} [get]
func (h *Handler) ListVinyls(c *gin.Context) {
	userID, kind := c.Param("user_id"), model.UserVinylType(c.Param("type"))
	if !kind.Valid() {
		response.BadRequest(c, "type must be collection or wishlist")
		return
	}
	ctx := c.Request.Context()
	page, err := h.vinylPager.LoadPageWith(ctx, string(kind)+":"+userID+"@"+middleware.ViewerID(c),
		c.Query("cursor"), h.pageSize(c), h.collections.Loader(userID, kind))
	if err != nil {
		response.Error(c, err)
		return
	}
	total, err := h.collections.Count(ctx, userID, kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"items": page.Items, "next_cursor": page.NextCursor, "has_more": page.HasMore, "total": total})
}

// VinylStats 收藏与心愿单数量
// @Summary 收藏统计
// @Tags vinyls
// @Produce json
// @Security BearerAuth
// @Param user_id path string true "用户ID"
// @Success 200 {object} response.Response{data=model.VinylStats}
// @Router /users/{user_id}/vinyls/stats [get]
func (h *Handler) VinylStats(c *gin.Context) {
	stats, err := h.collections.Stats(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// AddVinyl 加入收藏或心愿单（自动发帖）
// @Summary 加入收藏 / 心愿单
// @Tags vinyls
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body vinylRequest true "条目"
// @Success 201 {object} response.Response{data=model.UserVinyl}
// @Failure 409 {object} response.Response
// @Router /vinyls [post]
func (h *Handler) AddVinyl(c *gin.Context) {
	var req vinylRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	v, err := h.collections.Add(c.Request.Context(), middleware.ViewerID(c), req.ReleaseID, model.UserVinylType(req.Type))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, v)
}

// RemoveVinyl 移出收藏或心愿单
// @Summary 移出收藏 / 心愿单
// @Tags vinyls
// @Produce json
// @Security BearerAuth
// @Param type path string true "collection | wishlist"
// @Param release_id path string true "专辑ID"
// @Success 200 {object} response.Response
// @Router /vinyls/{type}/{release_id} [delete]
func (h *Handler) RemoveVinyl(c *gin.Context) {
	err := h.collections.Remove(c.Request.Context(), middleware.ViewerID(c), c.Param("release_id"), model.UserVinylType(c.Param("type")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// MoveToCollection 心愿单条目移入收藏
// @Summary 心愿单移入收藏
// @Tags vinyls
// @Produce json
// @Security BearerAuth
// @Param release_id path string true "专辑ID"
// @Success 200 {object} response.Response{data=model.UserVinyl}
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /vinyls/wishlist/{release_id}/move [post]
func (h *Handler) MoveToCollection(c *gin.Context) {
	v, err := h.collections.MoveToCollection(c.Request.Context(), middleware.ViewerID(c), c.Param("release_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, v)
}
