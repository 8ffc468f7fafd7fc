package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/vinylfeed/internal/api/middleware"
	"github.com/d60-Lab/vinylfeed/internal/service"
	"github.com/d60-Lab/vinylfeed/pkg/response"
)

type createAlbumRequest struct {
	Title     string `json:"title" binding:"required,max=255"`
	Artist    string `json:"artist" binding:"max=255"`
	Year      *int   `json:"year" binding:"omitempty,min=1900,max=2100"`
	CoverURL  string `json:"cover_url" binding:"omitempty,url"`
	SpotifyID string `json:"spotify_id" binding:"max=64"`
}

type coverRequest struct {
	CoverURL string `json:"cover_url" binding:"required,url"`
}

type profileRequest struct {
	Username  string `json:"username" binding:"omitempty,min=3,max=20"`
	FirstName string `json:"first_name" binding:"max=64"`
	LastName  string `json:"last_name" binding:"max=64"`
	PhotoURL  string `json:"photo_url" binding:"omitempty,url"`
}

// CreateAlbum 新建专辑；spotify_id 已存在时返回已有专辑（200）
// @Summary 新建专辑
// @Tags albums
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createAlbumRequest true "专辑"
// @Success 201 {object} response.Response{data=model.Album}
// @Success 200 {object} response.Response{data=model.Album}
// @Failure 400 {object} response.Response
// @Router /albums [post]
func (h *Handler) CreateAlbum(c *gin.Context) {
	var req createAlbumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	a, created, err := h.catalog.CreateAlbum(c.Request.Context(), middleware.ViewerID(c), service.AlbumInput{
		Title:     req.Title,
		Artist:    req.Artist,
		Year:      req.Year,
		CoverURL:  req.CoverURL,
		SpotifyID: req.SpotifyID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if created {
		response.Created(c, a)
		return
	}
	response.Success(c, a)
}

// GetAlbum 专辑详情
// @Summary 专辑详情
// @Tags albums
// @Produce json
// @Security BearerAuth
// @Param album_id path string true "专辑ID"
// @Success 200 {object} response.Response{data=model.Album}
// @Failure 404 {object} response.Response
// @Router /albums/{album_id} [get]
func (h *Handler) GetAlbum(c *gin.Context) {
	a, err := h.catalog.GetAlbum(c.Request.Context(), c.Param("album_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, a)
}

// AlbumBySpotifyID 按 spotify id 查专辑
// @Summary 按 spotify id 查专辑
// @Tags albums
// @Produce json
// @Security BearerAuth
// @Param spotify_id query string true "Spotify ID"
// @Success 200 {object} response.Response{data=model.Album}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /albums [get]
func (h *Handler) AlbumBySpotifyID(c *gin.Context) {
	spotifyID := c.Query("spotify_id")
	if spotifyID == "" {
		response.BadRequest(c, "spotify_id is required")
		return
	}
	a, err := h.catalog.AlbumBySpotifyID(c.Request.Context(), spotifyID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, a)
}

// UpdateAlbumCover 更新封面
// @Summary 更新专辑封面
// @Tags albums
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param album_id path string true "专辑ID"
// @Param request body coverRequest true "封面"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /albums/{album_id}/cover [put]
func (h *Handler) UpdateAlbumCover(c *gin.Context) {
	var req coverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.catalog.UpdateAlbumCover(c.Request.Context(), c.Param("album_id"), req.CoverURL); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// SearchAlbums 按标题或艺人搜索
// @Summary 搜索专辑
// @Tags search
// @Produce json
// @Security BearerAuth
// @Param q query string true "关键词（至少两个字符）"
// @Param limit query int false "最多返回数量" default(20)
// @Success 200 {object} response.Response{data=[]model.Album}
// @Router /search/albums [get]
func (h *Handler) SearchAlbums(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.catalog.SearchAlbums(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, items)
}

// SearchUsers 按 username 或姓名搜索
// @Summary 搜索用户
// @Tags search
// @Produce json
// @Security BearerAuth
// @Param q query string true "关键词（至少两个字符）"
// @Param limit query int false "最多返回数量" default(20)
// @Success 200 {object} response.Response{data=[]model.UserSummary}
// @Router /search/users [get]
func (h *Handler) SearchUsers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.catalog.SearchUsers(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, items)
}

// GetUser 用户资料
// @Summary 用户资料
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param user_id path string true "用户ID"
// @Success 200 {object} response.Response{data=model.User}
// @Failure 404 {object} response.Response
// @Router /users/{user_id} [get]
func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.catalog.GetUser(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, u)
}

// SaveProfile 创建或更新自己的资料
// @Summary 更新资料
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body profileRequest true "资料"
// @Success 200 {object} response.Response{data=model.User}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /me/profile [put]
func (h *Handler) SaveProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.catalog.SaveProfile(c.Request.Context(), middleware.ViewerID(c), service.ProfileInput{
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		PhotoURL:  req.PhotoURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, u)
}
