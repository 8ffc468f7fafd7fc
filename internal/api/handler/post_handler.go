package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/vinylfeed/internal/api/middleware"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/pkg/response"
)

// Feed 首页 feed：关注的人（最多 follow_cap 个）加自己的帖子
// @Summary 首页 feed
// @Tags feed
// @Produce json
// @Security BearerAuth
// @Param cursor query string false "上一页返回的 next_cursor"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=pagination.Page[model.FeedItem]}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /feed [get]
func (h *Handler) Feed(c *gin.Context) {
	viewer := middleware.ViewerID(c)
	page, err := h.feedPager.LoadPageWith(c.Request.Context(), "feed:"+viewer, c.Query("cursor"), h.pageSize(c),
		h.posts.FeedLoader(viewer))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, page)
}

// UserPosts 个人主页帖子
// @Summary 用户帖子
// @Tags feed
// @Produce json
// @Security BearerAuth
// @Param user_id path string true "用户ID"
// @Param cursor query string false "上一页返回的 next_cursor"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=pagination.Page[model.FeedItem]}
// @Router /users/{user_id}/posts [get]
func (h *Handler) UserPosts(c *gin.Context) {
	userID := c.Param("user_id")
	page, err := h.userPostsPager.LoadPageWith(c.Request.Context(), "posts:"+userID+"@"+middleware.ViewerID(c),
		c.Query("cursor"), h.pageSize(c), h.posts.UserPostsLoader(userID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, page)
}

type createPostRequest struct {
	Type    string `json:"type" binding:"required,post_type"`
	AlbumID string `json:"album_id" binding:"required"`
}

// CreatePost 发帖
// @Summary 发帖
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createPostRequest true "帖子"
// @Success 201 {object} response.Response{data=model.Post}
// @Failure 400 {object} response.Response
// @Router /posts [post]
func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, err := h.posts.CreatePost(c.Request.Context(), middleware.ViewerID(c), model.PostType(req.Type), req.AlbumID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, p)
}

// GetPost 单个帖子
// @Summary 帖子详情
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param post_id path string true "帖子ID"
// @Success 200 {object} response.Response{data=model.FeedItem}
// @Failure 404 {object} response.Response
// @Router /posts/{post_id} [get]
func (h *Handler) GetPost(c *gin.Context) {
	item, err := h.posts.GetPost(c.Request.Context(), c.Param("post_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	liked, err := h.likes.HasLiked(c.Request.Context(), item.ID, middleware.ViewerID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"post": item, "liked": liked})
}

// DeletePost 删除帖子及其点赞、评论、通知。部分失败时帖子保留，可重试。
// @Summary 删除帖子
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param post_id path string true "帖子ID"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 500 {object} response.Response{data=response.CascadeFailure}
// @Router /posts/{post_id} [delete]
func (h *Handler) DeletePost(c *gin.Context) {
	if err := h.posts.DeletePost(c.Request.Context(), middleware.ViewerID(c), c.Param("post_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Like 点赞（幂等）
// @Summary 点赞
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param post_id path string true "帖子ID"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 404 {object} response.Response
// @Router /posts/{post_id}/likes [post]
func (h *Handler) Like(c *gin.Context) {
	n, err := h.likes.Like(c.Request.Context(), c.Param("post_id"), middleware.ViewerID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"likes_count": n, "liked": true})
}

// Unlike 取消点赞（幂等）
// @Summary 取消点赞
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param post_id path string true "帖子ID"
// @Success 200 {object} response.Response
// @Router /posts/{post_id}/likes [delete]
func (h *Handler) Unlike(c *gin.Context) {
	if err := h.likes.Unlike(c.Request.Context(), c.Param("post_id"), middleware.ViewerID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"liked": false})
}

type commentRequest struct {
	Content string `json:"content" binding:"required,max=500"`
}

// ListComments 帖子评论（时间升序）
// @Summary 评论列表
// @Tags comments
// @Produce json
// @Security BearerAuth
// @Param post_id path string true "帖子ID"
// @Success 200 {object} response.Response{data=[]model.CommentWithUser}
// @Router /posts/{post_id}/comments [get]
func (h *Handler) ListComments(c *gin.Context) {
	items, err := h.comments.ListComments(c.Request.Context(), c.Param("post_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, items)
}

// AddComment 评论
// @Summary 发表评论
// @Tags comments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param post_id path string true "帖子ID"
// @Param request body commentRequest true "评论"
// @Success 201 {object} response.Response{data=model.Comment}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /posts/{post_id}/comments [post]
func (h *Handler) AddComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	comment, err := h.comments.AddComment(c.Request.Context(), c.Param("post_id"), middleware.ViewerID(c), req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

// DeleteComment 删除评论（评论作者或帖子作者）
// @Summary 删除评论
// @Tags comments
// @Produce json
// @Security BearerAuth
// @Param comment_id path string true "评论ID"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Router /comments/{comment_id} [delete]
func (h *Handler) DeleteComment(c *gin.Context) {
	if err := h.comments.DeleteComment(c.Request.Context(), middleware.ViewerID(c), c.Param("comment_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
