package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-engine/internal/service"
	"github.com/d60-Lab/timeline-engine/pkg/response"
)

type publishRequest struct {
	AuthorID     string `json:"author_id" binding:"required"`
	Content      string `json:"content" binding:"required,max=4096"`
	RequestToken string `json:"request_token" binding:"omitempty,max=64"`
}

// Publish 发布内容并投递到所有粉丝的时间线（写扩散时在同一事务内完成）
// @Summary 发布内容
// @Tags 时间线
// @Accept json
// @Produce json
// @Param request body publishRequest true "发布内容"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 429 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /api/v1/posts [post]
func (h *Handler) Publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !actingAs(c, req.AuthorID) {
		return
	}
	var opts []service.PublishOption
	if req.RequestToken != "" {
		opts = append(opts, service.WithRequestToken(req.RequestToken))
	}
	postID, err := h.publisher.Publish(c.Request.Context(), req.AuthorID, req.Content, opts...)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"post_id": postID})
}

// OwnTimeline 读取已投递到用户时间线的条目
// @Summary 用户时间线
// @Tags 时间线
// @Param user_id path string true "用户ID"
// @Param limit query int false "条数" default(50)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 404 {object} response.Response
// @Router /api/v1/timelines/{user_id} [get]
func (h *Handler) OwnTimeline(c *gin.Context) {
	entries, err := h.query.OwnTimeline(c.Request.Context(), c.Param("user_id"), h.limitParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]service.FeedItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, service.FeedItem{PostID: e.PostID, AuthorID: e.AuthorID, Content: e.Content, CreatedAt: e.CreatedAt})
	}
	response.Success(c, gin.H{"list": items})
}

// Feed 按当前策略读取信息流：写扩散读时间线表，读扩散按关注关系现拉
// @Summary 信息流
// @Tags 时间线
// @Param user_id path string true "用户ID"
// @Param limit query int false "条数" default(50)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 404 {object} response.Response
// @Router /api/v1/feeds/{user_id} [get]
func (h *Handler) Feed(c *gin.Context) {
	items, err := h.query.Feed(c.Request.Context(), c.Param("user_id"), h.limitParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": items})
}
