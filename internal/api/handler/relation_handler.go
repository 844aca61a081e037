package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-engine/pkg/response"
)

type followRequest struct {
	FollowedID string `json:"followed_id" binding:"required"`
	FollowerID string `json:"follower_id" binding:"required"`
}

// Follow 建立关注，粉丝/关注缓存在同一事务内更新
// @Summary 关注用户
// @Tags 关系链
// @Accept json
// @Produce json
// @Param request body followRequest true "关注信息"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /api/v1/relations/follow [post]
func (h *Handler) Follow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !actingAs(c, req.FollowerID) {
		return
	}
	if err := h.relService.Follow(c.Request.Context(), req.FollowedID, req.FollowerID); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// Unfollow 取消关注
// @Summary 取消关注
// @Tags 关系链
// @Accept json
// @Produce json
// @Param request body followRequest true "取消关注信息"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/relations/unfollow [post]
func (h *Handler) Unfollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !actingAs(c, req.FollowerID) {
		return
	}
	if err := h.relService.Unfollow(c.Request.Context(), req.FollowedID, req.FollowerID); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// ListFollowing 查询某用户关注的人
// @Summary 查询关注列表
// @Tags 关系链
// @Param user_id path string true "用户ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(50)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/relations/{user_id}/following [get]
func (h *Handler) ListFollowing(c *gin.Context) {
	userID := c.Param("user_id")
	page, pageSize := h.pageParams(c)
	list, err := h.query.FollowingPage(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": list})
}

// ListFollowers 查询某用户的粉丝
// @Summary 查询粉丝列表
// @Tags 关系链
// @Param user_id path string true "用户ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(50)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/relations/{user_id}/followers [get]
func (h *Handler) ListFollowers(c *gin.Context) {
	userID := c.Param("user_id")
	page, pageSize := h.pageParams(c)
	list, err := h.query.FollowersPage(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	total, err := h.query.FollowerCount(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "total": total, "list": list})
}

// NotFollowedBack 我关注了但没有回关我的人
// @Summary 未回关列表
// @Tags 关系链
// @Param user_id path string true "用户ID"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 404 {object} response.Response
// @Router /api/v1/relations/{user_id}/not-followed-back [get]
func (h *Handler) NotFollowedBack(c *gin.Context) {
	set, err := h.query.NotFollowedBack(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": set.Sorted()})
}

type pairQuery struct {
	A string `form:"a" binding:"required"`
	B string `form:"b" binding:"required"`
}

// MutualFollowers 同时关注 a 和 b 的人
// @Summary 共同粉丝
// @Tags 关系链
// @Param a query string true "用户A"
// @Param b query string true "用户B"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/relations/mutual-followers [get]
func (h *Handler) MutualFollowers(c *gin.Context) {
	var q pairQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	set, err := h.query.MutualFollowers(c.Request.Context(), q.A, q.B)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": set.Sorted()})
}

// CommonFollowing a 和 b 都关注的人
// @Summary 共同关注
// @Tags 关系链
// @Param a query string true "用户A"
// @Param b query string true "用户B"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/relations/common-following [get]
func (h *Handler) CommonFollowing(c *gin.Context) {
	var q pairQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	set, err := h.query.CommonFollowing(c.Request.Context(), q.A, q.B)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": set.Sorted()})
}
