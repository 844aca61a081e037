package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-engine/internal/api/middleware"
	"github.com/d60-Lab/timeline-engine/internal/service"
	"github.com/d60-Lab/timeline-engine/pkg/response"
)

// Handler 聚合关系链与时间线接口
type Handler struct {
	relService service.RelationshipService
	publisher  *service.Publisher
	query      *service.QueryService
	pageSize   int
}

func NewHandler(relService service.RelationshipService, publisher *service.Publisher, query *service.QueryService, pageSize int) *Handler {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Handler{relService: relService, publisher: publisher, query: query, pageSize: pageSize}
}

// writeError 把领域错误映射为 HTTP 状态码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownUser), errors.Is(err, service.ErrEdgeNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrDuplicateEdge):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrSelfFollowRejected):
		response.Unprocessable(c, err.Error())
	case errors.Is(err, service.ErrPublishFailed):
		_ = c.Error(err)
		response.Unavailable(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}

// actingAs 开启鉴权时，请求中的操作者必须与 token 主体一致
func actingAs(c *gin.Context, userID string) bool {
	sub, ok := middleware.Subject(c)
	if !ok || sub == userID {
		return true
	}
	response.Unauthorized(c, "token subject does not match acting user")
	return false
}

func (h *Handler) pageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(h.pageSize)))
	if err != nil || size < 1 {
		size = h.pageSize
	}
	if size > 500 {
		size = 500
	}
	return page, size
}

func (h *Handler) limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.pageSize)))
	if err != nil || limit < 1 {
		return h.pageSize
	}
	return limit
}
