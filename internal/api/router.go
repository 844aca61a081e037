// Package api 组装 HTTP 路由与中间件
package api

import (
	"context"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/d60-Lab/timeline-engine/docs"
	"github.com/d60-Lab/timeline-engine/internal/api/handler"
	"github.com/d60-Lab/timeline-engine/internal/api/middleware"
	"github.com/d60-Lab/timeline-engine/pkg/response"
)

// Options 路由可选项
type Options struct {
	ServiceName  string
	JWTSecret    string
	PublishRPS   float64
	PublishBurst int
	Sentry       bool
	Tracing      bool
	// Health 返回 nil 表示存储可用
	Health func(ctx context.Context) error
}

// NewRouter 注册全部路由
func NewRouter(h *handler.Handler, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logger())
	if opts.Sentry {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if opts.Tracing {
		r.Use(otelgin.Middleware(opts.ServiceName))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/healthz", healthz(opts.Health))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	auth := middleware.Auth(opts.JWTSecret)

	rel := v1.Group("/relations")
	{
		rel.POST("/follow", auth, h.Follow)
		rel.POST("/unfollow", auth, h.Unfollow)
		rel.GET("/mutual-followers", h.MutualFollowers)
		rel.GET("/common-following", h.CommonFollowing)
		rel.GET("/:user_id/followers", h.ListFollowers)
		rel.GET("/:user_id/following", h.ListFollowing)
		rel.GET("/:user_id/not-followed-back", h.NotFollowedBack)
	}

	limiter := middleware.NewRateLimiter(opts.PublishRPS, opts.PublishBurst)
	v1.POST("/posts", auth, limiter.Middleware(), h.Publish)
	v1.GET("/timelines/:user_id", h.OwnTimeline)
	v1.GET("/feeds/:user_id", h.Feed)

	return r
}

func healthz(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				response.Unavailable(c, err.Error())
				return
			}
		}
		response.Success(c, gin.H{"status": "ok"})
	}
}
