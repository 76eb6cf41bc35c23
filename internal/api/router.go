package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sdk-detect/sdk-detect-go/internal/api/handlers"
	"github.com/sdk-detect/sdk-detect-go/internal/config"
	"github.com/sdk-detect/sdk-detect-go/internal/middleware"
)

// RouterDeps 路由依赖，由 main 组装后传入
type RouterDeps struct {
	TaskHandler    *handlers.TaskHandler
	ProfileHandler *handlers.ProfileHandler
	StatsHandler   *handlers.StatsHandler
	EventHub       *handlers.TaskEventHub
	MemMonitor     *middleware.MemoryMonitor
	PromMetrics    *middleware.PrometheusMetrics
}

// SetupRouter 组装 HTTP 路由
func SetupRouter(cfg *config.Config, logger *logrus.Logger, deps RouterDeps) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	if deps.PromMetrics != nil {
		r.Use(deps.PromMetrics.HTTPMiddleware())
	}

	// 性能分析端点，仅在非生产模式开放
	if cfg.Server.Mode != "release" {
		middleware.RegisterPprof(r)
		logger.Info("pprof endpoints registered at /debug/pprof/*")
	}

	// 进程内存概况
	if deps.MemMonitor != nil {
		r.GET("/metrics", deps.MemMonitor.MetricsEndpoint())
	}

	// Prometheus 抓取端点
	if deps.PromMetrics != nil {
		r.GET("/metrics/prometheus", deps.PromMetrics.Handler())
	}

	// 任务状态推送
	if deps.EventHub != nil {
		r.GET("/ws/tasks/:task_id", deps.EventHub.HandleWebSocket)
	}

	v1 := r.Group("/api")
	{
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":  "ok",
				"version": "1.0.0",
			})
		})

		// 系统概况
		v1.GET("/stats", deps.StatsHandler.GetStats)

		// 检测任务
		v1.POST("/tasks", deps.TaskHandler.CreateTask)
		v1.GET("/tasks", deps.TaskHandler.ListTasks)
		v1.GET("/tasks/:id", deps.TaskHandler.GetTask)
		v1.GET("/tasks/:id/report", deps.TaskHandler.GetReport)

		// 指纹库管理
		v1.POST("/profiles", deps.ProfileHandler.UploadLibrary)
		v1.GET("/profiles", deps.ProfileHandler.ListProfiles)
		v1.GET("/profiles/lookup", deps.ProfileHandler.LookupProfile)
		v1.DELETE("/profiles/:id", deps.ProfileHandler.DeleteProfile)
	}

	return r
}

// LoggerMiddleware 请求日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)

		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": latency.Milliseconds(),
		}).Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
