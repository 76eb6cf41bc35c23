package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sdk-detect/sdk-detect-go/internal/domain"
	"github.com/sdk-detect/sdk-detect-go/internal/middleware"
	"github.com/sdk-detect/sdk-detect-go/internal/queue"
	"github.com/sdk-detect/sdk-detect-go/internal/service"
)

// TaskPublisher 任务投递协作方
type TaskPublisher interface {
	PublishTask(ctx context.Context, msg *queue.TaskMessage) error
}

// TaskLister 任务列表查询协作方
type TaskLister interface {
	ListRecent(ctx context.Context, limit int) ([]*domain.MatchTask, error)
}

// TaskHandler 检测任务接口
type TaskHandler struct {
	matchService *service.MatchService
	producer     TaskPublisher
	tasks        TaskLister
	metrics      *middleware.PrometheusMetrics
	hub          *TaskEventHub
	logger       *logrus.Logger
}

// NewTaskHandler 创建任务接口处理器，metrics 与 hub 允许为 nil
func NewTaskHandler(matchService *service.MatchService, producer TaskPublisher, tasks TaskLister, metrics *middleware.PrometheusMetrics, hub *TaskEventHub, logger *logrus.Logger) *TaskHandler {
	return &TaskHandler{
		matchService: matchService,
		producer:     producer,
		tasks:        tasks,
		metrics:      metrics,
		hub:          hub,
		logger:       logger,
	}
}

type createTaskRequest struct {
	ArtifactName string `json:"artifact_name"`
	ArtifactPath string `json:"artifact_path" binding:"required"`
}

// CreateTask 登记检测任务并投递到队列
// POST /api/tasks
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "artifact_path is required",
		})
		return
	}

	task, err := h.matchService.CreateTask(c.Request.Context(), req.ArtifactName, req.ArtifactPath)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create match task")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to create task",
		})
		return
	}

	msg := &queue.TaskMessage{
		TaskID:       task.ID,
		ArtifactName: task.ArtifactName,
		ArtifactPath: task.ArtifactPath,
	}
	if err := h.producer.PublishTask(c.Request.Context(), msg); err != nil {
		h.logger.WithError(err).WithField("task_id", task.ID).Error("Failed to publish task")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "task created but could not be queued",
			"task_id": task.ID,
		})
		return
	}

	if h.metrics != nil {
		h.metrics.RecordTaskCreated()
	}
	if h.hub != nil {
		h.hub.NotifyTaskUpdate(task.ID, task.Status, 0)
	}

	c.JSON(http.StatusCreated, gin.H{
		"task": taskToResponse(task),
	})
}

// GetTask 查询任务
// GET /api/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID := c.Param("id")

	task, err := h.matchService.GetTask(c.Request.Context(), taskID)
	if err != nil {
		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to load task")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to load task",
		})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "task not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task": taskToResponse(task),
	})
}

// GetReport 查询任务的检测报告
// GET /api/tasks/:id/report
func (h *TaskHandler) GetReport(c *gin.Context) {
	taskID := c.Param("id")

	task, err := h.matchService.GetTask(c.Request.Context(), taskID)
	if err != nil {
		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to load task")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to load task",
		})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "task not found",
		})
		return
	}

	matches, err := h.matchService.GetReport(c.Request.Context(), taskID)
	if err != nil {
		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to load match report")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to load report",
		})
		return
	}

	matchList := make([]gin.H, len(matches))
	for i, m := range matches {
		matchList[i] = gin.H{
			"rank":            m.Rank,
			"library_name":    m.LibraryName,
			"library_version": m.LibraryVersion,
			"category":        m.Category,
			"score":           m.Score,
			"path_score":      m.PathScore,
			"matched_classes": m.MatchedClasses,
			"method":          m.Method,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"task":    taskToResponse(task),
		"matches": matchList,
	})
}

// ListTasks 查询最近任务
// GET /api/tasks?limit=50
func (h *TaskHandler) ListTasks(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	tasks, err := h.tasks.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list tasks")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list tasks",
		})
		return
	}

	taskList := make([]gin.H, len(tasks))
	for i, task := range tasks {
		taskList[i] = taskToResponse(task)
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": taskList,
		"total": len(taskList),
	})
}

// taskToResponse 任务响应格式
func taskToResponse(task *domain.MatchTask) gin.H {
	resp := gin.H{
		"id":                task.ID,
		"artifact_name":     task.ArtifactName,
		"artifact_path":     task.ArtifactPath,
		"status":            task.Status,
		"retry_count":       task.RetryCount,
		"class_count":       task.ClassCount,
		"package_count":     task.PackageCount,
		"root_package":      task.RootPackage,
		"multiple_roots":    task.MultipleRoots,
		"libraries_matched": task.LibrariesMatched,
		"load_duration_ms":  task.LoadDurationMs,
		"match_duration_ms": task.MatchDurationMs,
		"created_at":        task.CreatedAt.Format(time.RFC3339),
	}
	if task.FailureType != domain.FailureTypeNone {
		resp["failure_type"] = task.FailureType
		resp["error_message"] = task.ErrorMessage
	}
	if task.StartedAt != nil {
		resp["started_at"] = task.StartedAt.Format(time.RFC3339)
	}
	if task.CompletedAt != nil {
		resp["completed_at"] = task.CompletedAt.Format(time.RFC3339)
	}
	return resp
}
