package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sdk-detect/sdk-detect-go/internal/domain"
)

// TaskCounter 任务计数协作方
type TaskCounter interface {
	CountByStatus(ctx context.Context, status domain.TaskStatus) (int64, error)
}

// CorpusCounter 指纹库计数协作方
type CorpusCounter interface {
	Count(ctx context.Context) (int64, error)
}

// QueueInspector 队列深度查询协作方
type QueueInspector interface {
	GetQueueSize() (int, error)
}

// StatsHandler 系统概况接口
type StatsHandler struct {
	tasks    TaskCounter
	corpus   CorpusCounter
	producer QueueInspector
	logger   *logrus.Logger
}

// NewStatsHandler 创建系统概况处理器，producer 允许为 nil
func NewStatsHandler(tasks TaskCounter, corpus CorpusCounter, producer QueueInspector, logger *logrus.Logger) *StatsHandler {
	return &StatsHandler{
		tasks:    tasks,
		corpus:   corpus,
		producer: producer,
		logger:   logger,
	}
}

// GetStats 系统概况：任务状态分布、指纹库规模、队列深度
// GET /api/stats
func (h *StatsHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	statuses := []domain.TaskStatus{
		domain.TaskStatusQueued,
		domain.TaskStatusLoading,
		domain.TaskStatusMatching,
		domain.TaskStatusCompleted,
		domain.TaskStatusFailed,
		domain.TaskStatusSkipped,
	}

	taskStats := make(map[string]int64, len(statuses))
	for _, status := range statuses {
		count, err := h.tasks.CountByStatus(ctx, status)
		if err != nil {
			h.logger.WithError(err).Error("Failed to count tasks")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "failed to collect stats",
			})
			return
		}
		taskStats[string(status)] = count
	}

	corpusCount, err := h.corpus.Count(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to count profiles")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to collect stats",
		})
		return
	}

	resp := gin.H{
		"tasks":           taskStats,
		"corpus_profiles": corpusCount,
	}

	if h.producer != nil {
		if depth, err := h.producer.GetQueueSize(); err == nil {
			resp["queue_depth"] = depth
		} else {
			h.logger.WithError(err).Warn("Failed to inspect queue depth")
		}
	}

	c.JSON(http.StatusOK, resp)
}
