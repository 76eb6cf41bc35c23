package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sdk-detect/sdk-detect-go/internal/domain"
	"github.com/sdk-detect/sdk-detect-go/internal/fingerprint"
	"github.com/sdk-detect/sdk-detect-go/internal/queue"
	"github.com/sdk-detect/sdk-detect-go/internal/service"
	"github.com/sirupsen/logrus"
)

// TaskQueue 任务重新入队协作方
type TaskQueue interface {
	PublishTask(ctx context.Context, msg *queue.TaskMessage) error
}

// TaskRepo 编排器需要的任务状态访问
type TaskRepo interface {
	FindByID(ctx context.Context, id string) (*domain.MatchTask, error)
	IncrementRetry(ctx context.Context, id string) error
}

// StatusNotifier 任务状态变化通知，供 WebSocket 推送等订阅方使用
type StatusNotifier interface {
	NotifyTaskUpdate(taskID string, status domain.TaskStatus, librariesMatched int)
}

// Orchestrator 检测任务编排器：执行、失败分类与重试派发
type Orchestrator struct {
	matchService *service.MatchService
	taskRepo     TaskRepo
	producer     TaskQueue
	notifier     StatusNotifier
	logger       *logrus.Logger
}

// NewOrchestrator 创建编排器
func NewOrchestrator(matchService *service.MatchService, taskRepo TaskRepo, producer TaskQueue, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		matchService: matchService,
		taskRepo:     taskRepo,
		producer:     producer,
		logger:       logger,
	}
}

// SetNotifier 挂接任务状态订阅方，nil 表示不推送
func (o *Orchestrator) SetNotifier(n StatusNotifier) {
	o.notifier = n
}

// ExecuteTask 执行一个检测任务
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID, artifactPath string) error {
	err := o.matchService.ExecuteMatch(ctx, taskID, artifactPath)
	if err == nil {
		o.notifyCurrentState(ctx, taskID)
		return nil
	}
	return o.handleFailure(ctx, taskID, artifactPath, err)
}

// notifyCurrentState 按数据库中的最终状态推送通知
func (o *Orchestrator) notifyCurrentState(ctx context.Context, taskID string) {
	if o.notifier == nil {
		return
	}
	task, err := o.taskRepo.FindByID(ctx, taskID)
	if err != nil || task == nil {
		return
	}
	o.notifier.NotifyTaskUpdate(task.ID, task.Status, task.LibrariesMatched)
}

// handleFailure 失败分类：可重试的环境错误重新入队，其余落为最终状态
func (o *Orchestrator) handleFailure(ctx context.Context, taskID, artifactPath string, cause error) error {
	task, findErr := o.taskRepo.FindByID(ctx, taskID)
	if findErr != nil || task == nil {
		o.logger.WithError(findErr).WithField("task_id", taskID).Warn("Failed to load task for retry decision")
		return cause
	}

	// 服务层已把失败类型落库，这里只在缺失时兜底分类
	failureType := task.FailureType
	if failureType == domain.FailureTypeNone {
		failureType = classifyError(cause)
	}

	maxRetry := failureType.GetMaxRetryCount()
	if !failureType.CanRetry() || task.RetryCount >= maxRetry {
		o.logger.WithFields(logrus.Fields{
			"task_id":          taskID,
			"failure_type":     failureType,
			"failure_severity": failureType.GetSeverity(),
			"retry_count":      task.RetryCount,
			"max_retry":        maxRetry,
			"error":            cause.Error(),
		}).Error("Task failed (no more retries)")
		if o.notifier != nil {
			o.notifier.NotifyTaskUpdate(task.ID, task.Status, task.LibrariesMatched)
		}
		return cause
	}

	if err := o.taskRepo.IncrementRetry(ctx, taskID); err != nil {
		o.logger.WithError(err).WithField("task_id", taskID).Error("Failed to reset task for retry")
		return cause
	}

	if o.producer != nil {
		msg := &queue.TaskMessage{TaskID: taskID, ArtifactName: task.ArtifactName, ArtifactPath: artifactPath}
		if err := o.producer.PublishTask(ctx, msg); err != nil {
			o.logger.WithError(err).WithField("task_id", taskID).Error("Failed to re-publish task")
			return cause
		}
	}

	if o.notifier != nil {
		o.notifier.NotifyTaskUpdate(taskID, domain.TaskStatusQueued, 0)
	}

	return &RetryableError{
		TaskID:      taskID,
		RetryCount:  task.RetryCount + 1,
		MaxRetry:    maxRetry,
		OriginalErr: cause,
	}
}

// classifyError 错误到失败类型的映射
func classifyError(err error) domain.FailureType {
	var pathErr *fingerprint.MalformedPathError
	switch {
	case errors.Is(err, fingerprint.ErrEmptyFingerprint):
		return domain.FailureTypeEmptyFingerprint
	case errors.As(err, &pathErr):
		return domain.FailureTypeMalformedPath
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureTypeTimeout
	default:
		return domain.FailureTypeUnknown
	}
}

// RetryableError 可重试错误（用于通知 worker pool 任务已重新入队）
type RetryableError struct {
	TaskID      string
	RetryCount  int
	MaxRetry    int
	OriginalErr error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("task %s failed (retry %d/%d): %v", e.TaskID, e.RetryCount, e.MaxRetry, e.OriginalErr)
}

// IsRetryableError 检查错误是否为可重试错误
func IsRetryableError(err error) (*RetryableError, bool) {
	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return retryErr, true
	}
	return nil, false
}
