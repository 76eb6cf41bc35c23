package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sdk-detect/sdk-detect-go/internal/domain"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TaskRepository 检测任务数据访问层
type TaskRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewTaskRepository 创建任务仓库
func NewTaskRepository(db *gorm.DB, logger *logrus.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

// Create 创建任务
func (r *TaskRepository) Create(ctx context.Context, task *domain.MatchTask) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Update 更新任务
func (r *TaskRepository) Update(ctx context.Context, task *domain.MatchTask) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// FindByID 按 ID 查询任务
func (r *TaskRepository) FindByID(ctx context.Context, id string) (*domain.MatchTask, error) {
	var task domain.MatchTask
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return &task, nil
}

// ListRecent 最近任务
func (r *TaskRepository) ListRecent(ctx context.Context, limit int) ([]*domain.MatchTask, error) {
	var tasks []*domain.MatchTask
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// UpdateStatus 更新任务状态
func (r *TaskRepository) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	updates := map[string]interface{}{"status": status}
	switch status {
	case domain.TaskStatusLoading:
		now := time.Now().UTC()
		updates["started_at"] = &now
	case domain.TaskStatusCompleted, domain.TaskStatusFailed, domain.TaskStatusSkipped:
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}

	if err := r.db.WithContext(ctx).
		Model(&domain.MatchTask{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

// MarkFailed 记录任务失败及失败类型
func (r *TaskRepository) MarkFailed(ctx context.Context, id string, failureType domain.FailureType, message string) error {
	now := time.Now().UTC()
	status := domain.TaskStatusFailed
	if failureType == domain.FailureTypeEmptyFingerprint {
		// 无结构数据属于跳过而非失败
		status = domain.TaskStatusSkipped
	}

	if err := r.db.WithContext(ctx).
		Model(&domain.MatchTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"failure_type":  failureType,
			"error_message": message,
			"completed_at":  &now,
		}).Error; err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return nil
}

// IncrementRetry 重试计数加一并重置为排队状态
func (r *TaskRepository) IncrementRetry(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).
		Model(&domain.MatchTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"status":        domain.TaskStatusQueued,
			"failure_type":  "",
			"error_message": "",
		}).Error; err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	return nil
}

// FindByStatus 按状态查询任务
func (r *TaskRepository) FindByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.MatchTask, error) {
	var tasks []*domain.MatchTask
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to query tasks by status: %w", err)
	}
	return tasks, nil
}

// CountByStatus 按状态统计任务数
func (r *TaskRepository) CountByStatus(ctx context.Context, status domain.TaskStatus) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&domain.MatchTask{}).
		Where("status = ?", status).
		Count(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return total, nil
}

// ResetStuckTasks 服务重启后把中断的任务重置回队列
func (r *TaskRepository) ResetStuckTasks(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.MatchTask{}).
		Where("status IN ?", []domain.TaskStatus{domain.TaskStatusLoading, domain.TaskStatusMatching}).
		Updates(map[string]interface{}{"status": domain.TaskStatusQueued})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset stuck tasks: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		r.logger.WithField("count", result.RowsAffected).Warn("Reset stuck tasks back to queued")
	}
	return result.RowsAffected, nil
}
