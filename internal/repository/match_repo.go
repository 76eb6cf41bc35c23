package repository

import (
	"context"
	"fmt"

	"github.com/sdk-detect/sdk-detect-go/internal/domain"
	"gorm.io/gorm"
)

// MatchRepository 命中记录数据访问层
type MatchRepository struct {
	db *gorm.DB
}

// NewMatchRepository 创建命中记录仓库
func NewMatchRepository(db *gorm.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// ReplaceForTask 原子地替换一个任务的全部命中记录（重跑任务时旧结果不残留）
func (r *MatchRepository) ReplaceForTask(ctx context.Context, taskID string, matches []domain.LibraryMatch) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Delete(&domain.LibraryMatch{}).Error; err != nil {
			return fmt.Errorf("failed to clear previous matches: %w", err)
		}
		if len(matches) == 0 {
			return nil
		}
		if err := tx.Create(&matches).Error; err != nil {
			return fmt.Errorf("failed to save matches: %w", err)
		}
		return nil
	})
}

// FindByTaskID 查询一个任务的全部命中，按名次排序
func (r *MatchRepository) FindByTaskID(ctx context.Context, taskID string) ([]domain.LibraryMatch, error) {
	var matches []domain.LibraryMatch
	if err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("rank ASC").
		Find(&matches).Error; err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	return matches, nil
}

// CountByLibrary 统计某个库被检出的次数
func (r *MatchRepository) CountByLibrary(ctx context.Context, name, version string) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&domain.LibraryMatch{}).
		Where("library_name = ? AND library_version = ?", name, version).
		Count(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to count matches: %w", err)
	}
	return total, nil
}
