package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/sdk-detect/sdk-detect-go/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileRepository 库指纹数据访问层
type ProfileRepository struct {
	db *gorm.DB
}

// NewProfileRepository 创建指纹仓库
func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Save 写入或覆盖一个库版本的指纹（同名同版本重建档时覆盖）
func (r *ProfileRepository) Save(ctx context.Context, profile *domain.LibraryProfile) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}, {Name: "version"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"category", "root_package", "multiple_roots", "class_count",
				"package_count", "fingerprint_json", "source_file", "source_sha256",
			}),
		}).
		Create(profile).Error
	if err != nil {
		return fmt.Errorf("failed to save library profile: %w", err)
	}
	return nil
}

// FindByNameVersion 按名称和版本查询
func (r *ProfileRepository) FindByNameVersion(ctx context.Context, name, version string) (*domain.LibraryProfile, error) {
	var profile domain.LibraryProfile
	err := r.db.WithContext(ctx).
		Where("name = ? AND version = ?", name, version).
		First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query library profile: %w", err)
	}
	return &profile, nil
}

// List 查询指纹列表（支持分页和过滤，不带指纹 JSON 本体）
func (r *ProfileRepository) List(ctx context.Context, page, limit int, category, search string) ([]domain.LibraryProfile, int64, error) {
	var profiles []domain.LibraryProfile
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.LibraryProfile{})

	if category != "" {
		query = query.Where("category = ?", category)
	}
	if search != "" {
		query = query.Where("name LIKE ?", "%"+search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count library profiles: %w", err)
	}

	offset := (page - 1) * limit
	if err := query.Omit("fingerprint_json").
		Order("name ASC, version ASC").
		Offset(offset).
		Limit(limit).
		Find(&profiles).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to query library profiles: %w", err)
	}

	return profiles, total, nil
}

// ListAll 加载全量指纹（含 JSON 本体），作为一次匹配批次的语料库快照
func (r *ProfileRepository) ListAll(ctx context.Context) ([]domain.LibraryProfile, error) {
	var profiles []domain.LibraryProfile
	if err := r.db.WithContext(ctx).
		Order("name ASC, version ASC").
		Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	return profiles, nil
}

// Delete 删除一个指纹
func (r *ProfileRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&domain.LibraryProfile{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete library profile: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("library profile %d not found", id)
	}
	return nil
}

// Count 语料库条目总数
func (r *ProfileRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.LibraryProfile{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to count library profiles: %w", err)
	}
	return total, nil
}
