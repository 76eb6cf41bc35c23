package domain

import (
	"time"
)

type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusLoading   TaskStatus = "loading"
	TaskStatusMatching  TaskStatus = "matching"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// FailureType 失败类型
type FailureType string

const (
	FailureTypeNone             FailureType = ""                  // 无失败（成功或进行中）
	FailureTypeLoaderError      FailureType = "loader_error"      // 外部导出器失败（异常-环境问题）
	FailureTypeMalformedPath    FailureType = "malformed_path"    // 类包路径非法（警告-构件问题）
	FailureTypeEmptyFingerprint FailureType = "empty_fingerprint" // 构件无可用结构（正常-跳过）
	FailureTypeCorpusError      FailureType = "corpus_error"      // 语料库读取失败（异常-系统问题）
	FailureTypeTimeout          FailureType = "timeout"           // 任务执行超时（警告）
	FailureTypeUnknown          FailureType = "unknown"           // 未知错误（异常）
)

// FailureSeverity 失败严重程度
type FailureSeverity string

const (
	FailureSeverityNormal  FailureSeverity = "normal"  // 正常（预期内，无需处理）
	FailureSeverityWarning FailureSeverity = "warning" // 警告（需要关注）
	FailureSeverityError   FailureSeverity = "error"   // 错误（需要排查）
)

// GetSeverity 获取失败类型对应的严重程度
func (ft FailureType) GetSeverity() FailureSeverity {
	switch ft {
	case FailureTypeNone, FailureTypeEmptyFingerprint:
		return FailureSeverityNormal
	case FailureTypeMalformedPath, FailureTypeTimeout:
		return FailureSeverityWarning
	case FailureTypeLoaderError, FailureTypeCorpusError, FailureTypeUnknown:
		return FailureSeverityError
	default:
		return FailureSeverityError
	}
}

// GetMaxRetryCount 获取失败类型对应的最大重试次数
// 返回 0 表示不重试
func (ft FailureType) GetMaxRetryCount() int {
	switch ft {
	case FailureTypeNone, FailureTypeEmptyFingerprint, FailureTypeMalformedPath:
		return 0 // 构件本身的问题，重试无意义
	case FailureTypeLoaderError, FailureTypeCorpusError, FailureTypeTimeout:
		return 3 // 环境问题，可重试3次
	case FailureTypeUnknown:
		return 1
	default:
		return 1
	}
}

// CanRetry 检查失败类型是否可以重试
func (ft FailureType) CanRetry() bool {
	return ft.GetMaxRetryCount() > 0
}

// MatchTask 检测任务：一个待分析构件与语料库的一次比对
type MatchTask struct {
	ID           string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ArtifactName string      `gorm:"type:varchar(255);not null" json:"artifact_name"`
	ArtifactPath string      `gorm:"type:varchar(512)" json:"artifact_path,omitempty"`
	Status       TaskStatus  `gorm:"type:varchar(20);not null;default:'queued';index:idx_status" json:"status"`
	FailureType  FailureType `gorm:"type:varchar(30);default:''" json:"failure_type,omitempty"`
	ErrorMessage string      `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount   int         `gorm:"type:tinyint;default:0" json:"retry_count"`

	// 查询构件的结构概况
	ClassCount    int    `gorm:"default:0" json:"class_count"`
	PackageCount  int    `gorm:"default:0" json:"package_count"`
	RootPackage   string `gorm:"type:varchar(255)" json:"root_package,omitempty"`
	MultipleRoots bool   `gorm:"default:false" json:"multiple_roots"`

	// 匹配概况
	LibrariesMatched int `gorm:"default:0" json:"libraries_matched"`

	// 性能指标
	LoadDurationMs  int `gorm:"type:int" json:"load_duration_ms,omitempty"`
	MatchDurationMs int `gorm:"type:int" json:"match_duration_ms,omitempty"`

	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (MatchTask) TableName() string {
	return "match_tasks"
}
