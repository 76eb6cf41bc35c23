package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sdk-detect/sdk-detect-go/internal/domain"
	"github.com/sdk-detect/sdk-detect-go/internal/fingerprint"
	"github.com/sirupsen/logrus"
)

// TaskStore 任务持久化协作方
type TaskStore interface {
	Create(ctx context.Context, task *domain.MatchTask) error
	Update(ctx context.Context, task *domain.MatchTask) error
	FindByID(ctx context.Context, id string) (*domain.MatchTask, error)
	UpdateStatus(ctx context.Context, id string, status domain.TaskStatus) error
	MarkFailed(ctx context.Context, id string, failureType domain.FailureType, message string) error
}

// MatchStore 命中记录持久化协作方
type MatchStore interface {
	ReplaceForTask(ctx context.Context, taskID string, matches []domain.LibraryMatch) error
	FindByTaskID(ctx context.Context, taskID string) ([]domain.LibraryMatch, error)
}

// MatchService 检测流程：应用构件 -> 指纹 -> 与语料库比对 -> 命中记录
type MatchService struct {
	loader   ClassLoader
	profiles ProfileStore
	tasks    TaskStore
	matches  MatchStore
	matcher  *fingerprint.Matcher
	logger   *logrus.Logger
}

// NewMatchService 创建检测服务
func NewMatchService(classLoader ClassLoader, profiles ProfileStore, tasks TaskStore, matches MatchStore, cfg fingerprint.MatchConfig, logger *logrus.Logger) *MatchService {
	return &MatchService{
		loader:   classLoader,
		profiles: profiles,
		tasks:    tasks,
		matches:  matches,
		matcher:  fingerprint.NewMatcher(cfg),
		logger:   logger,
	}
}

// CreateTask 登记一个检测任务
func (s *MatchService) CreateTask(ctx context.Context, artifactName, artifactPath string) (*domain.MatchTask, error) {
	task := &domain.MatchTask{
		ID:           uuid.New().String(),
		ArtifactName: artifactName,
		ArtifactPath: artifactPath,
		Status:       domain.TaskStatusQueued,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"artifact": artifactName,
	}).Info("Match task created")

	return task, nil
}

// GetTask 查询任务
func (s *MatchService) GetTask(ctx context.Context, id string) (*domain.MatchTask, error) {
	return s.tasks.FindByID(ctx, id)
}

// GetReport 查询任务的命中记录
func (s *MatchService) GetReport(ctx context.Context, taskID string) ([]domain.LibraryMatch, error) {
	return s.matches.FindByTaskID(ctx, taskID)
}

// ExecuteMatch 执行一次检测。任务状态、失败类型都在这里落库；
// 返回错误表示任务未能完成（含可重试的环境错误）。
func (s *MatchService) ExecuteMatch(ctx context.Context, taskID, artifactPath string) error {
	if err := s.tasks.UpdateStatus(ctx, taskID, domain.TaskStatusLoading); err != nil {
		return err
	}

	loadStart := time.Now()
	classes, _, err := s.loader.Load(ctx, artifactPath)
	if err != nil {
		s.failTask(ctx, taskID, domain.FailureTypeLoaderError, err)
		return err
	}
	loadDuration := time.Since(loadStart)

	query, err := fingerprint.NewFingerprint(fingerprint.LibraryInfo{}, classes)
	if err != nil {
		s.failTask(ctx, taskID, classifyFingerprintError(err), err)
		return err
	}

	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil || task == nil {
		return errors.New("task vanished during execution")
	}
	task.Status = domain.TaskStatusMatching
	task.ClassCount = query.ClassCount()
	task.PackageCount = query.PackageTree.PackageCount()
	task.RootPackage = query.PackageTree.RootPackage()
	task.MultipleRoots = query.PackageTree.HasMultipleRoots()
	task.LoadDurationMs = int(loadDuration.Milliseconds())
	if err := s.tasks.Update(ctx, task); err != nil {
		return err
	}

	matchStart := time.Now()
	corpus, err := s.loadCorpus(ctx)
	if err != nil {
		s.failTask(ctx, taskID, domain.FailureTypeCorpusError, err)
		return err
	}

	results := s.matcher.Match(query, corpus)

	rows := make([]domain.LibraryMatch, 0, len(results))
	for i, m := range results {
		rows = append(rows, domain.LibraryMatch{
			TaskID:         taskID,
			LibraryName:    m.Library.Name,
			LibraryVersion: m.Library.Version,
			Category:       m.Library.Category,
			Score:          m.Score,
			PathScore:      m.PathScore,
			MatchedClasses: m.MatchedClasses,
			Method:         string(m.Method),
			Rank:           i + 1,
			CreatedAt:      time.Now().UTC(),
		})
	}
	if err := s.matches.ReplaceForTask(ctx, taskID, rows); err != nil {
		s.failTask(ctx, taskID, domain.FailureTypeCorpusError, err)
		return err
	}

	task.Status = domain.TaskStatusCompleted
	task.LibrariesMatched = len(rows)
	task.MatchDurationMs = int(time.Since(matchStart).Milliseconds())
	now := time.Now().UTC()
	task.CompletedAt = &now
	if err := s.tasks.Update(ctx, task); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"task_id":       taskID,
		"classes":       task.ClassCount,
		"corpus_size":   len(corpus),
		"libraries_hit": len(rows),
		"match_ms":      task.MatchDurationMs,
	}).Info("Match task completed")

	return nil
}

// loadCorpus 加载语料库快照。单个条目解码失败只告警跳过，
// 该条目在本次比对中视为不存在。
func (s *MatchService) loadCorpus(ctx context.Context) ([]*fingerprint.Fingerprint, error) {
	profiles, err := s.profiles.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	corpus := make([]*fingerprint.Fingerprint, 0, len(profiles))
	for _, p := range profiles {
		fp, err := fingerprint.DecodeFingerprint([]byte(p.FingerprintJSON))
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"library": p.Name,
				"version": p.Version,
			}).Warn("Skipping undecodable corpus entry")
			continue
		}
		corpus = append(corpus, fp)
	}
	return corpus, nil
}

// failTask 落库失败状态，落库本身的错误只记日志
func (s *MatchService) failTask(ctx context.Context, taskID string, failureType domain.FailureType, cause error) {
	if err := s.tasks.MarkFailed(ctx, taskID, failureType, cause.Error()); err != nil {
		s.logger.WithError(err).WithField("task_id", taskID).Error("Failed to record task failure")
	}
}

// classifyFingerprintError 指纹构建错误到失败类型的映射
func classifyFingerprintError(err error) domain.FailureType {
	var pathErr *fingerprint.MalformedPathError
	switch {
	case errors.Is(err, fingerprint.ErrEmptyFingerprint):
		return domain.FailureTypeEmptyFingerprint
	case errors.As(err, &pathErr):
		return domain.FailureTypeMalformedPath
	default:
		return domain.FailureTypeUnknown
	}
}
