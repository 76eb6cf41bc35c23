package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sdk-detect/sdk-detect-go/internal/domain"
	"github.com/sdk-detect/sdk-detect-go/internal/fingerprint"
	"github.com/sdk-detect/sdk-detect-go/internal/loader"
	"github.com/sdk-detect/sdk-detect-go/internal/queue"
	"github.com/sdk-detect/sdk-detect-go/internal/service"
)

type mockTaskStore struct {
	mock.Mock
}

func (m *mockTaskStore) Create(ctx context.Context, task *domain.MatchTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *mockTaskStore) Update(ctx context.Context, task *domain.MatchTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *mockTaskStore) FindByID(ctx context.Context, id string) (*domain.MatchTask, error) {
	args := m.Called(ctx, id)
	if task := args.Get(0); task != nil {
		return task.(*domain.MatchTask), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTaskStore) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *mockTaskStore) MarkFailed(ctx context.Context, id string, failureType domain.FailureType, message string) error {
	args := m.Called(ctx, id, failureType, message)
	return args.Error(0)
}

type mockMatchStore struct {
	mock.Mock
}

func (m *mockMatchStore) ReplaceForTask(ctx context.Context, taskID string, matches []domain.LibraryMatch) error {
	args := m.Called(ctx, taskID, matches)
	return args.Error(0)
}

func (m *mockMatchStore) FindByTaskID(ctx context.Context, taskID string) ([]domain.LibraryMatch, error) {
	args := m.Called(ctx, taskID)
	if matches := args.Get(0); matches != nil {
		return matches.([]domain.LibraryMatch), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockProfileStore struct {
	mock.Mock
}

func (m *mockProfileStore) Save(ctx context.Context, profile *domain.LibraryProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *mockProfileStore) ListAll(ctx context.Context) ([]domain.LibraryProfile, error) {
	args := m.Called(ctx)
	if profiles := args.Get(0); profiles != nil {
		return profiles.([]domain.LibraryProfile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProfileStore) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockClassLoader struct {
	mock.Mock
}

func (m *mockClassLoader) Load(ctx context.Context, artifactPath string) ([]*fingerprint.ClassDescriptor, *loader.HierarchyStats, error) {
	args := m.Called(ctx, artifactPath)
	if descs := args.Get(0); descs != nil {
		return descs.([]*fingerprint.ClassDescriptor), args.Get(1).(*loader.HierarchyStats), args.Error(2)
	}
	return nil, nil, args.Error(2)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishTask(ctx context.Context, msg *queue.TaskMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type mockLister struct {
	mock.Mock
}

func (m *mockLister) ListRecent(ctx context.Context, limit int) ([]*domain.MatchTask, error) {
	args := m.Called(ctx, limit)
	if tasks := args.Get(0); tasks != nil {
		return tasks.([]*domain.MatchTask), args.Error(1)
	}
	return nil, args.Error(1)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestTaskHandler(taskStore *mockTaskStore, matchStore *mockMatchStore, publisher *mockPublisher, lister *mockLister) *TaskHandler {
	logger := testLogger()
	matchService := service.NewMatchService(
		new(mockClassLoader), new(mockProfileStore), taskStore, matchStore,
		fingerprint.DefaultMatchConfig(), logger,
	)
	return NewTaskHandler(matchService, publisher, lister, nil, nil, logger)
}

func setupTaskRouter(h *TaskHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/tasks", h.CreateTask)
	r.GET("/api/tasks", h.ListTasks)
	r.GET("/api/tasks/:id", h.GetTask)
	r.GET("/api/tasks/:id/report", h.GetReport)
	return r
}

// TestCreateTask_PublishesToQueue 建任务后投递消息
func TestCreateTask_PublishesToQueue(t *testing.T) {
	taskStore := new(mockTaskStore)
	publisher := new(mockPublisher)
	h := newTestTaskHandler(taskStore, new(mockMatchStore), publisher, new(mockLister))

	taskStore.On("Create", mock.Anything, mock.AnythingOfType("*domain.MatchTask")).Return(nil)
	publisher.On("PublishTask", mock.Anything, mock.MatchedBy(func(msg *queue.TaskMessage) bool {
		return msg.ArtifactPath == "/artifacts/app.apk" && msg.TaskID != ""
	})).Return(nil)

	body, _ := json.Marshal(map[string]string{
		"artifact_name": "app.apk",
		"artifact_path": "/artifacts/app.apk",
	})
	req := httptest.NewRequest("POST", "/api/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	setupTaskRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["task"]["status"])
	assert.NotEmpty(t, resp["task"]["id"])

	taskStore.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

// TestCreateTask_MissingPath 缺少 artifact_path 返回 400
func TestCreateTask_MissingPath(t *testing.T) {
	h := newTestTaskHandler(new(mockTaskStore), new(mockMatchStore), new(mockPublisher), new(mockLister))

	req := httptest.NewRequest("POST", "/api/tasks", bytes.NewReader([]byte(`{"artifact_name":"x"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	setupTaskRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestGetTask_NotFound 不存在的任务返回 404
func TestGetTask_NotFound(t *testing.T) {
	taskStore := new(mockTaskStore)
	taskStore.On("FindByID", mock.Anything, "missing").Return(nil, nil)

	h := newTestTaskHandler(taskStore, new(mockMatchStore), new(mockPublisher), new(mockLister))

	req := httptest.NewRequest("GET", "/api/tasks/missing", nil)
	w := httptest.NewRecorder()
	setupTaskRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestGetReport_ReturnsRankedMatches 报告携带任务与命中记录
func TestGetReport_ReturnsRankedMatches(t *testing.T) {
	now := time.Now()
	task := &domain.MatchTask{
		ID:               "task-1",
		ArtifactName:     "app.apk",
		Status:           domain.TaskStatusCompleted,
		LibrariesMatched: 2,
		CreatedAt:        now,
	}

	taskStore := new(mockTaskStore)
	taskStore.On("FindByID", mock.Anything, "task-1").Return(task, nil)

	matchStore := new(mockMatchStore)
	matchStore.On("FindByTaskID", mock.Anything, "task-1").Return([]domain.LibraryMatch{
		{TaskID: "task-1", LibraryName: "okhttp", LibraryVersion: "4.9.0", Score: 1.0, Method: "exact", Rank: 1},
		{TaskID: "task-1", LibraryName: "gson", LibraryVersion: "2.8.6", Score: 0.72, Method: "partial", Rank: 2},
	}, nil)

	h := newTestTaskHandler(taskStore, matchStore, new(mockPublisher), new(mockLister))

	req := httptest.NewRequest("GET", "/api/tasks/task-1/report", nil)
	w := httptest.NewRecorder()
	setupTaskRouter(h).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Matches []map[string]interface{} `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "okhttp", resp.Matches[0]["library_name"])
	assert.Equal(t, float64(1), resp.Matches[0]["score"])
	assert.Equal(t, "partial", resp.Matches[1]["method"])
}

// TestListTasks 最近任务列表
func TestListTasks(t *testing.T) {
	lister := new(mockLister)
	lister.On("ListRecent", mock.Anything, 50).Return([]*domain.MatchTask{
		{ID: "a", Status: domain.TaskStatusCompleted, CreatedAt: time.Now()},
		{ID: "b", Status: domain.TaskStatusQueued, CreatedAt: time.Now()},
	}, nil)

	h := newTestTaskHandler(new(mockTaskStore), new(mockMatchStore), new(mockPublisher), lister)

	req := httptest.NewRequest("GET", "/api/tasks", nil)
	w := httptest.NewRecorder()
	setupTaskRouter(h).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Tasks []map[string]interface{} `json:"tasks"`
		Total int                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
}

// TestGetStats 系统概况聚合各状态计数
func TestGetStats(t *testing.T) {
	counter := new(mockStatusCounter)
	for _, status := range []domain.TaskStatus{
		domain.TaskStatusQueued, domain.TaskStatusLoading, domain.TaskStatusMatching,
		domain.TaskStatusCompleted, domain.TaskStatusFailed, domain.TaskStatusSkipped,
	} {
		counter.On("CountByStatus", mock.Anything, status).Return(int64(3), nil)
	}

	profileStore := new(mockProfileStore)
	profileStore.On("Count", mock.Anything).Return(int64(42), nil)

	h := NewStatsHandler(counter, profileStore, nil, testLogger())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/stats", h.GetStats)

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Tasks          map[string]int64 `json:"tasks"`
		CorpusProfiles int64            `json:"corpus_profiles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.CorpusProfiles)
	assert.Equal(t, int64(3), resp.Tasks["completed"])
}

type mockStatusCounter struct {
	mock.Mock
}

func (m *mockStatusCounter) CountByStatus(ctx context.Context, status domain.TaskStatus) (int64, error) {
	args := m.Called(ctx, status)
	return args.Get(0).(int64), args.Error(1)
}
