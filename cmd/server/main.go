package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/sdk-detect/sdk-detect-go/internal/api"
	"github.com/sdk-detect/sdk-detect-go/internal/api/handlers"
	"github.com/sdk-detect/sdk-detect-go/internal/config"
	"github.com/sdk-detect/sdk-detect-go/internal/domain"
	"github.com/sdk-detect/sdk-detect-go/internal/fingerprint"
	"github.com/sdk-detect/sdk-detect-go/internal/loader"
	"github.com/sdk-detect/sdk-detect-go/internal/middleware"
	"github.com/sdk-detect/sdk-detect-go/internal/queue"
	"github.com/sdk-detect/sdk-detect-go/internal/repository"
	"github.com/sdk-detect/sdk-detect-go/internal/retry"
	"github.com/sdk-detect/sdk-detect-go/internal/service"
	"github.com/sdk-detect/sdk-detect-go/internal/watcher"
	"github.com/sdk-detect/sdk-detect-go/internal/worker"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	fmt.Printf("SDK Detect - Library Fingerprint Service\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	configPath := "./configs/config.yaml"
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting SDK Detect %s", Version)
	logger.Infof("Config loaded from: %s", configPath)

	// 数据库连接带重试，容忍依赖服务慢启动
	startupRetry := retry.DefaultConfig()
	startupRetry.MaxAttempts = 5
	startupRetry.InitialInterval = 2 * time.Second
	startupRetry.Logger = logger

	db, err := retry.DoWithResult(context.Background(), startupRetry, func(ctx context.Context) (*gorm.DB, error) {
		return repository.InitDB(&cfg.Database, cfg.DataDir, logger)
	})
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.Info("Database connected")

	taskRepo := repository.NewTaskRepository(db, logger)
	profileRepo := repository.NewProfileRepository(db)
	matchRepo := repository.NewMatchRepository(db)

	// 清理因服务重启而中断的任务
	if reset, err := taskRepo.ResetStuckTasks(context.Background()); err != nil {
		logger.WithError(err).Warn("Failed to reset stuck tasks")
	} else if reset > 0 {
		logger.WithField("count", reset).Info("Stuck tasks re-queued after restart")
	}

	// RabbitMQ，prefetch 与 worker 数量一致
	workerCount := cfg.Worker.Concurrency
	if workerCount <= 0 {
		workerCount = 1
	}
	brokerCfg := &queue.BrokerConfig{
		Host:     cfg.RabbitMQ.Host,
		Port:     cfg.RabbitMQ.Port,
		User:     cfg.RabbitMQ.User,
		Password: cfg.RabbitMQ.Password,
		VHost:    cfg.RabbitMQ.VHost,
	}
	broker, err := retry.DoWithResult(context.Background(), startupRetry, func(ctx context.Context) (*queue.Broker, error) {
		return queue.NewBroker(brokerCfg, cfg.RabbitMQ.Queue, workerCount, logger)
	})
	if err != nil {
		logger.Fatalf("Failed to init RabbitMQ: %v", err)
	}
	defer broker.Close()

	// 类层级加载器
	classLoader := loader.NewLoader(&loader.Config{
		DumperPath:   cfg.Loader.DumperPath,
		DumperScript: cfg.Loader.DumperScript,
		Timeout:      time.Duration(cfg.Loader.Timeout) * time.Second,
	}, logger)

	matchCfg := fingerprint.MatchConfig{
		MinScore:  cfg.Matching.MinScore,
		PathAware: cfg.Matching.PathAware,
	}
	profileService := service.NewProfileService(classLoader, profileRepo, logger)
	matchService := service.NewMatchService(classLoader, profileRepo, taskRepo, matchRepo, matchCfg, logger)

	// 任务状态 WebSocket 推送
	eventHub := handlers.NewTaskEventHub(logger)
	eventHub.Start()
	defer eventHub.Stop()

	// 消息生产者
	producer := queue.NewProducer(broker, logger)

	// 编排器与 worker 池
	orchestrator := worker.NewOrchestrator(matchService, taskRepo, producer, logger)
	orchestrator.SetNotifier(eventHub)

	workerPool := worker.NewPool(workerCount, cfg.Worker.QueueSize, orchestrator, logger)
	workerPool.Start(context.Background())
	defer workerPool.Stop()
	logger.Infof("Worker pool started with %d workers", workerCount)

	// 内存监控与 Prometheus 指标
	memMonitor := middleware.NewMemoryMonitor(logger, 30*time.Second)
	memMonitor.Start()
	defer memMonitor.Stop()

	promMetrics := middleware.NewPrometheusMetrics(logger, "sdk_detect")

	// 服务重启后以数据库为准重建队列
	if err := republishQueuedTasks(taskRepo, broker, producer, logger); err != nil {
		logger.WithError(err).Warn("Failed to republish queued tasks")
	}

	// 队列消费者
	consumer := queue.NewConsumer(broker, createTaskHandler(workerPool, matchService, promMetrics, logger), workerCount, logger)
	if err := consumer.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start consumer: %v", err)
	}
	defer consumer.Stop()

	// 指标采集循环
	go runMetricsLoop(db, memMonitor, promMetrics, workerPool, consumer, producer, profileRepo, workerCount, logger)

	// 库收件目录：.jar/.aar 自动建档
	libraryWatcher, err := watcher.NewFileWatcher(cfg.LibraryDir, []string{".jar", ".aar"},
		createLibraryHandler(profileService, promMetrics, logger), logger)
	if err != nil {
		logger.Fatalf("Failed to create library watcher: %v", err)
	}
	defer libraryWatcher.Stop()
	if err := libraryWatcher.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start library watcher: %v", err)
	}
	logger.Infof("Library watcher started for directory: %s", cfg.LibraryDir)

	// 应用收件目录：构件落地即建任务
	artifactWatcher, err := watcher.NewFileWatcher(cfg.ArtifactDir, []string{".apk", ".jar", ".aar", ".dex"},
		createArtifactHandler(matchService, producer, promMetrics, logger), logger)
	if err != nil {
		logger.Fatalf("Failed to create artifact watcher: %v", err)
	}
	defer artifactWatcher.Stop()
	if err := artifactWatcher.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start artifact watcher: %v", err)
	}
	logger.Infof("Artifact watcher started for directory: %s", cfg.ArtifactDir)

	// HTTP 服务
	taskHandler := handlers.NewTaskHandler(matchService, producer, taskRepo, promMetrics, eventHub, logger)
	profileHandler := handlers.NewProfileHandler(profileService, profileRepo, promMetrics, cfg.LibraryDir, logger)
	statsHandler := handlers.NewStatsHandler(taskRepo, profileRepo, producer, logger)

	router := api.SetupRouter(cfg, logger, api.RouterDeps{
		TaskHandler:    taskHandler,
		ProfileHandler: profileHandler,
		StatsHandler:   statsHandler,
		EventHub:       eventHub,
		MemMonitor:     memMonitor,
		PromMetrics:    promMetrics,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Minute, // 大构件上传
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("Server stopped")
}

// createTaskHandler 把队列消息提交到 worker 池并同步等待
// 可重试失败已由编排器重新入队，这里确认消息即可
func createTaskHandler(workerPool *worker.Pool, matchService *service.MatchService, metrics *middleware.PrometheusMetrics, logger *logrus.Logger) queue.TaskHandler {
	return func(ctx context.Context, msg *queue.TaskMessage) error {
		logger.WithFields(logrus.Fields{
			"task_id":  msg.TaskID,
			"artifact": msg.ArtifactName,
		}).Info("Received task from queue, submitting to worker pool")

		metrics.RecordTaskStarted()
		start := time.Now()

		task := &worker.Task{
			ID:           msg.TaskID,
			ArtifactPath: msg.ArtifactPath,
		}

		if err := workerPool.SubmitAndWait(ctx, task); err != nil {
			if retryErr, ok := worker.IsRetryableError(err); ok {
				logger.WithFields(logrus.Fields{
					"task_id":     retryErr.TaskID,
					"retry_count": retryErr.RetryCount,
					"max_retry":   retryErr.MaxRetry,
				}).Warn("Task re-queued for retry")
				return nil
			}
			metrics.RecordTaskFailed(time.Since(start))
			logger.WithError(err).WithField("task_id", msg.TaskID).Error("Task execution failed")
			return err
		}

		metrics.RecordTaskCompleted(time.Since(start))
		recordMatchMetrics(ctx, matchService, metrics, msg.TaskID, logger)
		return nil
	}
}

// recordMatchMetrics 按命中方式统计本次任务的命中数
func recordMatchMetrics(ctx context.Context, matchService *service.MatchService, metrics *middleware.PrometheusMetrics, taskID string, logger *logrus.Logger) {
	report, err := matchService.GetReport(ctx, taskID)
	if err != nil {
		logger.WithError(err).WithField("task_id", taskID).Debug("Failed to read report for metrics")
		return
	}
	byMethod := make(map[string]int)
	for _, m := range report {
		byMethod[m.Method]++
	}
	for method, count := range byMethod {
		metrics.RecordMatchesFound(method, count)
	}
}

// createLibraryHandler 库收件处理：同名 XML 描述文件必须在旁
func createLibraryHandler(profileService *service.ProfileService, metrics *middleware.PrometheusMetrics, logger *logrus.Logger) watcher.FileHandler {
	return func(ctx context.Context, filePath string) error {
		descPath := strings.TrimSuffix(filePath, filepath.Ext(filePath)) + ".xml"
		if _, err := os.Stat(descPath); err != nil {
			return fmt.Errorf("description file not found for %s: %w", filepath.Base(filePath), err)
		}

		profile, err := profileService.ProfileLibrary(ctx, filePath, descPath)
		if err != nil {
			metrics.RecordProfileOperation("create", "failure")
			return fmt.Errorf("failed to profile library: %w", err)
		}

		metrics.RecordProfileOperation("create", "success")
		logger.WithFields(logrus.Fields{
			"library": profile.Name,
			"version": profile.Version,
		}).Info("Library profiled from inbox")
		return nil
	}
}

// createArtifactHandler 应用收件处理：建任务并投递
func createArtifactHandler(matchService *service.MatchService, producer *queue.Producer, metrics *middleware.PrometheusMetrics, logger *logrus.Logger) watcher.FileHandler {
	return func(ctx context.Context, filePath string) error {
		fileName := filepath.Base(filePath)

		task, err := matchService.CreateTask(ctx, fileName, filePath)
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}

		msg := &queue.TaskMessage{
			TaskID:       task.ID,
			ArtifactName: fileName,
			ArtifactPath: filePath,
		}
		if err := producer.PublishTask(ctx, msg); err != nil {
			return fmt.Errorf("failed to publish task: %w", err)
		}

		metrics.RecordTaskCreated()
		logger.WithFields(logrus.Fields{
			"task_id":  task.ID,
			"artifact": fileName,
		}).Info("Task created from artifact inbox")
		return nil
	}
}

// republishQueuedTasks 服务重启后以数据库为唯一事实源重建队列：
// 先清空残留消息，再按入库顺序重新投递 queued 任务
func republishQueuedTasks(taskRepo *repository.TaskRepository, broker *queue.Broker, producer *queue.Producer, logger *logrus.Logger) error {
	purged, err := broker.PurgeQueue()
	if err != nil {
		logger.WithError(err).Warn("Failed to purge queue, continuing with republish")
	} else if purged > 0 {
		logger.WithField("purged", purged).Info("Cleared stale messages from queue")
	}

	queued, err := taskRepo.FindByStatus(context.Background(), domain.TaskStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to query queued tasks: %w", err)
	}
	if len(queued) == 0 {
		logger.Info("No queued tasks to republish")
		return nil
	}

	success := 0
	for _, task := range queued {
		msg := &queue.TaskMessage{
			TaskID:       task.ID,
			ArtifactName: task.ArtifactName,
			ArtifactPath: task.ArtifactPath,
		}
		if err := producer.PublishTask(context.Background(), msg); err != nil {
			logger.WithError(err).WithField("task_id", task.ID).Error("Failed to republish task")
			continue
		}
		success++
	}

	logger.WithFields(logrus.Fields{
		"total":   len(queued),
		"success": success,
	}).Info("Queued tasks republished")
	return nil
}

// runMetricsLoop 周期更新系统与业务指标
func runMetricsLoop(db *gorm.DB, memMonitor *middleware.MemoryMonitor, promMetrics *middleware.PrometheusMetrics, pool *worker.Pool, consumer *queue.Consumer, producer *queue.Producer, profileRepo *repository.ProfileRepository, workerCount int, logger *logrus.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		promMetrics.UpdateMemoryStats(memMonitor.GetStats())

		if sqlDB, err := db.DB(); err == nil {
			dbStats := sqlDB.Stats()
			promMetrics.UpdateDBStats(dbStats.OpenConnections, dbStats.Idle, dbStats.InUse)
		}

		promMetrics.UpdateWorkerPoolStats(workerCount, consumer.GetActiveWorkers(), pool.GetQueueSize())

		if depth, err := producer.GetQueueSize(); err == nil {
			promMetrics.UpdateQueueDepth(depth)
		}

		if count, err := profileRepo.Count(context.Background()); err == nil {
			promMetrics.UpdateCorpusSize(count)
		} else {
			logger.WithError(err).Debug("Failed to count corpus profiles")
		}
	}
}
