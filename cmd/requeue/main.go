package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"gorm.io/gorm"

	"github.com/sdk-detect/sdk-detect-go/internal/config"
	"github.com/sdk-detect/sdk-detect-go/internal/domain"
	"github.com/sdk-detect/sdk-detect-go/internal/queue"
	"github.com/sdk-detect/sdk-detect-go/internal/repository"
)

// 将失败任务重置并重新入队，用于修复问题后批量重跑
func main() {
	configPath := "./configs/config.yaml"
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := config.InitLogger(&cfg.Log)

	db, err := repository.InitDB(&cfg.Database, cfg.DataDir, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	broker, err := queue.NewBroker(&queue.BrokerConfig{
		Host:     cfg.RabbitMQ.Host,
		Port:     cfg.RabbitMQ.Port,
		User:     cfg.RabbitMQ.User,
		Password: cfg.RabbitMQ.Password,
		VHost:    cfg.RabbitMQ.VHost,
	}, cfg.RabbitMQ.Queue, 1, logger)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer broker.Close()

	producer := queue.NewProducer(broker, logger)

	var failedTasks []*domain.MatchTask
	if err := db.Where("status = ?", domain.TaskStatusFailed).Find(&failedTasks).Error; err != nil {
		log.Fatalf("Failed to query failed tasks: %v", err)
	}

	fmt.Printf("Found %d failed tasks\n", len(failedTasks))

	successCount := 0
	for i, task := range failedTasks {
		updates := map[string]interface{}{
			"status":       domain.TaskStatusQueued,
			"failure_type": domain.FailureTypeNone,
			"started_at":   nil,
			"completed_at": nil,
			"retry_count":  gorm.Expr("retry_count + 1"),
		}
		if err := db.Model(&domain.MatchTask{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
			log.Printf("Failed to reset task %s: %v", task.ID, err)
			continue
		}

		msg := &queue.TaskMessage{
			TaskID:       task.ID,
			ArtifactName: task.ArtifactName,
			ArtifactPath: task.ArtifactPath,
		}
		if err := producer.PublishTask(context.Background(), msg); err != nil {
			log.Printf("Failed to publish task %s: %v", task.ID, err)
			continue
		}

		successCount++
		if (i+1)%100 == 0 {
			fmt.Printf("Progress: %d/%d\n", i+1, len(failedTasks))
		}
	}

	fmt.Printf("\nRequeued %d/%d tasks\n", successCount, len(failedTasks))
}
