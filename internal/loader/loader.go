package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sdk-detect/sdk-detect-go/internal/fingerprint"
	"github.com/sirupsen/logrus"
)

// Config 加载器配置
type Config struct {
	// DumperPath 外部字节码导出器（产出 JSON 类记录）
	DumperPath string
	// DumperScript 导出器脚本路径，为空时直接执行 DumperPath
	DumperScript string
	// Timeout 单个构件的导出超时
	Timeout time.Duration
}

// Loader 类层级加载协作方：构件文件 -> 类描述符集合。
// 字节码解析不在进程内完成，交给外部导出器。
type Loader struct {
	cfg    *Config
	logger *logrus.Logger
}

// NewLoader 创建加载器
func NewLoader(cfg *Config, logger *logrus.Logger) *Loader {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Loader{cfg: cfg, logger: logger}
}

// Load 加载一个构件的全部类描述符及层级统计
func (l *Loader) Load(ctx context.Context, artifactPath string) ([]*fingerprint.ClassDescriptor, *HierarchyStats, error) {
	start := time.Now()

	normalized, cleanup, err := NormalizeArtifact(artifactPath)
	if err != nil {
		return nil, nil, err
	}
	defer cleanup()

	records, err := l.dump(ctx, normalized)
	if err != nil {
		return nil, nil, err
	}

	descriptors, stats := toDescriptors(records)

	l.logger.WithFields(logrus.Fields{
		"artifact":         artifactPath,
		"classes":          stats.ClassCount,
		"inner_classes":    stats.InnerClassCount,
		"public_methods":   stats.PublicMethods,
		"filtered_classes": stats.FilteredClasses,
		"duration_ms":      time.Since(start).Milliseconds(),
	}).Info("Class hierarchy loaded")

	return descriptors, stats, nil
}

// LoadRecordFile 直接读取导出器预先生成的记录文件。
// .jsonl 按行流式解析，其余按 JSON 数组整体解析。
func (l *Loader) LoadRecordFile(path string) ([]*fingerprint.ClassDescriptor, *HierarchyStats, error) {
	var records []ClassRecord

	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		lines, err := readRecordLines(path)
		if err != nil {
			return nil, nil, err
		}
		records = lines
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read class records: %w", err)
		}
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, nil, fmt.Errorf("failed to parse class records: %w", err)
		}
	}

	descriptors, stats := toDescriptors(records)
	return descriptors, stats, nil
}

// dump 调用外部导出器，stdout 上取回 JSON 类记录
func (l *Loader) dump(ctx context.Context, artifactPath string) ([]ClassRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	var cmd *exec.Cmd
	if l.cfg.DumperScript != "" {
		cmd = exec.CommandContext(ctx, l.cfg.DumperPath, l.cfg.DumperScript, artifactPath)
	} else {
		cmd = exec.CommandContext(ctx, l.cfg.DumperPath, artifactPath)
	}

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("class dumper failed: %w", err)
	}

	var records []ClassRecord
	if err := json.Unmarshal(output, &records); err != nil {
		return nil, fmt.Errorf("failed to parse dumper output: %w", err)
	}

	return records, nil
}
