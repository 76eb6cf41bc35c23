package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sdk-detect/sdk-detect-go/internal/config"
	"github.com/sdk-detect/sdk-detect-go/internal/fingerprint"
	"github.com/sdk-detect/sdk-detect-go/internal/loader"
	"github.com/sdk-detect/sdk-detect-go/internal/repository"
	"github.com/sdk-detect/sdk-detect-go/internal/service"
)

// 批量建档工具：扫描目录下的 .jar/.aar 及同名 XML 描述文件，
// 为每个库版本生成指纹并写入语料库
func main() {
	configPath := "./configs/config.yaml"
	args := os.Args[1:]
	if len(args) > 1 && args[0] == "--config" {
		configPath = args[1]
		args = args[2:]
	}
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: profiler [--config path] <library-dir>\n")
		os.Exit(1)
	}
	libraryDir := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := config.InitLogger(&cfg.Log)

	db, err := repository.InitDB(&cfg.Database, cfg.DataDir, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	classLoader := loader.NewLoader(&loader.Config{
		DumperPath:   cfg.Loader.DumperPath,
		DumperScript: cfg.Loader.DumperScript,
	}, logger)
	profileRepo := repository.NewProfileRepository(db)
	profileService := service.NewProfileService(classLoader, profileRepo, logger)

	entries, err := os.ReadDir(libraryDir)
	if err != nil {
		log.Fatalf("Failed to read directory %s: %v", libraryDir, err)
	}

	var profiled, skipped, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(libraryDir, entry.Name())
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".jar" && ext != ".aar" {
			continue
		}

		descPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".xml"
		if _, err := os.Stat(descPath); err != nil {
			fmt.Printf("SKIP %s: no description file\n", entry.Name())
			skipped++
			continue
		}

		profile, err := profileService.ProfileLibrary(context.Background(), path, descPath)
		if err != nil {
			if errors.Is(err, fingerprint.ErrEmptyFingerprint) {
				fmt.Printf("SKIP %s: no profileable classes\n", entry.Name())
				skipped++
				continue
			}
			fmt.Printf("FAIL %s: %v\n", entry.Name(), err)
			failed++
			continue
		}

		fmt.Printf("OK   %s -> %s %s (%d classes, %d packages)\n",
			entry.Name(), profile.Name, profile.Version, profile.ClassCount, profile.PackageCount)
		profiled++
	}

	fmt.Printf("\nProfiled %d, skipped %d, failed %d\n", profiled, skipped, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
