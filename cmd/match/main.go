package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sdk-detect/sdk-detect-go/internal/config"
	"github.com/sdk-detect/sdk-detect-go/internal/fingerprint"
	"github.com/sdk-detect/sdk-detect-go/internal/loader"
	"github.com/sdk-detect/sdk-detect-go/internal/repository"
)

// 一次性匹配工具：加载单个构件，对语料库全量匹配后输出 JSON 报告
func main() {
	configPath := "./configs/config.yaml"
	args := os.Args[1:]
	if len(args) > 1 && args[0] == "--config" {
		configPath = args[1]
		args = args[2:]
	}
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: match [--config path] <artifact>\n")
		os.Exit(1)
	}
	artifactPath := args[0]

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

	classes, _, err := classLoader.Load(context.Background(), artifactPath)
	if err != nil {
		log.Fatalf("Failed to load artifact: %v", err)
	}

	query, err := fingerprint.NewFingerprint(fingerprint.LibraryInfo{
		Name: filepath.Base(artifactPath),
	}, classes)
	if err != nil {
		log.Fatalf("Failed to build fingerprint: %v", err)
	}

	profileRepo := repository.NewProfileRepository(db)
	profiles, err := profileRepo.ListAll(context.Background())
	if err != nil {
		log.Fatalf("Failed to load corpus: %v", err)
	}

	corpus := make([]*fingerprint.Fingerprint, 0, len(profiles))
	for _, p := range profiles {
		fp, err := fingerprint.DecodeFingerprint([]byte(p.FingerprintJSON))
		if err != nil {
			logger.WithError(err).WithField("profile", p.Name).Warn("Skipping corrupt profile")
			continue
		}
		corpus = append(corpus, fp)
	}

	matcher := fingerprint.NewMatcher(fingerprint.MatchConfig{
		MinScore:  cfg.Matching.MinScore,
		PathAware: cfg.Matching.PathAware,
	})
	matches := matcher.Match(query, corpus)

	report := map[string]interface{}{
		"artifact":       filepath.Base(artifactPath),
		"classes":        query.ClassCount(),
		"packages":       query.PackageTree.PackageCount(),
		"root_package":   query.PackageTree.RootPackage(),
		"multiple_roots": query.PackageTree.HasMultipleRoots(),
		"corpus_size":    len(corpus),
		"matches":        matches,
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode report: %v", err)
	}
	fmt.Println(string(out))
}
