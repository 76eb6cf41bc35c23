package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sdk-detect/sdk-detect-go/internal/domain"
	"github.com/sdk-detect/sdk-detect-go/internal/fingerprint"
	"github.com/sdk-detect/sdk-detect-go/internal/loader"
	"github.com/sdk-detect/sdk-detect-go/internal/metadata"
	"github.com/sirupsen/logrus"
)

// ClassLoader 类层级加载协作方
type ClassLoader interface {
	Load(ctx context.Context, artifactPath string) ([]*fingerprint.ClassDescriptor, *loader.HierarchyStats, error)
}

// ProfileStore 指纹持久化协作方
type ProfileStore interface {
	Save(ctx context.Context, profile *domain.LibraryProfile) error
	ListAll(ctx context.Context) ([]domain.LibraryProfile, error)
	Count(ctx context.Context) (int64, error)
}

// ProfileService 库建档流程：库构件 + 描述 XML -> 指纹 -> 语料库
type ProfileService struct {
	loader ClassLoader
	store  ProfileStore
	logger *logrus.Logger
}

// NewProfileService 创建建档服务
func NewProfileService(classLoader ClassLoader, store ProfileStore, logger *logrus.Logger) *ProfileService {
	return &ProfileService{
		loader: classLoader,
		store:  store,
		logger: logger,
	}
}

// ProfileLibrary 为一个库版本建档。
// 空指纹（无可用类）时返回 fingerprint.ErrEmptyFingerprint，
// 调用方据此记为跳过；该库不会写入语料库。
func (s *ProfileService) ProfileLibrary(ctx context.Context, libraryPath, descriptionPath string) (*domain.LibraryProfile, error) {
	start := time.Now()

	info, err := metadata.ParseLibraryXML(descriptionPath)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"library":  info.Name,
		"version":  info.Version,
		"category": info.Category,
		"file":     filepath.Base(libraryPath),
	}).Info("Processing library")

	classes, stats, err := s.loader.Load(ctx, libraryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load class hierarchy: %w", err)
	}

	fp, err := fingerprint.NewFingerprint(info, classes)
	if err != nil {
		if errors.Is(err, fingerprint.ErrEmptyFingerprint) {
			s.logger.WithField("library", info.Name).Error("Empty fingerprint generated - SKIP")
		}
		return nil, err
	}

	if fp.PackageTree.HasMultipleRoots() {
		s.logger.WithField("library", info.Name).Warn("Library contains multiple root packages")
	}

	data, err := fp.Encode()
	if err != nil {
		return nil, err
	}

	profile := &domain.LibraryProfile{
		Name:            info.Name,
		Version:         info.Version,
		Category:        info.Category,
		RootPackage:     fp.PackageTree.RootPackage(),
		MultipleRoots:   fp.PackageTree.HasMultipleRoots(),
		ClassCount:      fp.ClassCount(),
		PackageCount:    fp.PackageTree.PackageCount(),
		FingerprintJSON: string(data),
		SourceFile:      filepath.Base(libraryPath),
		CreatedAt:       time.Now().UTC(),
	}
	if digest, err := fileSHA256(libraryPath); err == nil {
		profile.SourceSHA256 = digest
	}

	if err := s.store.Save(ctx, profile); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"library":        info.Name,
		"version":        info.Version,
		"classes":        profile.ClassCount,
		"packages":       profile.PackageCount,
		"root_package":   profile.RootPackage,
		"multiple_roots": profile.MultipleRoots,
		"public_methods": stats.PublicMethods,
		"duration_ms":    time.Since(start).Milliseconds(),
	}).Info("Library fingerprint stored")

	return profile, nil
}

// fileSHA256 计算来源文件摘要
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
