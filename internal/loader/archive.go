package loader

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// supportedExtensions 可处理的构件格式
var supportedExtensions = map[string]struct{}{
	".jar": {},
	".aar": {},
	".apk": {},
	".dex": {},
}

// IsSupportedArtifact 检查文件扩展名是否受支持
func IsSupportedArtifact(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// NormalizeArtifact 把构件转成导出器可直接消费的文件。
// .aar 包裹了 classes.jar，这里解包到临时文件；其余格式原样返回。
// 返回的 cleanup 在产生临时文件时负责删除它。
func NormalizeArtifact(path string) (normalized string, cleanup func(), err error) {
	cleanup = func() {}

	if !IsSupportedArtifact(path) {
		return "", cleanup, fmt.Errorf("unsupported artifact format: %s", filepath.Ext(path))
	}

	if strings.ToLower(filepath.Ext(path)) != ".aar" {
		return path, cleanup, nil
	}

	jarPath, err := extractClassesJar(path)
	if err != nil {
		return "", cleanup, err
	}
	return jarPath, func() { os.Remove(jarPath) }, nil
}

// extractClassesJar 从 .aar 中取出 classes.jar 写到临时文件
func extractClassesJar(aarPath string) (string, error) {
	reader, err := zip.OpenReader(aarPath)
	if err != nil {
		return "", fmt.Errorf("failed to open aar as zip: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.Name != "classes.jar" {
			continue
		}

		src, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open classes.jar entry: %w", err)
		}
		defer src.Close()

		tmp, err := os.CreateTemp("", "sdk-detect-classes-*.jar")
		if err != nil {
			return "", fmt.Errorf("failed to create temp jar: %w", err)
		}

		if _, err := io.Copy(tmp, src); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return "", fmt.Errorf("failed to extract classes.jar: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return "", fmt.Errorf("failed to close temp jar: %w", err)
		}
		return tmp.Name(), nil
	}

	return "", fmt.Errorf("classes.jar not found in %s", filepath.Base(aarPath))
}
