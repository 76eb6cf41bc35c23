package watcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// pathCollector 线程安全地收集处理过的文件路径
type pathCollector struct {
	mu    sync.Mutex
	paths []string
}

func (c *pathCollector) handler(_ context.Context, filePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, filePath)
	return nil
}

func (c *pathCollector) collected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func TestNewFileWatcher_CreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox")
	collector := &pathCollector{}

	fw, err := NewFileWatcher(dir, []string{".jar"}, collector.handler, quietLogger())
	require.NoError(t, err)
	defer fw.Stop()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, dir, fw.GetWatchDir())
}

func TestMatchExtension(t *testing.T) {
	collector := &pathCollector{}
	fw, err := NewFileWatcher(t.TempDir(), []string{".jar", ".AAR"}, collector.handler, quietLogger())
	require.NoError(t, err)
	defer fw.Stop()

	assert.True(t, fw.matchExtension("lib.jar"))
	assert.True(t, fw.matchExtension("lib.JAR"))
	assert.True(t, fw.matchExtension("lib.aar"))
	assert.False(t, fw.matchExtension("notes.txt"))
	assert.False(t, fw.matchExtension("archive.jar.bak"))
	assert.False(t, fw.matchExtension("noext"))
}

func TestFileWatcher_ProcessesNewFile(t *testing.T) {
	dir := t.TempDir()
	collector := &pathCollector{}

	fw, err := NewFileWatcher(dir, []string{".jar"}, collector.handler, quietLogger())
	require.NoError(t, err)
	defer fw.Stop()
	fw.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))

	target := filepath.Join(dir, "new-lib.jar")
	require.NoError(t, os.WriteFile(target, []byte("PK\x03\x04content"), 0644))

	assert.Eventually(t, func() bool {
		paths := collector.collected()
		return len(paths) == 1 && paths[0] == target
	}, 10*time.Second, 100*time.Millisecond, "Handler should run once for the new file")
}

func TestFileWatcher_IgnoresUnmatchedExtension(t *testing.T) {
	dir := t.TempDir()
	collector := &pathCollector{}

	fw, err := NewFileWatcher(dir, []string{".jar"}, collector.handler, quietLogger())
	require.NoError(t, err)
	defer fw.Stop()
	fw.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hello"), 0644))

	time.Sleep(1500 * time.Millisecond)
	assert.Empty(t, collector.collected())
}

func TestWaitForFileReady_StableFile(t *testing.T) {
	dir := t.TempDir()
	collector := &pathCollector{}
	fw, err := NewFileWatcher(dir, []string{".jar"}, collector.handler, quietLogger())
	require.NoError(t, err)
	defer fw.Stop()

	path := filepath.Join(dir, "stable.jar")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
	assert.NoError(t, fw.waitForFileReady(path))
}

func TestWaitForFileReady_MissingFile(t *testing.T) {
	dir := t.TempDir()
	collector := &pathCollector{}
	fw, err := NewFileWatcher(dir, []string{".jar"}, collector.handler, quietLogger())
	require.NoError(t, err)
	defer fw.Stop()

	err = fw.waitForFileReady(filepath.Join(dir, "ghost.jar"))
	assert.Error(t, err)
}
