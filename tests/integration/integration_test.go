package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sdk-detect/sdk-detect-go/internal/domain"
	"github.com/sdk-detect/sdk-detect-go/internal/fingerprint"
	"github.com/sdk-detect/sdk-detect-go/internal/loader"
	"github.com/sdk-detect/sdk-detect-go/internal/repository"
	"github.com/sdk-detect/sdk-detect-go/internal/service"
)

// recordLoader 按路径返回预置类集合的加载器替身，
// 绕过外部字节码导出器
type recordLoader struct {
	classes map[string][]*fingerprint.ClassDescriptor
}

func (l *recordLoader) Load(_ context.Context, artifactPath string) ([]*fingerprint.ClassDescriptor, *loader.HierarchyStats, error) {
	classes, ok := l.classes[artifactPath]
	if !ok {
		return nil, nil, fmt.Errorf("no class records for %s", artifactPath)
	}
	return classes, &loader.HierarchyStats{ClassCount: len(classes)}, nil
}

// testEnv 完整的测试环境：内存数据库 + 真实 repository/service 栈
type testEnv struct {
	db             *gorm.DB
	classLoader    *recordLoader
	profileService *service.ProfileService
	matchService   *service.MatchService
	matchRepo      *repository.MatchRepository
	cleanup        func()
}

func setupTestEnv(t *testing.T) *testEnv {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "Failed to open test database")
	require.NoError(t, repository.AutoMigrate(db, logger))

	taskRepo := repository.NewTaskRepository(db, logger)
	profileRepo := repository.NewProfileRepository(db)
	matchRepo := repository.NewMatchRepository(db)

	classLoader := &recordLoader{classes: map[string][]*fingerprint.ClassDescriptor{}}
	profileService := service.NewProfileService(classLoader, profileRepo, logger)
	matchService := service.NewMatchService(classLoader, profileRepo, taskRepo, matchRepo,
		fingerprint.DefaultMatchConfig(), logger)

	return &testEnv{
		db:             db,
		classLoader:    classLoader,
		profileService: profileService,
		matchService:   matchService,
		matchRepo:      matchRepo,
		cleanup: func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				sqlDB.Close()
			}
		},
	}
}

// writeLibraryFiles 生成库构件占位文件和描述 XML
func writeLibraryFiles(t *testing.T, dir, name, version string) (string, string) {
	libPath := filepath.Join(dir, name+"-"+version+".jar")
	require.NoError(t, os.WriteFile(libPath, []byte("PK\x03\x04"), 0644))

	descPath := filepath.Join(dir, name+"-"+version+".xml")
	xml := fmt.Sprintf(`<?xml version="1.0"?>
<library>
  <name>%s</name>
  <category>utilities</category>
  <version>%s</version>
</library>`, name, version)
	require.NoError(t, os.WriteFile(descPath, []byte(xml), 0644))

	return libPath, descPath
}

func libClasses(root string) []*fingerprint.ClassDescriptor {
	return []*fingerprint.ClassDescriptor{
		fingerprint.NewClassDescriptor([]string{root, "net"}, "HttpClient", fingerprint.KindTopLevel,
			[]string{"execute(Lrequest;)Lresponse;", "close()V"}),
		fingerprint.NewClassDescriptor([]string{root, "net"}, "Request", fingerprint.KindTopLevel,
			[]string{"url()Ljava/lang/String;", "method()Ljava/lang/String;"}),
		fingerprint.NewClassDescriptor([]string{root, "cache"}, "DiskCache", fingerprint.KindTopLevel,
			[]string{"get(Ljava/lang/String;)[B", "put(Ljava/lang/String;[B)V", "evict()V"}),
	}
}

func appClasses(libRoot string) []*fingerprint.ClassDescriptor {
	classes := []*fingerprint.ClassDescriptor{
		fingerprint.NewClassDescriptor([]string{"com", "example", "app"}, "MainActivity", fingerprint.KindTopLevel,
			[]string{"onCreate(Landroid/os/Bundle;)V"}),
		fingerprint.NewClassDescriptor([]string{"com", "example", "app", "ui"}, "HomeView", fingerprint.KindTopLevel,
			[]string{"render()V"}),
	}
	return append(classes, libClasses(libRoot)...)
}

// 完整流水线：建档 -> 建任务 -> 执行匹配 -> 查报告
func TestPipeline_ProfileThenMatch(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	dir := t.TempDir()
	libPath, descPath := writeLibraryFiles(t, dir, "netkit", "2.1.0")
	env.classLoader.classes[libPath] = libClasses("netkit")

	profile, err := env.profileService.ProfileLibrary(ctx, libPath, descPath)
	require.NoError(t, err)
	assert.Equal(t, "netkit", profile.Name)
	assert.Equal(t, "2.1.0", profile.Version)
	assert.Equal(t, 3, profile.ClassCount)
	assert.NotEmpty(t, profile.SourceSHA256)

	appPath := filepath.Join(dir, "app.apk")
	env.classLoader.classes[appPath] = appClasses("netkit")

	task, err := env.matchService.CreateTask(ctx, "app.apk", appPath)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, task.Status)

	require.NoError(t, env.matchService.ExecuteMatch(ctx, task.ID, appPath))

	done, err := env.matchService.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, done.Status)
	assert.Equal(t, 5, done.ClassCount)
	assert.Equal(t, 1, done.LibrariesMatched)
	assert.NotNil(t, done.CompletedAt)

	report, err := env.matchService.GetReport(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, "netkit", report[0].LibraryName)
	assert.Equal(t, "2.1.0", report[0].LibraryVersion)
	assert.Equal(t, 1.0, report[0].Score)
	assert.Equal(t, string(fingerprint.MethodExact), report[0].Method)
	assert.Equal(t, 1, report[0].Rank)
}

// 重命名混淆后的应用仍应部分命中
func TestPipeline_MatchRenamedLibrary(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	dir := t.TempDir()
	libPath, descPath := writeLibraryFiles(t, dir, "netkit", "2.1.0")
	env.classLoader.classes[libPath] = libClasses("netkit")

	_, err := env.profileService.ProfileLibrary(ctx, libPath, descPath)
	require.NoError(t, err)

	// 库代码被重打包到无关包名下
	appPath := filepath.Join(dir, "obf.apk")
	env.classLoader.classes[appPath] = appClasses("aa")

	task, err := env.matchService.CreateTask(ctx, "obf.apk", appPath)
	require.NoError(t, err)
	require.NoError(t, env.matchService.ExecuteMatch(ctx, task.ID, appPath))

	report, err := env.matchService.GetReport(ctx, task.ID)
	require.NoError(t, err)
	require.NotEmpty(t, report)
	assert.Equal(t, "netkit", report[0].LibraryName)
	assert.GreaterOrEqual(t, report[0].Score, 0.3)
}

// 加载失败应落库 loader_error 并保留任务
func TestPipeline_LoaderFailureMarksTask(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	appPath := filepath.Join(t.TempDir(), "broken.apk")
	// 不注册类记录，加载器替身会返回错误

	task, err := env.matchService.CreateTask(ctx, "broken.apk", appPath)
	require.NoError(t, err)

	err = env.matchService.ExecuteMatch(ctx, task.ID, appPath)
	require.Error(t, err)

	failed, err := env.matchService.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, failed.Status)
	assert.Equal(t, domain.FailureTypeLoaderError, failed.FailureType)
}

// 重复建档同一库版本应覆盖而不是累积
func TestPipeline_ReprofileUpserts(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	dir := t.TempDir()
	libPath, descPath := writeLibraryFiles(t, dir, "netkit", "2.1.0")
	env.classLoader.classes[libPath] = libClasses("netkit")

	_, err := env.profileService.ProfileLibrary(ctx, libPath, descPath)
	require.NoError(t, err)
	_, err = env.profileService.ProfileLibrary(ctx, libPath, descPath)
	require.NoError(t, err)

	var count int64
	require.NoError(t, env.db.Model(&domain.LibraryProfile{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
