package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sdk-detect/sdk-detect-go/internal/domain"
	"github.com/sdk-detect/sdk-detect-go/internal/fingerprint"
	"github.com/sdk-detect/sdk-detect-go/internal/loader"
)

func writeProfileInputs(t *testing.T, name, version, category string) (string, string) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, name+".jar")
	require.NoError(t, os.WriteFile(libPath, []byte("PK\x03\x04fake"), 0644))

	descPath := filepath.Join(dir, name+".xml")
	xml := `<?xml version="1.0"?>
<library>
  <name>` + name + `</name>
  <category>` + category + `</category>
  <version>` + version + `</version>
</library>`
	require.NoError(t, os.WriteFile(descPath, []byte(xml), 0644))
	return libPath, descPath
}

func profileTestClasses() []*fingerprint.ClassDescriptor {
	return []*fingerprint.ClassDescriptor{
		fingerprint.NewClassDescriptor([]string{"com", "squareup", "okhttp"}, "OkHttpClient",
			fingerprint.KindTopLevel, []string{"newCall(Lrequest;)Lcall;"}),
		fingerprint.NewClassDescriptor([]string{"com", "squareup", "okhttp"}, "Request",
			fingerprint.KindTopLevel, []string{"url()Ljava/lang/String;"}),
	}
}

func TestProfileLibrary_Success(t *testing.T) {
	classLoader := new(MockClassLoader)
	store := new(MockProfileStore)
	svc := NewProfileService(classLoader, store, newTestLogger())

	libPath, descPath := writeProfileInputs(t, "okhttp", "3.12.0", "utilities")
	classLoader.On("Load", mock.Anything, libPath).
		Return(profileTestClasses(), &loader.HierarchyStats{ClassCount: 2, PublicMethods: 2}, nil)
	store.On("Save", mock.Anything, mock.MatchedBy(func(p *domain.LibraryProfile) bool {
		return p.Name == "okhttp" && p.Version == "3.12.0"
	})).Return(nil)

	profile, err := svc.ProfileLibrary(context.Background(), libPath, descPath)
	require.NoError(t, err)

	assert.Equal(t, "okhttp", profile.Name)
	assert.Equal(t, "3.12.0", profile.Version)
	assert.Equal(t, "utilities", profile.Category)
	assert.Equal(t, "com.squareup.okhttp", profile.RootPackage)
	assert.False(t, profile.MultipleRoots)
	assert.Equal(t, 2, profile.ClassCount)
	assert.NotEmpty(t, profile.FingerprintJSON)
	assert.NotEmpty(t, profile.SourceSHA256)
	assert.Equal(t, filepath.Base(libPath), profile.SourceFile)

	// 存储的指纹必须能完整解码
	fp, err := fingerprint.DecodeFingerprint([]byte(profile.FingerprintJSON))
	require.NoError(t, err)
	assert.Equal(t, "okhttp", fp.Library.Name)
	assert.Equal(t, 2, fp.ClassCount())

	store.AssertExpectations(t)
}

func TestProfileLibrary_EmptyFingerprint(t *testing.T) {
	classLoader := new(MockClassLoader)
	store := new(MockProfileStore)
	svc := NewProfileService(classLoader, store, newTestLogger())

	libPath, descPath := writeProfileInputs(t, "hollow", "1.0.0", "utilities")
	classLoader.On("Load", mock.Anything, libPath).
		Return([]*fingerprint.ClassDescriptor{}, &loader.HierarchyStats{}, nil)

	_, err := svc.ProfileLibrary(context.Background(), libPath, descPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, fingerprint.ErrEmptyFingerprint)

	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestProfileLibrary_LoaderError(t *testing.T) {
	classLoader := new(MockClassLoader)
	store := new(MockProfileStore)
	svc := NewProfileService(classLoader, store, newTestLogger())

	libPath, descPath := writeProfileInputs(t, "broken", "1.0.0", "utilities")
	classLoader.On("Load", mock.Anything, libPath).
		Return(nil, nil, errors.New("class dumper failed"))

	_, err := svc.ProfileLibrary(context.Background(), libPath, descPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load class hierarchy")
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestProfileLibrary_InvalidDescription(t *testing.T) {
	classLoader := new(MockClassLoader)
	store := new(MockProfileStore)
	svc := NewProfileService(classLoader, store, newTestLogger())

	dir := t.TempDir()
	libPath := filepath.Join(dir, "nometa.jar")
	require.NoError(t, os.WriteFile(libPath, []byte("PK"), 0644))
	descPath := filepath.Join(dir, "nometa.xml")
	require.NoError(t, os.WriteFile(descPath, []byte(`<library><name>x</name></library>`), 0644))

	_, err := svc.ProfileLibrary(context.Background(), libPath, descPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing version")

	classLoader.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
}

func TestProfileLibrary_MultipleRoots(t *testing.T) {
	classLoader := new(MockClassLoader)
	store := new(MockProfileStore)
	svc := NewProfileService(classLoader, store, newTestLogger())

	libPath, descPath := writeProfileInputs(t, "bundle", "1.0.0", "utilities")
	classes := []*fingerprint.ClassDescriptor{
		fingerprint.NewClassDescriptor([]string{"com", "first"}, "A", fingerprint.KindTopLevel, []string{"a()V"}),
		fingerprint.NewClassDescriptor([]string{"org", "second"}, "B", fingerprint.KindTopLevel, []string{"b()V"}),
	}
	classLoader.On("Load", mock.Anything, libPath).
		Return(classes, &loader.HierarchyStats{ClassCount: 2}, nil)
	store.On("Save", mock.Anything, mock.Anything).Return(nil)

	profile, err := svc.ProfileLibrary(context.Background(), libPath, descPath)
	require.NoError(t, err)
	assert.True(t, profile.MultipleRoots)
}
