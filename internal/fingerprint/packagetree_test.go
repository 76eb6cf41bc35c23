package fingerprint

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClass 构造测试用类描述符
func newTestClass(pkg []string, name string, members ...string) *ClassDescriptor {
	return NewClassDescriptor(pkg, name, KindTopLevel, members)
}

// TestBuildPackageTree_Basic 测试基础构建
func TestBuildPackageTree_Basic(t *testing.T) {
	classes := []*ClassDescriptor{
		newTestClass([]string{"com", "example", "util"}, "StringHelper", "hash()I", "trim()Ljava/lang/String;"),
		newTestClass([]string{"com", "example", "util"}, "MathHelper", "abs(I)I"),
		newTestClass([]string{"com", "example"}, "Client", "connect()V"),
	}

	tree, err := BuildPackageTree(classes)
	require.NoError(t, err)

	assert.Equal(t, 3, tree.ClassCount())
	assert.Equal(t, 2, tree.PackageCount())
	assert.False(t, tree.HasMultipleRoots())
	assert.Equal(t, "com.example", tree.RootPackage())
}

// TestBuildPackageTree_MalformedPath 测试空路径段报错
func TestBuildPackageTree_MalformedPath(t *testing.T) {
	classes := []*ClassDescriptor{
		newTestClass([]string{"com", "", "util"}, "Broken", "x()V"),
	}

	_, err := BuildPackageTree(classes)
	require.Error(t, err)

	var pathErr *MalformedPathError
	assert.True(t, errors.As(err, &pathErr))
	assert.Equal(t, "Broken", pathErr.Class)
}

// TestBuildPackageTree_MultipleRoots 测试多根包条件（标记而非错误）
func TestBuildPackageTree_MultipleRoots(t *testing.T) {
	classes := []*ClassDescriptor{
		newTestClass([]string{"com", "alpha"}, "A", "a()V"),
		newTestClass([]string{"org", "beta"}, "B", "b()V"),
	}

	tree, err := BuildPackageTree(classes)
	require.NoError(t, err)

	assert.True(t, tree.HasMultipleRoots())
	assert.Equal(t, "", tree.RootPackage())
	assert.Equal(t, 2, tree.ClassCount())
}

// TestBuildPackageTree_DefaultPackage 测试默认包（空路径）的类挂在超级根
func TestBuildPackageTree_DefaultPackage(t *testing.T) {
	classes := []*ClassDescriptor{
		newTestClass(nil, "Main", "main([Ljava/lang/String;)V"),
		newTestClass([]string{"com"}, "Helper", "h()V"),
	}

	tree, err := BuildPackageTree(classes)
	require.NoError(t, err)

	assert.False(t, tree.HasMultipleRoots())
	assert.Len(t, tree.Root.Classes, 1)
	assert.Equal(t, "", tree.RootPackage())
}

// TestBuildPackageTree_OrderInvariance 测试插入顺序不影响树结构
func TestBuildPackageTree_OrderInvariance(t *testing.T) {
	classes := []*ClassDescriptor{
		newTestClass([]string{"com", "example", "net"}, "Socket", "open()V", "close()V"),
		newTestClass([]string{"com", "example", "net"}, "Packet", "size()I"),
		newTestClass([]string{"com", "example", "io"}, "Reader", "read()I"),
		newTestClass([]string{"com", "example"}, "Core", "init()V"),
	}

	tree1, err := BuildPackageTree(classes)
	require.NoError(t, err)

	shuffled := append([]*ClassDescriptor(nil), classes...)
	rand.New(rand.NewSource(42)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	tree2, err := BuildPackageTree(shuffled)
	require.NoError(t, err)

	trees1, err := BuildHashTrees(tree1)
	require.NoError(t, err)
	trees2, err := BuildHashTrees(tree2)
	require.NoError(t, err)

	require.Len(t, trees1, 1)
	require.Len(t, trees2, 1)
	assert.Equal(t, trees1[0].Root.SubtreeHash, trees2[0].Root.SubtreeHash)
}

// TestClassDescriptor_ContentHash 测试内容哈希只由成员签名决定
func TestClassDescriptor_ContentHash(t *testing.T) {
	a := NewClassDescriptor([]string{"com", "x"}, "Original", KindTopLevel, []string{"b()V", "a()I"})
	b := NewClassDescriptor([]string{"net", "y"}, "Renamed", KindTopLevel, []string{"a()I", "b()V"})

	// 包名类名不同、签名集合相同 -> 哈希相同
	assert.Equal(t, a.ContentHash(), b.ContentHash())

	c := NewClassDescriptor([]string{"com", "x"}, "Original", KindTopLevel, []string{"a()I"})
	assert.NotEqual(t, a.ContentHash(), c.ContentHash())
}
