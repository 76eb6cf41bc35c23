package fingerprint

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTestLibrary 生成一个跨多个包的测试类集合
func buildTestLibrary(packages, classesPerPackage int) []*ClassDescriptor {
	var classes []*ClassDescriptor
	for p := 0; p < packages; p++ {
		pkg := []string{"com", "vendor", fmt.Sprintf("mod%02d", p)}
		for c := 0; c < classesPerPackage; c++ {
			classes = append(classes, newTestClass(pkg,
				fmt.Sprintf("Class%02d", c),
				fmt.Sprintf("method%02d_%02d()V", p, c),
				fmt.Sprintf("field%02d_%02d:I", p, c),
			))
		}
	}
	return classes
}

// TestBuildHashTrees_Determinism 测试两次构建（乱序输入）逐节点哈希一致
func TestBuildHashTrees_Determinism(t *testing.T) {
	classes := buildTestLibrary(5, 4)

	build := func(seed int64) *HashTree {
		shuffled := append([]*ClassDescriptor(nil), classes...)
		rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		pt, err := BuildPackageTree(shuffled)
		require.NoError(t, err)
		trees, err := BuildHashTrees(pt)
		require.NoError(t, err)
		require.Len(t, trees, 1)
		return trees[0]
	}

	t1 := build(1)
	t2 := build(99)

	var hashes1, hashes2 []Digest
	t1.Walk(func(n *HashNode, depth int) {
		hashes1 = append(hashes1, n.NodeHash, n.SubtreeHash)
	})
	t2.Walk(func(n *HashNode, depth int) {
		hashes2 = append(hashes2, n.NodeHash, n.SubtreeHash)
	})

	assert.Equal(t, hashes1, hashes2, "every node hash must be identical across builds")
	assert.Equal(t, 20, t1.ClassCount())
}

// TestBuildHashTrees_Empty 测试零类输入返回 ErrEmptyFingerprint
func TestBuildHashTrees_Empty(t *testing.T) {
	pt, err := BuildPackageTree(nil)
	require.NoError(t, err)

	_, err = BuildHashTrees(pt)
	assert.True(t, errors.Is(err, ErrEmptyFingerprint))
}

// TestBuildHashTrees_MultipleRoots 测试多根库生成多棵哈希树
func TestBuildHashTrees_MultipleRoots(t *testing.T) {
	classes := []*ClassDescriptor{
		newTestClass([]string{"com", "alpha"}, "A", "a()V"),
		newTestClass([]string{"org", "beta"}, "B", "b()V"),
		newTestClass([]string{"org", "beta"}, "C", "c()V"),
	}

	pt, err := BuildPackageTree(classes)
	require.NoError(t, err)
	require.True(t, pt.HasMultipleRoots())

	trees, err := BuildHashTrees(pt)
	require.NoError(t, err)
	require.Len(t, trees, 2)

	// 按段名排序：com 在 org 之前；根落到第一个有类的节点
	assert.Equal(t, []string{"com", "alpha"}, trees[0].RootPath)
	assert.Equal(t, []string{"org", "beta"}, trees[1].RootPath)
	assert.Equal(t, 1, trees[0].ClassCount())
	assert.Equal(t, 2, trees[1].ClassCount())
}

// TestHashTree_RenamingInvariance 测试改名后 NodeHash 多重集不变
func TestHashTree_RenamingInvariance(t *testing.T) {
	original := buildTestLibrary(4, 3)

	// 模拟混淆：所有包段和类名换成无意义短名，成员签名不动
	renamed := make([]*ClassDescriptor, 0, len(original))
	for i, cd := range original {
		obfPkg := make([]string, len(cd.PackagePath))
		for j := range cd.PackagePath {
			obfPkg[j] = fmt.Sprintf("%c%d", 'a'+j, i%4)
		}
		renamed = append(renamed, NewClassDescriptor(obfPkg, fmt.Sprintf("x%d", i), cd.Kind, cd.MemberSignatures))
	}

	collect := func(classes []*ClassDescriptor) map[Digest]int {
		pt, err := BuildPackageTree(classes)
		require.NoError(t, err)
		trees, err := BuildHashTrees(pt)
		require.NoError(t, err)
		bag := make(map[Digest]int)
		for _, tree := range trees {
			tree.Walk(func(n *HashNode, depth int) {
				for _, ch := range n.ClassHashes {
					bag[ch]++
				}
			})
		}
		return bag
	}

	assert.Equal(t, collect(original), collect(renamed),
		"class content hash multiset must survive renaming")
}

// TestHashTree_NodeHashExcludesNames 测试节点哈希与段名无关
func TestHashTree_NodeHashExcludesNames(t *testing.T) {
	a := []*ClassDescriptor{newTestClass([]string{"com", "real"}, "Impl", "run()V")}
	b := []*ClassDescriptor{newTestClass([]string{"ab", "cd"}, "X", "run()V")}

	ptA, err := BuildPackageTree(a)
	require.NoError(t, err)
	ptB, err := BuildPackageTree(b)
	require.NoError(t, err)

	treesA, err := BuildHashTrees(ptA)
	require.NoError(t, err)
	treesB, err := BuildHashTrees(ptB)
	require.NoError(t, err)

	// 根直接落在唯一有类的叶子包上
	assert.Equal(t, []string{"com", "real"}, treesA[0].RootPath)
	assert.Equal(t, []string{"ab", "cd"}, treesB[0].RootPath)
	assert.Equal(t, treesA[0].Root.NodeHash, treesB[0].Root.NodeHash)
}
