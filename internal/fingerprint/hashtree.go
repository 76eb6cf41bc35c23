package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"sort"
)

// HashNode 哈希树节点。NodeHash 只覆盖本包直接类的内容哈希，
// SubtreeHash 把 NodeHash 和所有子树哈希按规范顺序聚合，
// 因此同构的树无论遍历或存储顺序如何，哈希值逐位一致。
type HashNode struct {
	Segment     string     `json:"segment"`
	NodeHash    Digest     `json:"node_hash"`
	SubtreeHash Digest     `json:"subtree_hash"`
	ClassHashes []Digest   `json:"class_hashes,omitempty"`
	ClassCount  int        `json:"class_count"`
	Children    []*HashNode `json:"children,omitempty"`
}

// HashTree 包树的派生结构，每个节点带汇总哈希，
// 支持从整库到单个包任意粒度的比较。一旦构建即视为不可变。
type HashTree struct {
	RootPath []string  `json:"root_path,omitempty"`
	Root     *HashNode `json:"root"`
}

// ClassCount 子树内类总数
func (t *HashTree) ClassCount() int {
	if t.Root == nil {
		return 0
	}
	return t.Root.ClassCount
}

// BuildHashTrees 由包树生成哈希树。单根库返回一棵树；
// 多根库按不相交的顶层子树各生成一棵，按段名排序。
// 每棵树的根落在主根包上（跳过无类的单链前缀），这样库被嵌入
// 更大构件时其根子树哈希仍会原样出现在构件的哈希树里。
// 树中没有任何类时返回 ErrEmptyFingerprint。
func BuildHashTrees(pt *PackageTree) ([]*HashTree, error) {
	if pt == nil || pt.Root == nil || pt.ClassCount() == 0 {
		return nil, ErrEmptyFingerprint
	}

	if !pt.HasMultipleRoots() {
		path, node := descendToRoot(nil, pt.Root)
		return []*HashTree{{RootPath: path, Root: buildHashNode(node)}}, nil
	}

	trees := make([]*HashTree, 0, len(pt.Root.Children))
	for _, seg := range pt.Root.childSegments() {
		path, node := descendToRoot([]string{seg}, pt.Root.Children[seg])
		trees = append(trees, &HashTree{RootPath: path, Root: buildHashNode(node)})
	}
	return trees, nil
}

// descendToRoot 沿无类单子链下行到第一个有类或分叉的节点
func descendToRoot(path []string, node *PackageNode) ([]string, *PackageNode) {
	for len(node.Classes) == 0 && len(node.Children) == 1 {
		for seg, child := range node.Children {
			path = append(path, seg)
			node = child
		}
	}
	return path, node
}

// buildHashNode 后序构建：先解析全部子节点，父节点哈希才是
// 自身类和既得子哈希的纯函数
func buildHashNode(pn *PackageNode) *HashNode {
	hn := &HashNode{
		Segment:     pn.Segment,
		ClassHashes: make([]Digest, 0, len(pn.Classes)),
	}

	for _, cd := range pn.Classes {
		hn.ClassHashes = append(hn.ClassHashes, cd.ContentHash())
	}
	sortDigests(hn.ClassHashes)
	hn.NodeHash = hashDigests(hn.ClassHashes)
	hn.ClassCount = len(pn.Classes)

	for _, seg := range pn.childSegments() {
		child := buildHashNode(pn.Children[seg])
		hn.Children = append(hn.Children, child)
		hn.ClassCount += child.ClassCount
	}

	// 子节点已按段名字典序排列
	h := sha256.New()
	h.Write(hn.NodeHash[:])
	for _, child := range hn.Children {
		h.Write(child.SubtreeHash[:])
	}
	copy(hn.SubtreeHash[:], h.Sum(nil))

	return hn
}

func sortDigests(ds []Digest) {
	sort.Slice(ds, func(i, j int) bool {
		return bytes.Compare(ds[i][:], ds[j][:]) < 0
	})
}

func hashDigests(ds []Digest) Digest {
	h := sha256.New()
	for _, d := range ds {
		h.Write(d[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// Walk 前序遍历，depth 为相对本树根的深度
func (t *HashTree) Walk(fn func(n *HashNode, depth int)) {
	var visit func(n *HashNode, depth int)
	visit = func(n *HashNode, depth int) {
		fn(n, depth)
		for _, child := range n.Children {
			visit(child, depth+1)
		}
	}
	if t.Root != nil {
		visit(t.Root, 0)
	}
}
