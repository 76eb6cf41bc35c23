package fingerprint

import (
	"bytes"
	"sort"
	"strings"
)

// PackageNode 包树节点：该包直接包含的类及子包
type PackageNode struct {
	Segment  string                  `json:"segment"`
	Classes  []*ClassDescriptor      `json:"classes,omitempty"`
	Children map[string]*PackageNode `json:"children,omitempty"`
}

// childSegments 子节点段名，按字典序
func (n *PackageNode) childSegments() []string {
	segments := make([]string, 0, len(n.Children))
	for s := range n.Children {
		segments = append(segments, s)
	}
	sort.Strings(segments)
	return segments
}

// PackageTree 以包路径段为键的有序树。根节点是合成超级根（空前缀），
// 库只有一个主根包时可通过 RootPackage 取到该根。
type PackageTree struct {
	Root *PackageNode `json:"root"`
}

// BuildPackageTree 由类描述符集合构建包树。
// 输入顺序不影响结果：同一集合任意顺序插入得到结构相同的树。
func BuildPackageTree(classes []*ClassDescriptor) (*PackageTree, error) {
	root := &PackageNode{Segment: ""}

	for _, cd := range classes {
		for _, seg := range cd.PackagePath {
			if seg == "" {
				return nil, &MalformedPathError{Class: cd.SimpleName, Path: cd.PackagePath}
			}
		}

		node := root
		for _, seg := range cd.PackagePath {
			if node.Children == nil {
				node.Children = make(map[string]*PackageNode)
			}
			child, ok := node.Children[seg]
			if !ok {
				child = &PackageNode{Segment: seg}
				node.Children[seg] = child
			}
			node = child
		}
		node.Classes = append(node.Classes, cd)
	}

	tree := &PackageTree{Root: root}
	tree.normalize()
	return tree, nil
}

// normalize 对每个节点的类排序，保证重复构建结构一致
func (t *PackageTree) normalize() {
	t.walk(t.Root, func(n *PackageNode) {
		sort.Slice(n.Classes, func(i, j int) bool {
			hi, hj := n.Classes[i].ContentHash(), n.Classes[j].ContentHash()
			if c := bytes.Compare(hi[:], hj[:]); c != 0 {
				return c < 0
			}
			return n.Classes[i].SimpleName < n.Classes[j].SimpleName
		})
	})
}

func (t *PackageTree) walk(n *PackageNode, fn func(*PackageNode)) {
	fn(n)
	for _, seg := range n.childSegments() {
		t.walk(n.Children[seg], fn)
	}
}

// HasMultipleRoots 库的类没有共同根包时为真。
// 这是数据质量标记而非错误，指纹仍基于合成超级根继续生成。
func (t *PackageTree) HasMultipleRoots() bool {
	return len(t.Root.Classes) == 0 && len(t.Root.Children) > 1
}

// RootPackage 主根包路径（如 "com.example.util"）。
// 沿唯一子链下行直到出现类或分叉；多根时返回空串。
func (t *PackageTree) RootPackage() string {
	if t.HasMultipleRoots() {
		return ""
	}
	var segments []string
	node := t.Root
	for len(node.Classes) == 0 && len(node.Children) == 1 {
		for seg, child := range node.Children {
			segments = append(segments, seg)
			node = child
		}
	}
	return strings.Join(segments, ".")
}

// ClassCount 树中类总数
func (t *PackageTree) ClassCount() int {
	count := 0
	t.walk(t.Root, func(n *PackageNode) {
		count += len(n.Classes)
	})
	return count
}

// PackageCount 含有类的包数量
func (t *PackageTree) PackageCount() int {
	count := 0
	t.walk(t.Root, func(n *PackageNode) {
		if len(n.Classes) > 0 {
			count++
		}
	})
	return count
}
