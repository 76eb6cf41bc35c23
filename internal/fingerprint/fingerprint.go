package fingerprint

import (
	"encoding/json"
	"fmt"
)

// LibraryInfo 库的描述信息，由元数据协作方提供
type LibraryInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Category    string `json:"category,omitempty"`
	ReleaseDate string `json:"release_date,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

// Fingerprint 一个库版本的持久化结构指纹：
// 描述信息 + 包树 + 哈希树序列（多根库每个不相交根子树一棵）。
// 构建后不可变，匹配过程只读。
type Fingerprint struct {
	Library     LibraryInfo  `json:"library"`
	PackageTree *PackageTree `json:"package_tree"`
	HashTrees   []*HashTree  `json:"hash_trees"`
}

// NewFingerprint 由类描述符集合生成完整指纹。
// 没有可用类时返回 ErrEmptyFingerprint。
func NewFingerprint(lib LibraryInfo, classes []*ClassDescriptor) (*Fingerprint, error) {
	pt, err := BuildPackageTree(classes)
	if err != nil {
		return nil, err
	}
	hts, err := BuildHashTrees(pt)
	if err != nil {
		return nil, err
	}
	return &Fingerprint{
		Library:     lib,
		PackageTree: pt,
		HashTrees:   hts,
	}, nil
}

// ClassCount 指纹覆盖的类总数
func (f *Fingerprint) ClassCount() int {
	total := 0
	for _, t := range f.HashTrees {
		total += t.ClassCount()
	}
	return total
}

// Encode 序列化为 JSON
func (f *Fingerprint) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fingerprint: %w", err)
	}
	return data, nil
}

// DecodeFingerprint 反序列化指纹，往返后各节点哈希值逐位一致
func DecodeFingerprint(data []byte) (*Fingerprint, error) {
	var f Fingerprint
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode fingerprint: %w", err)
	}
	if f.PackageTree == nil || len(f.HashTrees) == 0 {
		return nil, fmt.Errorf("incomplete fingerprint: missing trees")
	}
	return &f, nil
}

// Verify 由包树里的类描述符重算哈希树，校验与存储的哈希一致。
// 用于检测损坏或被篡改的语料条目。
func (f *Fingerprint) Verify() error {
	rebuilt, err := BuildHashTrees(f.PackageTree)
	if err != nil {
		return fmt.Errorf("failed to rebuild hash trees: %w", err)
	}
	if len(rebuilt) != len(f.HashTrees) {
		return fmt.Errorf("hash tree count mismatch: stored %d, rebuilt %d", len(f.HashTrees), len(rebuilt))
	}
	for i, t := range f.HashTrees {
		if t.Root == nil || rebuilt[i].Root == nil {
			return fmt.Errorf("hash tree %d has no root", i)
		}
		if t.Root.SubtreeHash != rebuilt[i].Root.SubtreeHash {
			return fmt.Errorf("subtree hash mismatch at tree %d: stored %s, rebuilt %s",
				i, t.Root.SubtreeHash, rebuilt[i].Root.SubtreeHash)
		}
	}
	return nil
}
