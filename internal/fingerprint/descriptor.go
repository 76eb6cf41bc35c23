package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Digest 结构哈希值（SHA-256）
type Digest [sha256.Size]byte

// String 十六进制表示
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText 序列化为十六进制字符串
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(d[:])), nil
}

// UnmarshalText 从十六进制字符串反序列化
func (d *Digest) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("failed to decode digest: %w", err)
	}
	if len(raw) != sha256.Size {
		return fmt.Errorf("invalid digest length: %d", len(raw))
	}
	copy(d[:], raw)
	return nil
}

// ClassKind 类的种类（封闭枚举）
type ClassKind string

const (
	KindTopLevel  ClassKind = "top_level"
	KindInner     ClassKind = "inner"
	KindAnonymous ClassKind = "anonymous"
	KindSynthetic ClassKind = "synthetic"
	KindInterface ClassKind = "interface"
	KindEnum      ClassKind = "enum"
)

// Valid 检查类种类是否合法
func (k ClassKind) Valid() bool {
	switch k {
	case KindTopLevel, KindInner, KindAnonymous, KindSynthetic, KindInterface, KindEnum:
		return true
	default:
		return false
	}
}

// ClassDescriptor 单个类的规范化视图：包路径、公开成员签名及内容哈希。
// 内容哈希只由成员签名决定，与类名、包名无关，改名混淆后哈希不变。
type ClassDescriptor struct {
	PackagePath      []string  `json:"package_path"`
	SimpleName       string    `json:"simple_name"`
	Kind             ClassKind `json:"kind"`
	MemberSignatures []string  `json:"member_signatures"`

	contentHash Digest
	hashed      bool
}

// NewClassDescriptor 创建类描述符，成员签名去重并排序
func NewClassDescriptor(packagePath []string, simpleName string, kind ClassKind, members []string) *ClassDescriptor {
	d := &ClassDescriptor{
		PackagePath:      append([]string(nil), packagePath...),
		SimpleName:       simpleName,
		Kind:             kind,
		MemberSignatures: normalizeMembers(members),
	}
	return d
}

// normalizeMembers 去重并排序成员签名
func normalizeMembers(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ContentHash 成员签名的确定性摘要（签名先排序，与输入顺序无关）
func (d *ClassDescriptor) ContentHash() Digest {
	if d.hashed {
		return d.contentHash
	}
	members := d.MemberSignatures
	if !sort.StringsAreSorted(members) {
		members = append([]string(nil), members...)
		sort.Strings(members)
	}
	h := sha256.New()
	for _, m := range members {
		h.Write([]byte(m))
		h.Write([]byte{0})
	}
	copy(d.contentHash[:], h.Sum(nil))
	d.hashed = true
	return d.contentHash
}

// QualifiedName 带包前缀的完整类名
func (d *ClassDescriptor) QualifiedName() string {
	if len(d.PackagePath) == 0 {
		return d.SimpleName
	}
	return strings.Join(d.PackagePath, ".") + "." + d.SimpleName
}
