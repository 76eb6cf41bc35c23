package loader

import (
	"strings"

	"github.com/sdk-detect/sdk-detect-go/internal/fingerprint"
)

// ClassRecord 外部字节码导出器输出的单个类记录
type ClassRecord struct {
	Package string         `json:"package"` // 点分包路径，默认包为空串
	Name    string         `json:"name"`
	Kind    string         `json:"kind"` // top_level / inner / anonymous / synthetic / interface / enum
	Members []MemberRecord `json:"members"`
}

// MemberRecord 类成员（方法或字段）记录
type MemberRecord struct {
	Signature string `json:"signature"`
	Public    bool   `json:"public"`
	Synthetic bool   `json:"synthetic"`
	Bridge    bool   `json:"bridge"`
}

// HierarchyStats 类层级统计，分析完成后由编排层输出
type HierarchyStats struct {
	ClassCount       int                           `json:"class_count"`
	InnerClassCount  int                           `json:"inner_class_count"`
	KindCounts       map[fingerprint.ClassKind]int `json:"kind_counts"`
	PublicMethods    int                           `json:"public_methods"`
	NonPublicMethods int                           `json:"non_public_methods"`
	FilteredClasses  int                           `json:"filtered_classes"`
}

// toDescriptors 把导出记录映射为类描述符。
// 编译器生成的噪音在这里剔除：synthetic 类整体跳过，
// synthetic/bridge 成员不参与哈希。同时收集层级统计。
func toDescriptors(records []ClassRecord) ([]*fingerprint.ClassDescriptor, *HierarchyStats) {
	stats := &HierarchyStats{
		KindCounts: make(map[fingerprint.ClassKind]int),
	}

	descriptors := make([]*fingerprint.ClassDescriptor, 0, len(records))
	for _, rec := range records {
		kind := fingerprint.ClassKind(rec.Kind)
		if !kind.Valid() {
			kind = fingerprint.KindTopLevel
		}
		stats.KindCounts[kind]++

		if kind == fingerprint.KindSynthetic || kind == fingerprint.KindAnonymous {
			stats.FilteredClasses++
			continue
		}
		if kind == fingerprint.KindInner {
			stats.InnerClassCount++
		}

		members := make([]string, 0, len(rec.Members))
		for _, m := range rec.Members {
			if m.Synthetic || m.Bridge {
				continue
			}
			if !m.Public {
				stats.NonPublicMethods++
				continue
			}
			stats.PublicMethods++
			members = append(members, m.Signature)
		}

		stats.ClassCount++
		descriptors = append(descriptors, fingerprint.NewClassDescriptor(
			splitPackage(rec.Package), rec.Name, kind, members))
	}

	return descriptors, stats
}

// splitPackage 点分包路径转段序列，默认包返回 nil
func splitPackage(pkg string) []string {
	if pkg == "" {
		return nil
	}
	return strings.Split(pkg, ".")
}
