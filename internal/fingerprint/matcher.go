package fingerprint

import (
	"sort"
)

// MatchMethod 命中方式（封闭枚举）
type MatchMethod string

const (
	MethodExact   MatchMethod = "exact"   // 整树哈希相等，未经修改的完整包含
	MethodPartial MatchMethod = "partial" // 基于哈希袋的部分匹配，可耐受改名/重打包
)

// Match 单条匹配结果
type Match struct {
	Library        LibraryInfo `json:"library"`
	Score          float64     `json:"score"`
	PathScore      float64     `json:"path_score,omitempty"`
	MatchedClasses int         `json:"matched_classes"`
	Method         MatchMethod `json:"method"`
}

// MatchConfig 匹配策略配置
type MatchConfig struct {
	// MinScore 低于该分数的候选不上报，过滤小工具类带来的噪音
	MinScore float64
	// PathAware 是否启用按相对深度对齐的辅助评分（仅用于同分排序）
	PathAware bool
}

// DefaultMatchConfig 默认匹配配置
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		MinScore:  0.3,
		PathAware: true,
	}
}

// Matcher 指纹匹配器。无内部状态，每次查询相互独立，
// 对语料库只读，可在多个 goroutine 间共享。
type Matcher struct {
	cfg MatchConfig
}

// NewMatcher 创建匹配器
func NewMatcher(cfg MatchConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

// treeIndex 一个指纹全部哈希树的索引
type treeIndex struct {
	// subtrees 所有 SubtreeHash 的集合，用于整树包含判定
	subtrees map[Digest]struct{}
	// nodes NodeHash → 节点数（多重集）
	nodes map[Digest]int
	// nodeDirect NodeHash → 该节点直接类数
	nodeDirect map[Digest]int
	// nodeClasses NodeHash → 该节点直接类内容哈希
	nodeClasses map[Digest][]Digest
	// depthNodes 相对深度 → NodeHash 多重集
	depthNodes map[int]map[Digest]int
	// total 类总数
	total int
}

func indexTrees(trees []*HashTree) *treeIndex {
	idx := &treeIndex{
		subtrees:    make(map[Digest]struct{}),
		nodes:       make(map[Digest]int),
		nodeDirect:  make(map[Digest]int),
		nodeClasses: make(map[Digest][]Digest),
		depthNodes:  make(map[int]map[Digest]int),
	}
	for _, t := range trees {
		idx.total += t.ClassCount()
		t.Walk(func(n *HashNode, depth int) {
			idx.subtrees[n.SubtreeHash] = struct{}{}
			idx.nodes[n.NodeHash]++
			idx.nodeDirect[n.NodeHash] = len(n.ClassHashes)
			idx.nodeClasses[n.NodeHash] = n.ClassHashes
			bucket := idx.depthNodes[depth]
			if bucket == nil {
				bucket = make(map[Digest]int)
				idx.depthNodes[depth] = bucket
			}
			bucket[n.NodeHash]++
		})
	}
	return idx
}

// Match 将查询指纹与语料库逐一比较，返回按分数排序并过滤后的结果。
// 没有任何命中时返回空切片，这是预期结果而非错误。
func (m *Matcher) Match(query *Fingerprint, corpus []*Fingerprint) []Match {
	qIdx := indexTrees(query.HashTrees)

	results := make([]Match, 0)
	for _, ref := range corpus {
		if ref == nil || ref.ClassCount() == 0 {
			continue
		}
		if match, ok := m.matchOne(qIdx, ref); ok {
			results = append(results, match)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if m.cfg.PathAware && a.PathScore != b.PathScore {
			return a.PathScore > b.PathScore
		}
		if a.MatchedClasses != b.MatchedClasses {
			return a.MatchedClasses > b.MatchedClasses
		}
		return a.Library.Name < b.Library.Name
	})

	return results
}

// matchOne 单个参考库的评分
func (m *Matcher) matchOne(qIdx *treeIndex, ref *Fingerprint) (Match, bool) {
	refIdx := indexTrees(ref.HashTrees)

	// 整树命中：参考库每棵树的根子树哈希都出现在查询树中
	if containsAllRoots(qIdx, ref.HashTrees) {
		return Match{
			Library:        ref.Library,
			Score:          1.0,
			PathScore:      1.0,
			MatchedClasses: refIdx.total,
			Method:         MethodExact,
		}, true
	}

	matched := bagMatch(refIdx, qIdx)
	score := float64(matched) / float64(refIdx.total)
	if score < m.cfg.MinScore {
		return Match{}, false
	}

	result := Match{
		Library:        ref.Library,
		Score:          score,
		MatchedClasses: matched,
		Method:         MethodPartial,
	}
	if m.cfg.PathAware {
		result.PathScore = pathAlignedScore(refIdx, qIdx)
	}
	return result, true
}

func containsAllRoots(qIdx *treeIndex, refTrees []*HashTree) bool {
	for _, t := range refTrees {
		if t.Root == nil {
			return false
		}
		if _, ok := qIdx.subtrees[t.Root.SubtreeHash]; !ok {
			return false
		}
	}
	return true
}

// bagMatch 路径无关的哈希袋匹配：先按 NodeHash 多重集求交，
// 命中节点按其直接类数计权；两侧未命中节点的类再做一轮
// 类内容哈希级别的求交，兜住只改动了个别类的包。
func bagMatch(refIdx, qIdx *treeIndex) int {
	matched := 0
	refRemain := make(map[Digest]int)
	qRemain := make(map[Digest]int)

	for h, rc := range refIdx.nodes {
		qc := qIdx.nodes[h]
		common := rc
		if qc < common {
			common = qc
		}
		matched += common * refIdx.nodeDirect[h]
		for i := 0; i < rc-common; i++ {
			for _, ch := range refIdx.nodeClasses[h] {
				refRemain[ch]++
			}
		}
	}
	for h, qc := range qIdx.nodes {
		rc := refIdx.nodes[h]
		common := rc
		if qc < common {
			common = qc
		}
		for i := 0; i < qc-common; i++ {
			for _, ch := range qIdx.nodeClasses[h] {
				qRemain[ch]++
			}
		}
	}

	for h, rc := range refRemain {
		qc := qRemain[h]
		if qc < rc {
			matched += qc
		} else {
			matched += rc
		}
	}
	return matched
}

// pathAlignedScore 路径感知辅助分：按相对深度分桶后对 NodeHash
// 多重集求交。包嵌套结构保留、仅叶子类名被混淆时该分数仍然高，
// 用于区分哈希袋得分相同的候选。
func pathAlignedScore(refIdx, qIdx *treeIndex) float64 {
	matched := 0
	for depth, refBucket := range refIdx.depthNodes {
		qBucket := qIdx.depthNodes[depth]
		if qBucket == nil {
			continue
		}
		for h, rc := range refBucket {
			qc := qBucket[h]
			common := rc
			if qc < common {
				common = qc
			}
			matched += common * refIdx.nodeDirect[h]
		}
	}
	return float64(matched) / float64(refIdx.total)
}
