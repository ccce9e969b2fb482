package store

import (
	"slices"
	"strings"

	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/similarity"
)

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize elements.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// MatchesSearch reports whether the node id or label contains substring,
// ignoring case. An empty substring matches every node.
func MatchesSearch(n common.StoredNode, substring string) bool {
	q := strings.ToLower(substring)
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(n.ID), q) ||
		strings.Contains(strings.ToLower(n.Label()), q)
}

// SortNodes orders nodes by id, the order Search results are returned in.
func SortNodes(nodes []common.StoredNode) {
	slices.SortStableFunc(nodes, func(a, b common.StoredNode) int {
		return strings.Compare(a.ID, b.ID)
	})
}

// Limit truncates nodes to at most limit entries when limit is positive.
func Limit(nodes []common.StoredNode, limit int) []common.StoredNode {
	if limit > 0 && len(nodes) > limit {
		return nodes[:limit]
	}
	return nodes
}

// BestSimilar picks the fuzzy match among candidates, which must be listed in
// the backend's stable iteration order.
func BestSimilar(candidates []common.StoredNode, normalizedName string, threshold float64) *common.StoredNode {
	m, ok := similarity.Best(candidates, normalizedName, threshold)
	if !ok {
		return nil
	}
	n := m.Node
	return &n
}
