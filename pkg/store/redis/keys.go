package redis

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pnptcn/nuner/pkg/common"
)

// keyspace lays out the graph under a common prefix:
//
//	{p}:nodes                     zset of node ids (score 0, lexical order)
//	{p}:edges                     zset of edge handles
//	{p}:category:{cat}            zset of node ids per category
//	{p}:node_category             hash id -> category
//	{p}:schema                    hash category -> kind
//	{p}:n:{id}                    hash of scalar node properties
//	{p}:n:{id}:lists              set of multi-valued property names
//	{p}:n:{id}:list:{prop}        zset of values of one multi-valued property
//	{p}:e:{handle}...             the same three keys for an edge
//
// Ids and property names are query-escaped so they never contain ':'.
type keyspace struct {
	prefix string
}

func esc(s string) string { return url.QueryEscape(s) }

func (k keyspace) nodes() string { return k.prefix + ":nodes" }
func (k keyspace) edges() string { return k.prefix + ":edges" }
func (k keyspace) category(cat string) string { return k.prefix + ":category:" + cat }
func (k keyspace) nodeCategory() string { return k.prefix + ":node_category" }
func (k keyspace) schema() string { return k.prefix + ":schema" }
func (k keyspace) node(id string) string { return k.prefix + ":n:" + esc(id) }
func (k keyspace) edge(h common.Handle) string { return k.prefix + ":e:" + string(h) }
func lists(base string) string { return base + ":lists" }
func listKey(base, prop string) string { return base + ":list:" + esc(prop) }

// edgeHandle encodes an edge identity. Handles are unambiguous because
// both ids are escaped.
func edgeHandle(key common.EdgeKey) common.Handle {
	return common.Handle(esc(key.Source) + "/" + esc(key.Target) + "/" + key.Category)
}

func parseEdgeHandle(h common.Handle) (common.EdgeKey, error) {
	parts := strings.Split(string(h), "/")
	if len(parts) != 3 {
		return common.EdgeKey{}, fmt.Errorf("edge %s: %w", h, common.ErrNotFound)
	}
	src, err1 := url.QueryUnescape(parts[0])
	tgt, err2 := url.QueryUnescape(parts[1])
	if err1 != nil || err2 != nil {
		return common.EdgeKey{}, fmt.Errorf("edge %s: %w", h, common.ErrNotFound)
	}
	return common.EdgeKey{Source: src, Target: tgt, Category: parts[2]}, nil
}
