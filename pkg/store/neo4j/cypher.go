package neo4j

import (
	"fmt"

	"github.com/pnptcn/nuner/pkg/common"
)

// baseLabel is carried by every merged node, next to its category label, so
// that identity lookups hit a single uniqueness constraint. Category names
// are letters and digits only, so the underscore keeps both internal labels
// out of their reach.
const baseLabel = "Nuner_Node"

// categoryLabel marks the category registry. Registry nodes do not carry
// baseLabel and never show up in searches or counts.
const categoryLabel = "Nuner_Category"

var constraintQueries = []string{
	"CREATE CONSTRAINT nuner_node_id IF NOT EXISTS FOR (n:" + baseLabel + ") REQUIRE n.id IS UNIQUE",
	"CREATE CONSTRAINT nuner_category_name IF NOT EXISTS FOR (c:" + categoryLabel + ") REQUIRE c.name IS UNIQUE",
}

// label quotes a category for use as a node label or relationship type.
// Labels cannot be query parameters, so only sanitized names are accepted.
func label(category string) (string, error) {
	if !common.ValidCategory(category) {
		return "", common.SchemaConflict(fmt.Errorf("invalid category name %q", category))
	}
	return "`" + category + "`", nil
}

const ensureCategoryQuery = `
MERGE (c:` + categoryLabel + ` {name: $name})
ON CREATE SET c.kind = $kind
RETURN c.kind AS kind`

const nodeReturn = `
RETURN elementId(n) AS handle, n.id AS id,
       [l IN labels(n) WHERE l <> '` + baseLabel + `'][0] AS category,
       properties(n) AS props`

const findNodeQuery = `MATCH (n:` + baseLabel + ` {id: $id})` + nodeReturn

func createNodeQuery(category string) (string, error) {
	l, err := label(category)
	if err != nil {
		return "", err
	}
	return `CREATE (n:` + baseLabel + `:` + l + `) SET n = $props RETURN elementId(n) AS handle`, nil
}

const updateNodeQuery = `
MATCH (n) WHERE elementId(n) = $handle
WITH n, n.id AS storedID
SET n += $props
SET n.id = storedID
RETURN elementId(n) AS handle`

// mergeNodeQuery is the single match-or-create statement for a node. The
// category label is only attached on creation.
func mergeNodeQuery(category string) (string, error) {
	l, err := label(category)
	if err != nil {
		return "", err
	}
	return `
OPTIONAL MATCH (prev:` + baseLabel + ` {id: $id})
WITH count(prev) > 0 AS existed
MERGE (n:` + baseLabel + ` {id: $id})
ON CREATE SET n:` + l + `
SET n += $props
RETURN existed, elementId(n) AS handle`, nil
}

func findEdgeQuery(category string) (string, error) {
	l, err := label(category)
	if err != nil {
		return "", err
	}
	return `
MATCH (s:` + baseLabel + ` {id: $source})-[r:` + l + `]->(t:` + baseLabel + ` {id: $target})
RETURN elementId(r) AS handle, properties(r) AS props
LIMIT 1`, nil
}

func existingEdgeQuery(category string) (string, error) {
	l, err := label(category)
	if err != nil {
		return "", err
	}
	return `
MATCH (s)-[r:` + l + `]->(t)
WHERE elementId(s) = $source AND elementId(t) = $target
RETURN elementId(r) AS handle
LIMIT 1`, nil
}

func createEdgeQuery(category string) (string, error) {
	l, err := label(category)
	if err != nil {
		return "", err
	}
	return `
MATCH (s) WHERE elementId(s) = $source
MATCH (t) WHERE elementId(t) = $target
CREATE (s)-[r:` + l + `]->(t)
SET r = $props
RETURN elementId(r) AS handle`, nil
}

const updateEdgeQuery = `
MATCH ()-[r]->() WHERE elementId(r) = $handle
SET r += $props
RETURN elementId(r) AS handle`

// mergeEdgeQuery matches both endpoints before merging, so a missing
// endpoint yields no rows and nothing is created.
func mergeEdgeQuery(category string) (string, error) {
	l, err := label(category)
	if err != nil {
		return "", err
	}
	return `
MATCH (s:` + baseLabel + ` {id: $source})
MATCH (t:` + baseLabel + ` {id: $target})
OPTIONAL MATCH (s)-[prev:` + l + `]->(t)
WITH s, t, count(prev) > 0 AS existed
MERGE (s)-[r:` + l + `]->(t)
SET r += $props
RETURN existed, elementId(r) AS handle`, nil
}

func searchQuery(limit int) string {
	q := `
MATCH (n:` + baseLabel + `)
WHERE $q = ''
   OR toLower(n.id) CONTAINS toLower($q)
   OR toLower(coalesce(n.label, '')) CONTAINS toLower($q)` + nodeReturn + `
ORDER BY id`
	if limit > 0 {
		q += fmt.Sprintf("\nLIMIT %d", limit)
	}
	return q
}

func labelledNodesQuery(category string) (string, error) {
	l, err := label(category)
	if err != nil {
		return "", err
	}
	return `
MATCH (n:` + baseLabel + `:` + l + `)
WHERE n.label IS NOT NULL` + nodeReturn + `
ORDER BY id`, nil
}

const (
	countNodesQuery = `MATCH (n:` + baseLabel + `) RETURN count(n) AS count`
	countEdgesQuery = `MATCH (:` + baseLabel + `)-[r]->(:` + baseLabel + `) RETURN count(r) AS count`
)
