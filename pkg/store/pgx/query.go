package pgx

const (
	ensureCategorySQL = `
WITH inserted AS (
    INSERT INTO graph_categories (name, kind) VALUES ($1, $2)
    ON CONFLICT (name) DO NOTHING
    RETURNING kind
)
SELECT kind FROM inserted
UNION ALL
SELECT kind FROM graph_categories WHERE name = $1
LIMIT 1`

	findNodeSQL = `SELECT id, category, properties FROM graph_nodes WHERE id = $1`

	createNodeSQL = `
INSERT INTO graph_nodes (id, category, properties) VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING
RETURNING id`

	// the stored id always wins over an incoming "id" property
	updateNodeSQL = `
UPDATE graph_nodes
SET properties = properties || $2::jsonb || jsonb_build_object('id', id),
    updated_at = now()
WHERE id = $1`

	findEdgeSQL = `
SELECT id, source_id, target_id, category, properties
FROM graph_edges
WHERE source_id = $1 AND target_id = $2 AND category = $3`

	createEdgeSQL = `
INSERT INTO graph_edges (source_id, target_id, category, properties) VALUES ($1, $2, $3, $4)
ON CONFLICT ON CONSTRAINT graph_edges_identity DO NOTHING
RETURNING id`

	updateEdgeSQL = `
UPDATE graph_edges
SET properties = properties || $2::jsonb,
    updated_at = now()
WHERE id = $1`

	searchNodesSQL = `
SELECT id, category, properties
FROM graph_nodes
WHERE $1 = ''
   OR strpos(lower(id), lower($1)) > 0
   OR strpos(lower(coalesce(properties->>'label', '')), lower($1)) > 0
ORDER BY id
LIMIT $2`

	labelledNodesSQL = `
SELECT id, category, properties
FROM graph_nodes
WHERE category = $1 AND properties->>'label' IS NOT NULL
ORDER BY id`

	countNodesSQL = `SELECT count(*) FROM graph_nodes`
	countEdgesSQL = `SELECT count(*) FROM graph_edges`
)
