package neo4j

import (
	"fmt"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/pnptcn/nuner/pkg/common"
)

func stringValue(r *neo4jv5.Record, key string) string {
	v, _ := r.Get(key)
	s, _ := v.(string)
	return s
}

func propsValue(r *neo4jv5.Record, key string) common.Properties {
	v, _ := r.Get(key)
	m, _ := v.(map[string]any)
	if m == nil {
		return common.Properties{}
	}
	return common.Properties(m)
}

func nodeFromRecord(r *neo4jv5.Record) common.StoredNode {
	return common.StoredNode{
		Handle:     common.Handle(stringValue(r, "handle")),
		ID:         stringValue(r, "id"),
		Category:   stringValue(r, "category"),
		Properties: propsValue(r, "props"),
	}
}

func nodesFromRecords(records []*neo4jv5.Record) []common.StoredNode {
	out := make([]common.StoredNode, 0, len(records))
	for _, r := range records {
		out = append(out, nodeFromRecord(r))
	}
	return out
}

func firstHandle(records []*neo4jv5.Record) (common.Handle, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("statement returned no handle")
	}
	return common.Handle(stringValue(records[0], "handle")), nil
}

// upsertOutcome reads the existed/handle row of a MERGE statement.
func upsertOutcome(records []*neo4jv5.Record) common.Outcome {
	h, err := firstHandle(records)
	if err != nil {
		return common.Failed(err)
	}
	existed, _ := records[0].Get("existed")
	if b, _ := existed.(bool); b {
		return common.Updated(h)
	}
	return common.Created(h)
}
