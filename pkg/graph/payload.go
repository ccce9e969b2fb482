package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"

	"github.com/pnptcn/nuner/pkg/common"
)

// Payload documents the wire shape of one extraction batch. The normalizer
// does not decode into it directly since records are loosely typed; it backs
// the published JSON schema.
type Payload struct {
	Nodes []NodeInput `json:"nodes,omitempty" jsonschema:"description=Entities to merge. Merged before any edge."`
	Edges []EdgeInput `json:"edges,omitempty" jsonschema:"description=Relationships between node ids."`
}

type NodeInput struct {
	ID     string         `json:"id" jsonschema:"description=Stable identifier assigned by the producer"`
	Type   string         `json:"type,omitempty" jsonschema:"default=Entity"`
	Label  string         `json:"label,omitempty" jsonschema:"description=Display name used for fuzzy identity matching"`
	Status string         `json:"status,omitempty" jsonschema:"default=active"`
	Data   map[string]any `json:"data,omitempty"`
}

type EdgeInput struct {
	ID     string         `json:"id,omitempty" jsonschema:"description=Defaults to <source>-<target>"`
	Source string         `json:"source"`
	Target string         `json:"target"`
	Label  string         `json:"label,omitempty" jsonschema:"default=RELATED_TO"`
	Status string         `json:"status,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// PayloadSchema returns the JSON schema of a merge batch.
func PayloadSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	return reflector.Reflect(&Payload{})
}

// rawBatch is the top-level envelope. Records stay raw so that a bad record
// is rejected on its own instead of failing the whole document.
type rawBatch struct {
	Nodes []json.RawMessage `json:"nodes"`
	Edges []json.RawMessage `json:"edges"`
}

// decodeBatch parses the envelope. With repair enabled, payloads that fail to
// parse are run through jsonrepair once before giving up.
func decodeBatch(raw []byte, repair bool) (*rawBatch, error) {
	var batch rawBatch
	err := json.Unmarshal(raw, &batch)
	if err == nil {
		return &batch, nil
	}
	if !repair {
		return nil, fmt.Errorf("%w: %w", common.ErrMalformedPayload, err)
	}

	repaired, rerr := jsonrepair.JSONRepair(strings.TrimSpace(string(raw)))
	if rerr != nil {
		return nil, fmt.Errorf("%w: json repair failed: %w", common.ErrMalformedPayload, rerr)
	}
	if err := json.Unmarshal([]byte(repaired), &batch); err != nil {
		return nil, fmt.Errorf("%w: unmarshal failed after repair: %w", common.ErrMalformedPayload, err)
	}
	return &batch, nil
}

// decodeObject decodes one record into tagged values, keeping number text.
func decodeObject(raw json.RawMessage) (map[string]common.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	m, ok := obj.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record is not an object")
	}
	out := make(map[string]common.Value, len(m))
	for k, v := range m {
		out[k] = common.FromInterface(v)
	}
	return out, nil
}
