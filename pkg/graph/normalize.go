package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/logger"
)

// RecordKind tells whether a rejected record was a node or an edge.
type RecordKind string

const (
	KindNode RecordKind = "node"
	KindEdge RecordKind = "edge"
)

// RejectedRecord is a raw record the normalizer dropped from its batch.
type RejectedRecord struct {
	Kind   RecordKind      `json:"kind"`
	Index  int             `json:"index"`
	Reason string          `json:"reason"`
	Raw    json.RawMessage `json:"raw"`
}

// Batch is a normalized merge batch. NodeIndex and EdgeIndex map each kept
// record back to its position in the raw payload.
type Batch struct {
	Nodes     []common.NodeRecord
	NodeIndex []int
	Edges     []common.EdgeRecord
	EdgeIndex []int
	Rejected  []RejectedRecord
}

// Normalizer turns raw extraction payloads into canonical records.
type Normalizer struct {
	repair bool
}

// NewNormalizer returns a Normalizer. With repair set, payloads that are not
// valid JSON are repaired before being declared malformed.
func NewNormalizer(repair bool) *Normalizer {
	return &Normalizer{repair: repair}
}

// Normalize parses raw into a Batch. A payload that cannot be parsed at all
// returns an error wrapping common.ErrMalformedPayload. Individual records
// that lack required fields are logged and listed in Batch.Rejected.
func (n *Normalizer) Normalize(raw []byte) (*Batch, error) {
	env, err := decodeBatch(raw, n.repair)
	if err != nil {
		return nil, err
	}

	b := &Batch{
		Nodes:     make([]common.NodeRecord, 0, len(env.Nodes)),
		NodeIndex: make([]int, 0, len(env.Nodes)),
		Edges:     make([]common.EdgeRecord, 0, len(env.Edges)),
		EdgeIndex: make([]int, 0, len(env.Edges)),
	}

	for i, rawNode := range env.Nodes {
		rec, err := normalizeNode(rawNode)
		if err != nil {
			b.reject(KindNode, i, rawNode, err)
			continue
		}
		b.Nodes = append(b.Nodes, rec)
		b.NodeIndex = append(b.NodeIndex, i)
	}

	for i, rawEdge := range env.Edges {
		rec, err := normalizeEdge(rawEdge)
		if err != nil {
			b.reject(KindEdge, i, rawEdge, err)
			continue
		}
		b.Edges = append(b.Edges, rec)
		b.EdgeIndex = append(b.EdgeIndex, i)
	}

	return b, nil
}

func (b *Batch) reject(kind RecordKind, index int, raw json.RawMessage, err error) {
	logger.Warn("[Normalize] dropping record", "kind", kind, "index", index, "reason", err.Error())
	b.Rejected = append(b.Rejected, RejectedRecord{
		Kind:   kind,
		Index:  index,
		Reason: err.Error(),
		Raw:    raw,
	})
}

func normalizeNode(raw json.RawMessage) (common.NodeRecord, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return common.NodeRecord{}, fmt.Errorf("%w: %w", common.ErrInvalidRecord, err)
	}

	id, err := requiredKey(obj, "id")
	if err != nil {
		return common.NodeRecord{}, err
	}

	typ := optionalText(obj, "type", common.DefaultNodeType)
	rec := common.NodeRecord{
		ID:       id,
		Type:     typ,
		Category: common.SanitizeCategory(typ, common.DefaultNodeType),
		Label:    optionalText(obj, "label", ""),
		Status:   optionalText(obj, "status", common.DefaultStatus),
		Data:     collectData(obj, "id", "type", "label", "status"),
	}
	return rec, nil
}

func normalizeEdge(raw json.RawMessage) (common.EdgeRecord, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return common.EdgeRecord{}, fmt.Errorf("%w: %w", common.ErrInvalidRecord, err)
	}

	source, serr := requiredKey(obj, "source")
	target, terr := requiredKey(obj, "target")
	if err := errors.Join(serr, terr); err != nil {
		return common.EdgeRecord{}, err
	}

	id := optionalText(obj, "id", "")
	if id == "" {
		id = source + "-" + target
	}
	label := optionalText(obj, "label", common.DefaultEdgeLabel)

	rec := common.EdgeRecord{
		ID:       id,
		Source:   source,
		Target:   target,
		Label:    label,
		Category: common.SanitizeCategory(label, common.DefaultEdgeLabel),
		Status:   optionalText(obj, "status", ""),
		Data:     collectData(obj, "id", "source", "target", "label", "status"),
	}
	return rec, nil
}

// requiredKey reads an identifier field. Strings and numbers are accepted;
// blanks count as missing.
func requiredKey(obj map[string]common.Value, key string) (string, error) {
	v, ok := obj[key]
	if !ok || v.Kind() == common.KindNull {
		return "", fmt.Errorf("%w: missing %q", common.ErrInvalidRecord, key)
	}
	if v.Kind() != common.KindString && v.Kind() != common.KindNumber {
		return "", fmt.Errorf("%w: %q must be a string, got %s", common.ErrInvalidRecord, key, v.Kind())
	}
	s, _ := v.Text()
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty %q", common.ErrInvalidRecord, key)
	}
	return s, nil
}

func optionalText(obj map[string]common.Value, key, fallback string) string {
	v, ok := obj[key]
	if !ok {
		return fallback
	}
	s, ok := v.Text()
	if !ok {
		return fallback
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	return s
}

// collectData gathers every top-level field that is not a record field,
// then the entries of the nested "data" object, which win on collision.
// A "data" value that is not an object is kept as property "data". A record
// field holding a list or object cannot be read as text, so it is carried
// here too and ends up stored as "data_<field>".
func collectData(obj map[string]common.Value, reserved ...string) map[string]common.Value {
	skip := make(map[string]bool, len(reserved))
	for _, k := range reserved {
		skip[k] = true
	}

	out := make(map[string]common.Value)
	for k, v := range obj {
		if k == "data" {
			continue
		}
		if !skip[k] || v.Kind() == common.KindList || v.Kind() == common.KindMap {
			out[k] = v
		}
	}

	if data, ok := obj["data"]; ok {
		switch data.Kind() {
		case common.KindMap:
			for k, v := range data.Fields() {
				out[k] = v
			}
		case common.KindNull:
		default:
			out["data"] = data
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}
