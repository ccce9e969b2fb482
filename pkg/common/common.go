package common

import (
	"bytes"
	"encoding/json"
	"maps"
)

const DefaultStatus = "active"

// Properties is the flat, storage-safe property set of a node or edge.
// Every value is a string, int64, float64 or bool.
type Properties map[string]any

// Clone returns a shallow copy of p.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	maps.Copy(out, p)
	return out
}

// Merge copies incoming over p (last writer wins per key) and returns p.
func (p Properties) Merge(incoming Properties) Properties {
	if p == nil {
		p = make(Properties, len(incoming))
	}
	maps.Copy(p, incoming)
	return p
}

// String returns the property as a string when it holds one.
func (p Properties) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// NormalizeNumbers replaces json.Number values, as produced by decoders in
// UseNumber mode, with int64 or float64. It modifies p in place.
func (p Properties) NormalizeNumbers() Properties {
	for k, v := range p {
		if n, ok := v.(json.Number); ok {
			p[k] = Number(n).Flatten()
		}
	}
	return p
}

// DecodeProperties decodes a JSON object of flattened properties without
// losing integer precision.
func DecodeProperties(data []byte) (Properties, error) {
	var p Properties
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	if p == nil {
		p = Properties{}
	}
	return p.NormalizeNumbers(), nil
}

// NodeRecord is one normalized node of an extraction batch.
//
// ID is the externally assigned identifier, Type the producer's raw type
// string and Category its sanitized form used as storage label. Data holds
// the nested "data" bag together with any other top-level field the
// producer sent.
type NodeRecord struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Category string           `json:"category"`
	Label    string           `json:"label,omitempty"`
	Status   string           `json:"status"`
	Data     map[string]Value `json:"data,omitempty"`
}

var nodeReserved = map[string]bool{"id": true, "type": true, "label": true, "status": true}

// Values returns the canonical property set of the node before flattening.
func (n NodeRecord) Values() map[string]Value {
	out := make(map[string]Value, len(n.Data)+4)
	copyData(out, n.Data, nodeReserved)
	out["id"] = String(n.ID)
	out["type"] = String(n.Type)
	if n.Label != "" {
		out["label"] = String(n.Label)
	}
	out["status"] = String(n.Status)
	return out
}

// Properties returns the flattened storage form of the node.
func (n NodeRecord) Properties() Properties {
	return Flatten(n.Values())
}

// EdgeKey is the identity of an edge: both endpoints and the relationship category.
type EdgeKey struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Category string `json:"category"`
}

// EdgeRecord is one normalized edge of an extraction batch.
type EdgeRecord struct {
	ID       string           `json:"id"`
	Source   string           `json:"source"`
	Target   string           `json:"target"`
	Label    string           `json:"label"`
	Category string           `json:"category"`
	Status   string           `json:"status,omitempty"`
	Data     map[string]Value `json:"data,omitempty"`
}

var edgeReserved = map[string]bool{"id": true, "source": true, "target": true, "label": true, "status": true}

func (e EdgeRecord) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target, Category: e.Category}
}

// Values returns the canonical property set of the edge before flattening.
// Endpoints and category are structural and not part of it.
func (e EdgeRecord) Values() map[string]Value {
	out := make(map[string]Value, len(e.Data)+2)
	copyData(out, e.Data, edgeReserved)
	out["id"] = String(e.ID)
	if e.Status != "" {
		out["status"] = String(e.Status)
	}
	return out
}

// Properties returns the flattened storage form of the edge.
func (e EdgeRecord) Properties() Properties {
	return Flatten(e.Values())
}

// copyData moves data entries into out, renaming keys that collide with a
// record field to "data_<key>". A literal "data_<key>" entry wins over a
// renamed one.
func copyData(out, data map[string]Value, reserved map[string]bool) {
	for k, v := range data {
		if reserved[k] {
			out["data_"+k] = v
		}
	}
	for k, v := range data {
		if !reserved[k] {
			out[k] = v
		}
	}
}

// Flatten reduces every value to its storage-safe scalar form.
func Flatten(values map[string]Value) Properties {
	out := make(Properties, len(values))
	for k, v := range values {
		out[k] = v.Flatten()
	}
	return out
}

// Handle is a backend-native reference to a stored node or edge.
type Handle string

// StoredNode is a node as read back from a backend.
type StoredNode struct {
	Handle     Handle     `json:"handle"`
	ID         string     `json:"id"`
	Category   string     `json:"category"`
	Properties Properties `json:"properties"`
}

// Label returns the display name of the node, if any.
func (n StoredNode) Label() string {
	return n.Properties.String("label")
}

// StoredEdge is an edge as read back from a backend.
type StoredEdge struct {
	Handle     Handle     `json:"handle"`
	Key        EdgeKey    `json:"key"`
	Properties Properties `json:"properties"`
}
