package state

import "encoding/json"

// Trace captures provenance information for a key lookup across the layers
// that produced a resolved snapshot.
type Trace struct {
	Key    string       `json:"key"`
	Layers []Provenance `json:"layers"`
}

// Provenance details how a specific scope contributed to a traced key.
type Provenance struct {
	Scope      Scope  `json:"scope"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	Value      any    `json:"value,omitempty"`
	Found      bool   `json:"found"`
}

// Winner returns the strongest layer that defines the key.
func (t Trace) Winner() (Provenance, bool) {
	for _, layer := range t.Layers {
		if layer.Found {
			return layer, true
		}
	}
	return Provenance{}, false
}

// ToJSON serialises the trace into JSON for logging or transport helpers.
func (t Trace) ToJSON() ([]byte, error) {
	type alias Trace
	return json.Marshal(alias(t))
}

// TraceKey reports, for keyed snapshots, which layers define key. Layers are
// reported strongest first.
func TraceKey[M ~map[string]V, V any](resolved Resolved[M], key string) Trace {
	trace := Trace{Key: key, Layers: make([]Provenance, 0, len(resolved.Layers))}
	for _, layer := range resolved.Layers {
		value, ok := layer.Snapshot[key]
		entry := Provenance{
			Scope:      layer.Scope,
			SnapshotID: layer.SnapshotID,
			Found:      ok,
		}
		if ok {
			entry.Value = value
		}
		trace.Layers = append(trace.Layers, entry)
	}
	return trace
}
