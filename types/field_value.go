package types

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Reserved sub-keys of a reference value.
const (
	TargetIDKey         = "target_id"
	TargetRevisionIDKey = "target_revision_id"
)

// ValueKind tags the shape of a FieldValue.
type ValueKind int

const (
	// ScalarValue is a plain value object, e.g. {value: "Hello", format: "plain"}.
	ScalarValue ValueKind = iota

	// ReferenceValue points at another entity through Ref. Other sub-keys
	// (alt text, display settings) stay in Props.
	ReferenceValue
)

// Reference is the target of a ReferenceValue.
type Reference struct {
	TargetID         string
	TargetRevisionID string // Empty when the reference carries no revision
}

// FieldValue is one value object of a field. The Kind tag decides whether Ref
// is meaningful; every sub-key other than the reference keys lives in Props.
type FieldValue struct {
	Kind  ValueKind
	Ref   Reference
	Props map[string]any
}

// Scalar builds a scalar value object from sub-key/value pairs.
func Scalar(props map[string]any) FieldValue {
	return FieldValue{Kind: ScalarValue, Props: props}
}

// Value builds the common single-key scalar {value: v}.
func Value(v any) FieldValue {
	return Scalar(map[string]any{"value": v})
}

// Ref builds a reference value object.
func Ref(targetID string) FieldValue {
	return FieldValue{Kind: ReferenceValue, Ref: Reference{TargetID: targetID}}
}

// RevisionRef builds a reference value object that pins a revision.
func RevisionRef(targetID, revisionID string) FieldValue {
	return FieldValue{Kind: ReferenceValue, Ref: Reference{TargetID: targetID, TargetRevisionID: revisionID}}
}

// IsReference reports whether the value carries a target.
func (v FieldValue) IsReference() bool {
	return v.Kind == ReferenceValue
}

// String returns the main scalar of a value object: the target id for a
// reference, the "value" sub-key if present, or the first sub-key in sorted
// order otherwise.
func (v FieldValue) String() string {
	if v.Kind == ReferenceValue {
		return v.Ref.TargetID
	}
	if raw, ok := v.Props["value"]; ok {
		return fmt.Sprint(raw)
	}
	keys := v.propKeys()
	if len(keys) == 0 {
		return ""
	}
	return fmt.Sprint(v.Props[keys[0]])
}

// Clone returns a deep copy of the value object's property map.
func (v FieldValue) Clone() FieldValue {
	out := FieldValue{Kind: v.Kind, Ref: v.Ref}
	if v.Props != nil {
		out.Props = make(map[string]any, len(v.Props))
		for k, p := range v.Props {
			out.Props[k] = p
		}
	}
	return out
}

func (v FieldValue) propKeys() []string {
	keys := make([]string, 0, len(v.Props))
	for k := range v.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toMap flattens the value object to the archive mapping form.
func (v FieldValue) toMap() map[string]any {
	out := make(map[string]any, len(v.Props)+2)
	for k, p := range v.Props {
		out[k] = p
	}
	if v.Kind == ReferenceValue {
		out[TargetIDKey] = v.Ref.TargetID
		if v.Ref.TargetRevisionID != "" {
			out[TargetRevisionIDKey] = v.Ref.TargetRevisionID
		}
	}
	return out
}

// fromMap sets the tag from the presence of target_id.
func fromMap(m map[string]any) FieldValue {
	v := FieldValue{Kind: ScalarValue}
	if target, ok := m[TargetIDKey]; ok && target != nil {
		v.Kind = ReferenceValue
		v.Ref.TargetID = fmt.Sprint(target)
		if rev, ok := m[TargetRevisionIDKey]; ok && rev != nil {
			v.Ref.TargetRevisionID = fmt.Sprint(rev)
		}
	}
	for k, p := range m {
		if v.Kind == ReferenceValue && (k == TargetIDKey || k == TargetRevisionIDKey) {
			continue
		}
		if v.Props == nil {
			v.Props = make(map[string]any, len(m))
		}
		v.Props[k] = p
	}
	return v
}

// MarshalYAML implements yaml.Marshaler.
func (v FieldValue) MarshalYAML() (interface{}, error) {
	return v.toMap(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler. A bare scalar node is accepted
// and stored as {value: scalar}.
func (v *FieldValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var raw any
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*v = Value(raw)
		return nil
	}
	var m map[string]any
	if err := node.Decode(&m); err != nil {
		return fmt.Errorf("field value at line %d: %w", node.Line, err)
	}
	*v = fromMap(m)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toMap())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		var raw any
		if err2 := json.Unmarshal(data, &raw); err2 != nil {
			return err
		}
		*v = Value(raw)
		return nil
	}
	*v = fromMap(m)
	return nil
}
