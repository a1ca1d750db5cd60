package imports

import (
	"github.com/arthur-debert/graphport/types"
)

// KeyMap maps the portable identifiers of an archive to the keys the
// destination store assigned during one import run. Entries are written once.
type KeyMap struct {
	keys map[types.PortableID]types.LocalKey
}

// NewKeyMap creates an empty key map.
func NewKeyMap() *KeyMap {
	return &KeyMap{keys: make(map[types.PortableID]types.LocalKey)}
}

// Put records the key of id. It returns false, leaving the map unchanged,
// when id already has a key.
func (m *KeyMap) Put(id types.PortableID, key types.LocalKey) bool {
	if _, exists := m.keys[id]; exists {
		return false
	}
	m.keys[id] = key
	return true
}

// Lookup implements types.KeyLookup.
func (m *KeyMap) Lookup(id types.PortableID) (types.LocalKey, bool) {
	key, ok := m.keys[id]
	return key, ok
}

// Len returns the number of entries.
func (m *KeyMap) Len() int {
	return len(m.keys)
}

// Resolve rewrites a reference through the map. The second result is false
// when the target has no key; the value is then returned unchanged.
func (m *KeyMap) Resolve(v types.FieldValue) (types.FieldValue, bool) {
	if !v.IsReference() {
		return v, true
	}
	key, ok := m.keys[types.PortableID(v.Ref.TargetID)]
	if !ok {
		return v, false
	}
	out := v.Clone()
	out.Ref.TargetID = key.ID
	out.Ref.TargetRevisionID = ""
	if key.Revisioned() {
		out.Ref.TargetRevisionID = key.RevisionID
	}
	return out, true
}
