// Package portableid derives store-independent identifiers for entities.
//
// Local primary keys are assigned by the store and mean nothing in another
// installation, so exported records refer to entities through a hash of the
// entity type and local id instead. The same pair always yields the same
// identifier, in every run and on every machine.
package portableid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/arthur-debert/graphport/types"
)

// Length is the number of hex characters kept from the SHA-256 digest
// (128 bits).
const Length = 32

// Hash returns the portable identifier of an entity. The type is length
// prefixed so that no two (type, id) pairs share a preimage.
func Hash(entityType, id string) types.PortableID {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s:%s", len(entityType), entityType, id)))
	return types.PortableID(hex.EncodeToString(sum[:])[:Length])
}

// Registry issues identifiers for one export run and refuses to hand out the
// same identifier for two different entities.
type Registry struct {
	issued map[types.PortableID]types.NodeRef
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{issued: make(map[types.PortableID]types.NodeRef)}
}

// Hash returns the identifier for the entity, failing with
// types.ErrHashCollision when a different entity already owns it.
func (r *Registry) Hash(entityType, id string) (types.PortableID, error) {
	pid := Hash(entityType, id)
	ref := types.NodeRef{Type: entityType, ID: id}
	if owner, ok := r.issued[pid]; ok && owner != ref {
		return "", fmt.Errorf("%w: %s maps both %s/%s and %s/%s",
			types.ErrHashCollision, pid, owner.Type, owner.ID, entityType, id)
	}
	r.issued[pid] = ref
	return pid, nil
}

// Len returns the number of distinct entities hashed so far.
func (r *Registry) Len() int {
	return len(r.issued)
}
