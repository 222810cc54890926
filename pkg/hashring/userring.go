package hashring

import (
	"crypto/md5"
	"encoding/binary"
	"sync"
)

// UserRing maps user identifiers to vnode ids and vnode ids to owning
// instances. V is fixed at construction and never changes for the life
// of the ring.
//
// UserVnode is pure and deterministic: it depends only on the user id
// and V, never on ring state. OwnerOfVnode and the load table are the
// only mutable parts, and they are populated from authoritative
// directory snapshots via UpdateMappings, never computed locally.
type UserRing struct {
	v int

	mu     sync.RWMutex
	owners map[int]string
	loads  map[int]int
}

// NewUserRing creates a ring with the given fixed vnode count.
func NewUserRing(v int) *UserRing {
	if v <= 0 {
		v = 1024
	}
	return &UserRing{
		v:      v,
		owners: make(map[int]string),
		loads:  make(map[int]int),
	}
}

// V returns the fixed vnode count.
func (r *UserRing) V() int {
	return r.v
}

// UserVnode computes the vnode id for a user id: the first 32 bits of
// MD5(userId), big-endian, modulo V. For "u1" at V=1024 this is 221
// (md5("u1") = e4774cdda0793f86414e8b9140bb6db4, 0xe4774cdd mod 1024
// == 221).
func UserVnode(userID string, v int) int {
	sum := md5.Sum([]byte(userID))
	digest := binary.BigEndian.Uint32(sum[:4])
	return int(digest % uint32(v))
}

// UserVnode computes this ring's vnode id for a user id.
func (r *UserRing) UserVnode(userID string) int {
	return UserVnode(userID, r.v)
}

// OwnerOfVnode returns the instance id owning vnodeID, or "" if unowned.
func (r *UserRing) OwnerOfVnode(vnodeID int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners[vnodeID]
}

// LoadOfVnode returns the last known load for vnodeID.
func (r *UserRing) LoadOfVnode(vnodeID int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loads[vnodeID]
}

// UpdateMappings merges a partial ownership batch into the ring. An
// empty instance id for a vnode clears its ownership. This never
// replaces the whole map, only the given keys.
func (r *UserRing) UpdateMappings(owners map[int]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, owner := range owners {
		if owner == "" {
			delete(r.owners, id)
			continue
		}
		r.owners[id] = owner
	}
}

// UpdateLoads merges a partial load batch into the ring.
func (r *UserRing) UpdateLoads(loads map[int]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, load := range loads {
		r.loads[id] = load
	}
}

// ReplaceMappings replaces the entire ownership map, used when warming
// the ring from a directory snapshot at startup.
func (r *UserRing) ReplaceMappings(owners map[int]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = make(map[int]string, len(owners))
	for id, owner := range owners {
		if owner == "" {
			continue
		}
		r.owners[id] = owner
	}
}

// Snapshot returns a copy of the current vnode -> owner map, safe for
// the caller to mutate or serve directly to clients.
func (r *UserRing) Snapshot() map[int]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]string, len(r.owners))
	for id, owner := range r.owners {
		out[id] = owner
	}
	return out
}
