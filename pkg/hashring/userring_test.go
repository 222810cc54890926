package hashring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserVnode_ReferenceExample(t *testing.T) {
	// md5("u1") == e4774cdda0793f86414e8b9140bb6db4, first 4 bytes
	// big-endian == 0xe4774cdd, and 0xe4774cdd mod 1024 == 221.
	got := UserVnode("u1", 1024)
	assert.Equal(t, 221, got)
}

func TestUserVnode_Deterministic(t *testing.T) {
	ids := []string{"alice", "bob", "u1", "", "a-very-long-user-identifier-string-here"}
	for _, id := range ids {
		id := id
		t.Run(fmt.Sprintf("id=%q", id), func(t *testing.T) {
			first := UserVnode(id, 1024)
			for i := 0; i < 20; i++ {
				require.Equal(t, first, UserVnode(id, 1024))
			}
		})
	}
}

func TestUserVnode_Range(t *testing.T) {
	for v := 1; v <= 2048; v *= 2 {
		for i := 0; i < 200; i++ {
			id := fmt.Sprintf("user-%d", i)
			got := UserVnode(id, v)
			assert.GreaterOrEqual(t, got, 0)
			assert.Less(t, got, v)
		}
	}
}

func TestUserRing_UpdateMappingsMerge(t *testing.T) {
	r := NewUserRing(8)
	r.UpdateMappings(map[int]string{0: "A", 1: "A", 2: "B"})
	assert.Equal(t, "A", r.OwnerOfVnode(0))
	assert.Equal(t, "B", r.OwnerOfVnode(2))

	// Merging vnode 1 away from A must not disturb 0 or 2.
	r.UpdateMappings(map[int]string{1: ""})
	assert.Equal(t, "A", r.OwnerOfVnode(0))
	assert.Equal(t, "", r.OwnerOfVnode(1))
	assert.Equal(t, "B", r.OwnerOfVnode(2))
}

func TestUserRing_ReplaceMappings(t *testing.T) {
	r := NewUserRing(8)
	r.UpdateMappings(map[int]string{0: "A", 1: "B"})
	r.ReplaceMappings(map[int]string{2: "C"})

	assert.Equal(t, "", r.OwnerOfVnode(0))
	assert.Equal(t, "", r.OwnerOfVnode(1))
	assert.Equal(t, "C", r.OwnerOfVnode(2))
}

func TestUserRing_Snapshot_IsCopy(t *testing.T) {
	r := NewUserRing(8)
	r.UpdateMappings(map[int]string{0: "A"})
	snap := r.Snapshot()
	snap[0] = "MUTATED"
	assert.Equal(t, "A", r.OwnerOfVnode(0))
}
