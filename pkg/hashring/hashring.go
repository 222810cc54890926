package hashring

import (
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
	"sync"
)

// HashRing implements a consistent hash ring over physical instance
// ids, used to rank replica candidates for a key independently of the
// presence plane's user vnode ring.
type HashRing struct {
	nodes        map[string]*Node  // Map of node ID to node
	virtualNodes map[uint32]string // Map of virtual node hash to node ID
	sortedHashes []uint32          // Sorted list of virtual node hashes
	replicaCount int               // Number of virtual nodes per physical node
	mu           sync.RWMutex      // Protects access to the hash ring
}

// NewHashRing creates a new consistent hash ring
func NewHashRing(replicaCount int) *HashRing {
	if replicaCount <= 0 {
		replicaCount = 10 // Default to 10 replicas if invalid count provided
	}

	return &HashRing{
		nodes:        make(map[string]*Node),
		virtualNodes: make(map[uint32]string),
		sortedHashes: make([]uint32, 0),
		replicaCount: replicaCount,
	}
}

// AddNode adds a node to the hash ring
func (h *HashRing) AddNode(n *Node) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n == nil {
		return errors.New("cannot add nil node")
	}

	if n.ID == "" {
		return errors.New("node ID cannot be empty")
	}

	if _, exists := h.nodes[n.ID]; exists {
		return ErrNodeExists
	}

	// Add the node to our nodes map
	h.nodes[n.ID] = n

	// Add virtual nodes
	for i := 0; i < h.replicaCount; i++ {
		virtualNodeKey := fmt.Sprintf("%s:%d", n.ID, i)
		hash := crc32.ChecksumIEEE([]byte(virtualNodeKey))
		h.virtualNodes[hash] = n.ID
		h.sortedHashes = append(h.sortedHashes, hash)
	}

	// Resort hashes
	sort.Slice(h.sortedHashes, func(i, j int) bool {
		return h.sortedHashes[i] < h.sortedHashes[j]
	})

	return nil
}

// RemoveNode removes a node from the hash ring
func (h *HashRing) RemoveNode(nodeID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	node, exists := h.nodes[nodeID]
	if !exists {
		return ErrNodeNotFound
	}

	// Remove the node from our nodes map
	delete(h.nodes, nodeID)

	// Remove virtual nodes
	removed := make(map[uint32]struct{}, h.replicaCount)
	for i := 0; i < h.replicaCount; i++ {
		virtualNodeKey := fmt.Sprintf("%s:%d", node.ID, i)
		hash := crc32.ChecksumIEEE([]byte(virtualNodeKey))
		delete(h.virtualNodes, hash)
		removed[hash] = struct{}{}
	}

	// Rebuild the sorted hashes array excluding this node's hashes
	newSortedHashes := make([]uint32, 0, len(h.sortedHashes)-h.replicaCount)
	for _, existing := range h.sortedHashes {
		if _, skip := removed[existing]; !skip {
			newSortedHashes = append(newSortedHashes, existing)
		}
	}

	h.sortedHashes = newSortedHashes
	return nil
}

// GetNodesForKey returns up to n distinct nodes for key, walking the
// ring clockwise from key's hash and skipping nodes already picked.
// Coordinator.replicaHint uses this to build a short replica
// preference list per user.
func (h *HashRing) GetNodesForKey(key string, n int) []*Node {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 {
		return nil
	}

	exclude := make(map[string]struct{}, n)
	out := make([]*Node, 0, n)
	for i := 0; i < n; i++ {
		node, err := h.nodeForKey(key, exclude)
		if err != nil {
			break
		}
		out = append(out, node)
		exclude[node.ID] = struct{}{}
	}
	return out
}

// nodeForKey walks the ring clockwise from key's hash, skipping
// unavailable nodes and any id present in exclude. Callers must hold
// at least h.mu for reading.
func (h *HashRing) nodeForKey(key string, exclude map[string]struct{}) (*Node, error) {
	if len(h.nodes) == 0 {
		return nil, ErrNoNodes
	}

	hash := crc32.ChecksumIEEE([]byte(key))

	idx := sort.Search(len(h.sortedHashes), func(i int) bool {
		return h.sortedHashes[i] >= hash
	})
	if idx >= len(h.sortedHashes) {
		idx = 0
	}

	for i := 0; i < len(h.sortedHashes); i++ {
		vIdx := (idx + i) % len(h.sortedHashes)
		nodeID := h.virtualNodes[h.sortedHashes[vIdx]]
		if _, skip := exclude[nodeID]; skip {
			continue
		}
		node, exists := h.nodes[nodeID]
		if !exists || !node.IsAvailable() {
			continue
		}
		return node, nil
	}

	return nil, ErrNoNodes
}

// GetNodeCount returns the number of nodes in the hash ring
func (h *HashRing) GetNodeCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}
