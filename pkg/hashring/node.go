package hashring

// NodeStatus represents the current state of a node
type NodeStatus string

// NodeStatusActive indicates the node is operational and available.
// Register/Unregister only ever add or remove nodes outright; nothing
// in the presence plane transitions a node through an inactive or
// draining state, so that is the only status value in use.
const NodeStatusActive NodeStatus = "active"

// Node represents a physical instance tracked by a HashRing
type Node struct {
	// ID is the unique identifier for this node
	ID string

	// Address is the network address of the node
	Address string

	// Status indicates the current operational status
	Status NodeStatus
}

// NewNode creates a new node with the given ID and address
func NewNode(id, address string) *Node {
	return &Node{
		ID:      id,
		Address: address,
		Status:  NodeStatusActive,
	}
}

// IsAvailable returns true if the node is available to handle requests
func (n *Node) IsAvailable() bool {
	return n.Status == NodeStatusActive
}
