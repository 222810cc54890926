// Package coordinator implements the stateless admission/eviction and
// routing oracle for the presence plane: it assigns vnodes to
// instances on register, reclaims them on unregister, and answers
// "which instance owns this user" for clients.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetcontrolsio/presencehub/internal/directory"
	"github.com/fleetcontrolsio/presencehub/pkg/hashring"
)

// Coordinator is stateless HTTP-facing state: its only durable truth is
// the directory. The local UserRing is a lazily-refreshed read cache
// used to avoid a directory round trip on every route hit.
type Coordinator struct {
	opts *Options
	dir  directory.Directory
	log  *zap.Logger

	ring *hashring.UserRing

	mu         sync.Mutex // serializes register/unregister, see design notes on the register race
	physical   *hashring.HashRing
	physicalMu sync.Mutex

	instances *InstanceRegistry
}

// New builds a Coordinator. The directory must already be connected;
// the coordinator never owns its lifecycle.
func New(opts *Options, dir directory.Directory) (*Coordinator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		opts:     opts,
		dir:      dir,
		log:      logger,
		ring:     hashring.NewUserRing(opts.vnodeCount),
		physical: hashring.NewHashRing(10),
	}, nil
}

// WithInstances attaches an InstanceRegistry so Register/Unregister
// persist Instance metadata (address, weight) alongside vnode
// ownership. Optional: a Coordinator with no registry still implements
// the full register/unregister/route contract, it simply has no
// queryable Instance directory beyond vnode ownership.
func (c *Coordinator) WithInstances(r *InstanceRegistry) *Coordinator {
	c.instances = r
	return c
}

// Warm loads the current ownership snapshot from the directory into
// the local ring, as required at coordinator startup.
func (c *Coordinator) Warm(ctx context.Context) error {
	owners, err := c.dir.GetOwners(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: warm: %w", err)
	}
	c.ring.ReplaceMappings(owners)
	c.log.Info("coordinator: warmed ring from directory", zap.Int("owned_vnodes", len(owners)))
	return nil
}

// RegisterResult is the outcome of Register.
type RegisterResult struct {
	InstanceID     string
	AssignedVnodes []int
}

// Register admits instanceID into the ring, assigning it
// max(1, floor(V*weight/100)) vnodes from among those currently
// unowned, scanning ids 0..V-1 in order. If none are available it
// returns ErrNoVnodesAvailable; if fewer than desired are available it
// assigns what it can rather than failing.
//
// This is not transactional against concurrent Register calls from a
// second coordinator replica: each vnode is a single-field directory
// write, and the last writer for a given vnode wins. Deployments are
// expected to run a single coordinator, or serialize register calls
// externally (see design notes).
func (c *Coordinator) Register(ctx context.Context, instanceID string, weight int, addr string) (*RegisterResult, error) {
	if instanceID == "" {
		return nil, ErrMissingInstanceID
	}
	if weight <= 0 {
		weight = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	occupied, err := c.dir.GetOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: register: %w", err)
	}

	desired := (c.opts.vnodeCount * weight) / 100
	if desired < 1 {
		desired = 1
	}

	chosen := make([]int, 0, desired)
	for id := 0; id < c.opts.vnodeCount && len(chosen) < desired; id++ {
		if _, taken := occupied[id]; !taken {
			chosen = append(chosen, id)
		}
	}

	if len(chosen) == 0 {
		return nil, ErrNoVnodesAvailable
	}

	partial := make(map[int]string, len(chosen))
	for _, id := range chosen {
		partial[id] = instanceID
	}

	if err := c.dir.PutOwners(ctx, partial, c.opts.ownershipTTL); err != nil {
		return nil, fmt.Errorf("coordinator: register: %w", err)
	}

	c.ring.UpdateMappings(partial)
	c.addToPhysicalRing(instanceID)

	if c.instances != nil {
		if err := c.instances.Put(ctx, Instance{ID: instanceID, Addr: addr, Weight: weight, RegisteredAt: time.Now()}); err != nil {
			c.log.Warn("coordinator: failed to persist instance metadata", zap.String("instanceId", instanceID), zap.Error(err))
		}
	}

	c.log.Info("coordinator: registered instance",
		zap.String("instanceId", instanceID),
		zap.Int("weight", weight),
		zap.Int("assigned", len(chosen)),
		zap.Int("desired", desired),
	)

	return &RegisterResult{InstanceID: instanceID, AssignedVnodes: chosen}, nil
}

// Unregister removes instanceID's ownership of every vnode it
// currently holds, per the directory snapshot at call time.
func (c *Coordinator) Unregister(ctx context.Context, instanceID string) ([]int, error) {
	if instanceID == "" {
		return nil, ErrMissingInstanceID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	owners, err := c.dir.GetOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: unregister: %w", err)
	}

	var owned []int
	for id, owner := range owners {
		if owner == instanceID {
			owned = append(owned, id)
		}
	}
	sort.Ints(owned)

	if len(owned) == 0 {
		return nil, ErrNoVnodesForInstance
	}

	if err := c.dir.DeleteOwners(ctx, owned); err != nil {
		return nil, fmt.Errorf("coordinator: unregister: %w", err)
	}

	cleared := make(map[int]string, len(owned))
	for _, id := range owned {
		cleared[id] = ""
	}
	c.ring.UpdateMappings(cleared)
	c.removeFromPhysicalRing(instanceID)

	if c.instances != nil {
		if err := c.instances.Remove(ctx, instanceID); err != nil {
			c.log.Warn("coordinator: failed to remove instance metadata", zap.String("instanceId", instanceID), zap.Error(err))
		}
	}

	c.log.Info("coordinator: unregistered instance",
		zap.String("instanceId", instanceID),
		zap.Int("removed", len(owned)),
	)

	return owned, nil
}

// RouteSource reports whether a route answer came from the cache or a
// fresh hash lookup, the informational "source" field on /route.
type RouteSource string

const (
	RouteSourceCache RouteSource = "cache"
	RouteSourceHash  RouteSource = "hash"
)

// RouteResult is the outcome of Route.
type RouteResult struct {
	UserID   string
	VnodeID  int
	Instance string
	Source   RouteSource
	// Replicas is an informational, non-authoritative consistent-hash
	// preference list over currently registered instances, intended as
	// a client-side load-balancing hint. It never affects Instance or
	// Source.
	Replicas []string
}

// Route answers "which instance owns userID". It checks the
// user-instance cache first; on a miss it computes the user's vnode,
// resolves the owner (refreshing the local ring from the directory on
// a local miss), and populates the cache before returning.
func (c *Coordinator) Route(ctx context.Context, userID string) (*RouteResult, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	if cached, err := c.dir.GetUserInstance(ctx, userID); err != nil {
		return nil, fmt.Errorf("coordinator: route: %w", err)
	} else if cached != "" {
		return &RouteResult{
			UserID:   userID,
			VnodeID:  c.ring.UserVnode(userID),
			Instance: cached,
			Source:   RouteSourceCache,
			Replicas: c.replicaHint(userID),
		}, nil
	}

	vnodeID := c.ring.UserVnode(userID)
	owner := c.ring.OwnerOfVnode(vnodeID)

	if owner == "" {
		if err := c.Warm(ctx); err != nil {
			return nil, err
		}
		owner = c.ring.OwnerOfVnode(vnodeID)
	}

	if owner == "" {
		return nil, ErrUserNotFound
	}

	if err := c.dir.PutUserInstance(ctx, userID, owner, c.opts.userCacheTTL); err != nil {
		c.log.Warn("coordinator: failed to cache user route", zap.String("userId", userID), zap.Error(err))
	}

	return &RouteResult{
		UserID:   userID,
		VnodeID:  vnodeID,
		Instance: owner,
		Source:   RouteSourceHash,
		Replicas: c.replicaHint(userID),
	}, nil
}

// replicaHint walks the physical hash ring clockwise from userID's
// hash and returns up to opts.replicaHintCount registered instance
// ids (every registered instance when that count is not positive).
// This is purely informational (see RouteResult.Replicas) and
// never influences which instance Route actually reports as the
// owner, nor does it consult the authoritative vnode ring c.ring.
func (c *Coordinator) replicaHint(userID string) []string {
	n := c.opts.replicaHintCount
	if n <= 0 {
		n = c.physical.GetNodeCount()
	}

	c.physicalMu.Lock()
	nodes := c.physical.GetNodesForKey(userID, n)
	c.physicalMu.Unlock()

	if len(nodes) == 0 {
		return nil
	}
	ids := make([]string, 0, len(nodes))
	for _, node := range nodes {
		ids = append(ids, node.ID)
	}
	return ids
}

// physicalNodeCount reports how many instances the physical hash ring
// currently tracks, surfaced on /health.
func (c *Coordinator) physicalNodeCount() int {
	c.physicalMu.Lock()
	defer c.physicalMu.Unlock()
	return c.physical.GetNodeCount()
}

func (c *Coordinator) addToPhysicalRing(instanceID string) {
	c.physicalMu.Lock()
	defer c.physicalMu.Unlock()
	_ = c.physical.AddNode(hashring.NewNode(instanceID, ""))
}

func (c *Coordinator) removeFromPhysicalRing(instanceID string) {
	c.physicalMu.Lock()
	defer c.physicalMu.Unlock()
	_ = c.physical.RemoveNode(instanceID)
}
