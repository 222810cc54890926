package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fleetcontrolsio/presencehub/internal/directory"
)

// Instance is the presence plane's own registration record: an
// instanceId, its registration weight, its client-facing address, and
// when it joined. assignedVnodes itself lives in the directory's
// vnode:owners namespace, not duplicated here.
type Instance struct {
	ID           string
	Addr         string
	Weight       int
	RegisteredAt time.Time
}

// InstanceRegistry persists Instance metadata as a Redis hash per
// instance id, the same HSET/HGETALL shape the presence plane's
// ancestor used for its member records, generalized from a heartbeat-
// tracking membership table to a registration-metadata table (vnode
// ownership and load now live in the shared directory's vnode
// namespaces instead of per-member counters).
type InstanceRegistry struct {
	prefix    string
	namespace string
	redis     directory.RedisClient
}

// NewInstanceRegistry builds a registry over an already-connected
// Redis client, sharing the directory's connection and key-namespacing
// convention.
func NewInstanceRegistry(prefix, namespace string, client directory.RedisClient) *InstanceRegistry {
	return &InstanceRegistry{prefix: prefix, namespace: namespace, redis: client}
}

func (r *InstanceRegistry) key(instanceID string) string {
	return fmt.Sprintf("%s:%s:instance:%s", r.prefix, r.namespace, instanceID)
}

// Put records or refreshes an instance's registration metadata.
func (r *InstanceRegistry) Put(ctx context.Context, inst Instance) error {
	key := r.key(inst.ID)
	return r.redis.HSet(ctx, key,
		"addr", inst.Addr,
		"weight", strconv.Itoa(inst.Weight),
		"registered_at", strconv.FormatInt(inst.RegisteredAt.Unix(), 10),
	).Err()
}

// Get retrieves one instance's metadata, returning (Instance{}, false,
// nil) on a miss.
func (r *InstanceRegistry) Get(ctx context.Context, instanceID string) (Instance, bool, error) {
	raw, err := r.redis.HGetAll(ctx, r.key(instanceID)).Result()
	if err != nil {
		return Instance{}, false, err
	}
	if len(raw) == 0 {
		return Instance{}, false, nil
	}

	weight, _ := strconv.Atoi(raw["weight"])
	registeredAtUnix, _ := strconv.ParseInt(raw["registered_at"], 10, 64)

	return Instance{
		ID:           instanceID,
		Addr:         raw["addr"],
		Weight:       weight,
		RegisteredAt: time.Unix(registeredAtUnix, 0),
	}, true, nil
}

// Remove deletes an instance's registration metadata.
func (r *InstanceRegistry) Remove(ctx context.Context, instanceID string) error {
	return r.redis.Del(ctx, r.key(instanceID)).Err()
}

// List returns every registered instance's metadata.
func (r *InstanceRegistry) List(ctx context.Context) ([]Instance, error) {
	pattern := fmt.Sprintf("%s:%s:instance:*", r.prefix, r.namespace)
	keys, err := r.redis.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, err
	}

	prefix := fmt.Sprintf("%s:%s:instance:", r.prefix, r.namespace)
	out := make([]Instance, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, prefix)
		inst, ok, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, inst)
		}
	}
	return out, nil
}
