package directory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Directory is the logical contract shared by every process in the
// presence plane: the coordinator writes vnode ownership, presence
// nodes write load and read ownership, and both read/write the
// user-to-instance routing cache.
type Directory interface {
	GetOwners(ctx context.Context) (map[int]string, error)
	PutOwners(ctx context.Context, partial map[int]string, ttl time.Duration) error
	DeleteOwners(ctx context.Context, ids []int) error

	GetLoads(ctx context.Context) (map[int]int, error)
	PutLoads(ctx context.Context, partial map[int]int, ttl time.Duration) error

	GetUserInstance(ctx context.Context, userID string) (string, error)
	PutUserInstance(ctx context.Context, userID, instanceID string, ttl time.Duration) error
}

// RedisDirectory implements Directory against a Redis keyspace
// namespaced as "<prefix>:<namespace>:<parts...>", the same scheme the
// presence plane's ancestor used for its node-membership hashes.
type RedisDirectory struct {
	prefix    string
	namespace string
	redis     RedisClient
	log       *zap.Logger
}

// NewRedisDirectory builds a directory over an already-connected Redis
// client.
func NewRedisDirectory(prefix, namespace string, client RedisClient, log *zap.Logger) *RedisDirectory {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisDirectory{prefix: prefix, namespace: namespace, redis: client, log: log}
}

func (d *RedisDirectory) makeKey(parts ...string) string {
	return fmt.Sprintf("%s:%s:%s", d.prefix, d.namespace, strings.Join(parts, ":"))
}

func (d *RedisDirectory) ownersKey() string { return d.makeKey("vnode", "owners") }
func (d *RedisDirectory) loadsKey() string  { return d.makeKey("vnode", "load") }
func (d *RedisDirectory) userKey(userID string) string {
	return d.makeKey("user", userID)
}

// GetOwners returns a snapshot of the full vnode -> instance map.
func (d *RedisDirectory) GetOwners(ctx context.Context) (map[int]string, error) {
	raw, err := d.redis.HGetAll(ctx, d.ownersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("directory: get owners: %w", err)
	}
	return decodeIntStringMap(raw)
}

// PutOwners merges partial into the owners hash and refreshes the
// whole-key TTL, never touching fields it was not given.
func (d *RedisDirectory) PutOwners(ctx context.Context, partial map[int]string, ttl time.Duration) error {
	if len(partial) == 0 {
		return nil
	}
	key := d.ownersKey()
	fields := encodeIntStringMap(partial)

	if err := d.redis.HSet(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("directory: put owners: %w", err)
	}
	if err := d.redis.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("directory: refresh owners ttl: %w", err)
	}

	d.log.Debug("directory: owners merged",
		zap.Int("fields", len(partial)),
		zap.Uint64("checksum", checksumIntStringMap(partial)),
	)
	return nil
}

// DeleteOwners atomically removes the given vnode ids from the owners
// hash, used on unregister.
func (d *RedisDirectory) DeleteOwners(ctx context.Context, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = strconv.Itoa(id)
	}
	if err := d.redis.HDel(ctx, d.ownersKey(), fields...).Err(); err != nil {
		return fmt.Errorf("directory: delete owners: %w", err)
	}
	return nil
}

// GetLoads returns a snapshot of the full vnode -> load map.
func (d *RedisDirectory) GetLoads(ctx context.Context) (map[int]int, error) {
	raw, err := d.redis.HGetAll(ctx, d.loadsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("directory: get loads: %w", err)
	}
	out := make(map[int]int, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		load, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		out[id] = load
	}
	return out, nil
}

// PutLoads merges partial into the load hash and refreshes its TTL.
func (d *RedisDirectory) PutLoads(ctx context.Context, partial map[int]int, ttl time.Duration) error {
	if len(partial) == 0 {
		return nil
	}
	key := d.loadsKey()
	fields := make([]interface{}, 0, len(partial)*2)
	checksumSrc := make(map[int]string, len(partial))
	for id, load := range partial {
		fields = append(fields, strconv.Itoa(id), strconv.Itoa(load))
		checksumSrc[id] = strconv.Itoa(load)
	}

	if err := d.redis.HSet(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("directory: put loads: %w", err)
	}
	if err := d.redis.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("directory: refresh loads ttl: %w", err)
	}

	d.log.Debug("directory: loads merged",
		zap.Int("fields", len(partial)),
		zap.Uint64("checksum", checksumIntStringMap(checksumSrc)),
	)
	return nil
}

// GetUserInstance returns the cached owning instance for userID, or ""
// if there is no cache entry (miss, not an error).
func (d *RedisDirectory) GetUserInstance(ctx context.Context, userID string) (string, error) {
	val, err := d.redis.Get(ctx, d.userKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("directory: get user instance: %w", err)
	}
	return val, nil
}

// PutUserInstance is a fire-and-forget cache set with its own TTL,
// independent of the owners/loads namespaces.
func (d *RedisDirectory) PutUserInstance(ctx context.Context, userID, instanceID string, ttl time.Duration) error {
	if err := d.redis.Set(ctx, d.userKey(userID), instanceID, ttl).Err(); err != nil {
		return fmt.Errorf("directory: put user instance: %w", err)
	}
	return nil
}

func encodeIntStringMap(m map[int]string) []interface{} {
	fields := make([]interface{}, 0, len(m)*2)
	for id, val := range m {
		fields = append(fields, strconv.Itoa(id), val)
	}
	return fields
}

func decodeIntStringMap(raw map[string]string) (map[int]string, error) {
	out := make(map[int]string, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out, nil
}

// checksumIntStringMap produces a short, order-independent digest of a
// partial-map write. It exists purely so two racing writers (see the
// coordinator's unguarded register path) leave a distinguishable trail
// in logs; it has no bearing on correctness and is never compared
// against a prior value to reject a write.
func checksumIntStringMap(m map[int]string) uint64 {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Sort for determinism so identical partial writes log identical
	// checksums regardless of map iteration order.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	h := xxhash.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%d=%s;", k, m[k])
	}
	return h.Sum64()
}
