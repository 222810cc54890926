package coordinator

import "errors"

// Option validation errors, mirroring the presence plane's ancestor's
// fluent-options validation style.
var (
	ErrInvalidPrefix       = errors.New("prefix is required")
	ErrInvalidName         = errors.New("name is required")
	ErrInvalidVnodeCount   = errors.New("vnode count must be greater than 0")
	ErrInvalidHTTPClient   = errors.New("http client is required")
	ErrInvalidOwnTTL       = errors.New("ownership ttl must be greater than 0")
	ErrInvalidUserCacheTTL = errors.New("user cache ttl must be greater than 0")
)

// Domain errors returned by register/unregister/route.
var (
	// ErrMissingInstanceID is returned when a register/unregister
	// request omits instanceId.
	ErrMissingInstanceID = errors.New("instanceId is required")
	// ErrNoVnodesAvailable is returned when a register request finds
	// the ring fully occupied.
	ErrNoVnodesAvailable = errors.New("no vnodes available")
	// ErrNoVnodesForInstance is returned when unregister finds no
	// vnodes owned by the given instance.
	ErrNoVnodesForInstance = errors.New("instance owns no vnodes")
	// ErrMissingUserID is returned when /route omits userId.
	ErrMissingUserID = errors.New("userId is required")
	// ErrUserNotFound is returned when a user's vnode has no owner.
	ErrUserNotFound = errors.New("no owner for user's vnode")
)
