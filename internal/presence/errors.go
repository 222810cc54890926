package presence

import "errors"

// Option validation errors, in the fluent-options style the presence
// plane's ancestor used.
var (
	ErrInvalidNodeID        = errors.New("node id is required")
	ErrInvalidVnodeCount    = errors.New("vnode count must be greater than 0")
	ErrInvalidHeartbeatIvl  = errors.New("heartbeat interval must be greater than 0")
	ErrInvalidOwnershipTTL  = errors.New("ownership ttl must be greater than 0")
	ErrInvalidPingInterval  = errors.New("ping interval must be greater than 0")
	ErrInvalidStaleInterval = errors.New("stale scrub interval must be greater than 0")
	ErrInvalidJWTSecret     = errors.New("jwt secret is required")
)

// Connect-time rejection reasons, surfaced verbatim as WebSocket close
// reasons per the wire protocol.
var (
	ErrNoToken         = errors.New("No token provided")
	ErrInvalidToken    = errors.New("Invalid token")
	ErrNotOwned        = errors.New("User does not belong to this node")
	ErrInternalFailure = errors.New("Internal server error")
)
