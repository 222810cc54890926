package presence

import (
	"time"

	"go.uber.org/zap"
)

// Options configures a Node via the fluent With* pattern, mirroring
// the presence plane's ancestor's cluster options.
type Options struct {
	nodeID         string
	assignedVnodes []int
	vnodeCount     int

	heartbeatInterval    time.Duration
	heartbeatConcurrency int
	ownershipTTL         time.Duration

	pingInterval time.Duration

	staleInterval time.Duration
	staleAfter    time.Duration

	jwtSecret string

	logger *zap.Logger
}

// NewOptions returns the presence plane's defaults: H=30s,
// T_own=60s, P=30s.
func NewOptions() *Options {
	return &Options{
		vnodeCount:           1024,
		heartbeatInterval:    30 * time.Second,
		heartbeatConcurrency: 4,
		ownershipTTL:         60 * time.Second,
		pingInterval:         30 * time.Second,
		staleInterval:        30 * time.Second,
		staleAfter:           4 * 30 * time.Second,
	}
}

func (o *Options) WithNodeID(id string) *Options       { o.nodeID = id; return o }
func (o *Options) WithAssignedVnodes(v []int) *Options { o.assignedVnodes = v; return o }
func (o *Options) WithVnodeCount(v int) *Options       { o.vnodeCount = v; return o }
func (o *Options) WithHeartbeatInterval(d time.Duration) *Options {
	o.heartbeatInterval = d
	return o
}
func (o *Options) WithHeartbeatConcurrency(n int) *Options { o.heartbeatConcurrency = n; return o }
func (o *Options) WithOwnershipTTL(d time.Duration) *Options {
	o.ownershipTTL = d
	return o
}
func (o *Options) WithPingInterval(d time.Duration) *Options { o.pingInterval = d; return o }
func (o *Options) WithStaleInterval(d time.Duration) *Options {
	o.staleInterval = d
	return o
}
func (o *Options) WithStaleAfter(d time.Duration) *Options { o.staleAfter = d; return o }
func (o *Options) WithJWTSecret(s string) *Options         { o.jwtSecret = s; return o }
func (o *Options) WithLogger(l *zap.Logger) *Options       { o.logger = l; return o }

// Validate checks required fields are set to sane values.
func (o *Options) Validate() error {
	if o.nodeID == "" {
		return ErrInvalidNodeID
	}
	if o.vnodeCount <= 0 {
		return ErrInvalidVnodeCount
	}
	if o.heartbeatInterval <= 0 {
		return ErrInvalidHeartbeatIvl
	}
	if o.ownershipTTL <= 0 {
		return ErrInvalidOwnershipTTL
	}
	if o.pingInterval <= 0 {
		return ErrInvalidPingInterval
	}
	if o.staleInterval <= 0 {
		return ErrInvalidStaleInterval
	}
	if o.jwtSecret == "" {
		return ErrInvalidJWTSecret
	}
	return nil
}
