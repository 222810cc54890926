package coordinator

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Options configures a Coordinator via the fluent With* pattern the
// presence plane's ancestor used for its own cluster options.
type Options struct {
	prefix string
	name   string

	vnodeCount int

	ownershipTTL time.Duration
	userCacheTTL time.Duration

	httpClient *http.Client
	logger     *zap.Logger

	replicaHintCount int
}

// NewOptions returns the presence plane's defaults: V=1024,
// T_own=60s, C_user=60s.
func NewOptions() *Options {
	return &Options{
		prefix:           "presencehub",
		name:             "default",
		vnodeCount:       1024,
		ownershipTTL:     60 * time.Second,
		userCacheTTL:     60 * time.Second,
		replicaHintCount: 2,
	}
}

func (o *Options) WithPrefix(prefix string) *Options { o.prefix = prefix; return o }
func (o *Options) WithName(name string) *Options     { o.name = name; return o }
func (o *Options) WithVnodeCount(v int) *Options     { o.vnodeCount = v; return o }
func (o *Options) WithOwnershipTTL(d time.Duration) *Options {
	o.ownershipTTL = d
	return o
}
func (o *Options) WithUserCacheTTL(d time.Duration) *Options {
	o.userCacheTTL = d
	return o
}
func (o *Options) WithHTTPClient(c *http.Client) *Options { o.httpClient = c; return o }
func (o *Options) WithLogger(l *zap.Logger) *Options      { o.logger = l; return o }
func (o *Options) WithReplicaHintCount(n int) *Options    { o.replicaHintCount = n; return o }

// Validate checks all required fields are set to sane values.
func (o *Options) Validate() error {
	if o.prefix == "" {
		return ErrInvalidPrefix
	}
	if o.name == "" {
		return ErrInvalidName
	}
	if o.vnodeCount <= 0 {
		return ErrInvalidVnodeCount
	}
	if o.ownershipTTL <= 0 {
		return ErrInvalidOwnTTL
	}
	if o.userCacheTTL <= 0 {
		return ErrInvalidUserCacheTTL
	}
	if o.httpClient == nil {
		return ErrInvalidHTTPClient
	}
	return nil
}
