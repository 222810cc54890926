package directory

import "errors"

// ErrInvalidRedisHost etc. mirror the option-validation sentinels the
// presence plane's ancestor used for its own Redis client options.
var (
	ErrInvalidRedisHost         = errors.New("redis host is required")
	ErrInvalidRedisPort         = errors.New("redis port is required")
	ErrInvalidRedisDB           = errors.New("redis db must be greater than or equal to 0")
	ErrInvalidRedisMaxRetries   = errors.New("redis max retries must be greater than or equal to 0")
	ErrInvalidRedisRetryBackoff = errors.New("redis retry backoff must be greater than 0")
)
