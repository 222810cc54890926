// Command coordinator runs the presence plane's admission and routing
// HTTP service: instances register against it to claim vnodes, and
// clients resolve which instance currently owns a user.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fleetcontrolsio/presencehub/internal/coordinator"
	"github.com/fleetcontrolsio/presencehub/internal/directory"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("coordinator: exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prefix := envString("DIRECTORY_PREFIX", "presencehub")
	namespace := envString("CLUSTER_NAME", "default")
	vnodeCount := envInt("VNODE_COUNT", 1024)
	addr := envString("COORDINATOR_ADDR", ":8080")

	redisOpts, err := parseRedisURL(envString("REDIS_URL", "redis://localhost:6379/0"))
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	redisOpts.MaxRetries = envInt("REDIS_MAX_RETRIES", 5)
	redisOpts.RetryBackOffLimit = envDuration("REDIS_RETRY_BACKOFF", 20*time.Second)

	redisClient, err := directory.NewRedisClient(ctx, redisOpts)
	if err != nil {
		return fmt.Errorf("coordinator: connect redis: %w", err)
	}

	dir := directory.NewRedisDirectory(prefix, namespace, redisClient, log)
	instances := coordinator.NewInstanceRegistry(prefix, namespace, redisClient)

	opts := coordinator.NewOptions().
		WithPrefix(prefix).
		WithName(namespace).
		WithVnodeCount(vnodeCount).
		WithHTTPClient(http.DefaultClient).
		WithLogger(log)

	coord, err := coordinator.New(opts, dir)
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	coord.WithInstances(instances)

	if err := coord.Warm(ctx); err != nil {
		log.Warn("coordinator: warm on startup failed, starting with an empty ring", zap.Error(err))
	}

	srv := coordinator.NewServer(coord, dir, log)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("coordinator: listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("coordinator: listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("coordinator: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// parseRedisURL accepts redis://[:password@]host:port/db, the same
// shape the presence node reads for its own directory connection.
func parseRedisURL(raw string) (*directory.ClientOptions, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL %q: %w", raw, err)
	}

	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		port = 6379
	}

	password := ""
	if u.User != nil {
		password, _ = u.User.Password()
	}

	db := 0
	if path := u.Path; len(path) > 1 {
		if n, err := strconv.Atoi(path[1:]); err == nil {
			db = n
		}
	}

	return &directory.ClientOptions{
		Host:     host,
		Port:     port,
		Password: password,
		DB:       db,
	}, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
