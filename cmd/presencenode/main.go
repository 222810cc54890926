// Command presencenode runs one presence-plane connection manager: it
// accepts WebSocket sessions for the vnodes ASSIGNED_VNODES names,
// publishes and consumes presence events over Kafka, and refreshes its
// ownership lease in the shared directory on a heartbeat.
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

	"github.com/fleetcontrolsio/presencehub/internal/bus"
	"github.com/fleetcontrolsio/presencehub/internal/config"
	"github.com/fleetcontrolsio/presencehub/internal/directory"
	"github.com/fleetcontrolsio/presencehub/internal/presence"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("presencenode: exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("presencenode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("presencenode: %w", err)
	}

	redisOpts, err := parseRedisURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("presencenode: %w", err)
	}
	redisOpts.MaxRetries = 5
	redisOpts.RetryBackOffLimit = 20 * time.Second

	redisClient, err := directory.NewRedisClient(ctx, redisOpts)
	if err != nil {
		return fmt.Errorf("presencenode: connect redis: %w", err)
	}
	if closer, ok := redisClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	dir := directory.NewRedisDirectory(envString("DIRECTORY_PREFIX", "presencehub"), envString("CLUSTER_NAME", "default"), redisClient, log)

	if len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("presencenode: KAFKA_BROKERS is required")
	}
	publisher, err := bus.NewKafkaPublisher(ctx, cfg.KafkaBrokers, 20*time.Second, log)
	if err != nil {
		return fmt.Errorf("presencenode: connect kafka: %w", err)
	}
	defer publisher.Close()

	consumer := bus.NewKafkaConsumer(cfg.KafkaBrokers, cfg.NodeID, log)
	defer consumer.Close()

	validator := presence.NewJWTValidator(cfg.JWTSecret)

	opts := presence.NewOptions().
		WithNodeID(cfg.NodeID).
		WithAssignedVnodes(cfg.AssignedVnodes).
		WithVnodeCount(cfg.VnodeCount).
		WithHeartbeatInterval(cfg.HeartbeatInterval).
		WithJWTSecret(cfg.JWTSecret).
		WithLogger(log)

	node, err := presence.New(opts, dir, publisher, consumer, validator)
	if err != nil {
		return fmt.Errorf("presencenode: %w", err)
	}

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("presencenode: start: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.WSPort)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           presence.NewServer(node),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("presencenode: listening", zap.String("addr", addr), zap.String("nodeId", cfg.NodeID))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		_ = node.Stop(context.Background())
		return fmt.Errorf("presencenode: listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("presencenode: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return node.Stop(shutdownCtx)
}

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
