package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// HeartbeatEvent reports the outcome of one namespace write during a
// heartbeat, the generalized form of the ancestor's per-peer ping
// result. TickID correlates the owners and loads writes that came
// from the same heartbeatOnce tick in the log output, since the two
// writes land on separate goroutines and their log lines can appear in
// either order.
type HeartbeatEvent struct {
	TickID    string
	Namespace string // "owners" or "loads"
	Err       error
}

// heartbeatLoop ticks every HeartbeatInterval, building and writing
// this node's owned-vnode owners and loads to the directory. Directory
// write failure is logged; the next tick retries.
func (n *Node) heartbeatLoop(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.opts.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			if err := n.heartbeatOnce(ctx); err != nil {
				n.log.Warn("presence: heartbeat failed", zap.Error(err))
			}
		}
	}
}

// heartbeatOnce performs a single heartbeat: build owners/loads for
// every assigned vnode and write both namespaces concurrently, bounded
// by HeartbeatConcurrency, exactly the shape of the ancestor's
// conc/pool-based peer fan-out.
func (n *Node) heartbeatOnce(ctx context.Context) error {
	owners := make(map[int]string, len(n.assigned))
	loads := make(map[int]int, len(n.assigned))
	for v := range n.assigned {
		owners[v] = n.opts.nodeID
		loads[v] = n.OnlineCount(v)
	}

	tickID := uuid.NewString()
	events := make(chan HeartbeatEvent, 2)
	p := pool.New().WithMaxGoroutines(n.opts.heartbeatConcurrency)

	p.Go(func() {
		err := n.dir.PutOwners(ctx, owners, n.opts.ownershipTTL)
		events <- HeartbeatEvent{TickID: tickID, Namespace: "owners", Err: err}
	})
	p.Go(func() {
		err := n.dir.PutLoads(ctx, loads, n.opts.ownershipTTL)
		events <- HeartbeatEvent{TickID: tickID, Namespace: "loads", Err: err}
	})

	p.Wait()
	close(events)

	var firstErr error
	for evt := range events {
		if evt.Err != nil {
			n.log.Warn("presence: heartbeat namespace write failed",
				zap.String("tickId", evt.TickID),
				zap.String("namespace", evt.Namespace), zap.Error(evt.Err))
			if firstErr == nil {
				firstErr = evt.Err
			}
		}
	}
	return firstErr
}
