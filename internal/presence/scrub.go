package presence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// scrubLoop periodically evicts onlineUsers entries whose last update
// is older than StaleAfter. This is an explicitly optional improvement
// over the ancestor's design: remote presence state otherwise has no
// per-entry TTL and can go stale indefinitely if an offline event is
// lost on the bus (see SPEC_FULL.md, "Bus publish loss"). Locally-
// connected users are never scrubbed this way
// since their session's own lifecycle keeps onlineUsers accurate.
func (n *Node) scrubLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.opts.staleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.scrubOnce()
		}
	}
}

func (n *Node) scrubOnce() {
	cutoff := n.nowFn().Add(-n.opts.staleAfter)

	n.mu.Lock()
	defer n.mu.Unlock()

	evicted := 0
	for _, set := range n.onlineUsers {
		for userID, lastSeen := range set {
			if _, hasClient := n.clients[userID]; hasClient {
				continue
			}
			if lastSeen.Before(cutoff) {
				delete(set, userID)
				evicted++
			}
		}
	}

	if evicted > 0 {
		n.log.Debug("presence: scrubbed stale remote presence entries", zap.Int("evicted", evicted))
	}
}
