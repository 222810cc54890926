package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fleetcontrolsio/presencehub/internal/bus"
)

// consumeLoop runs the bus consumer for the lifetime of the node. Each
// delivered message is applied via applyEvent.
func (n *Node) consumeLoop(ctx context.Context) {
	defer n.wg.Done()
	if err := n.consumer.Consume(ctx, n.applyEvent); err != nil {
		n.log.Error("presence: bus consumer exited", zap.Error(err))
	}
}

// applyEvent implements the consume protocol:
// ignore self-published events, ignore events for vnodes this node
// doesn't own, apply online/offline to onlineUsers, and push a
// status_update to a live local client if one exists.
//
// Applying the same event twice is a no-op at the set level: adding an
// already-present member or removing an absent one changes nothing,
// satisfying at-least-once delivery semantics.
func (n *Node) applyEvent(evt bus.PresenceEvent) {
	if evt.NodeID == n.opts.nodeID {
		return
	}

	vnodeID, owned := n.owns(evt.UserID)
	if !owned {
		return
	}

	n.mu.Lock()
	set, ok := n.onlineUsers[vnodeID]
	if !ok {
		set = make(map[string]time.Time)
		n.onlineUsers[vnodeID] = set
	}
	switch evt.Action {
	case bus.ActionOnline:
		set[evt.UserID] = n.nowFn()
	case bus.ActionOffline:
		delete(set, evt.UserID)
	default:
		n.mu.Unlock()
		n.log.Debug("presence: ignoring unrecognized bus action", zap.String("action", evt.Action))
		return
	}
	sess, hasClient := n.clients[evt.UserID]
	n.mu.Unlock()

	if !hasClient {
		return
	}

	update := StatusUpdateFrame{
		Type:         FrameStatusUpdate,
		Action:       evt.Action,
		Timestamp:    evt.Timestamp,
		SourceNodeID: evt.NodeID,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.writeJSON(ctx, sess.conn, update); err != nil {
		n.log.Debug("presence: failed to push status_update",
			zap.String("eventId", evt.EventID),
			zap.String("userId", evt.UserID),
			zap.Error(err),
		)
	}
}
