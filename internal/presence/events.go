package presence

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetcontrolsio/presencehub/internal/bus"
)

// publishOnline publishes an online transition. Publish failure is
// logged but never aborts the connect that triggered it.
func (n *Node) publishOnline(ctx context.Context, userID string) {
	n.publish(ctx, userID, bus.ActionOnline)
}

// publishOffline publishes an offline transition. Publish failure is
// logged and not retried (disconnect protocol, bus publish loss).
func (n *Node) publishOffline(ctx context.Context, userID string) {
	n.publish(ctx, userID, bus.ActionOffline)
}

func (n *Node) publish(ctx context.Context, userID, action string) {
	evt := bus.PresenceEvent{
		EventID:   uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Timestamp: n.nowFn().UnixMilli(),
		NodeID:    n.opts.nodeID,
	}
	if err := n.publisher.PublishPresence(ctx, evt); err != nil {
		n.log.Warn("presence: publish failed, event dropped",
			zap.String("eventId", evt.EventID),
			zap.String("userId", userID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
