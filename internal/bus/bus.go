// Package bus implements the cross-instance presence-event bus: a
// key-partitioned, at-least-once pub/sub channel for online/offline
// transitions, keyed by user id so one user's events are totally
// ordered.
package bus

// Topic is the single topic the presence plane uses.
const Topic = "user_status_events"

// Action values carried on a PresenceEvent.
const (
	ActionOnline  = "online"
	ActionOffline = "offline"
)

// PresenceEvent is the wire record published for every online/offline
// transition. EventID is a per-publish correlation id a consumer can
// log alongside its own processing outcome to match it back to the
// publish side in cross-instance traces.
type PresenceEvent struct {
	EventID   string `json:"eventId"`
	UserID    string `json:"userId"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
	NodeID    string `json:"nodeId"`
}
