// Package presence implements the per-instance connection manager: it
// accepts bidirectional client sessions, authenticates them, refuses
// any user it does not own, publishes online/offline events, consumes
// events for its owned users, and emits periodic heartbeats that
// refresh its ownership lease and load in the shared directory.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/fleetcontrolsio/presencehub/internal/bus"
	"github.com/fleetcontrolsio/presencehub/internal/directory"
	"github.com/fleetcontrolsio/presencehub/pkg/hashring"
)

// session is one locally-connected client.
type session struct {
	userID  string
	vnodeID int
	conn    *websocket.Conn
	done    chan struct{}
}

// Node is a single presence-node instance. assignedVnodes is fixed at
// construction; dynamic re-assignment is out of scope.
type Node struct {
	opts      *Options
	dir       directory.Directory
	publisher bus.Publisher
	consumer  bus.Consumer
	validator TokenValidator
	log       *zap.Logger

	assigned map[int]struct{}

	mu          sync.RWMutex
	clients     map[string]*session          // userId -> session
	onlineUsers map[int]map[string]time.Time // vnodeId -> userId -> last-updated

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	nowFn func() time.Time
}

// New builds a Node. dir, publisher, consumer and validator are
// constructor dependencies, not process-wide singletons (see design
// notes on global mutable state).
func New(opts *Options, dir directory.Directory, publisher bus.Publisher, consumer bus.Consumer, validator TokenValidator) (*Node, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	assigned := make(map[int]struct{}, len(opts.assignedVnodes))
	for _, v := range opts.assignedVnodes {
		if v < 0 || v >= opts.vnodeCount {
			return nil, fmt.Errorf("presence: assigned vnode %d out of range [0,%d)", v, opts.vnodeCount)
		}
		assigned[v] = struct{}{}
	}

	onlineUsers := make(map[int]map[string]time.Time, len(assigned))
	for v := range assigned {
		onlineUsers[v] = make(map[string]time.Time)
	}

	return &Node{
		opts:        opts,
		dir:         dir,
		publisher:   publisher,
		consumer:    consumer,
		validator:   validator,
		log:         logger,
		assigned:    assigned,
		clients:     make(map[string]*session),
		onlineUsers: onlineUsers,
		stopCh:      make(chan struct{}),
		nowFn:       time.Now,
	}, nil
}

// owns reports whether userID's vnode is in this node's assigned set.
func (n *Node) owns(userID string) (int, bool) {
	v := hashring.UserVnode(userID, n.opts.vnodeCount)
	_, ok := n.assigned[v]
	return v, ok
}

// Start runs one initial heartbeat synchronously before accepting
// connections, then launches the heartbeat loop, the bus consumer
// loop, and the staleness scrub loop.
func (n *Node) Start(ctx context.Context) error {
	if err := n.heartbeatOnce(ctx); err != nil {
		n.log.Warn("presence: initial heartbeat failed", zap.Error(err))
	}

	n.wg.Add(3)
	go n.heartbeatLoop(ctx)
	go n.consumeLoop(ctx)
	go n.scrubLoop(ctx)

	return nil
}

// Stop performs the graceful-shutdown sequence: signal the heartbeat
// and scrub loops to stop, close all live sessions with 1001, then
// close the consumer and the publisher. Completion is bounded by the
// caller's context deadline.
func (n *Node) Stop(ctx context.Context) error {
	var stopErr error
	n.stopOnce.Do(func() {
		close(n.stopCh)

		n.mu.Lock()
		sessions := make([]*session, 0, len(n.clients))
		for _, s := range n.clients {
			sessions = append(sessions, s)
		}
		n.mu.Unlock()

		for _, s := range sessions {
			_ = s.conn.Close(websocket.StatusGoingAway, "shutdown")
		}

		if n.consumer != nil {
			if err := n.consumer.Close(); err != nil {
				stopErr = err
			}
		}
		if n.publisher != nil {
			if err := n.publisher.Close(); err != nil && stopErr == nil {
				stopErr = err
			}
		}
	})

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if stopErr == nil {
			stopErr = ctx.Err()
		}
	}

	return stopErr
}

// HandleConnect upgrades an HTTP request to a WebSocket session and
// runs the connect protocol.
func (n *Node) HandleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		n.log.Warn("presence: websocket upgrade failed", zap.Error(err))
		return
	}

	ctx := r.Context()

	userID, closeCode, reason, err := n.authenticateAndAdmit(r)
	if err != nil {
		_ = conn.Close(closeCode, reason)
		return
	}

	n.acceptSession(ctx, conn, userID)
}

// authenticateAndAdmit runs connect protocol steps 1-3: token
// extraction, validation, and ownership closure.
func (n *Node) authenticateAndAdmit(r *http.Request) (userID string, code websocket.StatusCode, reason string, err error) {
	token, ok := extractToken(r)
	if !ok {
		return "", websocket.StatusPolicyViolation, ErrNoToken.Error(), ErrNoToken
	}

	userID, verr := n.validator.Validate(token)
	if verr != nil {
		return "", websocket.StatusPolicyViolation, ErrInvalidToken.Error(), ErrInvalidToken
	}

	if _, owned := n.owns(userID); !owned {
		return "", websocket.StatusPolicyViolation, ErrNotOwned.Error(), ErrNotOwned
	}

	return userID, 0, "", nil
}

// acceptSession runs connect protocol steps 4-8 once a session has
// passed authentication and ownership checks.
func (n *Node) acceptSession(ctx context.Context, conn *websocket.Conn, userID string) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("presence: panic handling connection", zap.Any("recover", r), zap.String("userId", userID))
			_ = conn.Close(websocket.StatusInternalError, ErrInternalFailure.Error())
		}
	}()

	vnodeID, _ := n.owns(userID)

	sess := &session{userID: userID, vnodeID: vnodeID, conn: conn, done: make(chan struct{})}

	n.displaceExisting(userID)
	n.insertSession(sess)

	n.publishOnline(ctx, userID)

	welcome := WelcomeFrame{
		Type:      FrameWelcome,
		UserID:    userID,
		NodeID:    n.opts.nodeID,
		Timestamp: n.nowFn().UnixMilli(),
	}
	if err := n.writeJSON(ctx, conn, welcome); err != nil {
		n.log.Warn("presence: failed to send welcome frame", zap.Error(err), zap.String("userId", userID))
	}

	n.receiveLoop(ctx, sess)
}

// displaceExisting closes any prior local session for userID before a
// new one is inserted. The ancestor overwrote the map entry without
// closing the old socket, leaking a connection; this implementation
// does not repeat that (see design notes).
func (n *Node) displaceExisting(userID string) {
	n.mu.Lock()
	prev, exists := n.clients[userID]
	n.mu.Unlock()
	if !exists {
		return
	}
	_ = prev.conn.Close(websocket.StatusGoingAway, "duplicate session")
	<-prev.done
}

func (n *Node) insertSession(sess *session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clients[sess.userID] = sess
	n.onlineUsers[sess.vnodeID][sess.userID] = n.nowFn()
}

func (n *Node) removeSession(sess *session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	// Idempotent on double-close: only remove if this exact session is
	// still the one on file for the user.
	if current, ok := n.clients[sess.userID]; ok && current == sess {
		delete(n.clients, sess.userID)
	}
	if set, ok := n.onlineUsers[sess.vnodeID]; ok {
		delete(set, sess.userID)
	}
}

func (n *Node) receiveLoop(ctx context.Context, sess *session) {
	defer close(sess.done)
	defer n.disconnect(ctx, sess)

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	n.wg.Add(1)
	go n.pingLoop(pingCtx, sess)

	for {
		_, data, err := sess.conn.Read(ctx)
		if err != nil {
			return
		}
		n.handleFrame(ctx, sess, data)
	}
}

func (n *Node) handleFrame(ctx context.Context, sess *session, data []byte) {
	var probe inboundFrame
	if err := json.Unmarshal(data, &probe); err != nil {
		n.log.Debug("presence: malformed frame, ignoring", zap.String("userId", sess.userID), zap.Error(err))
		return
	}

	switch probe.Type {
	case FramePing:
		pong := PongFrame{Type: FramePong, Timestamp: n.nowFn().UnixMilli()}
		if err := n.writeJSON(ctx, sess.conn, pong); err != nil {
			n.log.Debug("presence: failed to send pong", zap.String("userId", sess.userID), zap.Error(err))
		}
	default:
		n.log.Debug("presence: ignoring unrecognized frame type", zap.String("type", probe.Type), zap.String("userId", sess.userID))
	}
}

// pingLoop sends a liveness ping frame to the client every P, the
// per-connection interval. It is server-
// initiated, distinct from the client-initiated ping/pong handled in
// handleFrame.
func (n *Node) pingLoop(ctx context.Context, sess *session) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.opts.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.done:
			return
		case <-ticker.C:
			if err := sess.conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

func (n *Node) disconnect(ctx context.Context, sess *session) {
	n.removeSession(sess)
	n.publishOffline(ctx, sess.userID)
}

func (n *Node) writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

// OnlineCount returns the number of locally-tracked online users for
// vnodeID, used by the heartbeat loop to build the load table.
func (n *Node) OnlineCount(vnodeID int) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.onlineUsers[vnodeID])
}

// IsOnline reports whether userID is currently tracked online on this
// node (locally connected, or observed via a remote presence event).
func (n *Node) IsOnline(userID string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v := hashring.UserVnode(userID, n.opts.vnodeCount)
	set, ok := n.onlineUsers[v]
	if !ok {
		return false
	}
	_, online := set[userID]
	return online
}

// HasLocalClient reports whether userID has a live locally-connected
// session on this node.
func (n *Node) HasLocalClient(userID string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.clients[userID]
	return ok
}
