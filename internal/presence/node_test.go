package presence_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetcontrolsio/presencehub/internal/bus"
	"github.com/fleetcontrolsio/presencehub/internal/bus/busfake"
	"github.com/fleetcontrolsio/presencehub/internal/directory"
	"github.com/fleetcontrolsio/presencehub/internal/presence"
	"github.com/fleetcontrolsio/presencehub/pkg/hashring"
)

// stubValidator treats the bearer token itself as the user id, so
// tests can pick tokens whose vnode placement is known in advance.
type stubValidator struct {
	reject map[string]bool
}

func (v stubValidator) Validate(token string) (string, error) {
	if token == "" || v.reject[token] {
		return "", presence.ErrInvalidToken
	}
	return token, nil
}

func vnodeOwnedUser(t *testing.T, vnodeCount int, wantVnode int) string {
	t.Helper()
	for i := 0; i < 100000; i++ {
		id := fmt.Sprintf("user-%d", i)
		if hashring.UserVnode(id, vnodeCount) == wantVnode {
			return id
		}
	}
	t.Fatalf("could not find a user id mapping to vnode %d", wantVnode)
	return ""
}

func newTestNode(t *testing.T, nodeID string, assigned []int, dir directory.Directory, broker *busfake.Broker) *presence.Node {
	t.Helper()
	opts := presence.NewOptions().
		WithNodeID(nodeID).
		WithAssignedVnodes(assigned).
		WithVnodeCount(64).
		WithHeartbeatInterval(time.Hour). // keep heartbeats out of the way of assertions
		WithPingInterval(time.Hour).
		WithJWTSecret("test-secret")

	node, err := presence.New(opts, dir, broker.Publisher(), broker.Consumer(nodeID), stubValidator{})
	require.NoError(t, err)
	return node
}

func TestConnect_OwnershipRejection(t *testing.T) {
	dir := directory.NewFake(nil)
	broker := busfake.NewBroker()
	node := newTestNode(t, "node-A", []int{0, 1, 2}, dir, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, node.Start(ctx))

	ts := httptest.NewServer(presence.NewServer(node))
	defer ts.Close()

	userID := vnodeOwnedUser(t, 64, 7) // not in {0,1,2}
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/connect?token=" + userID

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	_, _, readErr := conn.Read(ctx)
	require.Error(t, readErr)

	closeStatus := websocket.CloseStatus(readErr)
	assert.Equal(t, websocket.StatusPolicyViolation, closeStatus)

	assert.False(t, node.IsOnline(userID))
}

func TestConnect_AcceptedAndWelcomed(t *testing.T) {
	dir := directory.NewFake(nil)
	broker := busfake.NewBroker()
	node := newTestNode(t, "node-A", []int{7}, dir, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, node.Start(ctx))

	ts := httptest.NewServer(presence.NewServer(node))
	defer ts.Close()

	userID := vnodeOwnedUser(t, 64, 7)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/connect?token=" + userID

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"welcome"`)
	assert.Contains(t, string(data), userID)

	require.Eventually(t, func() bool {
		return node.IsOnline(userID)
	}, time.Second, 10*time.Millisecond)
}

func TestCrossNodePropagation(t *testing.T) {
	dirA := directory.NewFake(nil)
	dirB := directory.NewFake(nil)
	broker := busfake.NewBroker()

	nodeA := newTestNode(t, "node-A", []int{0, 1, 2}, dirA, broker)
	nodeB := newTestNode(t, "node-B", []int{7}, dirB, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, nodeA.Start(ctx))
	require.NoError(t, nodeB.Start(ctx))

	tsA := httptest.NewServer(presence.NewServer(nodeA))
	defer tsA.Close()

	userID := vnodeOwnedUser(t, 64, 7) // owned by B, not A

	wsURL := "ws" + strings.TrimPrefix(tsA.URL, "http") + "/connect?token=" + userID
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	_, _, readErr := conn.Read(ctx)
	require.Error(t, readErr)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(readErr))

	// A never held the session locally (ownership rejected), so it must
	// never have published online for this user.
	assert.False(t, nodeA.IsOnline(userID))

	tsB := httptest.NewServer(presence.NewServer(nodeB))
	defer tsB.Close()

	wsURLB := "ws" + strings.TrimPrefix(tsB.URL, "http") + "/connect?token=" + userID
	connB, _, err := websocket.Dial(ctx, wsURLB, nil)
	require.NoError(t, err)
	defer connB.CloseNow()

	_, _, err = connB.Read(ctx) // welcome frame
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return nodeB.IsOnline(userID)
	}, time.Second, 10*time.Millisecond)

	// A's onlineUsers must remain unaware (it does not own the vnode).
	assert.False(t, nodeA.IsOnline(userID))
}

func TestOfflineOnDisconnect(t *testing.T) {
	dir := directory.NewFake(nil)
	broker := busfake.NewBroker()
	node := newTestNode(t, "node-A", []int{7}, dir, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, node.Start(ctx))

	ts := httptest.NewServer(presence.NewServer(node))
	defer ts.Close()

	userID := vnodeOwnedUser(t, 64, 7)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/connect?token=" + userID

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	_, _, err = conn.Read(ctx) // welcome
	require.NoError(t, err)

	require.Eventually(t, func() bool { return node.IsOnline(userID) }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	require.Eventually(t, func() bool { return !node.IsOnline(userID) }, time.Second, 10*time.Millisecond)
}

func TestApplyEvent_SelfSuppressionAndIdempotence(t *testing.T) {
	dir := directory.NewFake(nil)
	broker := busfake.NewBroker()
	node := newTestNode(t, "node-A", []int{7}, dir, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, node.Start(ctx))

	userID := vnodeOwnedUser(t, 64, 7)

	// Self-published events must not be double-counted.
	require.NoError(t, broker.Publisher().PublishPresence(ctx, bus.PresenceEvent{
		UserID: userID, Action: bus.ActionOnline, NodeID: "node-A",
	}))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, node.IsOnline(userID))

	// A remote online event, applied twice, has the same effect as once.
	for i := 0; i < 2; i++ {
		require.NoError(t, broker.Publisher().PublishPresence(ctx, bus.PresenceEvent{
			UserID: userID, Action: bus.ActionOnline, NodeID: "node-B",
		}))
	}
	require.Eventually(t, func() bool { return node.IsOnline(userID) }, time.Second, 10*time.Millisecond)

	require.NoError(t, broker.Publisher().PublishPresence(ctx, bus.PresenceEvent{
		UserID: userID, Action: bus.ActionOffline, NodeID: "node-B",
	}))
	require.Eventually(t, func() bool { return !node.IsOnline(userID) }, time.Second, 10*time.Millisecond)
}

func TestHeartbeat_RefreshesOwnersTTL(t *testing.T) {
	dir := directory.NewFake(nil)
	broker := busfake.NewBroker()

	opts := presence.NewOptions().
		WithNodeID("node-A").
		WithAssignedVnodes([]int{0, 1, 2}).
		WithVnodeCount(64).
		WithHeartbeatInterval(20 * time.Millisecond).
		WithOwnershipTTL(200 * time.Millisecond).
		WithPingInterval(time.Hour).
		WithJWTSecret("test-secret")

	node, err := presence.New(opts, dir, broker.Publisher(), broker.Consumer("node-A"), stubValidator{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, node.Start(ctx))

	require.Eventually(t, func() bool {
		return dir.OwnersTTLRemaining() > 0
	}, time.Second, 10*time.Millisecond)

	// Sleep past what a single heartbeat's TTL would cover: if ticks
	// stopped refreshing the lease, the remaining TTL would have
	// dropped to zero or gone negative by now.
	time.Sleep(250 * time.Millisecond)

	assert.Greater(t, dir.OwnersTTLRemaining(), 50*time.Millisecond)
}
