package coordinator_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetcontrolsio/presencehub/internal/coordinator"
	"github.com/fleetcontrolsio/presencehub/internal/directory"
)

func newTestCoordinator(t *testing.T) (*coordinator.Coordinator, directory.Directory) {
	t.Helper()
	dir := directory.NewFake(nil)
	opts := coordinator.NewOptions().
		WithVnodeCount(1024).
		WithHTTPClient(http.DefaultClient)
	coord, err := coordinator.New(opts, dir)
	require.NoError(t, err)
	return coord, dir
}

func TestRegister_AssignsFloorPercentOfRing(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	result, err := coord.Register(ctx, "A", 1, "")
	require.NoError(t, err)
	assert.Len(t, result.AssignedVnodes, 10) // floor(1024*1/100) == 10
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, result.AssignedVnodes)
}

func TestRegister_WeightZeroDefaultsToAtLeastOne(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	result, err := coord.Register(context.Background(), "A", 0, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(result.AssignedVnodes), 1)
}

func TestRegister_SecondInstanceSkipsOccupiedIds(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Register(ctx, "A", 1, "")
	require.NoError(t, err)

	result, err := coord.Register(ctx, "B", 10, "")
	require.NoError(t, err)
	assert.Len(t, result.AssignedVnodes, 102) // floor(1024*10/100) == 102
	assert.NotContains(t, result.AssignedVnodes, 0)
	assert.Equal(t, 10, result.AssignedVnodes[0])
}

func TestRegister_NoVnodesAvailable(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Register(ctx, "A", 100, "")
	require.NoError(t, err)

	_, err = coord.Register(ctx, "B", 1, "")
	assert.ErrorIs(t, err, coordinator.ErrNoVnodesAvailable)
}

func TestRegister_PartialAssignmentWhenRingNearlyFull(t *testing.T) {
	coord, dir := newTestCoordinator(t)
	ctx := context.Background()

	// Occupy all but the last 3 vnodes directly.
	occupied := make(map[int]string, 1021)
	for i := 0; i < 1021; i++ {
		occupied[i] = "filler"
	}
	require.NoError(t, dir.PutOwners(ctx, occupied, 60e9))

	result, err := coord.Register(ctx, "A", 1, "") // desires 10, only 3 free
	require.NoError(t, err)
	assert.Equal(t, []int{1021, 1022, 1023}, result.AssignedVnodes)
}

func TestUnregister_RemovesAllOwnedVnodes(t *testing.T) {
	coord, dir := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Register(ctx, "A", 1, "")
	require.NoError(t, err)

	removed, err := coord.Unregister(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, removed, 10)

	owners, err := dir.GetOwners(ctx)
	require.NoError(t, err)
	for _, owner := range owners {
		assert.NotEqual(t, "A", owner)
	}
}

func TestUnregister_NoVnodesForInstance(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	_, err := coord.Unregister(context.Background(), "ghost")
	assert.ErrorIs(t, err, coordinator.ErrNoVnodesForInstance)
}

func TestRoute_ColdThenCached(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	// vnode for "u1" is 221 (md5("u1")[0:4] mod 1024).
	_, err := coord.Route(ctx, "u1")
	assert.ErrorIs(t, err, coordinator.ErrUserNotFound)

	_, err = coord.Register(ctx, "A", 1, "") // owns 0..9
	require.NoError(t, err)
	_, err = coord.Route(ctx, "u1")
	assert.ErrorIs(t, err, coordinator.ErrUserNotFound)

	_, err = coord.Register(ctx, "B", 100, "") // owns the rest, including 221
	require.NoError(t, err)

	result, err := coord.Route(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "B", result.Instance)
	assert.Equal(t, coordinator.RouteSourceHash, result.Source)
	assert.Equal(t, 221, result.VnodeID)

	cached, err := coord.Route(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "B", cached.Instance)
	assert.Equal(t, coordinator.RouteSourceCache, cached.Source)
}

func TestServer_RegisterRouteHealth(t *testing.T) {
	coord, dir := newTestCoordinator(t)
	srv := coordinator.NewServer(coord, dir, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/nodes/register", "application/json",
		jsonBody(t, map[string]interface{}{"instanceId": "A", "weight": 1}))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var regBody map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&regBody))
	assert.Equal(t, "A", regBody["instanceId"])

	healthResp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer healthResp.Body.Close()
	assert.Equal(t, http.StatusOK, healthResp.StatusCode)
}

func TestServer_RegisterMissingInstanceID(t *testing.T) {
	coord, dir := newTestCoordinator(t)
	srv := coordinator.NewServer(coord, dir, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/nodes/register", "application/json", jsonBody(t, map[string]interface{}{}))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRoute_ReplicaHintRanksRegisteredInstances(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	result, err := coord.Route(ctx, "u1")
	assert.ErrorIs(t, err, coordinator.ErrUserNotFound)
	assert.Nil(t, result)

	// A owns vnodes 0..9; u1's vnode (221) is still unowned, so Route
	// itself fails, but A is already on the physical ring.
	_, err = coord.Register(ctx, "A", 1, "")
	require.NoError(t, err)
	result, err = coord.Route(ctx, "u1")
	assert.ErrorIs(t, err, coordinator.ErrUserNotFound)
	assert.Nil(t, result)

	// B owns the remainder, including 221: Route now succeeds and the
	// hint ranks both registered instances.
	_, err = coord.Register(ctx, "B", 100, "")
	require.NoError(t, err)

	result, err = coord.Route(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, result.Replicas, 2) // default replicaHintCount
	assert.ElementsMatch(t, []string{"A", "B"}, result.Replicas)
	assert.NotEqual(t, result.Replicas[0], result.Replicas[1])

	// Deterministic across repeated calls for the same user.
	again, err := coord.Route(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, result.Replicas, again.Replicas)

	// Removing B drops it from the hint even though the write-through
	// user-instance cache still answers from the cache path.
	_, err = coord.Unregister(ctx, "B")
	require.NoError(t, err)
	result, err = coord.Route(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, coordinator.RouteSourceCache, result.Source)
	assert.Equal(t, []string{"A"}, result.Replicas)
}

func TestServer_RouteReportsReplicas(t *testing.T) {
	coord, dir := newTestCoordinator(t)
	srv := coordinator.NewServer(coord, dir, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	_, err := http.Post(ts.URL+"/nodes/register", "application/json",
		jsonBody(t, map[string]interface{}{"instanceId": "A", "weight": 1}))
	require.NoError(t, err)
	_, err = http.Post(ts.URL+"/nodes/register", "application/json",
		jsonBody(t, map[string]interface{}{"instanceId": "B", "weight": 100}))
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/route?userId=u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	replicas, ok := body["replicas"].([]interface{})
	require.True(t, ok, "expected a replicas field in the /route response")
	assert.Len(t, replicas, 2)
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}
