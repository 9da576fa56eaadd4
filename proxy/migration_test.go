package proxy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TigerZhang/onecache/cluster"
	"github.com/TigerZhang/onecache/resp"
)

func TestDispatchKeyCommandForwardsToOwner(t *testing.T) {
	backend := newScriptedBackend(t, "$3\r\nbar\r\n")
	s := newTestServer(t, backend)

	reply := s.dispatchKeyCommand([]byte("foo"), resp.EncodeRequestStrings("GET", "foo"), true)
	raw, ok := reply.(*resp.RawReply)
	require.True(t, ok)
	assert.Equal(t, "$3\r\nbar\r\n", string(raw.Data))
}

func TestDispatchKeyCommandUnownedSlotIsRequestError(t *testing.T) {
	backend := newScriptedBackend(t, "+OK\r\n")
	s := newTestServer(t, backend)
	s.slots.SetOwner(0, s.slots.MaxHash()-1, nil)

	reply := s.dispatchKeyCommand([]byte("foo"), resp.EncodeRequestStrings("GET", "foo"), true)
	assert.Same(t, resp.ErrRequestError, reply)
}

func TestDispatchKeyCommandHonorsKeyOverride(t *testing.T) {
	backend := newScriptedBackend(t, "+OK\r\n")
	pinned := newScriptedBackend(t, "$3\r\nbaz\r\n")
	s := newTestServer(t, backend)

	pinnedGroup := newTestServer(t, pinned).groups["g1"]
	s.keyOverride.Set("pinme", pinnedGroup)

	reply := s.dispatchKeyCommand([]byte("pinme"), resp.EncodeRequestStrings("GET", "pinme"), true)
	raw, ok := reply.(*resp.RawReply)
	require.True(t, ok)
	assert.Equal(t, "$3\r\nbaz\r\n", string(raw.Data))
}

// TestRunMigrationStepSendsMigrateThenForwards verifies the MIGRATE frame
// sent to the source backend carries the target's host/port and the
// required empty-string fourth argument, and that a +OK reply lets the
// caller forward the original command to the target group.
func TestRunMigrationStepSendsMigrateThenForwards(t *testing.T) {
	source := newScriptedBackend(t, "+OK\r\n")
	target := newScriptedBackend(t, "$3\r\nnew\r\n")
	sourceServer := newTestServer(t, source)
	targetServer := newTestServer(t, target)

	reply, ok := sourceServer.runMigrationStep([]byte("foo"), sourceServer.groups["g1"], targetServer.groups["g1"])
	require.True(t, ok)
	assert.Nil(t, reply)

	require.Len(t, source.Received, 1)
	host, port, splitErr := net.SplitHostPort(target.addr())
	require.NoError(t, splitErr)
	want := resp.EncodeRequestStrings("MIGRATE", host, port, "foo", "", "0", "3000")
	assert.Equal(t, want, source.Received[0])
}

func TestRunMigrationStepFailsOnErrorReply(t *testing.T) {
	source := newScriptedBackend(t, "-ERR busy\r\n")
	target := newScriptedBackend(t, "+OK\r\n")
	sourceServer := newTestServer(t, source)
	targetServer := newTestServer(t, target)

	reply, ok := sourceServer.runMigrationStep([]byte("foo"), sourceServer.groups["g1"], targetServer.groups["g1"])
	assert.False(t, ok)
	assert.Same(t, resp.ErrMigrateFailed, reply)
}

// TestRunMigrationStepNoUsableTargetIsRequestError covers the "nowhere to
// send MIGRATE to" case, which is a routing failure distinct from MIGRATE
// itself failing once issued.
func TestRunMigrationStepNoUsableTargetIsRequestError(t *testing.T) {
	source := newScriptedBackend(t, "+OK\r\n")
	sourceServer := newTestServer(t, source)
	emptyTarget := cluster.NewGroup("empty", cluster.MasterOnly, cluster.GroupOption{}, sourceServer.log)

	reply, ok := sourceServer.runMigrationStep([]byte("foo"), sourceServer.groups["g1"], emptyTarget)
	assert.False(t, ok)
	assert.Same(t, resp.ErrRequestError, reply)
}

// TestRunMigrationStepNoUsableSourceIsRequestError covers the case where
// the target address resolves fine but the source group has nowhere to
// carry the MIGRATE request itself.
func TestRunMigrationStepNoUsableSourceIsRequestError(t *testing.T) {
	target := newScriptedBackend(t, "+OK\r\n")
	targetServer := newTestServer(t, target)
	emptySource := cluster.NewGroup("empty", cluster.MasterOnly, cluster.GroupOption{}, targetServer.log)

	reply, ok := targetServer.runMigrationStep([]byte("foo"), emptySource, targetServer.groups["g1"])
	assert.False(t, ok)
	assert.Same(t, resp.ErrRequestError, reply)
}
