package proxy

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TigerZhang/onecache/resp"
)

func TestDispatchAdminPing(t *testing.T) {
	s := newTestServer(t, newScriptedBackend(t, "+OK\r\n"))
	reply := s.dispatchAdmin(nil, "PING", [][]byte{[]byte("PING")})
	assert.Same(t, resp.PongReply, reply)
}

func TestDispatchAdminHashMappingAlwaysForbidden(t *testing.T) {
	s := newTestServer(t, newScriptedBackend(t, "+OK\r\n"))
	reply := s.dispatchAdmin(nil, "HASHMAPPING", [][]byte{[]byte("HASHMAPPING")})
	assert.Same(t, resp.ErrOperationForbidden, reply)
}

func TestCmdAddKeyMappingUnknownGroup(t *testing.T) {
	s := newTestServer(t, newScriptedBackend(t, "+OK\r\n"))
	reply := s.cmdAddKeyMapping([][]byte{[]byte("ADDKEYMAPPING"), []byte("nosuch"), []byte("foo")})
	assert.True(t, resp.IsErrorReply(reply))
}

func TestCmdAddKeyMappingThenShowMappingListsKey(t *testing.T) {
	s := newTestServer(t, newScriptedBackend(t, "+OK\r\n"))
	reply := s.cmdAddKeyMapping([][]byte{[]byte("ADDKEYMAPPING"), []byte("g1"), []byte("pinned")})
	assert.Same(t, resp.OKReply, reply)
	assert.NotNil(t, s.keyOverride.Lookup("pinned"))

	show := s.cmdShowMapping()
	simple, ok := show.(*resp.SimpleStringReply)
	require.True(t, ok)
	assert.Contains(t, simple.Status, "pinned")
	assert.Contains(t, simple.Status, "g1")
}

func TestCmdDelKeyMappingRemovesPin(t *testing.T) {
	s := newTestServer(t, newScriptedBackend(t, "+OK\r\n"))
	s.cmdAddKeyMapping([][]byte{[]byte("ADDKEYMAPPING"), []byte("g1"), []byte("pinned")})
	reply := s.cmdDelKeyMapping([][]byte{[]byte("DELKEYMAPPING"), []byte("pinned")})
	assert.Same(t, resp.OKReply, reply)
	assert.Nil(t, s.keyOverride.Lookup("pinned"))
}

func TestCmdPoolInfoListsBackend(t *testing.T) {
	backend := newScriptedBackend(t, "+OK\r\n")
	s := newTestServer(t, backend)
	reply := s.cmdPoolInfo()
	simple, ok := reply.(*resp.SimpleStringReply)
	require.True(t, ok)
	assert.Contains(t, simple.Status, "g1")
	assert.Contains(t, simple.Status, backend.addr())
}

func TestCmdYMigrateBadSlotRejected(t *testing.T) {
	s := newTestServer(t, newScriptedBackend(t, "+OK\r\n"))
	reply := s.cmdYMigrate([][]byte{[]byte("YMIGRATE"), []byte("not-a-slot"), []byte("127.0.0.1"), []byte("7000")})
	assert.True(t, resp.IsErrorReply(reply))
}

func TestCmdYMigrateArmsMigrationWithoutPersistedConfig(t *testing.T) {
	s := newTestServer(t, newScriptedBackend(t, "+OK\r\n"))
	// s.cfg is nil in this fixture, so persistConfig fails and cmdYMigrate
	// would reply "Save config file failed"; this test only exercises the
	// slot-arming half directly.
	target := s.migrationTargets.GetOrCreate("127.0.0.1:7000")
	s.slots.StartMigration(5, target)
	assert.Equal(t, target, s.slots.MigrationTargetOf(5))
	assert.Contains(t, s.slots.MigratingSlots(), 5)
}

func TestCmdMigStatReportsArmedSlot(t *testing.T) {
	s := newTestServer(t, newScriptedBackend(t, "+OK\r\n"))
	target := s.migrationTargets.GetOrCreate("127.0.0.1:7000")
	s.slots.StartMigration(5, target)
	reply := s.cmdMigStat()
	simple, ok := reply.(*resp.SimpleStringReply)
	require.True(t, ok)
	assert.Contains(t, simple.Status, strconv.Itoa(5))
	assert.Contains(t, simple.Status, "127.0.0.1:7000")
}

func TestCmdHashReturnsSlotInRange(t *testing.T) {
	s := newTestServer(t, newScriptedBackend(t, "+OK\r\n"))
	reply := s.cmdHash([][]byte{[]byte("HASH"), []byte("foo")})
	intReply, ok := reply.(*resp.IntReply)
	require.True(t, ok)
	assert.GreaterOrEqual(t, intReply.Code, int64(0))
	assert.Less(t, intReply.Code, int64(s.slots.MaxHash()))
}

func TestCmdLogGetAndSetLevel(t *testing.T) {
	s := newTestServer(t, newScriptedBackend(t, "+OK\r\n"))
	reply := s.cmdLog([][]byte{[]byte("LOG")})
	simple, ok := reply.(*resp.SimpleStringReply)
	require.True(t, ok)
	assert.NotEmpty(t, simple.Status)

	reply = s.cmdLog([][]byte{[]byte("LOG"), []byte("debug")})
	simple, ok = reply.(*resp.SimpleStringReply)
	require.True(t, ok)
	assert.Equal(t, "debug", simple.Status)
}

// cmdShutdown itself is not exercised here: it spawns Server.shutdown,
// which calls os.Exit and would kill the test binary. session.go's
// nil-reply handling for SHUTDOWN is not exercised by these tests either.
