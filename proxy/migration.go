package proxy

import (
	"net"
	"strconv"

	"github.com/TigerZhang/onecache/cluster"
	"github.com/TigerZhang/onecache/resp"
)

// routeKey resolves key to the group that should currently serve it and,
// if the slot is mid-migration, the group it is migrating to. A
// key-override pin always wins over slot-table ownership, matching
// RedisProxy::mapToGroup checking m_keyMapping before m_hashMapping.
func (s *Server) routeKey(key []byte) (owner *cluster.Group, migratingTo *cluster.Group, slot int) {
	if g := s.keyOverride.Lookup(string(key)); g != nil {
		return g, nil, -1
	}
	slot = cluster.KeySlot(key, s.slots.MaxHash())
	owner = s.slots.OwnerOf(slot)
	migratingTo = s.slots.MigrationTargetOf(slot)
	return owner, migratingTo, slot
}

// dispatchKeyCommand routes one standalone request frame for key,
// performing the MIGRATE-then-forward two-step when the owning slot is
// migrating, matching RedisProxy::handleClientPacket and MakeMigratePacket.
func (s *Server) dispatchKeyCommand(key []byte, frame []byte, readOnly bool) resp.Reply {
	owner, migratingTo, slot := s.routeKey(key)
	if owner == nil {
		return resp.ErrRequestError
	}

	if migratingTo != nil {
		if reply, ok := s.runMigrationStep(key, owner, migratingTo); !ok {
			return reply
		}
		owner = migratingTo
	}

	backend := owner.FindUsableServant(readOnly)
	if backend == nil {
		owner.Eject()
		return resp.ErrRequestError
	}

	reply, err := forward(backend, frame)
	if err != nil {
		s.log.WithError(err).WithField("slot", slot).Warn("backend forward failed")
		return resp.ErrRequestError
	}
	return resp.NewRawReply(reply.raw)
}

// runMigrationStep sends "MIGRATE <target-ip> <target-port> <key> \"\" 0
// 3000" to a servant in the source group, grounded on the original's
// MakeMigratePacket (host, port, key, then the empty-string/db/timeout
// trailer), built from the *target* group's chosen servant address but
// sent to the *source* group.
// ok is false if the migration step failed and reply is the error the
// caller should return to the client as-is. Having no usable backend to
// carry the MIGRATE is a request-routing failure (RequestError), distinct
// from MIGRATE itself failing once sent (MigrateFailed, below).
func (s *Server) runMigrationStep(key []byte, source, target *cluster.Group) (resp.Reply, bool) {
	targetBackend := target.FindUsableServant(false)
	if targetBackend == nil {
		return resp.ErrRequestError, false
	}
	host, port, err := net.SplitHostPort(targetBackend.Addr)
	if err != nil {
		return resp.ErrRequestError, false
	}
	if _, err := strconv.Atoi(port); err != nil {
		return resp.ErrRequestError, false
	}

	migrateFrame := resp.EncodeRequestStrings("MIGRATE", host, port, string(key), "", "0", "3000")

	sourceBackend := source.FindUsableServant(false)
	if sourceBackend == nil {
		return resp.ErrRequestError, false
	}

	reply, err := forward(sourceBackend, migrateFrame)
	if err != nil {
		s.metrics.MigrationFailures.Inc()
		s.log.WithError(err).Warn("could not carry MIGRATE to source backend")
		return resp.ErrRequestError, false
	}
	if !reply.parsed.IsSimple {
		s.metrics.MigrationFailures.Inc()
		return resp.ErrMigrateFailed, false
	}
	return nil, true
}
