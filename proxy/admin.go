package proxy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/TigerZhang/onecache/cluster"
	"github.com/TigerZhang/onecache/logging"
	"github.com/TigerZhang/onecache/resp"
)

// dispatchAdmin handles every command in kindAdmin, grounded on
// cmdhandler.cpp's one-handler-per-command admin surface.
func (s *Server) dispatchAdmin(sess *session, name string, tokens [][]byte) resp.Reply {
	switch name {
	case "PING":
		return resp.PongReply
	case "SHOWMAPPING":
		return s.cmdShowMapping()
	case "ADDKEYMAPPING":
		return s.cmdAddKeyMapping(tokens)
	case "DELKEYMAPPING":
		return s.cmdDelKeyMapping(tokens)
	case "POOLINFO":
		return s.cmdPoolInfo()
	case "HASHMAPPING":
		// Registered but always refused, matching onHashMapping's early
		// return: slot ownership is mutated only via group hash_min/
		// hash_max in the config file, never live.
		return resp.ErrOperationForbidden
	case "YMIGRATE":
		return s.cmdYMigrate(tokens)
	case "MIGSTAT":
		return s.cmdMigStat()
	case "SHUTDOWN":
		return s.cmdShutdown(tokens)
	case "LOG":
		return s.cmdLog(tokens)
	case "HASH":
		return s.cmdHash(tokens)
	default:
		return resp.ErrProtoNotSupport
	}
}

func (s *Server) cmdShowMapping() resp.Reply {
	var b strings.Builder
	b.WriteString("\n[HASH MAPPING]\n")
	fmt.Fprintf(&b, "%-15s %-15s\n", "HASH_VALUE", "GROUP_NAME")
	for i := 0; i < s.slots.MaxHash(); i++ {
		g := s.slots.OwnerOf(i)
		name := "-"
		if g != nil {
			name = g.Name
		}
		fmt.Fprintf(&b, "%-15d %-15s\n", i, name)
	}

	b.WriteString("\n[HASH RANGES]\n")
	ranges := s.slots.OwnedRanges()
	for _, name := range s.groupNames() {
		rs := ranges[name]
		if len(rs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%-15s %s\n", name, strings.Join(rs, " "))
	}

	b.WriteString("\n[KEY MAPPING]\n")
	fmt.Fprintf(&b, "%-4s %-15s KEYS\n", "ID", "NAME")

	byGroup := map[string][]string{}
	for key, groupName := range s.keyOverride.All() {
		byGroup[groupName] = append(byGroup[groupName], key)
	}
	names := s.groupNames()
	for idx, name := range names {
		keys := byGroup[name]
		sort.Strings(keys)
		fmt.Fprintf(&b, "%-4d %-15s %s\n", idx, name, strings.Join(keys, " "))
	}
	b.WriteString("\n")
	return resp.NewSimpleStringReply(b.String())
}

func (s *Server) cmdAddKeyMapping(tokens [][]byte) resp.Reply {
	if len(tokens) <= 2 {
		return resp.NewErrorReply("Usage: ADDKEYMAPPING <group> <key1> [key2...]")
	}
	groupName := string(tokens[1])
	g := s.groups[groupName]
	if g == nil {
		return resp.NewErrorReply("Group is not exists")
	}
	for _, key := range tokens[2:] {
		s.keyOverride.Set(string(key), g)
	}
	s.persistConfig()
	return resp.OKReply
}

func (s *Server) cmdDelKeyMapping(tokens [][]byte) resp.Reply {
	if len(tokens) <= 1 {
		return resp.NewErrorReply("Usage: DELKEYMAPPING <key1> [key2...]")
	}
	for _, key := range tokens[1:] {
		s.keyOverride.Delete(string(key))
	}
	s.persistConfig()
	return resp.OKReply
}

func (s *Server) cmdPoolInfo() resp.Reply {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-20s %-8s %-8s %-8s %-10s\n",
		"GROUP", "HOST", "ACTIVE", "IDLE", "BROKEN", "CAPACITY")
	for _, name := range s.groupNames() {
		g := s.groups[name]
		for _, backend := range append(g.Masters(), g.Slaves()...) {
			st := backend.Pool.Stats()
			fmt.Fprintf(&b, "%-10s %-20s %-8d %-8d %-8d %-10d\n",
				g.Name, backend.Addr, st.Active, st.Idle, st.Broken, st.Capacity)
		}
	}
	return resp.NewSimpleStringReply(b.String())
}

func (s *Server) cmdYMigrate(tokens [][]byte) resp.Reply {
	if len(tokens) != 4 {
		return resp.NewErrorReply("Bad parameters")
	}
	slot, err := strconv.Atoi(string(tokens[1]))
	if err != nil || slot < 0 || slot >= cluster.MaxHashValue {
		return resp.NewErrorReply("Bad parameters")
	}
	host := string(tokens[2])
	port, err := strconv.Atoi(string(tokens[3]))
	if err != nil {
		return resp.NewErrorReply("Bad parameters")
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	target := s.migrationTargets.GetOrCreate(addr)
	s.slots.StartMigration(slot, target)
	s.metrics.MigrationsTotal.Inc()

	if err := s.persistConfig(); err != nil {
		return resp.NewErrorReply("Save config file failed")
	}
	return resp.OKReply
}

func (s *Server) cmdMigStat() resp.Reply {
	var b strings.Builder
	for _, slot := range s.slots.MigratingSlots() {
		target := s.slots.MigrationTargetOf(slot)
		fmt.Fprintf(&b, "%d->%s; ", slot, target.Name)
	}
	return resp.NewSimpleStringReply(b.String())
}

func (s *Server) cmdShutdown(tokens [][]byte) resp.Reply {
	force := len(tokens) == 2 && strings.EqualFold(string(tokens[1]), "FORCE")
	go s.shutdown(force)
	return nil
}

func (s *Server) cmdLog(tokens [][]byte) resp.Reply {
	if len(tokens) == 1 {
		return resp.NewSimpleStringReply(logging.CurrentLevel(s.baseLogger))
	}
	if err := logging.SetLevel(s.baseLogger, string(tokens[1])); err != nil {
		return resp.NewErrorReply("Invalid log level")
	}
	return resp.NewSimpleStringReply(logging.CurrentLevel(s.baseLogger))
}

func (s *Server) cmdHash(tokens [][]byte) resp.Reply {
	if len(tokens) != 2 {
		return resp.ErrWrongNumberOfArguments
	}
	slot := cluster.KeySlot(tokens[1], s.slots.MaxHash())
	return resp.NewIntReply(int64(slot))
}

func (s *Server) groupNames() []string {
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
