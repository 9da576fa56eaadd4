// Package logging wraps logrus with the proxy's conventions: a base
// logger whose level can be changed at runtime by the LOG admin command,
// and per-connection entries carrying conn_id/parent_id fields, mirroring
// the original's LOG(Logger::LEVEL, fmt, ...) call sites.
package logging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// levelNames mirrors the original's collapsed level set: DEBUG and the two
// VERBOSE tiers map onto logrus.DebugLevel/logrus.TraceLevel, Message and
// INFO onto logrus.InfoLevel, Error onto logrus.ErrorLevel.
var levelNames = []string{"error", "warn", "info", "debug", "trace"}

// New builds the base logger at info level, always using logrus's
// human-readable text formatter with full timestamps.
func New() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel parses an admin-supplied level (either a name like "debug" or
// a numeric index into levelNames, matching SetLogLevel's numeric
// argument in cmdhandler.cpp) and applies it to l.
func SetLevel(l *logrus.Logger, arg string) error {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 0 || n >= len(levelNames) {
			return fmt.Errorf("level index %d out of range", n)
		}
		lvl, err := logrus.ParseLevel(levelNames[n])
		if err != nil {
			return err
		}
		l.SetLevel(lvl)
		return nil
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(arg))
	if err != nil {
		return err
	}
	l.SetLevel(lvl)
	return nil
}

// CurrentLevel returns l's active level name, for LOG's no-arg get form.
func CurrentLevel(l *logrus.Logger) string {
	return l.GetLevel().String()
}

// ForConn returns an entry scoped to one client connection.
func ForConn(l *logrus.Logger, connID string) *logrus.Entry {
	return l.WithField("conn_id", connID)
}

// ForSubPacket returns an entry scoped to a sub-packet fanned out from a
// parent request (MGET/MSET/DEL members, or a MIGRATE step), carrying
// both the connection and the parent request's trace id.
func ForSubPacket(parent *logrus.Entry, parentID string) *logrus.Entry {
	return parent.WithField("parent_id", parentID)
}
