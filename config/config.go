// Package config loads and rewrites the proxy's XML configuration,
// grounded on original_source's redis-proxy-config.h/.cpp schema
// (RedisProxyCfg, CGroupInfo, CHostInfo, GroupOption, MigrationOption).
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Host is one backend entry inside a <group>, matching CHostInfo.
type Host struct {
	XMLName xml.Name `xml:"host"`
	IP      string   `xml:"ip,attr"`
	Port    int      `xml:"port,attr"`
	Master  bool     `xml:"master,attr"`
	// Priority is accepted for forward compatibility with the
	// original schema but unused by this repo's group-level Policy
	// (spec.md routes by group, not per-host).
	Priority       int `xml:"priority,attr"`
	ConnectionNum  int `xml:"connection_num,attr"`
}

func (h Host) Addr() string {
	return fmt.Sprintf("%s:%d", h.IP, h.Port)
}

// Group is a <group> element: a named hash range owned by a set of hosts.
type Group struct {
	XMLName xml.Name `xml:"group"`
	Name    string   `xml:"name,attr"`
	Policy  string   `xml:"policy,attr"` // "MasterOnly" | "ReadBalance"
	HashMin int      `xml:"hash_min,attr"`
	HashMax int      `xml:"hash_max,attr"`
	Hosts   []Host   `xml:"host"`
}

// KeyMapping is a <key_mapping> entry pinning a literal key to a group.
type KeyMapping struct {
	Key       string `xml:"key,attr"`
	GroupName string `xml:"group,attr"`
}

// MigrationSlot is a <migration_slots> entry, one in-flight migration
// armed at startup (normally migrations are armed live via YMIGRATE; this
// lets a config carry one across a restart).
type MigrationSlot struct {
	Slot int    `xml:"slot,attr"`
	Addr string `xml:"addr,attr"`
	Port int    `xml:"port,attr"`
}

// GroupOption is the shared <group_option>, matching the original's
// GroupOption defaults exactly.
type GroupOption struct {
	BackendRetryInterval int  `xml:"backend_retry_interval,attr"`
	BackendRetryLimit    int  `xml:"backend_retry_limit,attr"`
	GroupRetryTime       int  `xml:"group_retry_time,attr"`
	AutoEjectGroup       bool `xml:"auto_eject_group,attr"`
	EjectAfterRestore    bool `xml:"eject_after_restore,attr"`
}

func (o *GroupOption) setDefaults() {
	if o.BackendRetryInterval == 0 {
		o.BackendRetryInterval = 1
	}
	if o.BackendRetryLimit == 0 {
		o.BackendRetryLimit = 100
	}
	if o.GroupRetryTime == 0 {
		o.GroupRetryTime = 30
	}
}

// VIP is the <vip> failover element. This repo does not implement VIP/ARP
// handling (spec.md Non-goal); it only carries the config through to the
// VIPHandoff seam (see proxy package).
type VIP struct {
	IfAliasName string `xml:"if_alias_name,attr"`
	Address     string `xml:"vip_address,attr"`
	Enable      bool   `xml:"enable,attr"`
}

// HashMapping is parsed but ignored on load, matching the original's
// dead `hash_mapping` path and this repo's resolved Open Question: slot
// ownership derives only from each group's hash_min/hash_max.
type HashMapping struct {
	HashValue int    `xml:"hash_value,attr"`
	GroupName string `xml:"group,attr"`
}

// Config is the root <redis-proxy> document.
type Config struct {
	XMLName  xml.Name `xml:"redis-proxy"`
	Port     int      `xml:"port,attr"`
	ThreadNum int     `xml:"thread_num,attr"`
	LogFile  string   `xml:"log_file,attr"`
	Daemonize bool    `xml:"daemonize,attr"`
	Guard    bool     `xml:"guard,attr"`

	Vip *VIP `xml:"vip"`

	HashMapping    []HashMapping   `xml:"hash_mapping>mapping"`
	KeyMapping     []KeyMapping    `xml:"key_mapping>mapping"`
	MigrationSlots []MigrationSlot `xml:"migration_slots>slot"`

	Groups      []Group     `xml:"group"`
	GroupOption GroupOption `xml:"group_option"`

	// path is the file Load read from, retained so Rewrite can write back
	// to the same location.
	path string
}

const (
	defaultThreadNum = 4
	maxHashValue     = 1024
)

// Load reads and validates an XML config file, matching
// RedisProxyCfg::loadCfg plus RedisProxyCfgChecker::isValid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	var cfg Config
	if err := xml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.path = path
	cfg.GroupOption.setDefaults()
	if cfg.ThreadNum <= 0 {
		cfg.ThreadNum = defaultThreadNum
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "validate config %s", path)
	}
	return &cfg, nil
}

// Validate checks the five invariants from spec.md §3: every slot in
// [0, maxHash) has exactly one owning group, group hash ranges don't
// overlap, every group has hosts and a master and every host has a
// nonempty address, every key mapping references a real group, and every
// migration slot has an in-range slot and a target address (targets need
// not be configured groups). Malformed XML is assumed to have been
// rejected by Unmarshal already.
func (c *Config) Validate() error {
	if c.Port <= 0 {
		return errors.New("port must be positive")
	}
	if len(c.Groups) == 0 {
		return errors.New("at least one group is required")
	}

	maxHash := 0
	owner := make([]string, maxHashValue)
	for i := range owner {
		owner[i] = ""
	}
	names := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		if g.Name == "" {
			return errors.New("group missing name")
		}
		if names[g.Name] {
			return errors.Errorf("duplicate group name %q", g.Name)
		}
		names[g.Name] = true
		if g.HashMin < 0 || g.HashMax >= maxHashValue || g.HashMin > g.HashMax {
			return errors.Errorf("group %q has invalid hash range [%d,%d]", g.Name, g.HashMin, g.HashMax)
		}
		if g.HashMax+1 > maxHash {
			maxHash = g.HashMax + 1
		}
		for s := g.HashMin; s <= g.HashMax; s++ {
			if owner[s] != "" {
				return errors.Errorf("slot %d owned by both %q and %q", s, owner[s], g.Name)
			}
			owner[s] = g.Name
		}
		if len(g.Hosts) == 0 {
			return errors.Errorf("group %q has no hosts", g.Name)
		}
		hasMaster := false
		for _, h := range g.Hosts {
			if h.IP == "" || h.Port <= 0 {
				return errors.Errorf("group %q has a host with an invalid address", g.Name)
			}
			if h.Master {
				hasMaster = true
			}
		}
		if !hasMaster {
			return errors.Errorf("group %q has no master host", g.Name)
		}
	}
	for s := 0; s < maxHash; s++ {
		if owner[s] == "" {
			return errors.Errorf("slot %d has no owning group", s)
		}
	}
	for _, km := range c.KeyMapping {
		if !names[km.GroupName] {
			return errors.Errorf("key_mapping for %q references unknown group %q", km.Key, km.GroupName)
		}
	}
	for _, ms := range c.MigrationSlots {
		if ms.Slot < 0 || ms.Slot >= maxHashValue {
			return errors.Errorf("migration_slots entry has out-of-range slot %d", ms.Slot)
		}
		if ms.Addr == "" || ms.Port <= 0 {
			return errors.New("migration_slots entry has an invalid target address")
		}
	}
	return nil
}

// MaxHash returns the slot count implied by the widest group hash range
// in the config (the count spec.md's reference design calls "hash
// mapping"): the largest hash_max plus one, not the advisory/ignored
// <hash_mapping> element.
func (c *Config) MaxHash() int {
	max := 0
	for _, g := range c.Groups {
		if g.HashMax+1 > max {
			max = g.HashMax + 1
		}
	}
	return max
}

// Rewrite persists cfg back to its original path using a
// write-to-temp-then-rename sequence with a timestamped backup of the
// previous file, matching RedisProxyCfg::rewriteConfig's intent (durable,
// atomic-from-the-reader's-perspective config updates after ADDKEYMAPPING
// / DELKEYMAPPING / YMIGRATE mutate in-memory state that should survive a
// restart).
func (c *Config) Rewrite(now func() string) error {
	if c.path == "" {
		return errors.New("config has no backing path to rewrite")
	}
	data, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	backupPath := c.path + "." + now() + ".bak"
	if err := copyFile(c.path, backupPath); err != nil {
		return errors.Wrap(err, "back up config before rewrite")
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return errors.Wrap(err, "write temp config")
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return errors.Wrap(err, "replace config file")
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// Path returns the file Load read cfg from.
func (c *Config) Path() string { return c.path }

// AbsPath is a convenience used by the Watcher to compare against
// fsnotify event paths, which fsnotify reports as given to Add (often
// relative).
func (c *Config) AbsPath() (string, error) {
	return filepath.Abs(c.path)
}
