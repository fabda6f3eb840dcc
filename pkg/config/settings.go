package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SettingsKey groups tables into a shared database file (spec.md §3.1,
// §6 "Settings"). Tables report their key as a plain string from
// Table.SettingsKey(); the well-known forms are "regular", "cache",
// "memory", and "specific:<name>" (a caller-chosen bucket sharing
// neither the regular nor cache file).
type SettingsKey string

const (
	KeyRegular SettingsKey = "regular"
	KeyCache   SettingsKey = "cache"
	KeyMemory  SettingsKey = "memory"
)

// Specific builds a SettingsKey for a caller-named bucket.
func Specific(name string) SettingsKey {
	return SettingsKey("specific:" + name)
}

func (k SettingsKey) isSpecific() (string, bool) {
	name, ok := strings.CutPrefix(string(k), "specific:")
	return name, ok
}

// ResolvedPath is the record a SettingsKey resolves to (spec.md §6).
type ResolvedPath struct {
	Path               string
	BackupEligible     bool
	RelativeToAppDir   bool
	RelativeToCacheDir bool
	InMemory           bool
}

// Resolve maps a SettingsKey to the database file it should open,
// per spec.md §6 "Settings".
func (c *Config) Resolve(key SettingsKey) (ResolvedPath, error) {
	switch key {
	case KeyRegular:
		return ResolvedPath{
			Path:             filepath.Join(c.Database.AppDir, c.Database.RegularFile),
			BackupEligible:   c.Database.BackupEligible,
			RelativeToAppDir: true,
		}, nil
	case KeyCache:
		return ResolvedPath{
			Path:               filepath.Join(c.Database.CacheDir, c.Database.CacheFile),
			BackupEligible:     false,
			RelativeToCacheDir: true,
		}, nil
	case KeyMemory:
		return ResolvedPath{Path: ":memory:", InMemory: true}, nil
	}
	if name, ok := key.isSpecific(); ok {
		if name == "" {
			return ResolvedPath{}, fmt.Errorf("config: specific settings key must name a file")
		}
		return ResolvedPath{
			Path:             filepath.Join(c.Database.AppDir, name+".db"),
			BackupEligible:   c.Database.BackupEligible,
			RelativeToAppDir: true,
		}, nil
	}
	return ResolvedPath{}, fmt.Errorf("config: unknown settings key %q", key)
}

// DSN renders the sqlite3 driver DSN for a resolved path with the engine
// knobs from EngineConfig applied (spec.md §4.1: WAL, busy_timeout).
func (c *Config) DSN(rp ResolvedPath) string {
	if rp.InMemory {
		return "file::memory:?cache=shared&_foreign_keys=on"
	}
	busyMS := c.Engine.BusyTimeout.Milliseconds()
	return fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", rp.Path, busyMS)
}

// ExcludeFromBackup marks rp's file as excluded from OS-level backup when
// BackupEligible is false. There is no portable Go syscall for this (the
// real macOS mechanism is the Cocoa-only kCFURLIsExcludedFromBackupKey);
// the documented substitute is a sentinel sidecar file next to the
// database, which backup tools that respect the common ".nobackup"/
// CACHEDIR.TAG convention will honor (see DESIGN.md).
func (c *Config) ExcludeFromBackup(rp ResolvedPath) error {
	if rp.BackupEligible || rp.InMemory {
		return nil
	}
	sentinel := rp.Path + ".nobackup"
	return writeSentinel(sentinel)
}
