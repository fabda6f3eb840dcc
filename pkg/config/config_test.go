package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Profile != "default" {
		t.Errorf("Profile = %q, want %q", cfg.Profile, "default")
	}
	if cfg.Engine.BusyRetryAttempts != 900 {
		t.Errorf("BusyRetryAttempts = %d, want 900", cfg.Engine.BusyRetryAttempts)
	}
	if cfg.Engine.BusyTimeout != 80*time.Millisecond {
		t.Errorf("BusyTimeout = %v, want 80ms", cfg.Engine.BusyTimeout)
	}
	if cfg.Engine.PreparedStmtCacheMax != 100 {
		t.Errorf("PreparedStmtCacheMax = %d, want 100", cfg.Engine.PreparedStmtCacheMax)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig() should validate, got %v", err)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject unknown log level")
	}
}

func TestResolveRegular(t *testing.T) {
	cfg := DefaultConfig()
	rp, err := cfg.Resolve(KeyRegular)
	if err != nil {
		t.Fatalf("Resolve(KeyRegular) error: %v", err)
	}
	if !rp.RelativeToAppDir {
		t.Error("regular settings key should resolve relative to app dir")
	}
	if rp.InMemory {
		t.Error("regular settings key should not be in-memory")
	}
}

func TestResolveMemory(t *testing.T) {
	cfg := DefaultConfig()
	rp, err := cfg.Resolve(KeyMemory)
	if err != nil {
		t.Fatalf("Resolve(KeyMemory) error: %v", err)
	}
	if !rp.InMemory {
		t.Error("memory settings key should resolve in-memory")
	}
}

func TestResolveCache(t *testing.T) {
	cfg := DefaultConfig()
	rp, err := cfg.Resolve(KeyCache)
	if err != nil {
		t.Fatalf("Resolve(KeyCache) error: %v", err)
	}
	if rp.BackupEligible {
		t.Error("cache settings key should not be backup eligible")
	}
}

func TestResolveSpecific(t *testing.T) {
	cfg := DefaultConfig()
	rp, err := cfg.Resolve(Specific("widgets"))
	if err != nil {
		t.Fatalf("Resolve(Specific) error: %v", err)
	}
	if !rp.RelativeToAppDir {
		t.Error("specific settings key should resolve relative to app dir")
	}
}

func TestResolveSpecificRequiresName(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := cfg.Resolve(Specific("")); err == nil {
		t.Error("expected error for empty specific settings name")
	}
}

func TestResolveUnknownKey(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := cfg.Resolve(SettingsKey("bogus")); err == nil {
		t.Error("expected error for unknown settings key")
	}
}

func TestDSNIncludesBusyTimeoutAndWAL(t *testing.T) {
	cfg := DefaultConfig()
	rp, _ := cfg.Resolve(KeyRegular)
	dsn := cfg.DSN(rp)
	if dsn == "" {
		t.Fatal("DSN should not be empty")
	}
	if !strings.Contains(dsn, "_journal_mode=WAL") {
		t.Errorf("DSN %q missing journal_mode=WAL", dsn)
	}
	if !strings.Contains(dsn, "_busy_timeout=80") {
		t.Errorf("DSN %q missing busy_timeout=80", dsn)
	}
}
