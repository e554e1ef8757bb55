package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentmesh.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \"\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.CoordLog.Driver != "memory" || cfg.Ledger.Driver != "memory" {
		t.Fatalf("unexpected drivers: %+v", cfg)
	}
	if cfg.Retry.MaxAttempts != 2 {
		t.Fatalf("unexpected retry attempts: %d", cfg.Retry.MaxAttempts)
	}
	if cfg.AuthorizationTTL() != 24*time.Hour {
		t.Fatalf("unexpected ttl: %s", cfg.AuthorizationTTL())
	}
	if cfg.SweepInterval() != time.Minute {
		t.Fatalf("unexpected sweep interval: %s", cfg.SweepInterval())
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
storage:
  driver: mysql
  dsn: "user:pass@tcp(localhost:3306)/agentmesh"
coordination_log:
  driver: redis
  redis:
    address: "localhost:6379"
    key_prefix: "mesh:log"
ledger:
  driver: evm
  evm:
    rpc_url: "http://localhost:8545"
    gas_limit: 21000
retry:
  max_attempts: 3
  backoff: 250ms
escrow:
  authorization_ttl: 12h
  sweep_interval: 30s
  verifier_addresses: ["0.0.1001"]
roles:
  negotiator:
    payer: "0.0.2001"
    payee: "0.0.2002"
    executor_id: executor
    amount: "25.5"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "mysql" || cfg.CoordLog.Driver != "redis" || cfg.Ledger.Driver != "evm" {
		t.Fatalf("unexpected drivers: %+v", cfg)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.RetryBackoff() != 250*time.Millisecond {
		t.Fatalf("unexpected retry config: %+v", cfg.Retry)
	}
	if cfg.AuthorizationTTL() != 12*time.Hour || cfg.SweepInterval() != 30*time.Second {
		t.Fatalf("unexpected escrow durations: %+v", cfg.Escrow)
	}
	if cfg.Roles.Negotiator.Amount != "25.5" || cfg.Roles.Negotiator.Currency != "HBAR" {
		t.Fatalf("unexpected negotiator config: %+v", cfg.Roles.Negotiator)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: cassandra\n")
	if _, err := Load(path); err == nil {
		t.Fatal("unknown driver must be rejected")
	}
}

func TestLoadRejectsMissingDSN(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: mysql\n")
	if _, err := Load(path); err == nil {
		t.Fatal("mysql without dsn must be rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file must fail")
	}
}
