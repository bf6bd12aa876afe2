package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bitcrane-tools/hashboard-tester/internal/fixture"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Fixture.BaudRate != 115200 {
		t.Fatalf("default baud = %d, want 115200", cfg.Fixture.BaudRate)
	}
	if cfg.Fixture.PingCommand != fixture.DefaultPingCommand {
		t.Fatalf("default ping = %q", cfg.Fixture.PingCommand)
	}
	if _, ok := fixture.LookupProfile(cfg.Fixture.Model); !ok {
		t.Fatalf("default model %q not in the profile registry", cfg.Fixture.Model)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
fixture:
  type: bitcrane
  port_path: /dev/ttyUSB3
  baud_rate: 57600
  model: Antminer S19k Pro
server:
  listen_addr: ":9090"
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig(path)
	if cfg.Fixture.Type != "bitcrane" || cfg.Fixture.PortPath != "/dev/ttyUSB3" {
		t.Fatalf("fixture section = %+v", cfg.Fixture)
	}
	if cfg.Fixture.BaudRate != 57600 {
		t.Fatalf("baud = %d, want 57600", cfg.Fixture.BaudRate)
	}
	// Unset keys keep their defaults
	if cfg.Fixture.PingCommand != fixture.DefaultPingCommand {
		t.Fatalf("ping command lost its default: %q", cfg.Fixture.PingCommand)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Fatalf("listen addr = %q", cfg.Server.ListenAddr)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FIXTURE_PORT", "/dev/ttyACM1")
	t.Setenv("FIXTURE_BAUD", "19200")
	t.Setenv("LISTEN_ADDR", ":7000")

	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if cfg.Fixture.PortPath != "/dev/ttyACM1" {
		t.Fatalf("port override lost: %q", cfg.Fixture.PortPath)
	}
	if cfg.Fixture.BaudRate != 19200 {
		t.Fatalf("baud override lost: %d", cfg.Fixture.BaudRate)
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Fatalf("listen override lost: %q", cfg.Server.ListenAddr)
	}
}

func TestUpdateFromJSONPreservesUnpatchedFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fixture.PortPath = "/dev/ttyUSB5"

	if err := cfg.UpdateFromJSON([]byte(`{"fixture":{"model":"Antminer S19k Pro"}}`)); err != nil {
		t.Fatalf("UpdateFromJSON err=%v", err)
	}
	if cfg.Fixture.Model != "Antminer S19k Pro" {
		t.Fatalf("patched model = %q", cfg.Fixture.Model)
	}
	if cfg.Fixture.PortPath != "/dev/ttyUSB5" {
		t.Fatalf("unpatched port path lost: %q", cfg.Fixture.PortPath)
	}
	if cfg.Fixture.BaudRate != 115200 {
		t.Fatalf("unpatched baud lost: %d", cfg.Fixture.BaudRate)
	}
}
