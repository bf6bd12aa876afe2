package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bitcrane-tools/hashboard-tester/internal/fixture"
)

// Config holds all tester configuration.
type Config struct {
	mu sync.RWMutex

	// Fixture connection and sweep defaults
	Fixture FixtureConfig `yaml:"fixture" json:"fixture"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type FixtureConfig struct {
	Type          string `yaml:"type" json:"type"`                      // "bitcrane" or "sim"
	PortPath      string `yaml:"port_path" json:"portPath"`             // e.g. /dev/ttyUSB0
	BaudRate      int    `yaml:"baud_rate" json:"baudRate"`             // default 115200
	ReadTimeoutMs int    `yaml:"read_timeout_ms" json:"readTimeoutMs"`  // per-read bound
	Model         string `yaml:"model" json:"model"`                    // miner profile name
	PingCommand   string `yaml:"ping_command" json:"pingCommand"`       // hex frame
	ChipCount     int    `yaml:"chip_count" json:"chipCount,omitempty"` // 0 = profile default
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults. The simulated
// fixture is the default so the tester runs without hardware attached.
func DefaultConfig() *Config {
	return &Config{
		Fixture: FixtureConfig{
			Type:          "sim",
			PortPath:      "/dev/ttyUSB0",
			BaudRate:      115200,
			ReadTimeoutMs: 1000,
			Model:         "Antminer S17",
			PingCommand:   fixture.DefaultPingCommand,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and
// environment variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config
// values. Supported: FIXTURE_TYPE, FIXTURE_PORT, FIXTURE_BAUD,
// FIXTURE_TIMEOUT_MS, FIXTURE_MODEL, FIXTURE_PING, FIXTURE_CHIPS,
// LISTEN_ADDR
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FIXTURE_TYPE"); v != "" {
		c.Fixture.Type = v
	}
	if v := os.Getenv("FIXTURE_PORT"); v != "" {
		c.Fixture.PortPath = v
	}
	if v := os.Getenv("FIXTURE_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Fixture.BaudRate = n
		}
	}
	if v := os.Getenv("FIXTURE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Fixture.ReadTimeoutMs = n
		}
	}
	if v := os.Getenv("FIXTURE_MODEL"); v != "" {
		c.Fixture.Model = v
	}
	if v := os.Getenv("FIXTURE_PING"); v != "" {
		c.Fixture.PingCommand = v
	}
	if v := os.Getenv("FIXTURE_CHIPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Fixture.ChipCount = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/hashboard-tester/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved (e.g. port path, baud rate).
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}

// snapshotFixture returns a copy of the fixture section under the lock.
func (c *Config) snapshotFixture() FixtureConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Fixture
}

// listenAddr returns the configured listen address under the lock.
func (c *Config) listenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.ListenAddr
}
