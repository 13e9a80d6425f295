package config

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"

	"github.com/meshstatic/meshstatic-go/pkg/engine"
	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
	"github.com/meshstatic/meshstatic-go/pkg/session"
)

const (
	DefaultLogLevel = 3

	// configFileName is the name persisted under the node's home directory.
	configFileName = "meshstatic.toml"
)

// EngineConfig is the on-disk configuration for one node: everything
// needed to build an engine.Config plus the deployment-specific bits
// (self address, master key, log level) the engine itself has no
// opinion about.
type EngineConfig struct {
	ConfigPath string `toml:"-"`

	SelfAddress string `toml:"self_address"`
	IsRepeater  bool   `toml:"is_repeater"`

	GroupMemberships []uint16 `toml:"group_memberships"`

	RoutingCapacity          int    `toml:"routing_capacity"`
	RoutingEvictionHorizonMS uint32 `toml:"routing_eviction_horizon_ms"`
	DedupCapacity            int    `toml:"dedup_capacity"`

	SessionKDF string `toml:"session_kdf"` // "aead" or "hkdf-sha256"

	HeartbeatIntervalMS    uint32 `toml:"heartbeat_interval_ms"`
	DiscoveryIntervalMS    uint32 `toml:"discovery_interval_ms"`
	RoutingSweepIntervalMS uint32 `toml:"routing_sweep_interval_ms"`
	DedupPurgeIntervalMS   uint32 `toml:"dedup_purge_interval_ms"`
	SessionCheckIntervalMS uint32 `toml:"session_check_interval_ms"`

	LogLevel int `toml:"log_level"`

	MasterKeyHex string `toml:"master_key_hex"`
	SessionID    uint32 `toml:"session_id"`

	RoutingSnapshotPath string `toml:"routing_snapshot_path"`
}

// DefaultConfig returns a config with every field at its spec default
// except SelfAddress, which the caller must still assign.
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		IsRepeater:          false,
		GroupMemberships:    nil,
		SessionKDF:          "aead",
		LogLevel:            DefaultLogLevel,
		RoutingSnapshotPath: "routing.msgpack",
	}
}

// Engine builds the engine.Config this on-disk config describes.
// SelfAddress must already be populated with a valid value.
func (c *EngineConfig) Engine() (engine.Config, error) {
	raw, err := hex.DecodeString(c.SelfAddress)
	if err != nil {
		return engine.Config{}, err
	}
	self, err := meshaddr.FromBytes(raw)
	if err != nil {
		return engine.Config{}, err
	}

	kdf := session.KDFAEAD
	if c.SessionKDF == "hkdf-sha256" {
		kdf = session.KDFHKDFSHA256
	}

	return engine.Config{
		Self:                     self,
		IsRepeater:               c.IsRepeater,
		GroupMemberships:         c.GroupMemberships,
		RoutingCapacity:          c.RoutingCapacity,
		RoutingEvictionHorizonMS: c.RoutingEvictionHorizonMS,
		DedupCapacity:            c.DedupCapacity,
		SessionKDF:               kdf,
		HeartbeatIntervalMS:      c.HeartbeatIntervalMS,
		DiscoveryIntervalMS:      c.DiscoveryIntervalMS,
		RoutingSweepIntervalMS:   c.RoutingSweepIntervalMS,
		DedupPurgeIntervalMS:     c.DedupPurgeIntervalMS,
		SessionCheckIntervalMS:   c.SessionCheckIntervalMS,
	}.WithDefaults(), nil
}

// MasterKey decodes the configured master key, for wiring into a KeyStore.
func (c *EngineConfig) MasterKey() ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(c.MasterKeyHex)
	if err != nil {
		return key, err
	}
	copy(key[:], raw)
	return key, nil
}

// GetConfigPath returns the default per-user config file location.
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".meshstatic", configFileName), nil
}

// EnsureConfigDir creates the per-user config directory if absent.
func EnsureConfigDir() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(homeDir, ".meshstatic"), 0755)
}

// LoadConfig loads an EngineConfig from path.
func LoadConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.ConfigPath = path
	return cfg, nil
}

// SaveConfig writes cfg back to its ConfigPath.
func SaveConfig(cfg *EngineConfig) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(cfg.ConfigPath, data, 0644)
}

// CreateDefaultConfig writes a fresh default config file to path.
func CreateDefaultConfig(path string) error {
	cfg := DefaultConfig()
	cfg.ConfigPath = path

	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// InitConfig loads the per-user config, creating a default one on first run.
func InitConfig() (*EngineConfig, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := CreateDefaultConfig(configPath); err != nil {
			return nil, err
		}
	}

	return LoadConfig(configPath)
}
