// Package config loads the TOML file describing how to reach an adapter and
// how the engine built on top of it should behave.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// StreamConfig configures the serial/RFCOMM backend.
type StreamConfig struct {
	Device   string `toml:"device"`
	BaudRate int    `toml:"baud_rate"`
}

// BLEConfig configures the BLE backend. NotifyUUID/WriteUUID are optional;
// when empty, the backend falls back to heuristic characteristic discovery.
type BLEConfig struct {
	Address       string `toml:"address"`
	ServiceUUID   string `toml:"service_uuid"`
	NotifyUUID    string `toml:"notify_uuid"`
	WriteUUID     string `toml:"write_uuid"`
	ScanTimeoutMs int    `toml:"scan_timeout_ms"`
}

// EngineConfig configures the ELM327 engine independent of the transport
// backend it runs over.
type EngineConfig struct {
	CommandTimeoutMs      int `toml:"command_timeout_ms"`
	TesterPresentPeriodMs int `toml:"tester_present_period_ms"`
}

// Config is the top-level representation of a TOML configuration file. Only
// one of Stream/BLE is expected to be populated per run; Backend names which.
type Config struct {
	Backend string       `toml:"backend"` // "stream" or "ble"
	Stream  StreamConfig `toml:"stream"`
	BLE     BLEConfig    `toml:"ble"`
	Engine  EngineConfig `toml:"engine"`
}

// CommandTimeout returns Engine.CommandTimeoutMs as a time.Duration, or a
// default of 2s if unset.
func (c *Config) CommandTimeout() time.Duration {
	if c.Engine.CommandTimeoutMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Engine.CommandTimeoutMs) * time.Millisecond
}

// TesterPresentPeriod returns Engine.TesterPresentPeriodMs as a
// time.Duration, or 0 (disabled) if unset.
func (c *Config) TesterPresentPeriod() time.Duration {
	if c.Engine.TesterPresentPeriodMs <= 0 {
		return 0
	}
	return time.Duration(c.Engine.TesterPresentPeriodMs) * time.Millisecond
}

// ScanTimeout returns BLE.ScanTimeoutMs as a time.Duration, or a default of
// 5s if unset.
func (c *Config) ScanTimeout() time.Duration {
	if c.BLE.ScanTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.BLE.ScanTimeoutMs) * time.Millisecond
}

// Load decodes the TOML file at path into a Config.
func Load(path string) (*Config, error) {
	var conf Config
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if conf.Backend != "stream" && conf.Backend != "ble" {
		return nil, fmt.Errorf("config: %s: backend must be \"stream\" or \"ble\", got %q", path, conf.Backend)
	}
	return &conf, nil
}
