// Package config loads the YAML configuration files for the client and
// server binaries.
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the client variant's configuration file: required
// server_hostname, server_port and phone_number, with optional audio and
// GPIO settings.
type ClientConfig struct {
	ServerHostname   string `yaml:"server_hostname"`
	ServerPort       uint16 `yaml:"server_port"`
	PhoneNumber      uint16 `yaml:"phone_number"`
	UseAudioDefaults bool   `yaml:"use_audio_defaults"`

	GPIO *GPIOConfig `yaml:"gpio,omitempty"`
}

// GPIOConfig carries the embedded variant's pin assignments. Absent means
// the desktop (stdin) input variant is used instead.
type GPIOConfig struct {
	Chip   string `yaml:"chip"`
	Dial   int    `yaml:"dial_pin"`
	Hook   int    `yaml:"hook_pin"`
	Ringer int    `yaml:"ringer_pin"`
}

// ServerConfig is the exchange server's configuration file.
type ServerConfig struct {
	ServerPort   uint16 `yaml:"server_port"`
	AudioPortMin uint16 `yaml:"audio_port_min"`
	AudioPortMax uint16 `yaml:"audio_port_max"`
}

// validU16 reports whether v is a valid required 16-bit configuration
// field: strictly positive and no greater than the type's maximum. (The
// source this file descends from inverted this check — accepting any
// value greater than zero OR greater than USHRT_MAX, which is always
// true for a uint16 and so validated nothing.)
func validU16(v uint16) bool {
	return v > 0 && v <= math.MaxUint16
}

// LoadClientConfig reads and validates a client configuration file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.ServerHostname == "" {
		return nil, fmt.Errorf("config: server_hostname is required")
	}
	if !validU16(cfg.ServerPort) {
		return nil, fmt.Errorf("config: server_port must be in 1..65535")
	}
	if !validU16(cfg.PhoneNumber) {
		return nil, fmt.Errorf("config: phone_number must be in 1..65535")
	}
	if cfg.GPIO != nil && cfg.GPIO.Chip == "" {
		return nil, fmt.Errorf("config: gpio.chip is required when gpio is present")
	}

	return &cfg, nil
}

// LoadServerConfig reads and validates a server configuration file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if !validU16(cfg.ServerPort) {
		return nil, fmt.Errorf("config: server_port must be in 1..65535")
	}
	if !validU16(cfg.AudioPortMin) {
		return nil, fmt.Errorf("config: audio_port_min must be in 1..65535")
	}
	if !validU16(cfg.AudioPortMax) {
		return nil, fmt.Errorf("config: audio_port_max must be in 1..65535")
	}
	if cfg.AudioPortMax < cfg.AudioPortMin {
		return nil, fmt.Errorf("config: audio_port_max must be >= audio_port_min")
	}

	return &cfg, nil
}
