// Package config loads and validates the agent's sa.cfg file and derives
// the runtime paths (sa.sqlite, sa.sock, contract template, provisioning
// scripts) the rest of the agent depends on.
//
// Grounded on original_source/src/conf.hpp/conf.cpp. No third-party
// config-loading library is wired here: nothing in the example corpus
// imports a config framework (viper, koanf, etc.) — every repo that reads
// structured settings does so with plain encoding/json or encoding/yaml
// against a hand-written struct, matching the original's own hand-rolled
// JSON reflection in conf.cpp. encoding/json against explicit structs is
// the idiomatic match here.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LogSeverity mirrors the original's dbg/inf/wrn/err level strings.
type LogSeverity string

const (
	LogDebug LogSeverity = "dbg"
	LogInfo  LogSeverity = "inf"
	LogWarn  LogSeverity = "wrn"
	LogError LogSeverity = "err"
)

// HostPort is a host/port pair, e.g. the remote hpws target.
type HostPort struct {
	HostAddress string `json:"host_address"`
	Port        uint16 `json:"port"`
}

// HPConfig holds the agent's own host address and initial port range.
type HPConfig struct {
	HostAddress  string `json:"host_address"`
	InitPeerPort uint16 `json:"init_peer_port"`
	InitUserPort uint16 `json:"init_user_port"`
}

// SystemConfig holds the resource caps divided across instances.
type SystemConfig struct {
	MaxCPUUs         int64 `json:"max_cpu_us"`
	MaxMemKbytes     int64 `json:"max_mem_kbytes"`
	MaxSwapKbytes    int64 `json:"max_swap_kbytes"`
	MaxStorageKbytes int64 `json:"max_storage_kbytes"`
	MaxInstanceCount int   `json:"max_instance_count"`
}

// LogConfig holds the agent's own (not the instance's) logging settings.
type LogConfig struct {
	LogLevel        LogSeverity `json:"log_level"`
	Loggers         []string    `json:"loggers"`
	MaxMbytesPerFile int64      `json:"max_mbytes_per_file"`
	MaxFileCount    int         `json:"max_file_count"`
}

// DockerConfig maps a logical image key to a concrete image reference.
type DockerConfig struct {
	Images map[string]string `json:"images"`
}

// Config is the full sa.cfg document.
type Config struct {
	Version string       `json:"version"`
	HP      HPConfig     `json:"hp"`
	System  SystemConfig `json:"system"`
	Docker  DockerConfig `json:"docker"`
	Log     LogConfig    `json:"log"`
	Remote  HostPort     `json:"remote"`

	ContractTemplatePath string `json:"contract_template_path"`
	UserInstallSh        string `json:"user_install_sh"`
	UserUninstallSh      string `json:"user_uninstall_sh"`
	HpwsExePath          string `json:"hpws_exe_path"`
	DataDir              string `json:"data_dir"`
}

// Paths derives the well-known file paths under DataDir.
type Paths struct {
	SQLitePath string
	SockPath   string
}

// DerivePaths returns the per-file paths rooted at cfg.DataDir.
func (c Config) DerivePaths() Paths {
	return Paths{
		SQLitePath: filepath.Join(c.DataDir, "sa.sqlite"),
		SockPath:   filepath.Join(c.DataDir, "sa.sock"),
	}
}

// Read loads and validates a config file from path.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Write serializes cfg to path, pretty-printed.
func Write(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate checks the fields the instance lifecycle depends on.
func Validate(cfg Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if cfg.System.MaxInstanceCount <= 0 {
		return fmt.Errorf("config: system.max_instance_count must be positive")
	}
	if cfg.HP.InitPeerPort == 0 || cfg.HP.InitUserPort == 0 {
		return fmt.Errorf("config: hp.init_peer_port and hp.init_user_port are required")
	}
	if cfg.ContractTemplatePath == "" {
		return fmt.Errorf("config: contract_template_path is required")
	}
	if cfg.UserInstallSh == "" || cfg.UserUninstallSh == "" {
		return fmt.Errorf("config: user_install_sh and user_uninstall_sh are required")
	}
	switch cfg.Log.LogLevel {
	case LogDebug, LogInfo, LogWarn, LogError, "":
	default:
		return fmt.Errorf("config: invalid log.log_level %q", cfg.Log.LogLevel)
	}
	return nil
}
