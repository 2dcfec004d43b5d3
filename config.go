package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremygit/gummi-nfc/buildinfo"
	"github.com/jeremygit/gummi-nfc/nfc/simradio"
	"github.com/jeremygit/gummi-nfc/nfc/tagsession"
)

// Radio kinds.
const (
	RadioPhone  = "phone"
	RadioLibNFC = "libnfc"
	RadioSim    = "sim"
)

const (
	defaultPort       = 18080
	configFileName    = "config.yaml"
	defaultRadioKind  = RadioPhone
	defaultConfigPerm = 0600
)

// Prompts overrides the texts shown on the phone's reader sheet.
type Prompts struct {
	Scan              string `yaml:"scan"`
	WriteConfirmation string `yaml:"writeConfirmation"`
}

// Config is the agent configuration. It is read from a YAML file and then
// overridden by command line flags.
type Config struct {
	Radio         string             `yaml:"radio"`
	Device        string             `yaml:"device"` // libnfc connection string, empty for the first reader
	Port          int                `yaml:"port"`
	APISecret     string             `yaml:"apiSecret"`
	Timeout       time.Duration      `yaml:"timeout"`
	PollInterval  time.Duration      `yaml:"pollInterval"`
	DisableMDNS   bool               `yaml:"disableMDNS"`
	TLS           bool               `yaml:"tls"`
	BootstrapPort int                `yaml:"bootstrapPort"`
	Prompts       Prompts            `yaml:"prompts"`
	SimTags       []simradio.TagSpec `yaml:"simTags"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Radio:   defaultRadioKind,
		Port:    defaultPort,
		Timeout: tagsession.DefaultTimeout,
	}
}

// ConfigDir returns the agent's directory under the user config path.
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, buildinfo.DirName), nil
}

// DefaultConfigPath returns the config file location inside ConfigDir.
func DefaultConfigPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, configFileName)
}

// LoadConfig reads path on top of DefaultConfig. When optional is set a
// missing file is not an error.
func LoadConfig(path string, optional bool) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Save writes the configuration to path, creating its directory.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, defaultConfigPerm)
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Radio {
	case RadioPhone, RadioLibNFC, RadioSim:
	default:
		return fmt.Errorf("unknown radio %q (want %s, %s or %s)", c.Radio, RadioPhone, RadioLibNFC, RadioSim)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.BootstrapPort < 0 || c.BootstrapPort > 65535 {
		return fmt.Errorf("invalid bootstrap port %d", c.BootstrapPort)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	for i, spec := range c.SimTags {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("simTags[%d]: %w", i, err)
		}
	}
	return nil
}
