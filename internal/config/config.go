// Package config loads the control plane's YAML configuration file: the
// "Recognised options" named in spec §6 for the Requirement Adapter, the
// Integration Adapter, and the Broker, plus the site list the Broker reads
// demand against.
//
// Config is stored at $XDG_CONFIG_HOME/roced/config.yaml (defaults to
// ~/.config/roced/config.yaml), following the teacher's kubeconfig-style
// loader — a missing file is not an error, it just yields zero values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MachineType is one entry of a Requirement Adapter's "machines" option.
type MachineType struct {
	Cores int `yaml:"cores"`
}

// RequirementConfig holds the Requirement Adapter options (spec §6).
type RequirementConfig struct {
	SlurmPartition string                 `yaml:"slurm_partition"`
	Machines       map[string]MachineType `yaml:"machines"`
}

// IntegrationConfig holds the Integration Adapter options (spec §6).
type IntegrationConfig struct {
	SiteName       string        `yaml:"site_name"`
	SlurmPartition string        `yaml:"slurm_partition"`
	SlurmWaitPD    time.Duration `yaml:"slurm_wait_pd"`
	SlurmWaitWork  time.Duration `yaml:"slurm_wait_working"`
	SlurmDeadline  time.Duration `yaml:"slurm_deadline"`
	LoggerName     string        `yaml:"logger_name"`
}

// BrokerConfig holds the Broker options (spec §6).
type BrokerConfig struct {
	MaxInstances  map[string]int `yaml:"max_instances"`
	ShutdownDelay time.Duration  `yaml:"shutdown_delay"`
}

// SiteConfig describes one site entry for the Broker (spec §3 SiteInfo).
type SiteConfig struct {
	Name           string   `yaml:"name"`
	Cost           float64  `yaml:"cost"`
	MaxMachines    int      `yaml:"max_machines"`
	SupportedTypes []string `yaml:"supported_machine_types"`
}

// Config is the top-level control-plane configuration.
type Config struct {
	CyclePeriod  time.Duration       `yaml:"cycle_period"`
	Requirements []RequirementConfig `yaml:"requirement_adapters"`
	Integrations []IntegrationConfig `yaml:"integration_adapters"`
	Broker       BrokerConfig        `yaml:"broker"`
	Sites        []SiteConfig        `yaml:"sites"`
	SnapshotPath string              `yaml:"snapshot_path"`
	BackupPath   string              `yaml:"backup_path"`
	LogLevel     string              `yaml:"log_level"`
}

// Path returns the config file location, respecting XDG_CONFIG_HOME and
// falling back to ~/.config/roced/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "roced", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "roced", "config.yaml")
}

// Load reads the config file at path. A missing file yields a zero Config,
// not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields spec §6 calls "Recognised options" are present
// and well-formed. Missing or malformed configuration is a startup-time
// fatal error (spec §7), never a per-cycle warning: a Requirement Adapter
// with cores_per_machine <= 0, for instance, would otherwise wire up fine
// and then fail every RequiredDelta call for the life of the process.
func (c *Config) Validate() error {
	var errs []error

	if c.CyclePeriod <= 0 {
		errs = append(errs, fmt.Errorf("cycle_period must be positive, got %s", c.CyclePeriod))
	}
	if c.SnapshotPath == "" {
		errs = append(errs, errors.New("snapshot_path must be set"))
	}

	for i, rc := range c.Requirements {
		if rc.SlurmPartition == "" {
			errs = append(errs, fmt.Errorf("requirement_adapters[%d]: slurm_partition must be set", i))
		}
		if len(rc.Machines) == 0 {
			errs = append(errs, fmt.Errorf("requirement_adapters[%d]: machines must list at least one machine type", i))
		}
		for machineType, mt := range rc.Machines {
			if mt.Cores <= 0 {
				errs = append(errs, fmt.Errorf("requirement_adapters[%d]: machines[%s].cores must be positive, got %d", i, machineType, mt.Cores))
			}
		}
	}

	for i, ic := range c.Integrations {
		if ic.SiteName == "" {
			errs = append(errs, fmt.Errorf("integration_adapters[%d]: site_name must be set", i))
		}
		if ic.SlurmPartition == "" {
			errs = append(errs, fmt.Errorf("integration_adapters[%d]: slurm_partition must be set", i))
		}
	}

	for i, sc := range c.Sites {
		if sc.Name == "" {
			errs = append(errs, fmt.Errorf("sites[%d]: name must be set", i))
		}
		if sc.MaxMachines <= 0 {
			errs = append(errs, fmt.Errorf("sites[%d]: max_machines must be positive, got %d", i, sc.MaxMachines))
		}
	}

	return errors.Join(errs...)
}

// Save writes cfg to path, creating directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
