package models

import (
	"fmt"
	"strings"
)

// Policy controls whether workers and proxies are shared across tenants
type Policy string

const (
	PolicyShared   Policy = "shared"
	PolicyScoped   Policy = "scoped"
	PolicyIsolated Policy = "isolated"
)

// ParsePolicy parses a policy name, case-insensitive. Empty means shared.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shared":
		return PolicyShared, nil
	case "scoped":
		return PolicyScoped, nil
	case "isolated":
		return PolicyIsolated, nil
	default:
		return "", fmt.Errorf("unknown isolation policy: %q", s)
	}
}

// Option holds the isolation policy for the per-note and per-user axes
type Option struct {
	PerNote Policy `json:"per_note" yaml:"per_note" mapstructure:"per_note"`
	PerUser Policy `json:"per_user" yaml:"per_user" mapstructure:"per_user"`
}

// Normalize returns a copy with empty axes set to shared
func (o Option) Normalize() Option {
	if o.PerNote == "" {
		o.PerNote = PolicyShared
	}
	if o.PerUser == "" {
		o.PerUser = PolicyShared
	}
	return o
}

// Validate checks both axes hold known policies
func (o Option) Validate() error {
	o = o.Normalize()
	if _, err := ParsePolicy(string(o.PerNote)); err != nil {
		return fmt.Errorf("per_note: %w", err)
	}
	if _, err := ParsePolicy(string(o.PerUser)); err != nil {
		return fmt.Errorf("per_user: %w", err)
	}
	return nil
}

// Runner is the launcher reference used to spawn a worker process
type Runner struct {
	Path    string   `json:"path" yaml:"path" mapstructure:"path"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty" mapstructure:"args"`
	WorkDir string   `json:"work_dir,omitempty" yaml:"work_dir,omitempty" mapstructure:"work_dir"`
}

// CapabilityInfo describes one execution capability offered by a setting
type CapabilityInfo struct {
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	Default bool   `json:"default,omitempty" yaml:"default,omitempty" mapstructure:"default"`
}

// SettingConfig is the configuration a Setting is created from
type SettingConfig struct {
	ID           string            `json:"id" yaml:"id" mapstructure:"id"`
	Name         string            `json:"name" yaml:"name" mapstructure:"name"`
	Group        string            `json:"group" yaml:"group" mapstructure:"group"`
	Option       Option            `json:"option" yaml:"option" mapstructure:"option"`
	Runner       Runner            `json:"runner" yaml:"runner" mapstructure:"runner"`
	Capabilities []CapabilityInfo  `json:"capabilities" yaml:"capabilities" mapstructure:"capabilities"`
	Properties   map[string]string `json:"properties,omitempty" yaml:"properties,omitempty" mapstructure:"properties"`
}

// Validate checks that the setting can produce interpreters
func (c *SettingConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("setting id is required")
	}
	if c.Runner.Path == "" {
		return fmt.Errorf("setting %s: runner path is required", c.ID)
	}
	if len(c.Capabilities) == 0 {
		return fmt.Errorf("setting %s: at least one capability is required", c.ID)
	}
	seen := make(map[string]bool, len(c.Capabilities))
	for _, info := range c.Capabilities {
		if info.Name == "" {
			return fmt.Errorf("setting %s: capability name is required", c.ID)
		}
		if seen[info.Name] {
			return fmt.Errorf("setting %s: duplicate capability %q", c.ID, info.Name)
		}
		seen[info.Name] = true
	}
	if err := c.Option.Validate(); err != nil {
		return fmt.Errorf("setting %s: %w", c.ID, err)
	}
	return nil
}
