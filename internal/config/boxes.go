package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BoxConfig is one physical treatment room or station.
type BoxConfig struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name"`
	IsActive bool   `yaml:"is_active"`
}

// BoxesConfig is the root of boxes.yaml.
type BoxesConfig struct {
	Boxes []BoxConfig `yaml:"boxes"`
}

// LoadBoxesConfig loads and validates the box file.
func LoadBoxesConfig(path string) (*BoxesConfig, error) {
	if path == "" {
		path = DefaultBoxesPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boxes config: %w", err)
	}

	var cfg BoxesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse boxes config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate boxes config: %w", err)
	}
	return &cfg, nil
}

// Validate checks ids and names are set and unique.
func (c *BoxesConfig) Validate() error {
	if len(c.Boxes) == 0 {
		return fmt.Errorf("no boxes defined")
	}

	ids := make(map[int]bool)
	names := make(map[string]bool)
	for i, b := range c.Boxes {
		if b.ID <= 0 {
			return fmt.Errorf("box[%d]: id must be positive, got %d", i, b.ID)
		}
		if ids[b.ID] {
			return fmt.Errorf("box[%d]: duplicate id %d", i, b.ID)
		}
		ids[b.ID] = true

		if strings.TrimSpace(b.Name) == "" {
			return fmt.Errorf("box[%d]: name is required", i)
		}
		if names[b.Name] {
			return fmt.Errorf("box[%d]: duplicate name '%s'", i, b.Name)
		}
		names[b.Name] = true
	}
	return nil
}

// ActiveNames returns the names of active boxes in file order.
func (c *BoxesConfig) ActiveNames() []string {
	out := make([]string, 0, len(c.Boxes))
	for _, b := range c.Boxes {
		if b.IsActive {
			out = append(out, b.Name)
		}
	}
	return out
}

// Has reports whether name is an active box.
func (c *BoxesConfig) Has(name string) bool {
	for _, b := range c.Boxes {
		if b.IsActive && b.Name == name {
			return true
		}
	}
	return false
}

func (c *BoxesConfig) String() string {
	active := len(c.ActiveNames())
	return fmt.Sprintf("BoxesConfig: %d boxes (%d active)", len(c.Boxes), active)
}
