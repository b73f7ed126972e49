package vfs

import (
	"fmt"

	"github.com/gammazero/toposort"
	"gopkg.in/yaml.v3"
)

// DeviceConfig declares one backing device in a bootstrap document.
type DeviceConfig struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"` // "memory"
	Size      uint64 `yaml:"size"`
	BlockSize int    `yaml:"block_size"`
}

// MountConfig declares one mount in a bootstrap document. Backend selects
// the filesystem type; Device names the DeviceConfig a flash mount sits on.
type MountConfig struct {
	Path    string `yaml:"path"`
	Backend string `yaml:"backend"` // "memory" | "flash"
	Device  string `yaml:"device,omitempty"`
	Format  bool   `yaml:"format,omitempty"`
}

// Config is a parsed bootstrap document: the devices to create and the
// mount plan to execute on top of them.
type Config struct {
	Devices []DeviceConfig `yaml:"devices"`
	Mounts  []MountConfig  `yaml:"mounts"`
}

// ParseConfig decodes and validates a YAML bootstrap document.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse bootstrap config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	devices := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("device with empty name")
		}
		if devices[d.Name] {
			return fmt.Errorf("duplicate device %q", d.Name)
		}
		if d.Kind != "memory" {
			return fmt.Errorf("device %q: unknown kind %q", d.Name, d.Kind)
		}
		if d.Size == 0 || d.BlockSize <= 0 {
			return fmt.Errorf("device %q: size and block_size must be positive", d.Name)
		}
		devices[d.Name] = true
	}

	seen := make(map[Path]bool, len(c.Mounts))
	for _, m := range c.Mounts {
		p := Path(m.Path)
		if !p.Valid() {
			return fmt.Errorf("mount %q: invalid path", m.Path)
		}
		p = Clean(p)
		if seen[p] {
			return fmt.Errorf("duplicate mount %q", m.Path)
		}
		seen[p] = true

		switch m.Backend {
		case "memory":
		case "flash":
			if !devices[m.Device] {
				return fmt.Errorf("mount %q: unknown device %q", m.Path, m.Device)
			}
		default:
			return fmt.Errorf("mount %q: unknown backend %q", m.Path, m.Backend)
		}
	}
	return nil
}

// MountOrder returns the mounts sorted so that every parent prefix mounts
// before the mounts nested under it.
func (c *Config) MountOrder() ([]MountConfig, error) {
	byPath := make(map[string]MountConfig, len(c.Mounts))
	for _, m := range c.Mounts {
		byPath[string(Clean(Path(m.Path)))] = m
	}

	edges := make([]toposort.Edge, 0)
	for parent := range byPath {
		for child := range byPath {
			if parent == child {
				continue
			}
			if Path(child).HasPrefix(Path(parent)) {
				edges = append(edges, toposort.Edge{parent, child})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("order mounts: %w", err)
	}

	ordered := make([]MountConfig, 0, len(c.Mounts))
	placed := make(map[string]bool, len(c.Mounts))
	for _, node := range sorted {
		path := node.(string)
		ordered = append(ordered, byPath[path])
		placed[path] = true
	}
	// Mounts without nesting relations carry no edges; keep document order.
	for _, m := range c.Mounts {
		path := string(Clean(Path(m.Path)))
		if !placed[path] {
			ordered = append(ordered, m)
		}
	}
	return ordered, nil
}
