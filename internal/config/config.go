package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Bridge configures how the terminal-bridge venue is reached.
type Bridge struct {
	Transport string `yaml:"transport"` // rest, stream or queue
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
}

// Venue is one venue's immutable configuration. Live selects the real
// endpoint; the zero value keeps paper/practice mode.
type Venue struct {
	Name           string `yaml:"name"`
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
	AccountID      string `yaml:"account_id"`
	Live           bool   `yaml:"live"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Bridge         Bridge `yaml:"bridge"`
}

type Config struct {
	DefaultVenue string  `yaml:"default_venue"`
	Venues       []Venue `yaml:"venues"`
}

func (c *Config) Validate() error {
	if len(c.Venues) == 0 {
		return errors.New("venues cannot be empty")
	}
	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if v.Name == "" {
			return errors.New("venue name cannot be empty")
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate venue %q", v.Name)
		}
		seen[v.Name] = true
		if v.TimeoutSeconds < 0 {
			return fmt.Errorf("venue %q: timeout_seconds cannot be negative", v.Name)
		}
		switch v.Bridge.Transport {
		case "", "rest", "stream", "queue":
		default:
			return fmt.Errorf("venue %q: bridge.transport must be 'rest', 'stream' or 'queue', got %q",
				v.Name, v.Bridge.Transport)
		}
	}
	if c.DefaultVenue != "" && !seen[c.DefaultVenue] {
		return fmt.Errorf("default_venue %q is not configured", c.DefaultVenue)
	}
	return nil
}

// Load reads and validates a yaml configuration file, applying defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	for i := range c.Venues {
		v := &c.Venues[i]
		if v.Bridge.Transport == "" {
			v.Bridge.Transport = "rest"
		}
		if v.Bridge.Host == "" {
			v.Bridge.Host = "localhost"
		}
		if v.Bridge.Port == 0 {
			v.Bridge.Port = 8080
		}
	}
	if c.DefaultVenue == "" && len(c.Venues) > 0 {
		c.DefaultVenue = c.Venues[0].Name
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
