// Package config loads CLI configuration files. TOML, YAML and JSON are
// accepted, selected by file extension.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/aqstack/dashscope-go/pkg/dashscope"
)

// File is the on-disk configuration for the dashscope CLI.
type File struct {
	APIKey         string `toml:"api_key" yaml:"api_key" json:"api_key"`
	BaseURL        string `toml:"base_url" yaml:"base_url" json:"base_url"`
	WebsocketURL   string `toml:"websocket_url" yaml:"websocket_url" json:"websocket_url"`
	Workspace      string `toml:"workspace" yaml:"workspace" json:"workspace"`
	Model          string `toml:"model" yaml:"model" json:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
	LogLevel       string `toml:"log_level" yaml:"log_level" json:"log_level"`
}

// Load reads and decodes a configuration file.
func Load(path string) (File, error) {
	var f File
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(raw, &f)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &f)
	case ".json":
		err = json.Unmarshal(raw, &f)
	default:
		return f, fmt.Errorf("config: unsupported extension %q (want .toml, .yaml, .yml or .json)", ext)
	}
	if err != nil {
		return f, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return f, nil
}

// Apply layers the file's values onto a Config. Empty fields leave the
// corresponding Config value (usually taken from the environment) alone.
func (f File) Apply(c dashscope.Config) dashscope.Config {
	if f.APIKey != "" {
		c = c.WithAPIKey(f.APIKey)
	}
	if f.BaseURL != "" {
		c = c.WithBaseURL(f.BaseURL)
	}
	if f.WebsocketURL != "" {
		c = c.WithWebsocketURL(f.WebsocketURL)
	}
	if f.Workspace != "" {
		c = c.WithWorkspace(f.Workspace)
	}
	if f.TimeoutSeconds > 0 {
		c = c.WithTimeout(time.Duration(f.TimeoutSeconds) * time.Second)
	}
	return c
}
