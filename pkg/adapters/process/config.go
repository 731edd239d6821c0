package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/warden/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Step is one process invocation.
type Step struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args"`
	Env     map[string]string `yaml:"env" json:"env"`
}

// Command is an allow-listed external command exposed as the operation proc.<name>.
// Simulate is a dry run whose stdout describes the predicted change. Rollback, when
// present, makes spans of this command reversible.
type Command struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description" json:"description"`
	Type        domain.SpanType `yaml:"type" json:"type"`
	Target      string          `yaml:"target" json:"target"`
	Timeout     time.Duration   `yaml:"timeout" json:"timeout"`
	Run         Step            `yaml:"run" json:"run"`
	Simulate    *Step           `yaml:"simulate" json:"simulate"`
	Rollback    *Step           `yaml:"rollback" json:"rollback"`
}

// ConfigFile represents the structure of commands.yaml.
type ConfigFile struct {
	Commands []Command `yaml:"commands" json:"commands"`
}

// LoadCommands reads a configuration file (YAML or JSON). Commands default to
// the io span type. A missing file yields no commands.
func LoadCommands(path string) ([]Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read commands config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	seen := make(map[string]bool)
	for i := range cfg.Commands {
		c := &cfg.Commands[i]
		if c.Name == "" {
			return nil, fmt.Errorf("command #%d: name is required", i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("command %s: duplicate name", c.Name)
		}
		seen[c.Name] = true
		if c.Run.Command == "" {
			return nil, fmt.Errorf("command %s: run.command is required", c.Name)
		}
		if c.Type == "" {
			c.Type = domain.SpanIO
		}
		if !c.Type.Valid() {
			return nil, fmt.Errorf("command %s: unknown span type %q", c.Name, c.Type)
		}
	}
	return cfg.Commands, nil
}
