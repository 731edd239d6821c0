package governance

import (
	"context"
	"fmt"
	"os"

	"github.com/aretw0/warden/pkg/domain"
	"gopkg.in/yaml.v3"
)

// policyFile is the on-disk YAML layout.
type policyFile struct {
	Policies []domain.Policy `yaml:"policies"`
}

// ParsePolicies decodes and validates a YAML policy document.
func ParsePolicies(data []byte) ([]domain.Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policies: %w", err)
	}
	if err := ValidatePolicies(f.Policies); err != nil {
		return nil, err
	}
	return f.Policies, nil
}

// MarshalPolicies encodes policies in the file layout.
func MarshalPolicies(policies []domain.Policy) ([]byte, error) {
	return yaml.Marshal(policyFile{Policies: policies})
}

// FileLoader implements ports.PolicyLoader over a YAML file.
type FileLoader struct {
	Path string
}

func (l FileLoader) LoadPolicies(_ context.Context) ([]domain.Policy, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	policies, err := ParsePolicies(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.Path, err)
	}
	return policies, nil
}
