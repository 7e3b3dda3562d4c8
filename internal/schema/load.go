package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the on-disk descriptor format
type File struct {
	Objects    []*Object    `yaml:"objects" json:"objects"`
	Interfaces []*Interface `yaml:"interfaces,omitempty" json:"interfaces,omitempty"`
	Enums      []*Enum      `yaml:"enums,omitempty" json:"enums,omitempty"`
}

// Load reads a descriptor file. Supports .yaml, .yml and .json.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return LoadBytes(data, "yaml")
	case ".json":
		return LoadBytes(data, "json")
	}
	return nil, fmt.Errorf("unsupported schema format: %s", ext)
}

// LoadBytes parses descriptors from raw bytes
// format should be "yaml" or "json"
func LoadBytes(data []byte, format string) (*Schema, error) {
	var f File
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse YAML schema: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse JSON schema: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported schema format: %s", format)
	}
	return f.Build()
}

// Build declares every type of the file in a new schema and validates it
func (f *File) Build() (*Schema, error) {
	s := New()
	for _, e := range f.Enums {
		if err := s.AddEnum(e); err != nil {
			return nil, err
		}
	}
	for _, i := range f.Interfaces {
		if err := s.AddInterface(i); err != nil {
			return nil, err
		}
	}
	for _, o := range f.Objects {
		if err := s.AddObject(o); err != nil {
			return nil, err
		}
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return s, nil
}
