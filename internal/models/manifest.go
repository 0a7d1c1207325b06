package models

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest records what a deploy published, for release notes and audits
type Manifest struct {
	DeploymentID    string `yaml:"deployment_id"`
	ConfigurationID string `yaml:"configuration_id"`
	Version         int    `yaml:"version"`
	Product         string `yaml:"product"`
	Group           string `yaml:"group"`
	Container       string `yaml:"container"`
	Blob            string `yaml:"blob"`
	URL             string `yaml:"url"`
	Size            int64  `yaml:"size"`
	SHA256          string `yaml:"sha256"`
	SASExpiry       string `yaml:"sas_expiry"` // RFC3339
	CreatedAt       string `yaml:"created_at"` // RFC3339
}

// WriteManifest writes m as YAML to path.
func WriteManifest(path string, m Manifest) error {
	contents, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), contents, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}

	return nil
}

// ReadManifest loads a manifest previously written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(contents, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	return m, nil
}
