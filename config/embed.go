// Package config provides the embedded default configuration for Animus.
package config

import (
	_ "embed"
)

// DefaultConfigYAML contains the embedded default configuration in YAML
// format. It seeds ANIMUS_DIR/settings.yaml on first run.
//
//go:embed config.default.yaml
var DefaultConfigYAML []byte
