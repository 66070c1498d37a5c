// Package templates holds files shipped inside the binary.
package templates

import (
	_ "embed"
)

// defaultConfig is the commented file written by "beanserver config init".
//
//go:embed config.yaml
var defaultConfig string

// DefaultConfig returns the default configuration file contents.
func DefaultConfig() string {
	return defaultConfig
}
