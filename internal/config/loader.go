package config

import "context"

// Loader produces a validated node configuration. ViperLoader layers
// CASEFLOW_* environment variables over an optional file; the fileloader
// package reads a single YAML file and nothing else.
type Loader interface {
	Load(ctx context.Context) (*Config, error)
}
