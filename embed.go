package machinehub

import "embed"

// EmbeddedConfigFS provides the default machinehub.toml settings.
//
//go:embed config
var EmbeddedConfigFS embed.FS
