package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var Version string

// Get returns the current version of the gateway
func Get() string {
	return strings.TrimSpace(Version)
}
