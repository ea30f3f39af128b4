package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError collects every problem found in a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid configuration:")
	for _, p := range e.Problems {
		sb.WriteString("\n--> ")
		sb.WriteString(p)
	}
	return sb.String()
}

// Validate checks the configuration after defaults have been applied
func (c *GatewayConfig) Validate() error {
	var problems []string

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		problems = append(problems, fmt.Sprintf("server.mode %q is not one of debug, release, test", c.Server.Mode))
	}

	if c.Dispatch.MaxConcurrency < 0 {
		problems = append(problems, "dispatch.max_concurrency must not be negative")
	}

	switch c.Provider.Type {
	case "mock":
	case "bridge":
		if c.Provider.Bridge.BaseURL == "" {
			problems = append(problems, "provider.bridge.base_url is required for the bridge provider")
		} else if u, err := url.Parse(c.Provider.Bridge.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("provider.bridge.base_url %q is not an absolute URL", c.Provider.Bridge.BaseURL))
		}
		if c.Provider.Bridge.Redis.Addr == "" {
			problems = append(problems, "provider.bridge.redis.addr is required for the bridge provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported provider type %q", c.Provider.Type))
	}

	if !strings.HasPrefix(c.Artifact.URLPrefix, "/") {
		problems = append(problems, fmt.Sprintf("artifact.url_prefix %q must start with /", c.Artifact.URLPrefix))
	}

	switch c.ScanStore.Type {
	case "sqlite":
		if c.ScanStore.DBName == "" {
			problems = append(problems, "scan_store.dbname is required for sqlite")
		}
	case "mysql", "postgres":
		if c.ScanStore.Host == "" || c.ScanStore.DBName == "" {
			problems = append(problems, fmt.Sprintf("scan_store.host and scan_store.dbname are required for %s", c.ScanStore.Type))
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported scan_store type %q", c.ScanStore.Type))
	}

	if c.Tracing.SamplerRate < 0 || c.Tracing.SamplerRate > 1 {
		problems = append(problems, "tracing.sampler_rate must be within [0, 1]")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
