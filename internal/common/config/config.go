package config

import (
	"os"
	"regexp"
	"time"

	"github.com/amoylab/botgate/pkg/helper"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// GatewayConfig represents the gateway configuration
	GatewayConfig struct {
		Server    ServerConfig   `yaml:"server"`
		PID       string         `yaml:"pid"`
		Logger    LoggerConfig   `yaml:"logger"`
		Session   SessionConfig  `yaml:"session"`
		Dispatch  DispatchConfig `yaml:"dispatch"`
		Provider  ProviderConfig `yaml:"provider"`
		Artifact  ArtifactConfig `yaml:"artifact"`
		ScanStore DatabaseConfig `yaml:"scan_store"`
		Metrics   MetricsConfig  `yaml:"metrics"`
		Tracing   TracingConfig  `yaml:"tracing"`
		I18n      I18nConfig     `yaml:"i18n"`
		CORS      *CORSConfig    `yaml:"cors,omitempty"`
	}

	// ServerConfig represents the HTTP listener configuration
	ServerConfig struct {
		Port            int           `yaml:"port"`
		Mode            string        `yaml:"mode"` // debug, release, test
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	}

	// SessionConfig controls the session lifecycle
	SessionConfig struct {
		RetryDelay time.Duration `yaml:"retry_delay"` // delay before re-creating a session after an auth timeout
		QueueSize  int           `yaml:"queue_size"`  // initial capacity of the per-session event queue
	}

	// DispatchConfig controls outbound message fan-out
	DispatchConfig struct {
		MaxConcurrency int           `yaml:"max_concurrency"` // concurrent sends per request, 0 means unbounded
		SendTimeout    time.Duration `yaml:"send_timeout"`    // per-recipient send timeout
	}

	// ProviderConfig selects and configures the messaging provider
	ProviderConfig struct {
		Type   string             `yaml:"type"` // mock or bridge
		Mock   MockProviderConfig `yaml:"mock"`
		Bridge BridgeConfig       `yaml:"bridge"`
	}

	// MockProviderConfig configures the in-process provider
	MockProviderConfig struct {
		QRDelay   time.Duration `yaml:"qr_delay"`   // delay before the challenge is emitted
		ReadyWith time.Duration `yaml:"ready_with"` // emit ready this long after qr, 0 disables
	}

	// BridgeConfig configures the transport sidecar bridge
	BridgeConfig struct {
		BaseURL        string            `yaml:"base_url"`
		RequestTimeout time.Duration     `yaml:"request_timeout"`
		Redis          BridgeRedisConfig `yaml:"redis"`
	}

	// BridgeRedisConfig represents the Redis configuration of the bridge event bus
	BridgeRedisConfig struct {
		Addr     string `yaml:"addr"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Topic    string `yaml:"topic"` // events are published on <topic>:<userId>
	}

	// ArtifactConfig controls where QR challenges are written and served from
	ArtifactConfig struct {
		Dir       string `yaml:"dir"`
		URLPrefix string `yaml:"url_prefix"`
		Size      int    `yaml:"size"` // PNG edge in pixels
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps, default is "2006-01-02 15:04:05"
	}

	// MetricsConfig represents the prometheus configuration
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Path      string    `yaml:"path"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// TracingConfig represents OpenTelemetry tracing configuration
	TracingConfig struct {
		Enabled     bool              `yaml:"enabled"`
		ServiceName string            `yaml:"service_name"`
		Endpoint    string            `yaml:"endpoint"`     // e.g. localhost:4317 or http://localhost:4318
		Protocol    string            `yaml:"protocol"`     // grpc or http
		Insecure    bool              `yaml:"insecure"`     // allow insecure connection
		SamplerRate float64           `yaml:"sampler_rate"` // 0.0~1.0
		Environment string            `yaml:"environment"`  // env tag: dev/staging/prod
		Headers     map[string]string `yaml:"headers"`
	}

	// I18nConfig represents the internationalization configuration
	I18nConfig struct {
		DefaultLang string `yaml:"default_lang"`
	}

	// CORSConfig represents the CORS configuration
	CORSConfig struct {
		AllowOrigins     []string `yaml:"allow_origins"`
		AllowMethods     []string `yaml:"allow_methods"`
		AllowHeaders     []string `yaml:"allow_headers"`
		ExposeHeaders    []string `yaml:"expose_headers"`
		AllowCredentials bool     `yaml:"allow_credentials"`
	}
)

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*GatewayConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg GatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, err
	}

	return &cfg, cfgPath, nil
}

// SetDefaults fills zero values with usable defaults
func (c *GatewayConfig) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3001
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.PID == "" {
		c.PID = "botgate.pid"
	}
	if c.Session.RetryDelay <= 0 {
		c.Session.RetryDelay = 5 * time.Second
	}
	if c.Session.QueueSize <= 0 {
		c.Session.QueueSize = 16
	}
	if c.Dispatch.SendTimeout <= 0 {
		c.Dispatch.SendTimeout = 30 * time.Second
	}
	if c.Provider.Type == "" {
		c.Provider.Type = "mock"
	}
	if c.Provider.Bridge.RequestTimeout <= 0 {
		c.Provider.Bridge.RequestTimeout = 15 * time.Second
	}
	if c.Provider.Bridge.Redis.Topic == "" {
		c.Provider.Bridge.Redis.Topic = "botgate:events"
	}
	if c.Artifact.Dir == "" {
		c.Artifact.Dir = "data/qr"
	}
	if c.Artifact.URLPrefix == "" {
		c.Artifact.URLPrefix = "/qr-codes"
	}
	if c.Artifact.Size <= 0 {
		c.Artifact.Size = 256
	}
	if c.ScanStore.Type == "" {
		c.ScanStore.Type = "sqlite"
	}
	if c.ScanStore.Type == "sqlite" && c.ScanStore.DBName == "" {
		c.ScanStore.DBName = "data/botgate.db"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "botgate"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "botgate"
	}
	if c.I18n.DefaultLang == "" {
		c.I18n.DefaultLang = "en"
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
