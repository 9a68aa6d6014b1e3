// Package config provides configuration management for the paper radar service.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Recovery modes applied to tasks interrupted by an unclean shutdown.
const (
	// RecoveryModeResume resumes interrupted tasks whose input is still available.
	RecoveryModeResume = "resume"
	// RecoveryModeFail fails every interrupted task.
	RecoveryModeFail = "fail"
)

// Config holds all configuration for the paper radar service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Radar contains discovery scan settings.
	Radar RadarConfig `mapstructure:"radar"`
	// Scoring contains candidate scoring thresholds.
	Scoring ScoringConfig `mapstructure:"scoring"`
	// Dedup contains deduplication gate settings.
	Dedup DedupConfig `mapstructure:"dedup"`
	// Queue contains task admission queue settings.
	Queue QueueConfig `mapstructure:"queue"`
	// Recovery contains startup recovery sweep settings.
	Recovery RecoveryConfig `mapstructure:"recovery"`
	// Sources contains discovery source adapter settings.
	Sources SourcesConfig `mapstructure:"sources"`
	// Pipeline contains document pipeline client settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Storage contains input artifact storage settings.
	Storage StorageConfig `mapstructure:"storage"`
	// Notification contains notification dispatcher settings.
	Notification NotificationConfig `mapstructure:"notification"`
	// Control contains the Kafka control listener settings.
	Control ControlConfig `mapstructure:"control"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxUploadBytes caps the size of an uploaded document.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// RadarConfig controls the periodic discovery scan.
type RadarConfig struct {
	// Enabled starts the scan timer at boot. Manual scans are rejected when disabled.
	Enabled bool `mapstructure:"enabled"`
	// Interval is the time between timer-driven scans.
	Interval time.Duration `mapstructure:"interval"`
	// Categories are the arXiv categories polled each scan (e.g. cs.CL).
	Categories []string `mapstructure:"categories"`
	// Topics is the free-text topic list passed to searchable sources.
	Topics []string `mapstructure:"topics"`
	// Lookback bounds how old a discovered paper may be.
	Lookback time.Duration `mapstructure:"lookback"`
	// MaxResults is the per-source result size hint.
	MaxResults int `mapstructure:"max_results"`
	// MaxPerScan caps admissions in a single scan.
	MaxPerScan int `mapstructure:"max_per_scan"`
	// Capacity is the active-task ceiling above which discovery stops admitting.
	Capacity int `mapstructure:"capacity"`
	// RecentSize is the number of recent discoveries kept for status reporting.
	RecentSize int `mapstructure:"recent_size"`
	// SourceTimeout bounds a single source adapter call.
	SourceTimeout time.Duration `mapstructure:"source_timeout"`
}

// ScoringConfig holds the thresholds of the tiered candidate scorer.
type ScoringConfig struct {
	// HighUpvotes is the community upvote count for the top tier.
	HighUpvotes int `mapstructure:"high_upvotes"`
	// LowUpvotes is the community upvote count for the second tier.
	LowUpvotes int `mapstructure:"low_upvotes"`
	// HighCitations is the citation count for the citation tier.
	HighCitations int `mapstructure:"high_citations"`
	// Keywords are matched case-insensitively against title and abstract.
	Keywords []string `mapstructure:"keywords"`
}

// DedupConfig holds deduplication settings.
type DedupConfig struct {
	// SessionCacheSize is the maximum number of identity keys kept in memory.
	SessionCacheSize int `mapstructure:"session_cache_size"`
}

// QueueConfig holds task admission queue settings.
type QueueConfig struct {
	// PerOwnerLimit is the number of tasks one owner may have in flight.
	PerOwnerLimit int `mapstructure:"per_owner_limit"`
	// SystemOwner owns tasks created by discovery.
	SystemOwner string `mapstructure:"system_owner"`
	// DefaultMode is the processing mode for discovered papers.
	DefaultMode string `mapstructure:"default_mode"`
	// Highlight requests the highlighting stage for discovered papers.
	Highlight bool `mapstructure:"highlight"`
	// TaskTTL is how long terminal tasks are kept before cleanup.
	TaskTTL time.Duration `mapstructure:"task_ttl"`
	// CleanupInterval is how often terminal tasks are swept.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RecoveryConfig holds recovery sweep settings.
type RecoveryConfig struct {
	// Mode is either "resume" or "fail".
	Mode string `mapstructure:"mode"`
}

// SourcesConfig holds configuration for all discovery sources.
type SourcesConfig struct {
	// ArXiv is the category metadata feed.
	ArXiv SourceConfig `mapstructure:"arxiv"`
	// HuggingFace is the community-ranked daily papers feed.
	HuggingFace SourceConfig `mapstructure:"huggingface"`
	// SemanticScholar is the citation-graph feed.
	SemanticScholar SourceConfig `mapstructure:"semantic_scholar"`
	// RSS is the list of journal and blog feeds.
	RSS RSSSourceConfig `mapstructure:"rss"`
}

// SourceConfig holds configuration for a single discovery source.
type SourceConfig struct {
	// Enabled controls whether this source is polled.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment variable only).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the HTTP timeout for a single request.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
}

// RSSSourceConfig holds the RSS adapter settings.
type RSSSourceConfig struct {
	SourceConfig `mapstructure:",squash"`
	// Feeds are the feed URLs polled each scan.
	Feeds []string `mapstructure:"feeds"`
}

// PipelineConfig holds the document pipeline client settings.
type PipelineConfig struct {
	// BaseURL is the pipeline service base URL.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is sent as a bearer token (loaded from environment variable only).
	APIKey string `mapstructure:"-"`
	// PollInterval is how often job status is polled.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Timeout is the HTTP timeout for a single pipeline request.
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds artifact storage settings.
type StorageConfig struct {
	// Dir is the directory for input documents.
	Dir string `mapstructure:"dir"`
	// MaxDownloadBytes caps a discovered document download.
	MaxDownloadBytes int64 `mapstructure:"max_download_bytes"`
	// DownloadTimeout bounds a single document download.
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	// AllowPrivateHosts permits downloads from private networks (tests and local setups).
	AllowPrivateHosts bool `mapstructure:"allow_private_hosts"`
}

// NotificationConfig holds the notification dispatcher settings.
type NotificationConfig struct {
	// Timeout bounds a single notifier delivery.
	Timeout time.Duration `mapstructure:"timeout"`
	// Kafka publishes events to a topic.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// WebhookURL receives JSON events (loaded from environment variable only).
	WebhookURL string `mapstructure:"-"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic to publish events to.
	Topic string `mapstructure:"topic"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// ControlConfig holds the Kafka control listener settings.
type ControlConfig struct {
	// Enabled controls whether control commands are consumed.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic carries control commands.
	Topic string `mapstructure:"topic"`
	// GroupID is the consumer group ID.
	GroupID string `mapstructure:"group_id"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: params.Encode(),
	}
	return u.String()
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PAPERRADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/paper-radar")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// List values set through env arrive as one comma separated string.
	cfg.Radar.Categories = splitList(cfg.Radar.Categories)
	cfg.Radar.Topics = splitList(cfg.Radar.Topics)
	cfg.Scoring.Keywords = splitList(cfg.Scoring.Keywords)
	cfg.Sources.RSS.Feeds = splitList(cfg.Sources.RSS.Feeds)
	cfg.Notification.Kafka.Brokers = splitList(cfg.Notification.Kafka.Brokers)
	cfg.Control.Brokers = splitList(cfg.Control.Brokers)

	loadSecrets(&cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config, getenv func(string) string) {
	cfg.Sources.SemanticScholar.APIKey = getenv("PAPERRADAR_SEMANTIC_SCHOLAR_API_KEY")
	cfg.Sources.HuggingFace.APIKey = getenv("PAPERRADAR_HUGGINGFACE_API_KEY")
	cfg.Pipeline.APIKey = getenv("PAPERRADAR_PIPELINE_API_KEY")
	cfg.Notification.WebhookURL = getenv("PAPERRADAR_WEBHOOK_URL")
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_upload_bytes", 50<<20)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "paperradar")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "paper_radar")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "paper_radar")

	// Radar defaults
	v.SetDefault("radar.enabled", false)
	v.SetDefault("radar.interval", "1h")
	v.SetDefault("radar.categories", []string{"cs.CL", "cs.AI", "cs.LG"})
	v.SetDefault("radar.topics", []string{"large language model", "agent", "reasoning", "RLHF", "quantization", "RAG"})
	v.SetDefault("radar.lookback", "48h")
	v.SetDefault("radar.max_results", 50)
	v.SetDefault("radar.max_per_scan", 10)
	v.SetDefault("radar.capacity", 20)
	v.SetDefault("radar.recent_size", 50)
	v.SetDefault("radar.source_timeout", "30s")

	// Scoring defaults
	v.SetDefault("scoring.high_upvotes", 30)
	v.SetDefault("scoring.low_upvotes", 10)
	v.SetDefault("scoring.high_citations", 50)
	v.SetDefault("scoring.keywords", []string{"LLM", "large language model", "agent", "reasoning", "RLHF", "quantization", "RAG"})

	// Dedup defaults
	v.SetDefault("dedup.session_cache_size", 2000)

	// Queue defaults
	v.SetDefault("queue.per_owner_limit", 3)
	v.SetDefault("queue.system_owner", "system:radar")
	v.SetDefault("queue.default_mode", "translate")
	v.SetDefault("queue.highlight", false)
	v.SetDefault("queue.task_ttl", "24h")
	v.SetDefault("queue.cleanup_interval", "30m")

	// Recovery defaults
	v.SetDefault("recovery.mode", RecoveryModeResume)

	// Sources defaults - arXiv
	v.SetDefault("sources.arxiv.enabled", true)
	v.SetDefault("sources.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("sources.arxiv.timeout", "30s")
	v.SetDefault("sources.arxiv.rate_limit", 0.33) // arXiv asks for one request every 3 seconds
	v.SetDefault("sources.arxiv.max_results", 50)

	// Sources defaults - Hugging Face daily papers
	v.SetDefault("sources.huggingface.enabled", true)
	v.SetDefault("sources.huggingface.base_url", "https://huggingface.co/api")
	v.SetDefault("sources.huggingface.timeout", "20s")
	v.SetDefault("sources.huggingface.rate_limit", 1.0)
	v.SetDefault("sources.huggingface.max_results", 50)

	// Sources defaults - Semantic Scholar
	v.SetDefault("sources.semantic_scholar.enabled", false)
	v.SetDefault("sources.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("sources.semantic_scholar.timeout", "30s")
	v.SetDefault("sources.semantic_scholar.rate_limit", 1.0)
	v.SetDefault("sources.semantic_scholar.max_results", 50)

	// Sources defaults - RSS
	v.SetDefault("sources.rss.enabled", false)
	v.SetDefault("sources.rss.timeout", "15s")
	v.SetDefault("sources.rss.rate_limit", 2.0)
	v.SetDefault("sources.rss.max_results", 50)
	v.SetDefault("sources.rss.feeds", []string{})

	// Pipeline defaults
	v.SetDefault("pipeline.base_url", "http://localhost:8000")
	v.SetDefault("pipeline.poll_interval", "2s")
	v.SetDefault("pipeline.timeout", "30s")

	// Storage defaults
	v.SetDefault("storage.dir", "./data/artifacts")
	v.SetDefault("storage.max_download_bytes", 100<<20)
	v.SetDefault("storage.download_timeout", "2m")
	v.SetDefault("storage.allow_private_hosts", false)

	// Notification defaults
	v.SetDefault("notification.timeout", "10s")
	v.SetDefault("notification.kafka.enabled", false)
	v.SetDefault("notification.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("notification.kafka.topic", "events.paper_radar")
	v.SetDefault("notification.kafka.batch_timeout", "10ms")

	// Control listener defaults
	v.SetDefault("control.enabled", false)
	v.SetDefault("control.brokers", []string{"localhost:9092"})
	v.SetDefault("control.topic", "commands.paper_radar")
	v.SetDefault("control.group_id", "paper-radar-service")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}
	if c.Database.HealthCheckPeriod < 0 {
		return fmt.Errorf("database health_check_period must not be negative")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Radar.Interval < time.Minute {
		return fmt.Errorf("radar interval must be at least 1m, got %s", c.Radar.Interval)
	}
	if c.Radar.MaxPerScan <= 0 {
		return fmt.Errorf("radar max_per_scan must be positive")
	}
	if c.Radar.Capacity <= 0 {
		return fmt.Errorf("radar capacity must be positive")
	}
	if c.Radar.RecentSize <= 0 {
		return fmt.Errorf("radar recent_size must be positive")
	}
	if c.Radar.SourceTimeout <= 0 {
		return fmt.Errorf("radar source_timeout must be positive")
	}

	if c.Scoring.LowUpvotes <= 0 {
		return fmt.Errorf("scoring low_upvotes must be positive")
	}
	if c.Scoring.HighUpvotes < c.Scoring.LowUpvotes {
		return fmt.Errorf("scoring high_upvotes (%d) must be >= low_upvotes (%d)", c.Scoring.HighUpvotes, c.Scoring.LowUpvotes)
	}
	if c.Scoring.HighCitations <= 0 {
		return fmt.Errorf("scoring high_citations must be positive")
	}

	if c.Dedup.SessionCacheSize <= 0 {
		return fmt.Errorf("dedup session_cache_size must be positive")
	}

	if c.Queue.PerOwnerLimit <= 0 {
		return fmt.Errorf("queue per_owner_limit must be positive")
	}
	if c.Queue.SystemOwner == "" {
		return fmt.Errorf("queue system_owner is required")
	}

	switch c.Recovery.Mode {
	case RecoveryModeResume, RecoveryModeFail:
	default:
		return fmt.Errorf("invalid recovery mode: %q", c.Recovery.Mode)
	}

	if c.Pipeline.BaseURL == "" {
		return fmt.Errorf("pipeline base_url is required")
	}
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("pipeline poll_interval must be positive")
	}

	if c.Storage.Dir == "" {
		return fmt.Errorf("storage dir is required")
	}

	if c.Notification.Kafka.Enabled {
		if len(c.Notification.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka notifications are enabled")
		}
		if c.Notification.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka notifications are enabled")
		}
	}

	if c.Control.Enabled {
		if len(c.Control.Brokers) == 0 {
			return fmt.Errorf("control brokers are required when the control listener is enabled")
		}
		if c.Control.Topic == "" || c.Control.GroupID == "" {
			return fmt.Errorf("control topic and group_id are required when the control listener is enabled")
		}
	}

	return nil
}
