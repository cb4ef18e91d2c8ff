package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. OPSFLOW_SERVER_PORT.
const EnvPrefix = "OPSFLOW"

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Escalation   EscalationConfig   `mapstructure:"escalation"`
	Notification NotificationConfig `mapstructure:"notification"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Lark         LarkConfig         `mapstructure:"lark"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Mode is the gin mode: debug, release or test.
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// AmountTierConfig is one amount tier as written in the config file.
type AmountTierConfig struct {
	MinAmount int64    `mapstructure:"min_amount"`
	Roles     []string `mapstructure:"roles"`
}

// WorkflowConfig holds the tunable workflow rules. Role and type names are
// parsed when the container config is built.
type WorkflowConfig struct {
	// AmountTiers replaces the purchase and expense tiers when set.
	AmountTiers         []AmountTierConfig       `mapstructure:"amount_tiers"`
	OverrideRoles       []string                 `mapstructure:"override_roles"`
	OverrideRolesByType map[string][]string      `mapstructure:"override_roles_by_type"`
	ApprovalSLA         time.Duration            `mapstructure:"approval_sla"`
	ApprovalSLAByType   map[string]time.Duration `mapstructure:"approval_sla_by_type"`
	// Deadlines maps a severity to its four stage offsets.
	Deadlines map[string][]time.Duration `mapstructure:"deadlines"`
}

// EscalationConfig holds sweep scheduling
type EscalationConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Schedule    string        `mapstructure:"schedule"`
	BatchSize   int           `mapstructure:"batch_size"`
	PassTimeout time.Duration `mapstructure:"pass_timeout"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
}

// NotificationConfig selects the delivery channels
type NotificationConfig struct {
	// Channels lists gateways to fan out to: log, nats, lark.
	Channels     []string `mapstructure:"channels"`
	DeepLinkBase string   `mapstructure:"deep_link_base"`
}

// NATSConfig holds the message bus settings
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID         string `mapstructure:"app_id"`
	AppSecret     string `mapstructure:"app_secret"`
	ReceiveIDType string `mapstructure:"receive_id_type"`
}

// RedisConfig holds the sweep lease store
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	LockKey  string `mapstructure:"lock_key"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables. An empty
// path uses defaults and the environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.mode", "release")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/opsflow.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Workflow defaults; tiers and deadlines fall back to the built-in policies
	v.SetDefault("workflow.override_roles", []string{"COMPANY_ADMIN", "OWNER"})
	v.SetDefault("workflow.approval_sla", 72*time.Hour)

	// Escalation defaults
	v.SetDefault("escalation.enabled", true)
	v.SetDefault("escalation.schedule", "*/5 * * * *")
	v.SetDefault("escalation.batch_size", 200)
	v.SetDefault("escalation.pass_timeout", 2*time.Minute)
	v.SetDefault("escalation.lock_ttl", time.Minute)

	// Notification defaults
	v.SetDefault("notification.channels", []string{"log"})
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "opsflow.notifications")
	v.SetDefault("lark.receive_id_type", "user_id")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.lock_key", "opsflow:escalation:sweep")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "opsflow")
	v.SetDefault("metrics.path", "/metrics")
}

// bindEnvVars binds credentials to their conventional unprefixed names
// as well as the OPSFLOW_ ones.
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"lark.app_id":     {"OPSFLOW_LARK_APP_ID", "LARK_APP_ID"},
		"lark.app_secret": {"OPSFLOW_LARK_APP_SECRET", "LARK_APP_SECRET"},
		"database.dsn":    {"OPSFLOW_DATABASE_DSN", "DATABASE_URL"},
		"redis.password":  {"OPSFLOW_REDIS_PASSWORD", "REDIS_PASSWORD"},
		"nats.url":        {"OPSFLOW_NATS_URL", "NATS_URL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	switch strings.ToLower(c.Database.Driver) {
	case "", "sqlite", "sqlite3":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres", "postgresql", "pgx":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}

	if c.Escalation.Enabled && c.Escalation.Schedule == "" {
		errs = append(errs, errors.New("escalation.schedule is required when escalation is enabled"))
	}

	for _, ch := range c.Notification.Channels {
		switch strings.ToLower(ch) {
		case "log":
		case "nats":
			if c.NATS.URL == "" {
				errs = append(errs, errors.New("nats.url is required for the nats channel"))
			}
		case "lark":
			if c.Lark.AppID == "" || c.Lark.AppSecret == "" {
				errs = append(errs, errors.New("lark.app_id and lark.app_secret are required for the lark channel"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown notification channel %q", ch))
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}

	return errors.Join(errs...)
}

// Address returns the HTTP listen address
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
