// Package container wires the opsflow components together and owns their
// lifecycle.
package container

import (
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/opsflow/internal/application/template"
	"github.com/garyjia/opsflow/internal/application/workflow"
)

// Config holds all configuration for the Container, already parsed into
// domain types.
type Config struct {
	Database     DatabaseConfig
	Server       ServerConfig
	Workflow     WorkflowConfig
	Escalation   EscalationConfig
	Notification NotificationConfig
	NATS         NATSConfig
	Lark         LarkConfig
	Redis        RedisConfig
	Metrics      MetricsConfig

	// Background starts the cron workers on Start. One-shot commands leave it off.
	Background bool
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is sqlite or postgres
	Driver string

	// Path to the SQLite database file
	Path string

	// DSN is the postgres connection string
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// AutoMigrate applies pending migrations on start
	AutoMigrate bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Mode         string
}

// WorkflowConfig holds engine policies.
type WorkflowConfig struct {
	Policies workflow.Policies

	// AmountPolicy replaces the purchase and expense tiers when set
	AmountPolicy *template.AmountPolicy
}

// EscalationConfig holds sweep settings.
type EscalationConfig struct {
	Enabled     bool
	Schedule    string
	BatchSize   int
	PassTimeout time.Duration
}

// NotificationConfig selects delivery channels.
type NotificationConfig struct {
	Channels     []string
	DeepLinkBase string
}

// NATSConfig holds bus settings.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	AppID         string
	AppSecret     string
	ReceiveIDType string
}

// RedisConfig holds the sweep lease settings.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	LockKey  string
	LockTTL  time.Duration
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "data/opsflow.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Mode:         "release",
		},
		Workflow: WorkflowConfig{
			Policies: workflow.DefaultPolicies(),
		},
		Escalation: EscalationConfig{
			Enabled:     true,
			Schedule:    "*/5 * * * *",
			BatchSize:   200,
			PassTimeout: 2 * time.Minute,
		},
		Notification: NotificationConfig{
			Channels: []string{"log"},
		},
		NATS: NATSConfig{
			SubjectPrefix: "opsflow.notifications",
		},
		Lark: LarkConfig{
			ReceiveIDType: "user_id",
		},
		Redis: RedisConfig{
			LockKey: "opsflow:escalation:sweep",
			LockTTL: time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "opsflow",
		},
	}
}

// Validate checks that the parsed policies are coherent.
func (c *Config) Validate() error {
	if c.Database.Path == "" && c.Database.DSN == "" {
		return errors.New("database.path or database.dsn is required")
	}
	if err := c.Workflow.Policies.Deadlines.Validate(); err != nil {
		return fmt.Errorf("workflow.deadlines: %w", err)
	}
	if c.Workflow.AmountPolicy != nil {
		if err := c.Workflow.AmountPolicy.Validate(); err != nil {
			return fmt.Errorf("workflow.amount_tiers: %w", err)
		}
	}
	if c.Workflow.Policies.ApprovalSLA < 0 {
		return errors.New("workflow.approval_sla must not be negative")
	}
	return nil
}
