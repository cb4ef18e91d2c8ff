package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/opsflow/internal/application/template"
	"github.com/garyjia/opsflow/internal/application/workflow"
	"github.com/garyjia/opsflow/internal/container"
	"github.com/garyjia/opsflow/internal/domain/deadline"
	"github.com/garyjia/opsflow/internal/domain/entity"
)

// ToContainerConfig converts the file-based Config into the container's
// typed configuration, parsing role, type and severity names on the way.
func (c *Config) ToContainerConfig() (*container.Config, error) {
	out := container.DefaultConfig()

	out.Database = container.DatabaseConfig{
		Driver:          c.Database.Driver,
		Path:            c.Database.Path,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		AutoMigrate:     c.Database.AutoMigrate,
	}
	out.Server = container.ServerConfig{
		Host:         c.Server.Host,
		Port:         c.Server.Port,
		ReadTimeout:  c.Server.ReadTimeout,
		WriteTimeout: c.Server.WriteTimeout,
		Mode:         c.Server.Mode,
	}
	out.Escalation = container.EscalationConfig{
		Enabled:     c.Escalation.Enabled,
		Schedule:    c.Escalation.Schedule,
		BatchSize:   c.Escalation.BatchSize,
		PassTimeout: c.Escalation.PassTimeout,
	}
	out.Notification = container.NotificationConfig{
		Channels:     c.Notification.Channels,
		DeepLinkBase: c.Notification.DeepLinkBase,
	}
	out.NATS = container.NATSConfig{URL: c.NATS.URL, SubjectPrefix: c.NATS.SubjectPrefix}
	out.Lark = container.LarkConfig{
		AppID:         c.Lark.AppID,
		AppSecret:     c.Lark.AppSecret,
		ReceiveIDType: c.Lark.ReceiveIDType,
	}
	out.Redis = container.RedisConfig{
		Enabled:  c.Redis.Enabled,
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		LockKey:  c.Redis.LockKey,
		LockTTL:  c.Escalation.LockTTL,
	}
	out.Metrics = container.MetricsConfig{Enabled: c.Metrics.Enabled, Namespace: c.Metrics.Namespace}

	policies, err := c.Workflow.policies()
	if err != nil {
		return nil, err
	}
	out.Workflow.Policies = policies

	if len(c.Workflow.AmountTiers) > 0 {
		amount, err := c.Workflow.amountPolicy()
		if err != nil {
			return nil, err
		}
		out.Workflow.AmountPolicy = &amount
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (w WorkflowConfig) policies() (workflow.Policies, error) {
	p := workflow.DefaultPolicies()

	if w.OverrideRoles != nil {
		roles, err := parseRoles(w.OverrideRoles)
		if err != nil {
			return p, fmt.Errorf("workflow.override_roles: %w", err)
		}
		p.Overrides.Default = roles
	}
	if len(w.OverrideRolesByType) > 0 {
		p.Overrides.ByType = make(map[entity.WorkflowType][]entity.Role, len(w.OverrideRolesByType))
		for name, names := range w.OverrideRolesByType {
			t, err := entity.ParseWorkflowType(name)
			if err != nil {
				return p, fmt.Errorf("workflow.override_roles_by_type: %w", err)
			}
			roles, err := parseRoles(names)
			if err != nil {
				return p, fmt.Errorf("workflow.override_roles_by_type.%s: %w", name, err)
			}
			p.Overrides.ByType[t] = roles
		}
	}

	p.ApprovalSLA = w.ApprovalSLA
	if len(w.ApprovalSLAByType) > 0 {
		p.ApprovalSLAByType = make(map[entity.WorkflowType]time.Duration, len(w.ApprovalSLAByType))
		for name, d := range w.ApprovalSLAByType {
			t, err := entity.ParseWorkflowType(name)
			if err != nil {
				return p, fmt.Errorf("workflow.approval_sla_by_type: %w", err)
			}
			p.ApprovalSLAByType[t] = d
		}
	}

	// Configured severities replace the built-in tier for that severity only.
	for name, offsets := range w.Deadlines {
		sev, err := entity.ParseSeverity(name)
		if err != nil {
			return p, fmt.Errorf("workflow.deadlines: %w", err)
		}
		if len(offsets) != deadline.StageCount {
			return p, fmt.Errorf("workflow.deadlines.%s: want %d offsets, got %d", name, deadline.StageCount, len(offsets))
		}
		var tier deadline.Offsets
		copy(tier[:], offsets)
		p.Deadlines[sev] = tier
	}

	return p, nil
}

func (w WorkflowConfig) amountPolicy() (template.AmountPolicy, error) {
	var policy template.AmountPolicy
	for i, tc := range w.AmountTiers {
		roles, err := parseRoles(tc.Roles)
		if err != nil {
			return policy, fmt.Errorf("workflow.amount_tiers[%d]: %w", i, err)
		}
		policy.Tiers = append(policy.Tiers, template.AmountTier{MinAmount: tc.MinAmount, Roles: roles})
	}
	return policy, nil
}

func parseRoles(names []string) ([]entity.Role, error) {
	roles := make([]entity.Role, 0, len(names))
	for _, name := range names {
		r, err := entity.ParseRole(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}
