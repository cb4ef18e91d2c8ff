// Package notify holds the non-chat notification gateways.
package notify

import (
	"context"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"go.uber.org/zap"
)

// LogGateway writes notifications to the log. It is the default channel.
type LogGateway struct {
	logger *zap.Logger
}

// NewLogGateway creates a log-only gateway
func NewLogGateway(logger *zap.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Notify(ctx context.Context, n entity.Notification) error {
	g.logger.Info("Notification",
		zap.String("user_id", n.UserID),
		zap.String("category", string(n.Category)),
		zap.String("priority", string(n.Priority)),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.String("deep_link", n.DeepLink))
	return nil
}

var _ port.NotificationGateway = (*LogGateway)(nil)
