package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig holds bus settings
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// Publisher is the part of *nats.Conn the gateway needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Event is the JSON body published per notification
type Event struct {
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Priority  string    `json:"priority"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	DeepLink  string    `json:"deep_link,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NATSGateway publishes notifications to <prefix>.<category>
type NATSGateway struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// ConnectNATS dials the bus with unlimited reconnects
func ConnectNATS(cfg NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	name := cfg.Name
	if name == "" {
		name = "opsflow"
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	logger.Info("Connected to NATS", zap.String("url", cfg.URL))
	return conn, nil
}

// NewNATSGateway creates a gateway over any publisher
func NewNATSGateway(pub Publisher, prefix string, logger *zap.Logger) *NATSGateway {
	if prefix == "" {
		prefix = "opsflow.notifications"
	}
	return &NATSGateway{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger,
		now:    time.Now,
	}
}

// Subject returns the subject a category is published on
func (g *NATSGateway) Subject(category entity.NotificationCategory) string {
	return g.prefix + "." + strings.ToLower(string(category))
}

func (g *NATSGateway) Notify(ctx context.Context, n entity.Notification) error {
	data, err := json.Marshal(Event{
		UserID:    n.UserID,
		Category:  string(n.Category),
		Priority:  string(n.Priority),
		Title:     n.Title,
		Body:      n.Body,
		DeepLink:  n.DeepLink,
		Timestamp: g.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	subject := g.Subject(n.Category)
	if err := g.pub.Publish(subject, data); err != nil {
		g.logger.Warn("Failed to publish notification",
			zap.String("subject", subject),
			zap.String("user_id", n.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	g.logger.Debug("Notification published",
		zap.String("subject", subject),
		zap.String("user_id", n.UserID))
	return nil
}

var _ port.NotificationGateway = (*NATSGateway)(nil)
