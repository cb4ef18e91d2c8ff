package porttest

import (
	"context"
	"sync"

	"github.com/garyjia/opsflow/internal/domain/entity"
)

// Gateway records notifications and optionally fails every delivery.
type Gateway struct {
	mu   sync.Mutex
	sent []entity.Notification
	Err  error
}

func (g *Gateway) Notify(ctx context.Context, n entity.Notification) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, n)
	return g.Err
}

// Sent returns notifications of the given category, or all when category is empty.
func (g *Gateway) Sent(category entity.NotificationCategory) []entity.Notification {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []entity.Notification
	for _, n := range g.sent {
		if category == "" || n.Category == category {
			out = append(out, n)
		}
	}
	return out
}

// NopLogger satisfies the application Logger interfaces.
type NopLogger struct{}

func (NopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (NopLogger) Error(msg string, keysAndValues ...interface{}) {}
