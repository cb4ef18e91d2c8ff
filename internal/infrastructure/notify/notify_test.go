package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return p.err
}

func TestNATSGateway_PublishesPerCategory(t *testing.T) {
	pub := &recordingPublisher{}
	g := NewNATSGateway(pub, "ops.alerts.", zap.NewNop())
	g.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }

	err := g.Notify(context.Background(), entity.Notification{
		UserID:   "ca-1",
		Category: entity.CategoryEscalation,
		Priority: entity.PriorityHigh,
		Title:    "Overdue",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"ops.alerts.escalation"}, pub.subjects)

	var ev Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &ev))
	assert.Equal(t, "ca-1", ev.UserID)
	assert.Equal(t, "ESCALATION", ev.Category)
	assert.Equal(t, "high", ev.Priority)
	assert.True(t, ev.Timestamp.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))
}

func TestNATSGateway_DefaultPrefixAndError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("no responders")}
	g := NewNATSGateway(pub, "", zap.NewNop())

	assert.Equal(t, "opsflow.notifications.step_assigned", g.Subject(entity.CategoryStepAssigned))
	assert.Error(t, g.Notify(context.Background(), entity.Notification{UserID: "u", Category: entity.CategoryStepAssigned}))
}

type stubGateway struct {
	calls int
	err   error
}

func (s *stubGateway) Notify(ctx context.Context, n entity.Notification) error {
	s.calls++
	return s.err
}

func TestFanout_DeliversToAll(t *testing.T) {
	a, b := &stubGateway{err: errors.New("down")}, &stubGateway{}
	err := Fanout{a, NewLogGateway(zap.NewNop()), b}.Notify(context.Background(), entity.Notification{UserID: "u"})

	assert.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}
