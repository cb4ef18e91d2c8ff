package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

const defaultReceiveIDType = "user_id"

// Messenger delivers notifications as Lark IM text messages
type Messenger struct {
	messages      messageCreator
	receiveIDType string
	logger        *zap.Logger
}

func newMessenger(messages messageCreator, receiveIDType string, logger *zap.Logger) *Messenger {
	if receiveIDType == "" {
		receiveIDType = defaultReceiveIDType
	}
	return &Messenger{
		messages:      messages,
		receiveIDType: receiveIDType,
		logger:        logger,
	}
}

// Notify implements port.NotificationGateway
func (m *Messenger) Notify(ctx context.Context, n entity.Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("notification has no recipient")
	}

	content, err := json.Marshal(map[string]string{"text": render(n)})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(m.receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.UserID).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := m.messages.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", n.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", n.UserID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	m.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.String("receive_id", n.UserID),
		zap.String("category", string(n.Category)))
	return nil
}

// render formats the notification as plain text
func render(n entity.Notification) string {
	var b strings.Builder
	if n.Priority == entity.PriorityHigh {
		b.WriteString("[urgent] ")
	}
	b.WriteString(n.Title)
	if n.Body != "" {
		b.WriteString("\n")
		b.WriteString(n.Body)
	}
	if n.DeepLink != "" {
		b.WriteString("\n")
		b.WriteString(n.DeepLink)
	}
	return b.String()
}

// Verify interface compliance
var _ port.NotificationGateway = (*Messenger)(nil)
