package dispatcher

import (
	"context"

	"github.com/garyjia/opsflow/internal/domain/entity"
)

// Handler performs the single domain mutation for an approved instance.
// It receives the full instance, including its originating Context payload.
type Handler func(ctx context.Context, inst *entity.WorkflowInstance) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name         string
	WorkflowType entity.WorkflowType
	Handler      Handler
	Description  string
}
