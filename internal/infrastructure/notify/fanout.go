package notify

import (
	"context"
	"errors"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
)

// Fanout delivers to every gateway and joins their errors.
type Fanout []port.NotificationGateway

func (f Fanout) Notify(ctx context.Context, n entity.Notification) error {
	var errs []error
	for _, g := range f {
		if err := g.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ port.NotificationGateway = Fanout(nil)
