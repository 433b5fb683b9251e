package negotiation

import (
	"context"
	"errors"

	"github.com/joao-fontenele/bargainflow/internal/domain"
)

// Publishers fans an event out to every publisher. All of them are tried even
// when one fails.
type Publishers []EventPublisher

func (p Publishers) PublishNegotiationEvent(ctx context.Context, event domain.NegotiationEvent) error {
	var errs []error
	for _, pub := range p {
		if pub == nil {
			continue
		}
		if err := pub.PublishNegotiationEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
