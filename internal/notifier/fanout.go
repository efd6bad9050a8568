package notifier

import (
	"context"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/autopeer-io/velopark/internal/core"
	"github.com/autopeer-io/velopark/internal/core/model"
)

// Fanout hands every event to each sink in order. A failing sink does not
// prevent delivery to the others.
type Fanout []core.NotificationSink

func (f Fanout) Notify(ctx context.Context, e *model.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}
