package realtime

import (
	"context"

	"smartmarket/internal/core"

	"golang.org/x/sync/errgroup"
)

// Fanout publishes each event to every sink concurrently. All sinks are
// attempted; the first error is returned.
type Fanout []core.EventSink

func (f Fanout) Publish(ctx context.Context, ev core.PaymentEvent) error {
	var g errgroup.Group
	for _, sink := range f {
		if sink == nil {
			continue
		}
		sink := sink
		g.Go(func() error { return sink.Publish(ctx, ev) })
	}
	return g.Wait()
}
