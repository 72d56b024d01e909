package host

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tesseract-hub/go-messaging/endpoint"
	"github.com/tesseract-hub/go-messaging/invoker"
	"github.com/tesseract-hub/go-messaging/natsclient"
)

const (
	fetchBatchSize    = 10
	fetchMaxWait      = 5 * time.Second
	fetchErrorBackoff = time.Second
)

// startFetch provisions one batch-fetch JetStream endpoint and runs its poll
// loop until the runner stops.
func (r *Runner) startFetch(ctx, loopCtx context.Context, d *endpoint.Descriptor) error {
	conn, err := r.registry.Get(d.Connection)
	if err != nil {
		return err
	}

	cons, err := r.ensureStreamAndConsumer(ctx, conn, d)
	if err != nil {
		return err
	}

	b := r.inv.Bind(d)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.fetchLoop(loopCtx, conn, cons, b, d)
	}()
	return nil
}

func (r *Runner) fetchLoop(ctx context.Context, conn *natsclient.Connection, cons jetstream.Consumer, b *invoker.Bound, d *endpoint.Descriptor) {
	log := r.log.WithField("consumer", d.Consumer)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := cons.Fetch(fetchBatchSize, jetstream.FetchMaxWait(fetchMaxWait))
		if err != nil {
			log.WithError(err).Warn("fetch failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchErrorBackoff):
			}
			continue
		}

		for msg := range batch.Messages() {
			r.handleJsMsg(ctx, conn, b, msg)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			log.WithError(err).Warn("fetch batch ended with error")
		}
	}
}
