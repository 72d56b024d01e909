package host

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tesseract-hub/go-messaging/endpoint"
)

// startConsume provisions and starts one continuous JetStream endpoint.
// Handlers run under runCtx, so a runner stop reaches them mid-flight.
func (r *Runner) startConsume(ctx, runCtx context.Context, d *endpoint.Descriptor) error {
	conn, err := r.registry.Get(d.Connection)
	if err != nil {
		return err
	}

	cons, err := r.ensureStreamAndConsumer(ctx, conn, d)
	if err != nil {
		return err
	}

	b := r.inv.Bind(d)

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		// Each message gets its own goroutine so a slow handler does not
		// block the iterator; ack ordering per message stays sequential.
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handleJsMsg(runCtx, conn, b, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("start consumer %s: %w", d.Consumer, err)
	}

	r.consumeCtxs = append(r.consumeCtxs, cc)
	return nil
}
