package host

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/tesseract-hub/go-messaging/endpoint"
)

// startCorePubSub subscribes one plain pub-sub endpoint. Core delivery is
// at-most-once: failures are logged and the message is gone, which is the
// contract these endpoints sign up for.
func (r *Runner) startCorePubSub(runCtx context.Context, d *endpoint.Descriptor) error {
	conn, err := r.registry.Get(d.Connection)
	if err != nil {
		return err
	}

	b := r.inv.Bind(d)

	sub, err := conn.NC.Subscribe(d.ResolvedSubject(), func(msg *nats.Msg) {
		// Fire-and-forget: one slow handler must not stall the subscription.
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if _, err := b.Invoke(runCtx, msg.Subject, msg.Header, msg.Data); err != nil {
				r.log.WithError(err).WithField("subject", msg.Subject).Error("pub-sub handler failed")
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe pub-sub %s: %w", d.ResolvedSubject(), err)
	}

	r.subs = append(r.subs, sub)
	return nil
}
