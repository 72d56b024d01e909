// Package host runs the inbound side of the messaging core: it subscribes
// every cataloged endpoint on its delivery topology (request-reply, core
// pub-sub, continuous JetStream consumers or batch fetch loops), provisions
// the JetStream streams and durable consumers it needs, and applies the
// redelivery and dead-letter policy.
package host

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/go-messaging/config"
	"github.com/tesseract-hub/go-messaging/endpoint"
	"github.com/tesseract-hub/go-messaging/invoker"
	"github.com/tesseract-hub/go-messaging/natsclient"
)

// Runner owns every live subscription of the process.
type Runner struct {
	registry *natsclient.Registry
	inv      *invoker.Invoker
	cat      *endpoint.Catalog
	cfg      config.ConsumerConfig
	log      *logrus.Logger

	mu          sync.Mutex
	started     bool
	subs        []*nats.Subscription
	consumeCtxs []jetstream.ConsumeContext
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewRunner builds a runner over a built catalog.
func NewRunner(registry *natsclient.Registry, inv *invoker.Invoker, cat *endpoint.Catalog, cfg config.ConsumerConfig, log *logrus.Logger) *Runner {
	return &Runner{
		registry: registry,
		inv:      inv,
		cat:      cat,
		cfg:      cfg,
		log:      log,
	}
}

// Start subscribes every endpoint. Provisioning uses ctx; subscriptions run
// under the runner's own lifecycle context, which Stop cancels, so every
// fetch loop and in-flight handler sees the shutdown.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	for _, d := range r.cat.RequestReply() {
		if err := r.startRequestReply(runCtx, d); err != nil {
			r.stopLocked(time.Second)
			return err
		}
	}
	for _, d := range r.cat.CorePubSub() {
		if err := r.startCorePubSub(runCtx, d); err != nil {
			r.stopLocked(time.Second)
			return err
		}
	}
	for _, d := range r.cat.JetStreamConsume() {
		if err := r.startConsume(ctx, runCtx, d); err != nil {
			r.stopLocked(time.Second)
			return err
		}
	}
	for _, d := range r.cat.JetStreamFetch() {
		if err := r.startFetch(ctx, runCtx, d); err != nil {
			r.stopLocked(time.Second)
			return err
		}
	}

	r.started = true
	r.log.WithField("endpoints", r.cat.Len()).Info("subscription hosts started")
	return nil
}

// Stop tears down every subscription: the lifecycle context is cancelled so
// fetch loops and in-flight handlers wind down, message intake is stopped,
// and the handler goroutines are waited for up to timeout.
func (r *Runner) Stop(timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(timeout)
}

func (r *Runner) stopLocked(timeout time.Duration) {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}

	for _, cc := range r.consumeCtxs {
		cc.Stop()
	}
	r.consumeCtxs = nil

	for _, sub := range r.subs {
		if err := sub.Drain(); err != nil {
			r.log.WithError(err).WithField("subject", sub.Subject).Warn("drain failed")
		}
	}
	r.subs = nil

	// Intake is closed, so the goroutine count only goes down from here.
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		r.log.Warn("handlers did not stop within timeout")
	}

	r.started = false
}
