package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/go-messaging/apperrors"
	"github.com/tesseract-hub/go-messaging/config"
)

// Publisher is the slice of the publish client the processor needs.
type Publisher interface {
	JsPublishRaw(ctx context.Context, subject string, data []byte, extra nats.Header) error
}

// pruneInterval throttles retention pruning so it does not run on every
// processing tick.
const pruneInterval = time.Hour

// Processor drains pending outbox rows into JetStream on a fixed tick.
type Processor struct {
	store Store
	pub   Publisher
	cfg   config.OutboxConfig
	log   *logrus.Logger

	lastPrune time.Time
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewProcessor builds a processor; Start begins draining.
func NewProcessor(store Store, pub Publisher, cfg config.OutboxConfig, log *logrus.Logger) *Processor {
	return &Processor{
		store: store,
		pub:   pub,
		cfg:   cfg,
		log:   log,
		stop:  make(chan struct{}),
	}
}

// Start launches the processing loop.
func (p *Processor) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.ProcessingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.RunOnce(context.Background())
			}
		}
	}()
	p.log.WithField("interval", p.cfg.ProcessingInterval).Info("outbox processor started")
}

// Stop halts the loop and waits for an in-flight batch to finish.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// RunOnce processes a single batch. It is the tick body, exposed so callers
// can drain on demand.
func (p *Processor) RunOnce(ctx context.Context) {
	p.processBatch(ctx)
	p.maybePrune(ctx)
}

func (p *Processor) processBatch(ctx context.Context) {
	msgs, err := p.store.FetchPending(ctx, p.cfg.BatchSize)
	if err != nil {
		p.log.WithError(err).Error("outbox fetch failed")
		return
	}

	for i := range msgs {
		msg := &msgs[i]
		err := p.pub.JsPublishRaw(ctx, msg.Subject, []byte(msg.Payload), msg.WireHeaders())
		if err != nil {
			// The breaker shields the broker; when it is open the rest of
			// the batch would fail the same way, so give up until next tick
			// without burning retry budgets.
			if isCircuitOpen(err) {
				p.log.Warn("publish circuit open, deferring outbox batch")
				return
			}
			p.log.WithError(err).WithFields(logrus.Fields{
				"id":      msg.ID,
				"subject": msg.Subject,
			}).Warn("outbox publish failed")
			if err := p.store.MarkFailed(ctx, msg.ID, err.Error(), p.cfg.MaxRetries); err != nil {
				p.log.WithError(err).WithField("id", msg.ID).Error("cannot record outbox failure")
			}
			continue
		}
		if err := p.store.MarkProcessed(ctx, msg.ID); err != nil {
			p.log.WithError(err).WithField("id", msg.ID).Error("cannot mark outbox message processed")
		}
	}
}

func (p *Processor) maybePrune(ctx context.Context) {
	if !p.cfg.RetentionEnabled || time.Since(p.lastPrune) < pruneInterval {
		return
	}
	p.lastPrune = time.Now()

	cutoff := time.Now().UTC().Add(-p.cfg.RetentionPeriod)
	n, err := p.store.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		p.log.WithError(err).Error("outbox retention prune failed")
		return
	}
	if n > 0 {
		p.log.WithField("deleted", n).Info("pruned processed outbox messages")
	}
}

func isCircuitOpen(err error) bool {
	var appErr *apperrors.Error
	return errors.As(err, &appErr) && appErr.Code == "Publish.CircuitOpen"
}
