package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/go-messaging/apperrors"
	"github.com/tesseract-hub/go-messaging/endpoint"
	"github.com/tesseract-hub/go-messaging/invoker"
	"github.com/tesseract-hub/go-messaging/natsclient"
)

// Dead-letter headers stamped on sidelined messages.
const (
	HeaderDlqError     = "X-Dlq-Error"
	HeaderDlqSubject   = "X-Dlq-Subject"
	HeaderDlqTimestamp = "X-Dlq-Timestamp"
)

// DlqSuffix is appended to a subject to form its dead-letter subject.
const DlqSuffix = ".dlq"

const dlqMaxAge = 30 * 24 * time.Hour

// ensureStreamAndConsumer provisions the stream, its dead-letter companion
// and the durable consumer for one JetStream endpoint. Existing streams are
// updated in place when the endpoint's subject is not yet among their
// subjects, so several endpoints can share a stream.
func (r *Runner) ensureStreamAndConsumer(ctx context.Context, conn *natsclient.Connection, d *endpoint.Descriptor) (jetstream.Consumer, error) {
	subj := d.ResolvedSubject()

	sourceSubjects, err := r.ensureStream(ctx, conn.JS, d.Stream, subj)
	if err != nil {
		return nil, err
	}

	if r.cfg.EnableDlq {
		if err := r.ensureDlqStream(ctx, conn.JS, d.Stream, sourceSubjects); err != nil {
			return nil, err
		}
	}

	cons, err := conn.JS.CreateOrUpdateConsumer(ctx, d.Stream, jetstream.ConsumerConfig{
		Durable:        d.Consumer,
		AckPolicy:      jetstream.AckExplicitPolicy,
		FilterSubjects: []string{subj},
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s on stream %s: %w", d.Consumer, d.Stream, err)
	}
	return cons, nil
}

// ensureStream creates the stream for subj, or appends subj to an existing
// stream's subjects. It returns the stream's full subject list, which the
// dead-letter companion mirrors.
func (r *Runner) ensureStream(ctx context.Context, js jetstream.JetStream, name, subj string) ([]string, error) {
	stream, err := js.Stream(ctx, name)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		_, err := js.CreateStream(ctx, jetstream.StreamConfig{
			Name:      name,
			Subjects:  []string{subj},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
		})
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", name, err)
		}
		return []string{subj}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up stream %s: %w", name, err)
	}

	cfg := stream.CachedInfo().Config
	for _, s := range cfg.Subjects {
		if s == subj {
			return cfg.Subjects, nil
		}
	}
	cfg.Subjects = append(cfg.Subjects, subj)
	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return nil, fmt.Errorf("add subject %s to stream %s: %w", subj, name, err)
	}
	return cfg.Subjects, nil
}

// ensureDlqStream provisions "{stream}-dlq" capturing the dead-letter
// variant of every source subject. Subject filters cannot express a ".dlq"
// suffix across wildcards, so the companion stream mirrors the source
// subject list with the suffix appended per subject.
func (r *Runner) ensureDlqStream(ctx context.Context, js jetstream.JetStream, stream string, sourceSubjects []string) error {
	name := stream + r.cfg.DlqStreamSuffix

	subjects := make([]string, 0, len(sourceSubjects))
	for _, s := range sourceSubjects {
		subjects = append(subjects, s+DlqSuffix)
	}

	existing, err := js.Stream(ctx, name)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		_, err := js.CreateStream(ctx, jetstream.StreamConfig{
			Name:      name,
			Subjects:  subjects,
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    dlqMaxAge,
		})
		if err != nil {
			return fmt.Errorf("create dead-letter stream %s: %w", name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up dead-letter stream %s: %w", name, err)
	}

	cfg := existing.CachedInfo().Config
	if sameSubjects(cfg.Subjects, subjects) {
		return nil
	}
	cfg.Subjects = subjects
	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("update dead-letter stream %s: %w", name, err)
	}
	return nil
}

func sameSubjects(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			return false
		}
	}
	return true
}

// handleJsMsg runs one JetStream delivery through the pipeline and applies
// the error policy: transient failures are redelivered until the cap, then
// sidelined; terminal failures are sidelined immediately. The source message
// is always acked once it is sidelined so it never redelivers again.
func (r *Runner) handleJsMsg(ctx context.Context, conn *natsclient.Connection, b *invoker.Bound, msg jetstream.Msg) {
	_, err := b.Invoke(ctx, msg.Subject(), msg.Headers(), msg.Data())
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			r.log.WithError(ackErr).WithField("subject", msg.Subject()).Warn("ack failed")
		}
		return
	}

	if apperrors.IsTransient(err) {
		meta, metaErr := msg.Metadata()
		if metaErr == nil && int(meta.NumDelivered)-1 < r.cfg.MaxRedeliveries {
			r.log.WithError(err).WithFields(logrus.Fields{
				"subject":  msg.Subject(),
				"delivery": meta.NumDelivered,
			}).Warn("transient failure, requesting redelivery")
			if nakErr := msg.NakWithDelay(r.cfg.NakDelay); nakErr != nil {
				r.log.WithError(nakErr).WithField("subject", msg.Subject()).Warn("nak failed")
			}
			return
		}
	}

	// Terminal, or the redelivery budget is spent.
	if r.cfg.EnableDlq {
		r.publishToDlq(ctx, conn, msg, err)
	} else {
		r.log.WithError(err).WithField("subject", msg.Subject()).Error("message dropped, dead-lettering disabled")
	}
	if ackErr := msg.Ack(); ackErr != nil {
		r.log.WithError(ackErr).WithField("subject", msg.Subject()).Warn("ack failed after sidelining")
	}
}

// publishToDlq copies the failed message onto its dead-letter subject with
// the failure recorded in headers. A failed sideline publish is logged and
// swallowed; the source message is acked regardless, trading the message for
// not poisoning the consumer.
func (r *Runner) publishToDlq(ctx context.Context, conn *natsclient.Connection, msg jetstream.Msg, cause error) {
	dlqMsg := nats.NewMsg(msg.Subject() + DlqSuffix)
	dlqMsg.Data = msg.Data()
	for k, vs := range msg.Headers() {
		for _, v := range vs {
			dlqMsg.Header.Set(k, v)
		}
	}
	dlqMsg.Header.Set(HeaderDlqError, cause.Error())
	dlqMsg.Header.Set(HeaderDlqSubject, msg.Subject())
	dlqMsg.Header.Set(HeaderDlqTimestamp, time.Now().UTC().Format(time.RFC3339))

	if _, err := conn.JS.PublishMsg(ctx, dlqMsg); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"subject": msg.Subject(),
			"dlq":     dlqMsg.Subject,
		}).Error("dead-letter publish failed, message lost")
		return
	}
	r.log.WithFields(logrus.Fields{
		"subject": msg.Subject(),
		"dlq":     dlqMsg.Subject,
	}).Info("message dead-lettered")
}
