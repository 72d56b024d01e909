package host

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/tesseract-hub/go-messaging/apperrors"
	"github.com/tesseract-hub/go-messaging/endpoint"
	"github.com/tesseract-hub/go-messaging/natsclient"
	"github.com/tesseract-hub/go-messaging/publisher"
)

// startRequestReply queue-subscribes one request-reply endpoint. The queue
// group is the controller name, so replicas of the same service share the
// load instead of all answering.
func (r *Runner) startRequestReply(runCtx context.Context, d *endpoint.Descriptor) error {
	conn, err := r.registry.Get(d.Connection)
	if err != nil {
		return err
	}

	b := r.inv.Bind(d)
	serializer := natsclient.JSONSerializer{}

	sub, err := conn.NC.QueueSubscribe(d.ResolvedSubject(), d.QueueGroup(), func(msg *nats.Msg) {
		result, err := b.Invoke(runCtx, msg.Subject, msg.Header, msg.Data)

		reply := nats.NewMsg(msg.Reply)
		if err != nil {
			appErr := apperrors.From(err)
			reply.Header.Set(publisher.HeaderError, "1")
			reply.Data, _ = serializer.Marshal(publisher.ErrorEnvelope{
				Kind:    appErr.Kind.String(),
				Code:    appErr.Code,
				Message: appErr.Description,
				Status:  appErr.Kind.HTTPStatus(),
			})
		} else if result != nil {
			data, marshalErr := serializer.Marshal(result)
			if marshalErr != nil {
				r.log.WithError(marshalErr).WithField("subject", msg.Subject).Error("cannot encode reply")
				reply.Header.Set(publisher.HeaderError, "1")
				reply.Data, _ = serializer.Marshal(publisher.ErrorEnvelope{
					Kind:    apperrors.KindUnexpected.String(),
					Code:    "Endpoint.BadResponse",
					Message: "response could not be encoded",
					Status:  apperrors.KindUnexpected.HTTPStatus(),
				})
			} else {
				reply.Data = data
			}
		}

		if respondErr := msg.RespondMsg(reply); respondErr != nil {
			r.log.WithError(respondErr).WithField("subject", msg.Subject).Warn("reply failed")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe request-reply %s: %w", d.ResolvedSubject(), err)
	}

	r.subs = append(r.subs, sub)
	return nil
}
