// Package eventual ties an HTTP write path to messaging with
// read-your-writes safety: the request runs inside one database
// transaction, domain events queue up alongside the writes, and the events
// publish only if the transaction is about to commit. A failed publish
// rolls the whole request back, so the database never says something the
// stream does not.
package eventual

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	scopeKey = "eventual.scope"
	skipKey  = "eventual.skip"
)

// Publisher is the outbound slice this middleware needs.
type Publisher interface {
	JsPublish(ctx context.Context, subject string, payload any) error
}

// Event is one buffered domain event awaiting the commit decision.
type Event struct {
	Subject string
	Payload any
}

type scope struct {
	db     *gorm.DB
	tx     *gorm.DB
	events []Event
}

// tx lazily opens the request transaction.
func (s *scope) transaction() *gorm.DB {
	if s.tx == nil {
		s.tx = s.db.Begin()
	}
	return s.tx
}

// Skip marks the request to bypass the transactional hook. Register it
// before Transactional on routes that do not write.
func Skip() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(skipKey, true)
		c.Next()
	}
}

// Transactional wraps the request in a database transaction and defers
// buffered events until the commit decision. The transaction begins lazily
// on the first Tx call, so read-only requests through this middleware cost
// nothing extra.
func Transactional(db *gorm.DB, pub Publisher, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool(skipKey) {
			c.Next()
			return
		}

		s := &scope{db: db}
		c.Set(scopeKey, s)

		committed := false
		defer func() {
			if s.tx != nil && !committed {
				if err := s.tx.Rollback().Error; err != nil {
					log.WithError(err).Error("transaction rollback failed")
				}
			}
			if r := recover(); r != nil {
				panic(r)
			}
		}()

		c.Next()

		if len(c.Errors) > 0 || c.Writer.Status() >= http.StatusInternalServerError {
			// Rollback via the deferred guard; buffered events are dropped
			// with the writes they described.
			return
		}

		// Publish before commit: a lost event with committed state is the
		// failure mode this hook exists to prevent, so the order is events
		// first, then commit.
		for _, ev := range s.events {
			if err := pub.JsPublish(c.Request.Context(), ev.Subject, ev.Payload); err != nil {
				log.WithError(err).WithField("subject", ev.Subject).Error("event publish failed, rolling back request")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "failed to publish domain events",
				})
				return
			}
		}

		if s.tx != nil {
			if err := s.tx.Commit().Error; err != nil {
				log.WithError(err).Error("transaction commit failed")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "failed to commit transaction",
				})
				return
			}
		}
		committed = true
	}
}

// Tx returns the request transaction, beginning it on first use. Outside a
// Transactional request it returns nil.
func Tx(c *gin.Context) *gorm.DB {
	v, ok := c.Get(scopeKey)
	if !ok {
		return nil
	}
	return v.(*scope).transaction()
}

// Enqueue buffers a domain event for publication at commit time. Outside a
// Transactional request the event is silently dropped; pair this helper
// with the middleware.
func Enqueue(c *gin.Context, subject string, payload any) {
	v, ok := c.Get(scopeKey)
	if !ok {
		return
	}
	s := v.(*scope)
	s.events = append(s.events, Event{Subject: subject, Payload: payload})
}

// PendingEvents returns the events buffered so far, for handlers that want
// to inspect or test what will publish.
func PendingEvents(c *gin.Context) []Event {
	v, ok := c.Get(scopeKey)
	if !ok {
		return nil
	}
	return v.(*scope).events
}
