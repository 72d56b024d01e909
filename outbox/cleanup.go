package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/go-messaging/config"
)

// CleanupScheduler purges old dead-lettered rows on a cron schedule.
// Processed rows are pruned inline by the processor; dead-lettered rows are
// kept longer for inspection and removed here.
type CleanupScheduler struct {
	store Store
	cfg   config.OutboxConfig
	log   *logrus.Logger
	cron  *cron.Cron
}

// NewCleanupScheduler builds the scheduler; Start arms the cron.
func NewCleanupScheduler(store Store, cfg config.OutboxConfig, log *logrus.Logger) *CleanupScheduler {
	return &CleanupScheduler{store: store, cfg: cfg, log: log}
}

// Start parses the configured schedule and arms the job. Standard 5-field
// cron expressions gain a leading seconds field.
func (s *CleanupScheduler) Start() error {
	s.cron = cron.New(cron.WithSeconds())

	schedule := s.cfg.CleanupSchedule
	if len(strings.Fields(schedule)) == 5 {
		schedule = "0 " + schedule
	}

	if _, err := s.cron.AddFunc(schedule, s.runCleanup); err != nil {
		return fmt.Errorf("schedule outbox cleanup %q: %w", s.cfg.CleanupSchedule, err)
	}

	s.cron.Start()
	s.log.WithField("schedule", schedule).Info("outbox cleanup scheduled")
	return nil
}

// Stop disarms the cron and waits for a running job to finish.
func (s *CleanupScheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *CleanupScheduler) runCleanup() {
	cutoff := time.Now().UTC().Add(-s.cfg.DeadLetterRetention)
	n, err := s.store.DeleteDeadLetteredBefore(context.Background(), cutoff)
	if err != nil {
		s.log.WithError(err).Error("outbox dead-letter cleanup failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"deleted": n,
		"cutoff":  cutoff,
	}).Info("outbox dead-letter cleanup finished")
}
