package service

import (
	"time"

	"market-sentry/internal/entity"
	"market-sentry/internal/sentry/config"
	"market-sentry/internal/sentry/store"
	"market-sentry/pkg/clock"
	"market-sentry/pkg/logger"
	"market-sentry/pkg/telegram"

	"github.com/robfig/cron/v3"
)

const defaultDigestSchedule = "0 21 * * *"

// DigestService sends a scheduled Telegram summary of the day's alerts.
type DigestService interface {
	Start() error
	Stop()
	SendDigest()
}

// NewDigestService creates the digest service. The notifier may be nil, in
// which case the service is a no-op.
func NewDigestService(cfg *config.Config, log *logger.Logger, alertStore *store.AlertStore, notifier telegram.Notifier, clk clock.Clock) DigestService {
	schedule := cfg.Notify.DigestSchedule
	if schedule == "" {
		schedule = defaultDigestSchedule
	}
	return &digestService{
		log:      log,
		store:    alertStore,
		notifier: notifier,
		clk:      clk,
		schedule: schedule,
		cron:     cron.New(),
	}
}

type digestService struct {
	log      *logger.Logger
	store    *store.AlertStore
	notifier telegram.Notifier
	clk      clock.Clock
	schedule string
	cron     *cron.Cron
}

// Start registers the cron entry and starts the scheduler.
func (s *digestService) Start() error {
	if s.notifier == nil {
		s.log.Info("Digest service disabled, no Telegram notifier configured")
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.SendDigest); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("Digest service started", logger.StringField("schedule", s.schedule))
	return nil
}

// Stop stops the scheduler without waiting for a running digest.
func (s *digestService) Stop() {
	s.cron.Stop()
}

// SendDigest summarizes alerts received today and sends them to Telegram.
func (s *digestService) SendDigest() {
	now := s.clk.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var todays []entity.Alert
	for _, a := range s.store.Alerts() {
		if !a.ReceivedAt.Before(startOfDay) {
			todays = append(todays, a)
		}
	}

	for _, msg := range telegram.FormatDailyDigest(todays) {
		if err := s.notifier.SendMessage(msg); err != nil {
			s.log.Error("Failed to send digest message", logger.ErrorField(err))
			return
		}
	}
	s.log.Info("Daily digest sent", logger.IntField("alert_count", len(todays)))
}
