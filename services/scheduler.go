package services

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// StartSweeps runs the background timers: the 24h result auto-confirm
// and the registration deadline lock, each checked once a minute.
func StartSweeps(games *GameService, events *EventService, log *logrus.Logger) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.WithError(err).Fatal("scheduler init failed")
	}
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(games.AutoConfirmSweep),
	)
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(events.LockExpiredRegistrations),
	)

	log.Info("sweep scheduler running (auto-confirm, registration deadlines)")
}
