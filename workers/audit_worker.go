// workers/audit_worker.go
package workers

import (
	"context"
	"os"
	"strconv"
	"time"

	"swiss-tourney-system/models"
	"swiss-tourney-system/services"
	"swiss-tourney-system/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AuditFlushWorker batches unflushed audit rows out to the audit
// channel on a fixed interval instead of spamming a line per action.
type AuditFlushWorker struct {
	db       *gorm.DB
	notifier services.Notifier
	log      *logrus.Logger
	interval time.Duration
}

// NewAuditFlushWorker reads LOG_BATCH_MINUTES (default 5) for its
// flush cadence.
func NewAuditFlushWorker(db *gorm.DB, notifier services.Notifier, log *logrus.Logger) *AuditFlushWorker {
	minutes := 5
	if raw := os.Getenv("LOG_BATCH_MINUTES"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			minutes = n
		}
	}
	return &AuditFlushWorker{
		db:       db,
		notifier: notifier,
		log:      log,
		interval: time.Duration(minutes) * time.Minute,
	}
}

func (w *AuditFlushWorker) Start(ctx context.Context) {
	w.log.WithField("interval", w.interval).Info("🔁 audit flush worker running")
	go w.run(ctx)
}

func (w *AuditFlushWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.flush(); err != nil {
				w.log.WithError(err).Warn("audit flush failed, rows kept for next tick")
			}
		case <-ctx.Done():
			w.log.Info("⏹️ audit flush worker stopped")
			return
		}
	}
}

// flush sends every unflushed row and stamps it. A notify-then-crash
// can repeat a line on the channel; the row ID in the body makes that
// visible to readers.
func (w *AuditFlushWorker) flush() error {
	var entries []models.AuditLog
	if err := w.db.Where("flushed_at IS NULL").Order("created_at ASC").Limit(200).
		Find(&entries).Error; err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	now := time.Now()
	for _, e := range entries {
		w.notifier.Send(services.ToChannel(utils.ChannelName("audit", e.EventID)), services.Payload{
			Kind:    services.PayloadAuditLogLine,
			EventID: e.EventID,
			Body: map[string]interface{}{
				"id":      e.ID,
				"game_id": e.GameID,
				"actor":   e.ActorID,
				"action":  e.Action,
				"detail":  e.Detail,
				"at":      e.CreatedAt,
			},
		})
		if err := w.db.Model(&models.AuditLog{}).Where("id = ?", e.ID).
			Update("flushed_at", &now).Error; err != nil {
			return err
		}
	}
	w.log.WithField("count", len(entries)).Info("audit rows flushed")
	return nil
}
