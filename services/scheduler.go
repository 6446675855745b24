// services/scheduler.go
package services

import (
	"log"
	"time"

	"replay-registry/models"

	"github.com/go-co-op/gocron/v2"
)

// StartRelayRetryScheduler re-enqueues replays whose relay upload never
// completed: queued handoffs dropped on a full queue, pending uploads
// interrupted by a restart, and failed attempts.
func (s *ReplayService) StartRelayRetryScheduler() {
	if s.Relay == nil {
		return
	}

	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(func() {
			var ids []uint
			err := s.DB.Model(&models.Replay{}).
				Where("relay_status IN ?", []string{models.RelayStatusQueued, models.RelayStatusPending, models.RelayStatusFailed}).
				Where("updated_at < ?", time.Now().Add(-5*time.Minute)).
				Order("id").
				Limit(500).
				Pluck("id", &ids).Error
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}

			for _, id := range ids {
				if !s.Relay.Enqueue(id) {
					// queue full, the next run picks the rest up
					return
				}
			}
			if len(ids) > 0 {
				log.Printf("[Scheduler] Re-enqueued %d replay(s) for relay upload", len(ids))
			}
		}),
	)
}
