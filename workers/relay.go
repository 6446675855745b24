// workers/relay.go
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"replay-registry/models"

	"gorm.io/gorm"
)

// RelayQueue forwards persisted replays to the external relay aggregation
// service. Handoff is a non-blocking channel send; the single consumer does the
// HTTP work so callers never wait on the relay.
type RelayQueue struct {
	db         *gorm.DB
	relayURL   string
	httpClient *http.Client
	queue      chan uint
}

func NewRelayQueue(db *gorm.DB, relayURL string, size int) *RelayQueue {
	return &RelayQueue{
		db:       db,
		relayURL: relayURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		queue: make(chan uint, size),
	}
}

// Enqueue hands a replay id to the worker. Returns false when the queue is
// full; the retry scheduler picks dropped replays up later via relay_status.
func (q *RelayQueue) Enqueue(replayID uint) bool {
	select {
	case q.queue <- replayID:
		return true
	default:
		return false
	}
}

func (q *RelayQueue) Start(ctx context.Context) {
	log.Println("🔁 Starting relay upload worker…")
	go q.run(ctx)
}

func (q *RelayQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("⏹️ Relay upload worker stopped")
			return
		case replayID := <-q.queue:
			q.upload(ctx, replayID)
		}
	}
}

// upload POSTs one replay to the relay service and records the outcome on the
// replay row. All failures are logged and swallowed.
func (q *RelayQueue) upload(ctx context.Context, replayID uint) {
	var replay models.Replay
	if err := q.db.First(&replay, replayID).Error; err != nil {
		log.Printf("[RELAY] ⚠️ Failed to load replay %d: %v", replayID, err)
		return
	}
	if replay.RelayStatus == models.RelayStatusUploaded {
		return
	}

	if err := q.db.Model(&replay).Update("relay_status", models.RelayStatusPending).Error; err != nil {
		log.Printf("[RELAY] ⚠️ Failed to mark replay %d pending: %v", replayID, err)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"id":          replay.ID,
		"fingerprint": replay.Fingerprint,
		"url":         replay.URL,
	})
	if err != nil {
		q.markFailed(&replay, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", q.relayURL, bytes.NewReader(payload))
	if err != nil {
		q.markFailed(&replay, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.httpClient.Do(req)
	if err != nil {
		q.markFailed(&replay, err)
		return
	}
	defer func() {
		// Always drain & close to prevent connection leaks
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("[RELAY] ❌ Relay service returned %d for replay %d: %s", resp.StatusCode, replay.ID, string(body))
		if err := q.db.Model(&replay).Update("relay_status", models.RelayStatusFailed).Error; err != nil {
			log.Printf("[RELAY] ⚠️ Failed to mark replay %d failed: %v", replay.ID, err)
		}
		return
	}

	if err := q.db.Model(&replay).Update("relay_status", models.RelayStatusUploaded).Error; err != nil {
		log.Printf("[RELAY] ⚠️ Failed to mark replay %d uploaded: %v", replay.ID, err)
		return
	}
	log.Printf("[RELAY] ✅ Uploaded replay %d to relay", replay.ID)
}

func (q *RelayQueue) markFailed(replay *models.Replay, cause error) {
	log.Printf("[RELAY] ❌ Relay upload of replay %d failed: %v", replay.ID, cause)
	if err := q.db.Model(replay).Update("relay_status", models.RelayStatusFailed).Error; err != nil {
		log.Printf("[RELAY] ⚠️ Failed to mark replay %d failed: %v", replay.ID, err)
	}
}
