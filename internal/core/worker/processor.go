package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/notifications"
)

const maxAttempts = 5

// nextRetry returns the backoff before the next delivery attempt, growing
// linearly with the attempt count, or retry=false once the job has exhausted
// its attempts and must be marked FAILED.
func nextRetry(attempts int) (backoff time.Duration, retry bool) {
	if attempts >= maxAttempts {
		return 0, false
	}
	return time.Duration(attempts*10+10) * time.Second, true
}

// StartNotificationWorker drains notification_jobs in the background until
// stop is closed. Jobs are claimed with FOR UPDATE SKIP LOCKED so multiple
// server processes never deliver the same job twice.
func StartNotificationWorker(db *pgxpool.Pool, secret string, stop <-chan struct{}) {
	go func() {
		slog.Info("👷 Notification worker started")
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				slog.Info("Notification worker stopped")
				return
			case <-ticker.C:
				processJobs(db, secret)
			}
		}
	}()
}

func processJobs(db *pgxpool.Pool, secret string) {
	ctx := context.Background()

	tx, err := db.Begin(ctx)
	if err != nil {
		return
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT id, url, payload, attempts
		FROM notification_jobs
		WHERE status = 'PENDING' AND next_run_at <= NOW()
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var id string
	var url string
	var payloadBytes []byte
	var attempts int

	if err := tx.QueryRow(ctx, query).Scan(&id, &url, &payloadBytes, &attempts); err != nil {
		return
	}

	var payload interface{}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		slog.Error("Worker: failed to parse payload", "error", err, "job_id", id)
		tx.Exec(ctx, "UPDATE notification_jobs SET status = 'FAILED' WHERE id = $1", id)
		tx.Commit(ctx)
		return
	}

	slog.Info("Worker: processing job", "url", url, "job_id", id)

	sendErr := notifications.SendWebhook(url, payload, secret)

	if sendErr != nil {
		slog.Error("Worker: webhook failed", "error", sendErr, "attempts", attempts)

		if backoff, retry := nextRetry(attempts); retry {
			nextRun := time.Now().Add(backoff)
			tx.Exec(ctx, "UPDATE notification_jobs SET attempts = attempts + 1, next_run_at = $2 WHERE id = $1", id, nextRun)
			slog.Info("Worker: scheduled retry", "next_run", nextRun)
		} else {
			tx.Exec(ctx, "UPDATE notification_jobs SET status = 'FAILED' WHERE id = $1", id)
			slog.Error("Worker: job marked as FAILED (max attempts reached)", "job_id", id)
		}
	} else {
		slog.Info("✅ Worker: notification delivered", "job_id", id)
		tx.Exec(ctx, "UPDATE notification_jobs SET status = 'COMPLETED' WHERE id = $1", id)
	}

	tx.Commit(ctx)
}
