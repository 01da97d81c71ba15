package outbox

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FilipeBarcellos/integrationm-greenn/pkg/kafka"
)

type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

func Insert(ctx context.Context, pool *pgxpool.Pool, eventID, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `INSERT INTO outbox(event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`, eventID, topic, key, data)
	return err
}

func MarkSent(ctx context.Context, pool *pgxpool.Pool, id int64) error {
	_, err := pool.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id=$1`, id)
	return err
}

func FetchPending(ctx context.Context, pool *pgxpool.Pool, limit int) ([]Record, error) {
	rows, err := pool.Query(ctx, `SELECT id, event_id, topic, key, payload, created_at, sent_at FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Relay drains pending records to kafka until ctx is cancelled. Records are
// marked sent only after a successful publish, so delivery is at-least-once.
func Relay(ctx context.Context, pool *pgxpool.Pool, client *kafka.Client, topic string, interval time.Duration) {
	writer := client.NewWriter(topic)
	defer writer.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		recs, err := FetchPending(ctx, pool, 100)
		if err != nil {
			log.Printf("outbox fetch error: %v", err)
			continue
		}
		for _, rec := range recs {
			if err := kafka.Publish(ctx, writer, rec.Key, rec.Payload); err != nil {
				log.Printf("outbox publish error: %v", err)
				break
			}
			if err := MarkSent(ctx, pool, rec.ID); err != nil {
				log.Printf("outbox mark sent error: %v", err)
			}
		}
	}
}
