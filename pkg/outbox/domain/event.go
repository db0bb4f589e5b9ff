package domain

import (
	"encoding/json"
	"time"
)

type OutboxEvent struct {
	Id            int64           `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	Headers       json.RawMessage `db:"headers"`
	CreatedAt     time.Time       `db:"created_at"`
	PublishedAt   *time.Time      `db:"published_at"`
	Attempts      int64           `db:"attempts"`
	LastError     *string         `db:"last_error"`
	Topic         string          `db:"topic"`
}

// HeaderMap decodes the stored headers. Missing or malformed headers yield an empty map.
func (e *OutboxEvent) HeaderMap() map[string]string {
	headers := make(map[string]string)
	if len(e.Headers) == 0 {
		return headers
	}

	_ = json.Unmarshal(e.Headers, &headers)
	return headers
}
