package store

import (
    "context"
    "encoding/json"
)

// LogWebhook appends a callback body verbatim. data must be valid JSON.
func (s *Store) LogWebhook(ctx context.Context, source string, data json.RawMessage) (WebhookLog, error) {
    var l WebhookLog
    err := s.pool.QueryRow(ctx, `
        INSERT INTO webhook_logs (source, webhook_data)
        VALUES ($1, $2)
        RETURNING id, source, webhook_data, processed_at
    `, source, string(data)).Scan(
        &l.ID,
        &l.Source,
        &l.Data,
        &l.ProcessedAt,
    )
    return l, err
}
