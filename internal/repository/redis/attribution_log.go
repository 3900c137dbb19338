package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"argus/internal/domain/attribution"
	"argus/pkg/errors"
)

const (
	attributionLogKey = "argus:attributions:recent"

	// maxLogged bounds the audit trail; attributions are ephemeral by
	// contract and this log is a convenience, not a store of record
	maxLogged = 100
)

// AttributionLog keeps the most recent attributions in a capped Redis list.
// Best-effort: callers treat failures as non-fatal.
type AttributionLog struct {
	client *redis.Client
}

// NewAttributionLog creates a new attribution audit log
func NewAttributionLog(client *redis.Client) *AttributionLog {
	return &AttributionLog{client: client}
}

// Append pushes an attribution onto the log, trimming to the cap
func (l *AttributionLog) Append(ctx context.Context, att *attribution.Attribution) error {
	data, err := json.Marshal(att)
	if err != nil {
		return errors.Wrap(err, "marshal attribution")
	}

	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, attributionLogKey, data)
	pipe.LTrim(ctx, attributionLogKey, 0, maxLogged-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "append attribution to redis log")
	}

	return nil
}

// Recent returns up to limit most recent attributions, newest first
func (l *AttributionLog) Recent(ctx context.Context, limit int) ([]attribution.Attribution, error) {
	if limit <= 0 || limit > maxLogged {
		limit = maxLogged
	}

	raw, err := l.client.LRange(ctx, attributionLogKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read attribution log")
	}

	out := make([]attribution.Attribution, 0, len(raw))
	for _, item := range raw {
		var att attribution.Attribution
		if err := json.Unmarshal([]byte(item), &att); err != nil {
			return nil, errors.Wrap(err, "unmarshal attribution")
		}
		out = append(out, att)
	}

	return out, nil
}
