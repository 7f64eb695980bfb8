// Package stats accumulates per-recipient send outcomes as counters in a
// Redis hash. Tracking is strictly best-effort: store failures are logged
// and swallowed so that accounting can never fail a send.
package stats

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ignite/fanout/channel"
)

// Counter names.
const (
	CounterSuccess       = "success"
	errorPrefix          = "error:"
	CounterUnknownError  = errorPrefix + "UNKNOWN_ERROR"
	CounterInvalidFormat = errorPrefix + "invalid_response_format"
)

// DefaultTrackingKey is used when neither job nor worker config supply one.
const DefaultTrackingKey = "notifications:stats"

// CounterName maps one result onto its counter: the literal "success", or
// "error:<key>" with UNKNOWN_ERROR standing in for an empty error field.
func CounterName(r channel.Result) string {
	if r.Status == channel.StatusSuccess {
		return CounterSuccess
	}
	if r.Error == "" {
		return CounterUnknownError
	}
	return errorPrefix + r.Error
}

// Track records a send response under trackingKey. Accepted shapes are a
// result slice, a single result (or pointer), or a plain error key string;
// anything else counts one invalid_response_format. A nil or empty response
// writes nothing. All increments for one call go through a single pipeline
// so concurrent jobs interleave at whole-response granularity.
func Track(ctx context.Context, client redis.Cmdable, trackingKey string, response interface{}, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if trackingKey == "" {
		trackingKey = DefaultTrackingKey
	}

	counters := map[string]int64{}
	switch v := response.(type) {
	case nil:
		return
	case []channel.Result:
		if len(v) == 0 {
			return
		}
		for _, r := range v {
			counters[CounterName(r)]++
		}
	case channel.Result:
		counters[CounterName(v)]++
	case *channel.Result:
		if v == nil {
			return
		}
		counters[CounterName(*v)]++
	case string:
		if v == "" {
			return
		}
		counters[errorPrefix+v]++
	default:
		logger.Warn("unrecognized response shape for tracking", zap.String("trackingKey", trackingKey))
		counters[CounterInvalidFormat]++
	}

	pipe := client.Pipeline()
	for name, n := range counters {
		pipe.HIncrBy(ctx, trackingKey, name, n)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("failed to record send stats",
			zap.String("trackingKey", trackingKey),
			zap.Error(err))
	}
}

// TrackError records a single aggregated error, used when the adapter call
// itself fails before producing results.
func TrackError(ctx context.Context, client redis.Cmdable, trackingKey, errKey string, logger *zap.Logger) {
	Track(ctx, client, trackingKey, errKey, logger)
}

// Get returns the full counter hash for key, or an empty map when the read
// fails (the failure is logged).
func Get(ctx context.Context, client redis.Cmdable, key string, logger *zap.Logger) map[string]int64 {
	if logger == nil {
		logger = zap.NewNop()
	}
	raw, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		logger.Error("failed to read stats", zap.String("key", key), zap.Error(err))
		return map[string]int64{}
	}
	out := make(map[string]int64, len(raw))
	for name, val := range raw {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			logger.Warn("non-numeric stats counter", zap.String("key", key), zap.String("counter", name))
			continue
		}
		out[name] = n
	}
	return out
}

// Reset deletes the counter hash; errors are swallowed and logged.
func Reset(ctx context.Context, client redis.Cmdable, key string, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		logger.Error("failed to reset stats", zap.String("key", key), zap.Error(err))
	}
}
