package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const cancelValue = "true"

// CancelKey derives the cancellation flag key for a campaign.
func CancelKey(campaignID string) string {
	return "worker:cancel:campaign:" + campaignID
}

// CancelCampaign raises the flag telling workers to skip jobs for the
// campaign. A zero ttl leaves the flag without expiry; lifetime is operator
// policy.
func CancelCampaign(ctx context.Context, client redis.Cmdable, campaignID string, ttl time.Duration) error {
	return client.Set(ctx, CancelKey(campaignID), cancelValue, ttl).Err()
}

// ResumeCampaign clears the cancellation flag.
func ResumeCampaign(ctx context.Context, client redis.Cmdable, campaignID string) error {
	return client.Del(ctx, CancelKey(campaignID)).Err()
}

// IsCancelled reports whether the flag is raised. Only the literal value
// "true" counts; a missing key reads as not cancelled.
func IsCancelled(ctx context.Context, client redis.Cmdable, campaignID string) (bool, error) {
	val, err := client.Get(ctx, CancelKey(campaignID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == cancelValue, nil
}
