package account

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const peakKeyPrefix = "mtf:peak:"

// raisePeak only ever moves the stored value up.
var raisePeak = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]))
local v = tonumber(ARGV[1])
if cur == nil or v > cur then
	redis.call('SET', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// RedisPeakStore shares the high-water mark between processes and restarts.
type RedisPeakStore struct {
	client *redis.Client
}

func NewRedisPeakStore(client *redis.Client) *RedisPeakStore {
	return &RedisPeakStore{client: client}
}

func (r *RedisPeakStore) LoadPeak(ctx context.Context, account string) (float64, bool, error) {
	v, err := r.client.Get(ctx, peakKeyPrefix+account).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	p, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, err
	}
	return p, true, nil
}

func (r *RedisPeakStore) SavePeak(ctx context.Context, account string, peak float64) error {
	return raisePeak.Run(ctx, r.client, []string{peakKeyPrefix + account},
		strconv.FormatFloat(peak, 'f', -1, 64)).Err()
}
