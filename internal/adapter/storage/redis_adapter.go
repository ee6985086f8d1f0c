package storage

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/port"
)

const (
	stockKeyPrefix  = "stock:"
	buyersKeyPrefix = "buyers:"
	atRiskKey       = "reservation:at-risk"
	divertedKey     = "reservation:diverted"
	deadKeySuffix   = ":dead"
)

// KEYS[1] stock, KEYS[2] buyers, ARGV[1] user.
// Returns 0 reserved, 1 sold out, 2 duplicate.
var reserveScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
	return 2
end

local stock = tonumber(redis.call('GET', KEYS[1]))
if not stock or stock <= 0 then
	return 1
end

redis.call('DECR', KEYS[1])
redis.call('SADD', KEYS[2], ARGV[1])
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('SREM', KEYS[2], ARGV[1]) == 0 then
	return 0
end

if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('INCR', KEYS[1])
end
return 1
`)

var capStockScript = redis.NewScript(`
local stock = tonumber(redis.call('GET', KEYS[1]))
local max = tonumber(ARGV[1])
if stock and stock > max then
	redis.call('SET', KEYS[1], max)
	return 1
end
return 0
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func StockKey(itemID string) string {
	return stockKeyPrefix + itemID
}

func BuyersKey(itemID string) string {
	return buyersKeyPrefix + itemID
}

func (r *RedisAdapter) Reserve(ctx context.Context, itemID, userID string) (domain.Outcome, error) {
	keys := []string{StockKey(itemID), BuyersKey(itemID)}

	code, err := reserveScript.Run(ctx, r.client, keys, userID).Int()
	if err != nil {
		return 0, errors.Wrap(err, "run reserve script")
	}

	outcome := domain.Outcome(code)
	switch outcome {
	case domain.OutcomeReserved, domain.OutcomeSoldOut, domain.OutcomeDuplicate:
		return outcome, nil
	}
	return 0, errors.Newf("unexpected reserve script result %d", code)
}

func (r *RedisAdapter) Release(ctx context.Context, itemID, userID string) (bool, error) {
	keys := []string{StockKey(itemID), BuyersKey(itemID)}

	released, err := releaseScript.Run(ctx, r.client, keys, userID).Int()
	if err != nil {
		return false, errors.Wrap(err, "run release script")
	}

	return released == 1, nil
}

func (r *RedisAdapter) CapStock(ctx context.Context, itemID string, max int) error {
	if err := capStockScript.Run(ctx, r.client, []string{StockKey(itemID)}, max).Err(); err != nil {
		return errors.Wrap(err, "run cap stock script")
	}
	return nil
}

func (r *RedisAdapter) GetStock(ctx context.Context, itemID string) (int, error) {
	stock, err := r.client.Get(ctx, StockKey(itemID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, port.ErrStockNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "get stock")
	}

	return stock, nil
}

func (r *RedisAdapter) InitStock(ctx context.Context, itemID string, stock int, reset bool) error {
	if !reset {
		return errors.Wrap(r.client.SetNX(ctx, StockKey(itemID), stock, 0).Err(), "seed stock")
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, StockKey(itemID), stock, 0)
		pipe.Del(ctx, BuyersKey(itemID))
		return nil
	})
	return errors.Wrap(err, "reset stock")
}

func (r *RedisAdapter) RecordAtRisk(ctx context.Context, intent domain.OrderIntent) error {
	return errors.Wrap(r.pushIntent(ctx, atRiskKey, intent), "record at-risk intent")
}

func (r *RedisAdapter) PopAtRisk(ctx context.Context) (*domain.OrderIntent, error) {
	intent, err := r.popIntent(ctx, atRiskKey)
	return intent, errors.Wrap(err, "pop at-risk intent")
}

func (r *RedisAdapter) RecordDiverted(ctx context.Context, intent domain.OrderIntent) error {
	return errors.Wrap(r.pushIntent(ctx, divertedKey, intent), "record diverted intent")
}

func (r *RedisAdapter) PopDiverted(ctx context.Context) (*domain.OrderIntent, error) {
	intent, err := r.popIntent(ctx, divertedKey)
	return intent, errors.Wrap(err, "pop diverted intent")
}

// DeadKey is where undecodable records of a reconciliation list are kept.
func DeadKey(listKey string) string {
	return listKey + deadKeySuffix
}

func (r *RedisAdapter) pushIntent(ctx context.Context, key string, intent domain.OrderIntent) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "marshal intent")
	}

	return r.client.RPush(ctx, key, body).Err()
}

// popIntent pops the oldest record. One that does not decode is pushed to
// the dead list and reported with its raw body.
func (r *RedisAdapter) popIntent(ctx context.Context, key string) (*domain.OrderIntent, error) {
	body, err := r.client.LPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var intent domain.OrderIntent
	if err := json.Unmarshal(body, &intent); err == nil && intent.ItemID != "" && intent.UserID != "" {
		return &intent, nil
	}

	if err := r.client.RPush(ctx, DeadKey(key), body).Err(); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "record %q lost, dead list write failed", body), port.ErrCorruptRecord)
	}
	return nil, errors.Mark(errors.Newf("unreadable record %q moved to %s", body, DeadKey(key)), port.ErrCorruptRecord)
}
