package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/port"
)

const (
	stockKeyPrefix = "stock:"
	lockKeyPrefix  = "lock:"

	// quantities are stored as integers of 1/10^stockScale units
	stockScale = 4
)

// stock:<item> is a hash {qty, version}.
var seedStockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1], 'qty', ARGV[1], 'version', ARGV[2])
end
return 1
`)

var decrementStockScript = redis.NewScript(`
local qty = redis.call('HGET', KEYS[1], 'qty')
if not qty then
	return {-1, 0, 0}
end

qty = tonumber(qty)
local want = tonumber(ARGV[1])
if qty < want then
	return {0, qty, 0}
end

local left = redis.call('HINCRBY', KEYS[1], 'qty', -want)
local version = redis.call('HINCRBY', KEYS[1], 'version', 1)
return {1, left, version}
`)

var incrementStockScript = redis.NewScript(`
local qty = redis.call('HGET', KEYS[1], 'qty')
if not qty then
	return {-1, 0, 0}
end

local after = redis.call('HINCRBY', KEYS[1], 'qty', ARGV[1])
local version = redis.call('HINCRBY', KEYS[1], 'version', 1)
return {1, after, version}
`)

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisAdapter keeps item stock in Redis and reads listing fields from
// the catalog. A stock key is seeded from the catalog on first use, after
// which Redis is authoritative for quantity.
type RedisAdapter struct {
	client  *redis.Client
	catalog port.CatalogRepository
}

var _ port.StockRepository = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client, catalog port.CatalogRepository) *RedisAdapter {
	return &RedisAdapter{client: client, catalog: catalog}
}

func toUnits(qty decimal.Decimal) (int64, error) {
	scaled := qty.Shift(stockScale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, domain.ErrInvalidQuantity
	}
	return scaled.IntPart(), nil
}

func fromUnits(units int64) decimal.Decimal {
	return decimal.New(units, -stockScale)
}

func (r *RedisAdapter) seed(ctx context.Context, item domain.CatalogItem) error {
	units, err := toUnits(item.Quantity)
	if err != nil {
		return err
	}
	return seedStockScript.Run(ctx, r.client, []string{stockKeyPrefix + item.ID}, units, item.Version).Err()
}

func (r *RedisAdapter) GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	item, err := r.catalog.GetItem(ctx, itemID)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	cmd := r.client.HMGet(ctx, stockKeyPrefix+itemID, "qty", "version")
	vals, err := cmd.Result()
	if err != nil {
		return domain.CatalogItem{}, err
	}
	if vals[0] == nil {
		if err := r.seed(ctx, item); err != nil {
			return domain.CatalogItem{}, err
		}
		return item, nil
	}

	var stored struct {
		Qty     int64 `redis:"qty"`
		Version int64 `redis:"version"`
	}
	if err := cmd.Scan(&stored); err != nil {
		return domain.CatalogItem{}, err
	}
	item.Quantity = fromUnits(stored.Qty)
	item.Version = stored.Version
	return item, nil
}

func (r *RedisAdapter) DecrementStock(ctx context.Context, itemID string, quantity decimal.Decimal) (domain.CatalogItem, domain.CatalogItem, error) {
	return r.adjust(ctx, itemID, quantity, decrementStockScript)
}

func (r *RedisAdapter) IncrementStock(ctx context.Context, itemID string, quantity decimal.Decimal) (domain.CatalogItem, domain.CatalogItem, error) {
	return r.adjust(ctx, itemID, quantity, incrementStockScript)
}

func (r *RedisAdapter) adjust(ctx context.Context, itemID string, quantity decimal.Decimal, script *redis.Script) (domain.CatalogItem, domain.CatalogItem, error) {
	units, err := toUnits(quantity)
	if err != nil {
		return domain.CatalogItem{}, domain.CatalogItem{}, err
	}
	item, err := r.catalog.GetItem(ctx, itemID)
	if err != nil {
		return domain.CatalogItem{}, domain.CatalogItem{}, err
	}

	key := stockKeyPrefix + itemID
	for seeded := false; ; seeded = true {
		res, err := script.Run(ctx, r.client, []string{key}, units).Int64Slice()
		if err != nil {
			return domain.CatalogItem{}, domain.CatalogItem{}, fmt.Errorf("stock script: %w", err)
		}

		switch res[0] {
		case -1:
			if seeded {
				return domain.CatalogItem{}, domain.CatalogItem{}, fmt.Errorf("stock key %s vanished", key)
			}
			if err := r.seed(ctx, item); err != nil {
				return domain.CatalogItem{}, domain.CatalogItem{}, err
			}
			continue
		case 0:
			return domain.CatalogItem{}, domain.CatalogItem{}, domain.ErrInsufficientStock
		}

		if script == decrementStockScript {
			units = -units
		}
		now := time.Now().UTC()
		before, after := item, item
		before.Quantity = fromUnits(res[1] - units)
		before.Version = res[2] - 1
		after.Quantity = fromUnits(res[1])
		after.Version = res[2]
		after.UpdatedAt = now
		return before, after, nil
	}
}

// SetStock overwrites the stored quantity, e.g. after a bulk import.
func (r *RedisAdapter) SetStock(ctx context.Context, itemID string, quantity decimal.Decimal) error {
	units, err := toUnits(quantity)
	if err != nil {
		return err
	}
	key := stockKeyPrefix + itemID
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "qty", units)
		pipe.HIncrBy(ctx, key, "version", 1)
		return nil
	})
	return err
}

var ErrLockTimeout = errors.New("lock wait exceeded")

// RedisLocker is a SET NX lease lock shared by every replica. The lease
// expires after ttl so a crashed holder cannot block a key forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

var _ port.Locker = (*RedisLocker)(nil)

func NewRedisLocker(client *redis.Client, ttl, retry time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retry <= 0 {
		retry = 10 * time.Millisecond
	}
	return &RedisLocker{client: client, ttl: ttl, retry: retry}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	key = lockKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
			}
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			unlockScript.Run(ctx, l.client, []string{key}, token)
		})
	}, nil
}
