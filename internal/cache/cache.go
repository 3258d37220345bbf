// Package cache keeps per-customer record lists in Redis and provides the
// per-record lock used to keep one verification in flight across processes.
//
// Every helper tolerates a nil client: without Redis the cache always misses
// and locks are always granted locally.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"instrument-verification-service/internal/models"
	"instrument-verification-service/pkg/errors"
	"instrument-verification-service/pkg/logger"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const (
	customerRecordsKey = "verifier:customer:%d:records"
	recordLockKey      = "verifier:lock:record:%d"
)

// Connect opens a client for addr and checks it with a ping
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "",
		DB:       0,
		PoolSize: 20,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.NetworkError(errors.CodeConnectionFailed, addr, err)
	}
	return rdb, nil
}

// RecordCache stores customer record lists as JSON
type RecordCache struct {
	rdb *redis.Client
	ttl time.Duration
	log logger.Logger
}

// NewRecordCache returns a cache on rdb; rdb may be nil
func NewRecordCache(rdb *redis.Client, ttl time.Duration) *RecordCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RecordCache{rdb: rdb, ttl: ttl, log: logger.WithComponent("cache")}
}

func (c *RecordCache) enabled() bool {
	return c != nil && c.rdb != nil
}

// GetCustomerRecords returns the cached list and whether it was present
func (c *RecordCache) GetCustomerRecords(ctx context.Context, customerID int64) ([]*models.PaymentRecord, bool, error) {
	if !c.enabled() {
		return nil, false, nil
	}
	val, err := c.rdb.Get(ctx, fmt.Sprintf(customerRecordsKey, customerID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var recs []*models.PaymentRecord
	if err := json.Unmarshal([]byte(val), &recs); err != nil {
		return nil, false, err
	}
	return recs, true, nil
}

// SetCustomerRecords replaces the cached list
func (c *RecordCache) SetCustomerRecords(ctx context.Context, customerID int64, recs []*models.PaymentRecord) error {
	if !c.enabled() {
		return nil
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(customerRecordsKey, customerID), data, c.ttl).Err()
}

// InvalidateCustomer drops the customer's cached list so the next read
// observes freshly verified values
func (c *RecordCache) InvalidateCustomer(ctx context.Context, customerID int64) error {
	if !c.enabled() {
		return nil
	}
	return c.rdb.Del(ctx, fmt.Sprintf(customerRecordsKey, customerID)).Err()
}

// CustomerRecords reads through the cache, calling load on a miss. Cache
// failures are logged and fall back to load.
func (c *RecordCache) CustomerRecords(ctx context.Context, customerID int64, load func(context.Context) ([]*models.PaymentRecord, error)) ([]*models.PaymentRecord, error) {
	recs, ok, err := c.GetCustomerRecords(ctx, customerID)
	if err != nil {
		c.log.WithError(err).WithField("customer_id", customerID).Warn("cache read failed; loading from store")
	}
	if ok {
		return recs, nil
	}

	recs, err = load(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.SetCustomerRecords(ctx, customerID, recs); err != nil {
		c.log.WithError(err).WithField("customer_id", customerID).Warn("cache write failed")
	}
	return recs, nil
}

// Locker obtains per-record locks from Redis
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewLocker returns a locker on rdb; rdb may be nil
func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	l := &Locker{ttl: ttl}
	if rdb != nil {
		l.client = redislock.New(rdb)
	}
	return l
}

// Acquire locks recordID and returns the release function. A lock held by
// another process yields a CodeAlreadyInFlight error.
func (l *Locker) Acquire(ctx context.Context, recordID int64) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	lock, err := l.client.Obtain(ctx, fmt.Sprintf(recordLockKey, recordID), l.ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, errors.VerificationError(errors.CodeAlreadyInFlight, recordID, err)
	} else if err != nil {
		return nil, errors.NetworkError(errors.CodeServiceUnavailable, "redis", err)
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}
