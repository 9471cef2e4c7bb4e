package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
)

// tombstoneTTL is how long an invalidated entry refuses fills computed before the invalidation.
const tombstoneTTL = 30 * time.Second

// AvailabilityCache keeps computed availability lists in Redis.
// A nil client turns every call into a miss or a no-op.
//
// Invalidation overwrites the entry with an empty tombstone instead of deleting it, and Set only
// writes absent keys, so a reader whose result predates a booking cannot put it back.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func availabilityKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("availability:%s:%s", doctorID, model.NormalizeDate(date).Format(model.DateLayout))
}

// Get returns ErrCacheMiss when nothing, or only a tombstone, is stored for doctor and date.
func (c *AvailabilityCache) Get(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.AvailabilitySlot, error) {
	if c == nil || c.client == nil {
		return nil, ErrCacheMiss
	}

	key := availabilityKey(doctorID, date)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil, ErrCacheMiss
	}

	var slots []*model.AvailabilitySlot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}

	return slots, nil
}

// Set stores slots unless the key holds an entry or a tombstone already.
func (c *AvailabilityCache) Set(ctx context.Context, doctorID uuid.UUID, date time.Time, slots []*model.AvailabilitySlot) error {
	if c == nil || c.client == nil {
		return nil
	}

	key := availabilityKey(doctorID, date)
	payload, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	if err := c.client.SetNX(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

func (c *AvailabilityCache) tombstone(ctx context.Context, key string) error {
	ttl := tombstoneTTL
	if c.ttl > 0 && c.ttl < ttl {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, key, "", ttl).Err(); err != nil {
		return fmt.Errorf("redis invalidate %s: %w", key, err)
	}
	return nil
}

// Invalidate replaces the entry of one doctor and date with a tombstone.
func (c *AvailabilityCache) Invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}

	return c.tombstone(ctx, availabilityKey(doctorID, date))
}

// InvalidateDoctor tombstones every cached date of the doctor.
func (c *AvailabilityCache) InvalidateDoctor(ctx context.Context, doctorID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}

	pattern := fmt.Sprintf("availability:%s:*", doctorID)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.tombstone(ctx, iter.Val()); err != nil {
			return err
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}

	return nil
}

func (c *AvailabilityCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
