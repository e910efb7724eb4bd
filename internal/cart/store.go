package cart

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/storefront/internal/domain"
)

// RedisStore keeps each cart as two hashes keyed by user: product quantities
// and the time each product was first added. Every mutation pushes the expiry
// of both keys out by ttl, so an idle cart disappears on its own.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func quantityKey(userID string) string { return "cart:" + userID }
func addedKey(userID string) string    { return "cart:" + userID + ":added" }

// Lines returns the cart ordered by time added, and when it expires. An
// expired or never-created cart has no lines and a nil expiry.
func (s *RedisStore) Lines(ctx context.Context, userID string) ([]domain.CartLine, *time.Time, error) {
	var (
		quantities *redis.MapStringStringCmd
		added      *redis.MapStringStringCmd
		ttl        *redis.DurationCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		quantities = p.HGetAll(ctx, quantityKey(userID))
		added = p.HGetAll(ctx, addedKey(userID))
		ttl = p.TTL(ctx, quantityKey(userID))
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read cart: %w", err)
	}

	lines := make([]domain.CartLine, 0, len(quantities.Val()))
	for productID, raw := range quantities.Val() {
		qty, err := strconv.Atoi(raw)
		if err != nil || qty < 1 {
			continue
		}
		line := domain.CartLine{ProductID: productID, Quantity: qty}
		if ts, err := strconv.ParseInt(added.Val()[productID], 10, 64); err == nil {
			line.AddedAt = time.Unix(ts, 0).UTC()
		}
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].AddedAt.Equal(lines[j].AddedAt) {
			return lines[i].ProductID < lines[j].ProductID
		}
		return lines[i].AddedAt.Before(lines[j].AddedAt)
	})

	if len(lines) == 0 || ttl.Val() <= 0 {
		return lines, nil, nil
	}
	expires := s.now().Add(ttl.Val()).UTC()
	return lines, &expires, nil
}

// Add increments the quantity of a product and returns the new quantity.
func (s *RedisStore) Add(ctx context.Context, userID, productID string, quantity int) (int, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.HIncrBy(ctx, quantityKey(userID), productID, int64(quantity))
		p.HSetNX(ctx, addedKey(userID), productID, s.now().Unix())
		s.touch(ctx, p, userID)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("add to cart: %w", err)
	}
	return int(incr.Val()), nil
}

// Set replaces the quantity of a product. A quantity below one removes it.
func (s *RedisStore) Set(ctx context.Context, userID, productID string, quantity int) error {
	if quantity < 1 {
		return s.Remove(ctx, userID, productID)
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, quantityKey(userID), productID, quantity)
		p.HSetNX(ctx, addedKey(userID), productID, s.now().Unix())
		s.touch(ctx, p, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, userID, productID string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, quantityKey(userID), productID)
		p.HDel(ctx, addedKey(userID), productID)
		s.touch(ctx, p, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove from cart: %w", err)
	}
	return nil
}

// Clear drops the cart. A missing cart reads as empty, so deleting is enough.
func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, quantityKey(userID), addedKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (s *RedisStore) touch(ctx context.Context, p redis.Pipeliner, userID string) {
	p.Expire(ctx, quantityKey(userID), s.ttl)
	p.Expire(ctx, addedKey(userID), s.ttl)
}
