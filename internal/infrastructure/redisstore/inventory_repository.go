package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	domain "github.com/sokoline/storefront/internal/domain/inventory"
)

const stockKeyPrefix = "stock:"

// InventoryRepository keeps stock counters in redis. Adjust maps to INCRBY,
// so concurrent decrements against the same product serialize inside redis
// and cannot lose updates.
type InventoryRepository struct {
	client *redis.Client
}

func NewInventoryRepository(client *redis.Client) *InventoryRepository {
	return &InventoryRepository{client: client}
}

func stockKey(productID string) string { return stockKeyPrefix + productID }

func (r *InventoryRepository) Get(ctx context.Context, productID string) (*domain.Item, error) {
	val, err := r.client.Get(ctx, stockKey(productID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("inventory redis: get %s: %w", productID, err)
	}
	qty, err := strconv.Atoi(val)
	if err != nil {
		return nil, fmt.Errorf("inventory redis: parse %s: %w", productID, err)
	}
	return &domain.Item{ProductID: productID, Quantity: qty, UpdatedAt: time.Now().UTC()}, nil
}

func (r *InventoryRepository) Put(ctx context.Context, item *domain.Item) error {
	if item == nil {
		return nil
	}
	if err := r.client.Set(ctx, stockKey(item.ProductID), item.Quantity, 0).Err(); err != nil {
		return fmt.Errorf("inventory redis: set %s: %w", item.ProductID, err)
	}
	return nil
}

func (r *InventoryRepository) Adjust(ctx context.Context, productID string, delta int) (int, error) {
	key := stockKey(productID)

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("inventory redis: exists %s: %w", productID, err)
	}
	if exists == 0 {
		return 0, domain.ErrNotFound
	}

	newVal, err := r.client.IncrBy(ctx, key, int64(delta)).Result()
	if err != nil {
		return 0, fmt.Errorf("inventory redis: incrby %s: %w", productID, err)
	}
	return int(newVal), nil
}
