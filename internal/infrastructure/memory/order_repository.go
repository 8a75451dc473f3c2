package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/sokoline/storefront/internal/domain/order"
)

type OrderRepository struct {
	mu           sync.RWMutex
	orders       map[string]*domain.Order
	orderNumbers map[string]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:       make(map[string]*domain.Order),
		orderNumbers: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrConflict
	}
	if existingID, exists := r.orderNumbers[order.OrderNumber]; exists {
		if _, ok := r.orders[existingID]; ok {
			return domain.ErrConflict
		}
	}

	r.orders[order.ID] = order.Clone()
	r.orderNumbers[order.OrderNumber] = order.ID
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	_ = ctx
	if orderNumber == "" {
		return nil, domain.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.orderNumbers[orderNumber]
	if !ok {
		return nil, domain.ErrNotFound
	}
	order, found := r.orders[id]
	if !found {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}
