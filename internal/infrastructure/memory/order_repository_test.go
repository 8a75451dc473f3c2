package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/sokoline/storefront/internal/domain/order"
)

func storedOrder(id, orderNumber string) *domain.Order {
	return &domain.Order{
		ID:            id,
		OrderNumber:   orderNumber,
		CustomerEmail: "jane@example.com",
		Amount:        1000,
		Items:         []domain.LineItem{{ProductID: "p1", Quantity: 2, UnitPrice: 500}},
	}
}

func TestOrderRepository_InsertAndGet(t *testing.T) {
	repo := NewOrderRepository()

	require.NoError(t, repo.Insert(context.Background(), storedOrder("id-1", "ord-1")))

	got, err := repo.Get(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", got.OrderNumber)

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderRepository_DuplicateIDConflicts(t *testing.T) {
	repo := NewOrderRepository()

	require.NoError(t, repo.Insert(context.Background(), storedOrder("id-1", "ord-1")))
	err := repo.Insert(context.Background(), storedOrder("id-1", "ord-2"))

	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestOrderRepository_DuplicateOrderNumberConflicts(t *testing.T) {
	repo := NewOrderRepository()

	require.NoError(t, repo.Insert(context.Background(), storedOrder("id-1", "ord-1")))
	err := repo.Insert(context.Background(), storedOrder("id-2", "ord-1"))

	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestOrderRepository_FindByOrderNumber(t *testing.T) {
	repo := NewOrderRepository()

	require.NoError(t, repo.Insert(context.Background(), storedOrder("id-1", "ord-1")))

	got, err := repo.FindByOrderNumber(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.ID)

	_, err = repo.FindByOrderNumber(context.Background(), "ord-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.FindByOrderNumber(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderRepository_ReturnsClones(t *testing.T) {
	repo := NewOrderRepository()
	require.NoError(t, repo.Insert(context.Background(), storedOrder("id-1", "ord-1")))

	first, err := repo.Get(context.Background(), "id-1")
	require.NoError(t, err)
	first.Items[0].Quantity = 99
	first.OrderNumber = "tampered"

	second, err := repo.Get(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Items[0].Quantity)
	assert.Equal(t, "ord-1", second.OrderNumber)
}
