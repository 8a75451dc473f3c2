package order

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/sokoline/storefront/internal/domain/order"
	"github.com/sokoline/storefront/internal/infrastructure/memory"
	"github.com/sokoline/storefront/internal/observability"
)

// seqIDGenerator hands out id-1, id-2, ... deterministically.
type seqIDGenerator struct {
	n int
}

func (g *seqIDGenerator) NewID() string {
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

// failingRepo errors on every operation.
type failingRepo struct {
	err error
}

func (r *failingRepo) Insert(context.Context, *domain.Order) error { return r.err }
func (r *failingRepo) Get(context.Context, string) (*domain.Order, error) {
	return nil, r.err
}
func (r *failingRepo) FindByOrderNumber(context.Context, string) (*domain.Order, error) {
	return nil, r.err
}

// conflictRepo loses the insert race: the idempotency lookup misses, the
// insert reports a conflict, and the re-lookup returns the winning record.
type conflictRepo struct {
	winner  *domain.Order
	lookups int
	inserts int
}

func (r *conflictRepo) Insert(context.Context, *domain.Order) error {
	r.inserts++
	return domain.ErrConflict
}

func (r *conflictRepo) Get(context.Context, string) (*domain.Order, error) {
	return nil, domain.ErrNotFound
}

func (r *conflictRepo) FindByOrderNumber(context.Context, string) (*domain.Order, error) {
	r.lookups++
	if r.lookups == 1 {
		return nil, domain.ErrNotFound
	}
	return r.winner, nil
}

func paidOrder(orderNumber string) *domain.Order {
	ord, err := domain.New(orderNumber, "Jane Wanjiku", "jane@example.com", "254712345678", "user-1",
		[]domain.LineItem{{ProductID: "p1", Name: "Tea", Quantity: 2, UnitPrice: 500}},
		1000, "mpesa")
	if err != nil {
		panic(err)
	}
	if err := ord.MarkPaid("QK12XYZ"); err != nil {
		panic(err)
	}
	return ord
}

func newTestUseCase(repo domain.Repository) *RecordUseCase {
	return NewRecordUseCase(repo, &seqIDGenerator{}, observability.Nop())
}

func TestRecord_AssignsIDAndStampsReceipt(t *testing.T) {
	repo := memory.NewOrderRepository()
	uc := newTestUseCase(repo)

	before := time.Now().UTC()
	id, replayed, err := uc.Record(context.Background(), paidOrder("ord-1001"))

	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "id-1", id)

	stored, err := uc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "ord-1001", stored.OrderNumber)
	assert.Equal(t, domain.PaymentPaid, stored.PaymentStatus)
	assert.NotEmpty(t, stored.ConfirmationCode)
	assert.False(t, stored.ReceivedAt.Before(before))
}

func TestRecord_RejectsInvalidPayload(t *testing.T) {
	repo := memory.NewOrderRepository()
	uc := newTestUseCase(repo)

	cases := []struct {
		name    string
		mutate  func(*domain.Order)
		wantErr error
	}{
		{"missing order number", func(o *domain.Order) { o.OrderNumber = "" }, domain.ErrMissingOrderNumber},
		{"missing email", func(o *domain.Order) { o.CustomerEmail = "" }, domain.ErrMissingEmail},
		{"no items", func(o *domain.Order) { o.Items = nil }, domain.ErrNoItems},
		{"zero quantity", func(o *domain.Order) { o.Items[0].Quantity = 0 }, domain.ErrInvalidQuantity},
		{"negative price", func(o *domain.Order) { o.Items[0].UnitPrice = -1 }, domain.ErrInvalidPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ord := paidOrder("ord-2001")
			tc.mutate(ord)
			_, _, err := uc.Record(context.Background(), ord)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	// Nothing reached the store.
	_, err := repo.FindByOrderNumber(context.Background(), "ord-2001")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecord_IdempotentReplayByOrderNumber(t *testing.T) {
	repo := memory.NewOrderRepository()
	uc := newTestUseCase(repo)

	firstID, replayed, err := uc.Record(context.Background(), paidOrder("ord-3001"))
	require.NoError(t, err)
	require.False(t, replayed)

	secondID, replayed, err := uc.Record(context.Background(), paidOrder("ord-3001"))
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, firstID, secondID)
}

func TestRecord_ConflictRaceReplaysWinner(t *testing.T) {
	winner := paidOrder("ord-4001")
	winner.ID = "winner-id"
	repo := &conflictRepo{winner: winner}
	uc := newTestUseCase(repo)

	id, replayed, err := uc.Record(context.Background(), paidOrder("ord-4001"))

	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, "winner-id", id)
	assert.Equal(t, 1, repo.inserts)
}

func TestRecord_RepositoryFailureWrapped(t *testing.T) {
	uc := newTestUseCase(&failingRepo{err: errors.New("disk full")})

	_, _, err := uc.Record(context.Background(), paidOrder("ord-5001"))

	assert.ErrorIs(t, err, ErrRepository)
}

func TestRecord_DoesNotMutateCallerOrder(t *testing.T) {
	repo := memory.NewOrderRepository()
	uc := newTestUseCase(repo)

	ord := paidOrder("ord-6001")
	_, _, err := uc.Record(context.Background(), ord)

	require.NoError(t, err)
	assert.Empty(t, ord.ID)
	assert.True(t, ord.ReceivedAt.IsZero())
}

func TestGet_UnknownID(t *testing.T) {
	uc := newTestUseCase(memory.NewOrderRepository())

	_, err := uc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = uc.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}
