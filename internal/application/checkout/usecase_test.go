package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domcheckout "github.com/sokoline/storefront/internal/domain/checkout"
	domorder "github.com/sokoline/storefront/internal/domain/order"
	dompayment "github.com/sokoline/storefront/internal/domain/payment"
	"github.com/sokoline/storefront/internal/observability"
)

func price(v int64) *int64 { return &v }

func validMeta() domcheckout.Metadata {
	return domcheckout.Metadata{
		OrderNumber:   "ord-1001",
		CustomerName:  "Jane Wanjiku",
		CustomerEmail: "jane@example.com",
		CustomerPhone: "0712345678",
		CustomerID:    "user-1",
	}
}

func pricedCart() []domcheckout.CartItem {
	return []domcheckout.CartItem{
		{Product: domcheckout.Product{ID: "p1", Name: "Tea", Price: price(500)}, Quantity: 2},
	}
}

func paidPayload() *dompayment.StatusPayload {
	return &dompayment.StatusPayload{
		State:         dompayment.ResultPaid,
		ResultCode:    "0",
		ReceiptNumber: "QK12XYZ",
		Amount:        1000,
	}
}

func pendingPayload() *dompayment.StatusPayload {
	return &dompayment.StatusPayload{State: dompayment.ResultPending, ResultCode: "500.001.1001"}
}

func newTestUseCase(initiator *mockInitiator, prober *mockProber, recorder *mockRecorder, adjuster *mockAdjuster, notifier *mockNotifier, maxPolls int) *UseCase {
	return NewUseCase(initiator, prober, recorder, adjuster, notifier, Config{
		MaxPollAttempts: maxPolls,
		PollInterval:    0,
	}, observability.Nop())
}

func defaultHandle() *dompayment.TrackingHandle {
	return &dompayment.TrackingHandle{
		CheckoutRequestID: "ws_CO_123",
		MerchantRequestID: "mr_456",
		ResponseCode:      "0",
	}
}

func TestExecute_UnpricedProductRejectedBeforeAnyNetworkCall(t *testing.T) {
	initiator := &mockInitiator{handle: defaultHandle()}
	prober := &mockProber{payloads: []*dompayment.StatusPayload{paidPayload()}}
	recorder := &mockRecorder{id: "doc-1"}
	adjuster := &mockAdjuster{}
	uc := newTestUseCase(initiator, prober, recorder, adjuster, &mockNotifier{}, 3)

	items := []domcheckout.CartItem{
		{Product: domcheckout.Product{ID: "p1", Name: "Tea"}, Quantity: 1},
	}

	result, err := uc.Execute(context.Background(), Input{Items: items, Meta: validMeta()})

	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Contains(t, result.Reason, "p1")
	assert.Zero(t, initiator.calls)
	assert.Zero(t, prober.calls)
	assert.Zero(t, recorder.calls)
	assert.Empty(t, adjuster.calls)
}

func TestExecute_EmptyCart(t *testing.T) {
	uc := newTestUseCase(&mockInitiator{}, &mockProber{payloads: []*dompayment.StatusPayload{paidPayload()}}, &mockRecorder{}, &mockAdjuster{}, &mockNotifier{}, 3)

	result, err := uc.Execute(context.Background(), Input{Meta: validMeta()})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, domcheckout.ErrEmptyCart)
}

func TestExecute_InvalidMetadata(t *testing.T) {
	uc := newTestUseCase(&mockInitiator{}, &mockProber{payloads: []*dompayment.StatusPayload{paidPayload()}}, &mockRecorder{}, &mockAdjuster{}, &mockNotifier{}, 3)

	meta := validMeta()
	meta.OrderNumber = ""
	result, err := uc.Execute(context.Background(), Input{Items: pricedCart(), Meta: meta})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, domcheckout.ErrMissingOrderNo)
}

func TestExecute_HappyPath(t *testing.T) {
	initiator := &mockInitiator{handle: defaultHandle()}
	prober := &mockProber{payloads: []*dompayment.StatusPayload{paidPayload()}}
	recorder := &mockRecorder{id: "doc-1"}
	adjuster := &mockAdjuster{}
	notifier := &mockNotifier{}
	uc := newTestUseCase(initiator, prober, recorder, adjuster, notifier, 3)

	result, err := uc.Execute(context.Background(), Input{Items: pricedCart(), Meta: validMeta()})

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, "doc-1", result.OrderID)
	assert.Equal(t, "QK12XYZ", result.ReceiptNumber)
	assert.Equal(t, "ws_CO_123", result.TrackingID)

	// Payment was initiated with the grouped total.
	assert.Equal(t, 1, initiator.calls)
	assert.Equal(t, int64(1000), initiator.got.Amount)
	assert.Equal(t, "ord-1001", initiator.got.OrderNumber)

	// Exactly one order with the grouped line.
	require.Equal(t, 1, recorder.calls)
	require.Len(t, recorder.got.Items, 1)
	assert.Equal(t, 2, recorder.got.Items[0].Quantity)
	assert.Equal(t, int64(500), recorder.got.Items[0].UnitPrice)
	assert.Equal(t, domorder.PaymentPaid, recorder.got.PaymentStatus)
	assert.Equal(t, "ws_CO_123", recorder.got.GatewayRef)
	assert.Equal(t, "QK12XYZ", recorder.got.ReceiptNumber)

	// One stock decrement per grouped line.
	require.Len(t, adjuster.calls, 1)
	assert.Equal(t, adjustCall{productID: "p1", quantity: 2}, adjuster.calls[0])
	assert.Equal(t, []string{"p1"}, result.AdjustedProducts)

	assert.Equal(t, 1, notifier.count())
}

func TestExecute_GroupsDuplicateCartLines(t *testing.T) {
	initiator := &mockInitiator{handle: defaultHandle()}
	prober := &mockProber{payloads: []*dompayment.StatusPayload{paidPayload()}}
	recorder := &mockRecorder{id: "doc-1"}
	adjuster := &mockAdjuster{}
	uc := newTestUseCase(initiator, prober, recorder, adjuster, &mockNotifier{}, 3)

	items := []domcheckout.CartItem{
		{Product: domcheckout.Product{ID: "p1", Price: price(500)}, Quantity: 1},
		{Product: domcheckout.Product{ID: "p1", Price: price(500)}, Quantity: 2},
	}

	result, err := uc.Execute(context.Background(), Input{Items: items, Meta: validMeta()})

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	require.Len(t, recorder.got.Items, 1)
	assert.Equal(t, 3, recorder.got.Items[0].Quantity)
	require.Len(t, adjuster.calls, 1)
	assert.Equal(t, 3, adjuster.calls[0].quantity)
}

func TestExecute_InitiationFailureTerminatesFailed(t *testing.T) {
	initiator := &mockInitiator{err: dompayment.ErrGatewayUnreachable}
	prober := &mockProber{payloads: []*dompayment.StatusPayload{paidPayload()}}
	recorder := &mockRecorder{}
	uc := newTestUseCase(initiator, prober, recorder, &mockAdjuster{}, &mockNotifier{}, 3)

	result, err := uc.Execute(context.Background(), Input{Items: pricedCart(), Meta: validMeta()})

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, result.Reason, "could not start payment")
	assert.Zero(t, prober.calls)
	assert.Zero(t, recorder.calls)
}

func TestExecute_PollTimeoutLeavesOrderUnrecorded(t *testing.T) {
	initiator := &mockInitiator{handle: defaultHandle()}
	prober := &mockProber{payloads: []*dompayment.StatusPayload{pendingPayload()}}
	recorder := &mockRecorder{}
	adjuster := &mockAdjuster{}
	uc := newTestUseCase(initiator, prober, recorder, adjuster, &mockNotifier{}, 4)

	result, err := uc.Execute(context.Background(), Input{Items: pricedCart(), Meta: validMeta()})

	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, result.Outcome)
	assert.Contains(t, result.Reason, "contact support")
	assert.Equal(t, 4, prober.calls)
	assert.Zero(t, recorder.calls)
	assert.Empty(t, adjuster.calls)
}

func TestExecute_PaymentDeclined(t *testing.T) {
	initiator := &mockInitiator{handle: defaultHandle()}
	prober := &mockProber{payloads: []*dompayment.StatusPayload{
		{State: dompayment.ResultFailed, ResultCode: "1032", ResultDescription: "Request cancelled by user"},
	}}
	recorder := &mockRecorder{}
	uc := newTestUseCase(initiator, prober, recorder, &mockAdjuster{}, &mockNotifier{}, 3)

	result, err := uc.Execute(context.Background(), Input{Items: pricedCart(), Meta: validMeta()})

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, result.Reason, "payment declined")
	assert.Contains(t, result.Reason, "Request cancelled by user")
	assert.Zero(t, recorder.calls)
}

func TestExecute_TransportErrorConsumesAttemptThenRecovers(t *testing.T) {
	initiator := &mockInitiator{handle: defaultHandle()}
	prober := &mockProber{
		payloads: []*dompayment.StatusPayload{nil, paidPayload()},
		errs:     []error{errors.New("connection reset"), nil},
	}
	recorder := &mockRecorder{id: "doc-1"}
	uc := newTestUseCase(initiator, prober, recorder, &mockAdjuster{}, &mockNotifier{}, 3)

	result, err := uc.Execute(context.Background(), Input{Items: pricedCart(), Meta: validMeta()})

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 2, prober.calls)
}

func TestExecute_RecordingFailureSkipsStockAdjustment(t *testing.T) {
	initiator := &mockInitiator{handle: defaultHandle()}
	prober := &mockProber{payloads: []*dompayment.StatusPayload{paidPayload()}}
	recorder := &mockRecorder{err: errors.New("store unavailable")}
	adjuster := &mockAdjuster{}
	uc := newTestUseCase(initiator, prober, recorder, adjuster, &mockNotifier{}, 3)

	result, err := uc.Execute(context.Background(), Input{Items: pricedCart(), Meta: validMeta()})

	require.NoError(t, err)
	assert.Equal(t, OutcomeRecordingFailed, result.Outcome)
	assert.Equal(t, "QK12XYZ", result.ReceiptNumber)
	assert.Empty(t, adjuster.calls)
}

func TestExecute_PartialStockAdjustmentReportsAdjustedProducts(t *testing.T) {
	initiator := &mockInitiator{handle: defaultHandle()}
	prober := &mockProber{payloads: []*dompayment.StatusPayload{paidPayload()}}
	recorder := &mockRecorder{id: "doc-1"}
	adjuster := &mockAdjuster{failOn: "p2", err: errors.New("store unavailable")}
	uc := newTestUseCase(initiator, prober, recorder, adjuster, &mockNotifier{}, 3)

	items := []domcheckout.CartItem{
		{Product: domcheckout.Product{ID: "p1", Price: price(500)}, Quantity: 1},
		{Product: domcheckout.Product{ID: "p2", Price: price(300)}, Quantity: 1},
	}

	result, err := uc.Execute(context.Background(), Input{Items: items, Meta: validMeta()})

	require.NoError(t, err)
	assert.Equal(t, OutcomeStockAdjustFailed, result.Outcome)
	assert.Contains(t, result.Reason, "p2")
	// p1 was adjusted before the failure and stays adjusted: no rollback.
	assert.Equal(t, []string{"p1"}, result.AdjustedProducts)
	assert.Equal(t, "doc-1", result.OrderID)
}

func TestExecute_ReplayedOrderSkipsStockAdjustment(t *testing.T) {
	initiator := &mockInitiator{handle: defaultHandle()}
	prober := &mockProber{payloads: []*dompayment.StatusPayload{paidPayload()}}
	recorder := &mockRecorder{id: "doc-1", replayed: true}
	adjuster := &mockAdjuster{}
	uc := newTestUseCase(initiator, prober, recorder, adjuster, &mockNotifier{}, 3)

	result, err := uc.Execute(context.Background(), Input{Items: pricedCart(), Meta: validMeta()})

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.True(t, result.Replayed)
	assert.Empty(t, adjuster.calls)
}

func TestExecute_NotifierFailureDoesNotChangeOutcome(t *testing.T) {
	initiator := &mockInitiator{handle: defaultHandle()}
	prober := &mockProber{payloads: []*dompayment.StatusPayload{paidPayload()}}
	recorder := &mockRecorder{id: "doc-1"}
	notifier := &mockNotifier{err: errors.New("broker down")}
	uc := newTestUseCase(initiator, prober, recorder, &mockAdjuster{}, notifier, 3)

	result, err := uc.Execute(context.Background(), Input{Items: pricedCart(), Meta: validMeta()})

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 1, notifier.count())
}

func TestExecute_ContextCancellationSurfacesError(t *testing.T) {
	initiator := &mockInitiator{handle: defaultHandle()}
	prober := &mockProber{
		payloads: []*dompayment.StatusPayload{nil},
		errs:     []error{context.Canceled},
	}
	uc := newTestUseCase(initiator, prober, &mockRecorder{}, &mockAdjuster{}, &mockNotifier{}, 3)

	result, err := uc.Execute(context.Background(), Input{Items: pricedCart(), Meta: validMeta()})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
}
