package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	domcheckout "github.com/sokoline/storefront/internal/domain/checkout"
	"github.com/sokoline/storefront/internal/domain/notify"
	domorder "github.com/sokoline/storefront/internal/domain/order"
	dompayment "github.com/sokoline/storefront/internal/domain/payment"
	"github.com/sokoline/storefront/internal/observability"
	"github.com/sokoline/storefront/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	useCaseCheckout = "checkout.fulfill"
	spanPrefix      = "UC."

	gatewayPeer     = "payment_gateway"
	initiateEnd     = "stk_push"
	queryEnd        = "stk_query"
	notifyPeer      = "notify"
	notifyEnd       = "order.completed"
	publishTimeout  = 300 * time.Millisecond
	defaultPollMax  = 10
	defaultPollWait = 3 * time.Second
)

// ErrPaymentTimeout marks a polling window that exhausted without the
// gateway reaching a terminal status. Distinct from a declined payment:
// the attempt's true outcome is unknown and no order is recorded.
var ErrPaymentTimeout = errors.New("checkout: payment confirmation timed out")

// Outcome is the terminal state of one checkout attempt.
type Outcome string

const (
	OutcomeCompleted         Outcome = "completed"
	OutcomeRejected          Outcome = "rejected"
	OutcomeFailed            Outcome = "failed"
	OutcomeTimedOut          Outcome = "timed_out"
	OutcomeRecordingFailed   Outcome = "recording_failed"
	OutcomeStockAdjustFailed Outcome = "stock_adjust_failed"
)

type Input struct {
	Items         []domcheckout.CartItem
	Meta          domcheckout.Metadata
	PaymentMethod string
}

// Result reports how the attempt terminated. AdjustedProducts lists the
// product ids whose stock was decremented before any partial failure; there
// is no rollback, so the list is what an operator reconciles against.
type Result struct {
	Outcome          Outcome
	OrderID          string
	Replayed         bool
	Reason           string
	ReceiptNumber    string
	TrackingID       string
	AdjustedProducts []string
}

// UseCase drives one checkout attempt through validate -> initiate ->
// confirm -> record -> adjust. Stages run strictly in order; no stage starts
// before its predecessor succeeds, and the use case holds no state between
// invocations.
type UseCase struct {
	initiator dompayment.Initiator
	prober    dompayment.Prober
	recorder  OrderRecorder
	adjuster  StockAdjuster
	notifier  notify.Publisher
	tel       observability.Observability

	maxPollAttempts int
	pollInterval    time.Duration

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

// Config carries the caller-defined give-up policy for the confirmation poll.
type Config struct {
	MaxPollAttempts int
	PollInterval    time.Duration
}

func NewUseCase(
	initiator dompayment.Initiator,
	prober dompayment.Prober,
	recorder OrderRecorder,
	adjuster StockAdjuster,
	notifier notify.Publisher,
	cfg Config,
	tel observability.Observability,
) *UseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = defaultPollMax
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = defaultPollWait
	}
	metrics := tel.Metrics()

	return &UseCase{
		initiator:       initiator,
		prober:          prober,
		recorder:        recorder,
		adjuster:        adjuster,
		notifier:        notifier,
		tel:             tel,
		maxPollAttempts: cfg.MaxPollAttempts,
		pollInterval:    cfg.PollInterval,
		log:             tel.Logger().With(observability.F("service", "checkout-orchestrator")),
		reqCounter:      metrics.Counter(observability.MUsecaseRequests),
		durHistogram:    metrics.Histogram(observability.MUsecaseDuration),
		extCounter:      metrics.Counter(observability.MExternalRequests),
		extHistogram:    metrics.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute runs the fulfillment pipeline for one cart. Business-terminal
// outcomes (rejected, failed, timed out, recording failed, partial stock
// adjustment) come back in the Result with a nil error; a non-nil error
// means the request itself was unusable or the context died.
func (uc *UseCase) Execute(ctx context.Context, cmd Input) (_ *Result, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseCheckout),
		observability.F("order_number", cmd.Meta.OrderNumber),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"Checkout",
		attribute.String("use_case", useCaseCheckout),
		attribute.String("checkout.order_number", cmd.Meta.OrderNumber),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var result *Result

	defer func() {
		lat := time.Since(start).Seconds()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseCheckout),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat,
			observability.L("use_case", useCaseCheckout),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if result != nil {
			fields = append(fields, observability.F("checkout_outcome", string(result.Outcome)))
			if result.OrderID != "" {
				fields = append(fields, observability.F("order_id", result.OrderID))
			}
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	// Validating: everything here happens before any network call.
	if merr := cmd.Meta.Validate(); merr != nil {
		outcome, statusText = "error", "INVALID_METADATA"
		return nil, merr
	}
	grouped := domcheckout.Group(cmd.Items)
	if len(grouped) == 0 {
		outcome, statusText = "error", "CART_EMPTY"
		return nil, domcheckout.ErrEmptyCart
	}
	if verr := domcheckout.ValidateGrouped(grouped); verr != nil {
		outcome, statusText = "rejected", "CART_INVALID"
		span.AddEvent("checkout.rejected")
		result = &Result{Outcome: OutcomeRejected, Reason: verr.Error()}
		return result, nil
	}
	total := domcheckout.Total(grouped)
	span.SetAttributes(attribute.Int64("checkout.amount", total))

	// PaymentPending: one outbound initiation call.
	handle, ierr := uc.initiate(ctx, cmd, total)
	if ierr != nil {
		if errors.Is(ierr, dompayment.ErrInvalidAmount) || errors.Is(ierr, dompayment.ErrMissingPhone) {
			outcome, statusText = "error", "INVALID_PAYMENT_REQUEST"
			return nil, ierr
		}
		outcome, statusText = "failed", "PAYMENT_START_FAILED"
		span.AddEvent("checkout.payment_start_failed")
		result = &Result{Outcome: OutcomeFailed, Reason: fmt.Sprintf("could not start payment: %v", ierr)}
		return result, nil
	}
	span.AddEvent("checkout.payment_initiated",
		trace.WithAttributes(attribute.String("payment.checkout_request_id", handle.CheckoutRequestID)),
	)

	// AwaitingConfirmation: poll until terminal status or budget exhaustion.
	payload, perr := uc.awaitConfirmation(ctx, handle.CheckoutRequestID)
	switch {
	case errors.Is(perr, context.Canceled), errors.Is(perr, context.DeadlineExceeded):
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, perr
	case errors.Is(perr, ErrPaymentTimeout):
		outcome, statusText = "timed_out", "PAYMENT_TIMEOUT"
		span.AddEvent("checkout.payment_timeout")
		result = &Result{Outcome: OutcomeTimedOut, TrackingID: handle.CheckoutRequestID,
			Reason: "payment status unknown, contact support"}
		return result, nil
	case perr != nil:
		outcome, statusText = "failed", "PAYMENT_DECLINED"
		span.AddEvent("checkout.payment_declined")
		result = &Result{Outcome: OutcomeFailed, TrackingID: handle.CheckoutRequestID,
			Reason: fmt.Sprintf("payment declined: %v", perr)}
		return result, nil
	}

	// Recording: build the order from the grouped cart and persist it.
	ord, berr := buildOrder(cmd, grouped, total, handle, payload)
	if berr != nil {
		outcome, statusText = "error", "ORDER_BUILD_FAILED"
		return nil, berr
	}
	orderID, replayed, rerr := uc.recorder.Record(ctx, ord)
	if rerr != nil {
		// Payment succeeded but no order row exists. Surfaced for manual
		// reconciliation; there is no compensating action.
		outcome, statusText = "recording_failed", "ORDER_RECORD_FAILED"
		span.AddEvent("checkout.recording_failed")
		logger.Error("order_record_failed_after_payment",
			observability.F("checkout_request_id", handle.CheckoutRequestID),
			observability.F("receipt", payload.ReceiptNumber),
			observability.F("error", rerr.Error()),
		)
		result = &Result{Outcome: OutcomeRecordingFailed, TrackingID: handle.CheckoutRequestID,
			ReceiptNumber: payload.ReceiptNumber, Reason: rerr.Error()}
		return result, nil
	}
	span.AddEvent("checkout.order_recorded",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)

	result = &Result{
		Outcome:       OutcomeCompleted,
		OrderID:       orderID,
		Replayed:      replayed,
		ReceiptNumber: payload.ReceiptNumber,
		TrackingID:    handle.CheckoutRequestID,
	}

	// AdjustingStock: sequential, no rollback. A replayed order already
	// decremented stock on its first pass.
	if !replayed {
		for _, line := range grouped {
			if _, aerr := uc.adjuster.Adjust(ctx, line.Product.ID, line.Quantity); aerr != nil {
				outcome, statusText = "stock_adjust_failed", "STOCK_ADJUST_FAILED"
				span.AddEvent("checkout.stock_adjust_failed",
					trace.WithAttributes(attribute.String("product.id", line.Product.ID)),
				)
				result.Outcome = OutcomeStockAdjustFailed
				result.Reason = fmt.Sprintf("stock adjustment failed for product %s: %v", line.Product.ID, aerr)
				return result, nil
			}
			result.AdjustedProducts = append(result.AdjustedProducts, line.Product.ID)
		}
	}

	uc.notifyCompleted(ctx, logger, result, cmd.Meta.OrderNumber, total)

	span.AddEvent("checkout.completed")
	return result, nil
}

func (uc *UseCase) initiate(ctx context.Context, cmd Input, total int64) (*dompayment.TrackingHandle, error) {
	start := time.Now()
	handle, err := uc.initiator.Initiate(ctx, dompayment.InitiateRequest{
		Amount:      total,
		PhoneNumber: cmd.Meta.CustomerPhone,
		OrderNumber: cmd.Meta.OrderNumber,
		UserID:      cmd.Meta.CustomerID,
	})
	uc.external(initiateEnd, err == nil, time.Since(start))
	return handle, err
}

// awaitConfirmation polls the prober until the gateway reports a terminal
// status. A transport error consumes an attempt rather than aborting: the
// probe is read-only, so retrying is safe. Returns the paid payload, a
// declined error, or ErrPaymentTimeout when the budget is spent.
func (uc *UseCase) awaitConfirmation(ctx context.Context, checkoutRequestID string) (*dompayment.StatusPayload, error) {
	logger := logctx.FromOr(ctx, uc.log)

	for attempt := 1; attempt <= uc.maxPollAttempts; attempt++ {
		start := time.Now()
		payload, err := uc.prober.Query(ctx, checkoutRequestID)
		uc.external(queryEnd, err == nil, time.Since(start))

		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return nil, err
		case err != nil:
			logger.Warn("payment_status_probe_failed",
				observability.F("attempt", attempt),
				observability.F("error", err.Error()),
			)
		case payload.State == dompayment.ResultPaid:
			return payload, nil
		case payload.State == dompayment.ResultFailed:
			return nil, fmt.Errorf("%s (code %s)", payload.ResultDescription, payload.ResultCode)
		}

		if attempt < uc.maxPollAttempts {
			if werr := wait(ctx, uc.pollInterval); werr != nil {
				return nil, werr
			}
		}
	}
	return nil, ErrPaymentTimeout
}

func (uc *UseCase) notifyCompleted(ctx context.Context, logger observability.Logger, result *Result, orderNumber string, total int64) {
	if uc.notifier == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	start := time.Now()
	err := uc.notifier.Publish(pubCtx, notify.OrderCompletedEvent{
		OrderID:     result.OrderID,
		OrderNumber: orderNumber,
		Amount:      total,
		Receipt:     result.ReceiptNumber,
		OccurredAt:  time.Now().UTC(),
	})
	uc.external(notifyEnd, err == nil, time.Since(start))
	if err != nil {
		// Best-effort: never fails the primary flow.
		logger.Warn("order_completed_notify_failed",
			observability.F("order_id", result.OrderID),
			observability.F("error", err.Error()),
		)
	}
}

func (uc *UseCase) external(endpoint string, ok bool, elapsed time.Duration) {
	peer := gatewayPeer
	if endpoint == notifyEnd {
		peer = notifyPeer
	}
	out := "success"
	if !ok {
		out = "error"
	}
	uc.extCounter.Add(1,
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", out),
	)
	uc.extHistogram.Observe(elapsed.Seconds(),
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
	)
}

func buildOrder(cmd Input, grouped []domcheckout.GroupedItem, total int64, handle *dompayment.TrackingHandle, payload *dompayment.StatusPayload) (*domorder.Order, error) {
	items := make([]domorder.LineItem, 0, len(grouped))
	for _, line := range grouped {
		var price int64
		if line.Product.Price != nil {
			price = *line.Product.Price
		}
		items = append(items, domorder.LineItem{
			ProductID: line.Product.ID,
			Name:      line.Product.Name,
			Quantity:  line.Quantity,
			UnitPrice: price,
			Image:     line.Product.Image,
		})
	}

	method := cmd.PaymentMethod
	if method == "" {
		method = "mpesa"
	}

	ord, err := domorder.New(
		cmd.Meta.OrderNumber,
		cmd.Meta.CustomerName,
		cmd.Meta.CustomerEmail,
		cmd.Meta.CustomerPhone,
		cmd.Meta.CustomerID,
		items,
		total,
		method,
	)
	if err != nil {
		return nil, err
	}
	ord.GatewayRef = handle.CheckoutRequestID
	if err := ord.MarkPaid(payload.ReceiptNumber); err != nil {
		return nil, err
	}
	return ord, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
