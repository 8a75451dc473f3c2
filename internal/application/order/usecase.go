package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/sokoline/storefront/internal/domain/order"
	"github.com/sokoline/storefront/internal/observability"
	"github.com/sokoline/storefront/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	useCaseOrderRecord = "order.record"
	spanPrefix         = "UC."
)

var (
	ErrNotFound   = domain.ErrNotFound
	ErrConflict   = domain.ErrConflict
	ErrRepository = errors.New("order: repository failure")
)

// RecordUseCase persists a fully-populated order exactly once per order
// number. A repeated submission with the same order number replays the
// original record instead of inserting a duplicate.
type RecordUseCase struct {
	repo        domain.Repository
	idGenerator IDGenerator
	tel         observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

func NewRecordUseCase(repo domain.Repository, idGen IDGenerator, tel observability.Observability) *RecordUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	baseLog := tel.Logger().With(
		observability.F("service", "order-recorder"),
	)
	metrics := tel.Metrics()

	return &RecordUseCase{
		repo:         repo,
		idGenerator:  idGen,
		tel:          tel,
		log:          baseLog,
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
	}
}

// Record validates, stamps, and inserts the order. It returns the document
// id and whether the write was an idempotent replay of an earlier submission.
func (uc *RecordUseCase) Record(ctx context.Context, ord *domain.Order) (_ string, replayed bool, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseOrderRecord))

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"RecordOrder",
		attribute.String("use_case", useCaseOrderRecord),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var orderID string

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
			observability.L("use_case", useCaseOrderRecord),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat,
			observability.L("use_case", useCaseOrderRecord),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if orderID != "" {
			fields = append(fields, observability.F("order_id", orderID))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if ord == nil {
		outcome, statusText = "error", "ORDER_NIL"
		return "", false, domain.ErrNoItems
	}
	span.SetAttributes(attribute.String("order.number", ord.OrderNumber))

	if verr := ord.ValidatePayload(); verr != nil {
		outcome, statusText = "error", "INVALID_PAYLOAD"
		return "", false, verr
	}
	if cerr := ctx.Err(); cerr != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return "", false, cerr
	}

	// Order number doubles as the idempotency key.
	existing, lookupErr := uc.repo.FindByOrderNumber(ctx, ord.OrderNumber)
	switch {
	case lookupErr == nil:
		orderID = existing.ID
		statusText = "IDEMPOTENT_REPLAY"
		span.AddEvent("order.idempotent_replay",
			trace.WithAttributes(attribute.String("order.id", orderID)),
		)
		return existing.ID, true, nil
	case errors.Is(lookupErr, domain.ErrNotFound):
		// continue
	default:
		outcome, statusText = "error", "IDEMPOTENCY_LOOKUP_FAILED"
		return "", false, wrapRepositoryError(lookupErr)
	}

	record := ord.Clone()
	record.ID = uc.idGenerator.NewID()
	if record.ConfirmationCode == "" {
		record.ConfirmationCode = uc.idGenerator.NewID()
	}
	record.ReceivedAt = time.Now().UTC()
	orderID = record.ID

	if ierr := uc.repo.Insert(ctx, record); ierr != nil {
		if errors.Is(ierr, domain.ErrConflict) {
			// Lost the race against a concurrent submission with the same
			// order number; replay whatever won.
			if winner, werr := uc.repo.FindByOrderNumber(ctx, ord.OrderNumber); werr == nil {
				orderID = winner.ID
				statusText = "IDEMPOTENT_REPLAY"
				return winner.ID, true, nil
			}
		}
		outcome, statusText = "error", "REPO_INSERT_FAILED"
		return "", false, wrapRepositoryError(ierr)
	}

	span.AddEvent("order.recorded",
		trace.WithAttributes(attribute.String("order.id", record.ID)),
	)
	return record.ID, false, nil
}

// Get loads one order by document id.
func (uc *RecordUseCase) Get(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, domain.ErrNotFound
	}
	ord, err := uc.repo.Get(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return ord, nil
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}
