package inventory

import (
	"context"
	"time"

	domain "github.com/sokoline/storefront/internal/domain/inventory"
	"github.com/sokoline/storefront/internal/observability"
	"github.com/sokoline/storefront/internal/observability/logctx"
)

const useCaseStockAdjust = "inventory.adjust"

// Service decrements stock for a product. The decrement itself is delegated
// to the repository so it happens atomically at the store layer; the result
// may still go negative, which is reported, not rejected.
type Service struct {
	repo domain.Repository
	tel  observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

func NewService(repo domain.Repository, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &Service{
		repo:         repo,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", "inventory-adjuster")),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
	}
}

// Adjust decrements quantity units of stock for productID and returns the
// new stock value.
func (s *Service) Adjust(ctx context.Context, productID string, quantity int) (_ int, err error) {
	logger := logctx.FromOr(ctx, s.log).With(
		observability.F("use_case", useCaseStockAdjust),
		observability.F("product_id", productID),
	)
	start := time.Now()
	outcome := "success"
	defer func() {
		s.reqCounter.Add(1,
			observability.L("use_case", useCaseStockAdjust),
			observability.L("outcome", outcome),
		)
		s.durHistogram.Observe(time.Since(start).Seconds(),
			observability.L("use_case", useCaseStockAdjust),
		)
	}()

	if productID == "" {
		outcome = "error"
		return 0, domain.ErrNotFound
	}
	if quantity <= 0 {
		outcome = "error"
		return 0, domain.ErrInvalidQuantity
	}

	newStock, err := s.repo.Adjust(ctx, productID, -quantity)
	if err != nil {
		outcome = "error"
		logger.Error("stock_adjust_failed", observability.F("error", err.Error()))
		return 0, err
	}

	if newStock < 0 {
		logger.Warn("stock_negative",
			observability.F("new_stock", newStock),
			observability.F("quantity", quantity),
		)
	}
	logger.Info("stock_adjusted",
		observability.F("quantity", quantity),
		observability.F("new_stock", newStock),
	)
	return newStock, nil
}

// Set writes an absolute stock value, creating the record when absent.
// Used for seeding and operator corrections.
func (s *Service) Set(ctx context.Context, productID string, quantity int) error {
	if productID == "" {
		return domain.ErrNotFound
	}
	return s.repo.Put(ctx, domain.NewItem(productID, quantity))
}

// Get returns the current stock record for productID.
func (s *Service) Get(ctx context.Context, productID string) (*domain.Item, error) {
	return s.repo.Get(ctx, productID)
}
