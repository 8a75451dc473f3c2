package httppresentation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	appcheckout "github.com/sokoline/storefront/internal/application/checkout"
	appinventory "github.com/sokoline/storefront/internal/application/inventory"
	apporder "github.com/sokoline/storefront/internal/application/order"
	domcheckout "github.com/sokoline/storefront/internal/domain/checkout"
	dominventory "github.com/sokoline/storefront/internal/domain/inventory"
	domorder "github.com/sokoline/storefront/internal/domain/order"
	dompayment "github.com/sokoline/storefront/internal/domain/payment"
	"github.com/sokoline/storefront/internal/observability"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
)

type Handler struct {
	initiator dompayment.Initiator
	prober    dompayment.Prober
	orders    *apporder.RecordUseCase
	stock     *appinventory.Service
	checkout  *appcheckout.UseCase
	log       observability.Logger
	tel       observability.Observability
}

func NewHandler(
	initiator dompayment.Initiator,
	prober dompayment.Prober,
	orders *apporder.RecordUseCase,
	stock *appinventory.Service,
	checkoutUC *appcheckout.UseCase,
	logger observability.Logger,
	tel observability.Observability,
) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		initiator: initiator,
		prober:    prober,
		orders:    orders,
		stock:     stock,
		checkout:  checkoutUC,
		log:       logger.With(observability.F("component", componentHTTPHandler)),
		tel:       tel,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Trace -> request logger -> HTTP metrics + access log -> handler.
	r.Use(h.withTrace)
	r.Use(ObservabilityMiddleware(h.log, func(r *http.Request) string {
		return r.Header.Get(headerRequestID)
	}, h.tel))

	r.Post("/checkout", h.handleCheckout)
	r.Post("/payments/initiate", h.handleInitiatePayment)
	r.Post("/payments/status", h.handlePaymentStatus)
	r.Post("/orders", h.handleCreateOrder)
	r.Post("/stock/update", h.handleStockUpdate)
	r.Get("/health", h.handleHealth)

	return r
}

type initiatePaymentRequest struct {
	Amount      int64  `json:"amount"`
	PhoneNumber string `json:"phoneNumber"`
	OrderNumber string `json:"orderNumber"`
	UserID      string `json:"userId"`
}

type initiatePaymentResponse struct {
	CheckoutRequestID   string `json:"checkoutRequestId"`
	MerchantRequestID   string `json:"merchantRequestId"`
	ResponseCode        string `json:"responseCode"`
	ResponseDescription string `json:"responseDescription"`
	CustomerMessage     string `json:"customerMessage"`
}

func (h *Handler) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	handle, err := h.initiator.Initiate(r.Context(), dompayment.InitiateRequest{
		Amount:      req.Amount,
		PhoneNumber: req.PhoneNumber,
		OrderNumber: req.OrderNumber,
		UserID:      req.UserID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, initiatePaymentResponse{
		CheckoutRequestID:   handle.CheckoutRequestID,
		MerchantRequestID:   handle.MerchantRequestID,
		ResponseCode:        handle.ResponseCode,
		ResponseDescription: handle.ResponseDescription,
		CustomerMessage:     handle.CustomerMessage,
	})
}

type paymentStatusRequest struct {
	CheckoutRequestID string `json:"checkoutRequestId"`
}

type paymentStatusResponse struct {
	State             string `json:"state"`
	ResultCode        string `json:"resultCode"`
	ResultDescription string `json:"resultDescription"`
	Amount            int64  `json:"amount,omitempty"`
	ReceiptNumber     string `json:"receiptNumber,omitempty"`
}

func (h *Handler) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req paymentStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.CheckoutRequestID == "" {
		writeError(w, http.StatusBadRequest, dompayment.ErrMissingHandle)
		return
	}

	payload, err := h.prober.Query(r.Context(), req.CheckoutRequestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, paymentStatusResponse{
		State:             string(payload.State),
		ResultCode:        payload.ResultCode,
		ResultDescription: payload.ResultDescription,
		Amount:            payload.Amount,
		ReceiptNumber:     payload.ReceiptNumber,
	})
}

type orderCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	ID    string `json:"id"`
}

type orderProduct struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
	Image     string `json:"image"`
}

type createOrderRequest struct {
	OrderNumber   string         `json:"order_number"`
	Amount        int64          `json:"amount"`
	PaymentMethod string         `json:"payment_method"`
	Customer      orderCustomer  `json:"customer"`
	Products      []orderProduct `json:"products"`
}

type createOrderResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	items := make([]domorder.LineItem, 0, len(req.Products))
	for _, p := range req.Products {
		items = append(items, domorder.LineItem{
			ProductID: p.ProductID,
			Name:      p.Name,
			Quantity:  p.Quantity,
			UnitPrice: p.Price,
			Image:     p.Image,
		})
	}

	ord, err := domorder.New(
		req.OrderNumber,
		req.Customer.Name,
		req.Customer.Email,
		req.Customer.Phone,
		req.Customer.ID,
		items,
		req.Amount,
		req.PaymentMethod,
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, _, err := h.orders.Record(r.Context(), ord)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{Success: true, ID: id})
}

type stockUpdateRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type stockUpdateResponse struct {
	Success  bool `json:"success"`
	NewStock int  `json:"newStock"`
}

func (h *Handler) handleStockUpdate(w http.ResponseWriter, r *http.Request) {
	var req stockUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, errors.New("productId is required"))
		return
	}

	newStock, err := h.stock.Adjust(r.Context(), req.ProductID, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stockUpdateResponse{Success: true, NewStock: newStock})
}

type checkoutItem struct {
	Product  checkoutProduct `json:"product"`
	Quantity int             `json:"quantity"`
}

type checkoutProduct struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price *int64 `json:"price"`
	Image string `json:"image"`
}

type checkoutRequest struct {
	OrderNumber   string         `json:"order_number"`
	PaymentMethod string         `json:"payment_method"`
	Customer      orderCustomer  `json:"customer"`
	Items         []checkoutItem `json:"items"`
}

type checkoutResponse struct {
	Outcome       string   `json:"outcome"`
	OrderID       string   `json:"order_id,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	ReceiptNumber string   `json:"receipt_number,omitempty"`
	TrackingID    string   `json:"tracking_id,omitempty"`
	Adjusted      []string `json:"adjusted,omitempty"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	items := make([]domcheckout.CartItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domcheckout.CartItem{
			Product: domcheckout.Product{
				ID:    item.Product.ID,
				Name:  item.Product.Name,
				Price: item.Product.Price,
				Image: item.Product.Image,
			},
			Quantity: item.Quantity,
		})
	}

	result, err := h.checkout.Execute(r.Context(), appcheckout.Input{
		Items: items,
		Meta: domcheckout.Metadata{
			OrderNumber:   req.OrderNumber,
			CustomerName:  req.Customer.Name,
			CustomerEmail: req.Customer.Email,
			CustomerPhone: req.Customer.Phone,
			CustomerID:    req.Customer.ID,
		},
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		Outcome:       string(result.Outcome),
		OrderID:       result.OrderID,
		Reason:        result.Reason,
		ReceiptNumber: result.ReceiptNumber,
		TrackingID:    result.TrackingID,
		Adjusted:      result.AdjustedProducts,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domorder.ErrNotFound),
		errors.Is(err, dominventory.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, dompayment.ErrInvalidAmount),
		errors.Is(err, dompayment.ErrMissingPhone),
		errors.Is(err, dompayment.ErrMissingHandle),
		errors.Is(err, dominventory.ErrInvalidQuantity),
		errors.Is(err, domorder.ErrMissingEmail),
		errors.Is(err, domorder.ErrMissingOrderNumber),
		errors.Is(err, domorder.ErrNoItems),
		errors.Is(err, domorder.ErrInvalidQuantity),
		errors.Is(err, domorder.ErrInvalidPrice),
		errors.Is(err, domcheckout.ErrEmptyCart),
		errors.Is(err, domcheckout.ErrInvalidQuantity),
		errors.Is(err, domcheckout.ErrUnpricedProduct),
		errors.Is(err, domcheckout.ErrMissingOrderNo),
		errors.Is(err, domcheckout.ErrMissingCustomerE):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, dompayment.ErrGatewayUnreachable),
		errors.Is(err, dompayment.ErrGatewayRejected):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
