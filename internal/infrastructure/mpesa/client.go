package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	dompayment "github.com/sokoline/storefront/internal/domain/payment"
	"github.com/sokoline/storefront/internal/observability"
	"github.com/sokoline/storefront/internal/observability/logctx"
)

const (
	tokenPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"

	// Daraja answers the query endpoint with this code while the STK prompt
	// is still open on the customer's phone.
	processingErrorCode = "500.001.1001"

	tokenSkew = 30 * time.Second
)

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

// Client talks to an STK-push style payment gateway. It implements
// payment.Initiator and payment.Prober and keeps no state beyond the
// cached bearer token.
type Client struct {
	cfg  Config
	http *http.Client
	log  observability.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time
	now      func() time.Time
}

func NewClient(cfg Config, logger observability.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger.With(observability.F("component", "mpesa_client")),
		now:  time.Now,
	}
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Initiate starts an STK push for the given amount and phone number.
// Validation failures return before any network call is made.
func (c *Client) Initiate(ctx context.Context, req dompayment.InitiateRequest) (*dompayment.TrackingHandle, error) {
	if req.Amount <= 0 {
		return nil, dompayment.ErrInvalidAmount
	}
	phone, err := normalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	logger := logctx.FromOr(ctx, c.log)
	timestamp := c.now().Format("20060102150405")

	body := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.OrderNumber,
		TransactionDesc:   "order " + req.OrderNumber,
	}

	var resp stkPushResponse
	if err := c.post(ctx, stkPushPath, body, &resp); err != nil {
		return nil, err
	}

	logger.Info("stk_push_initiated",
		observability.F("order_number", req.OrderNumber),
		observability.F("user_id", req.UserID),
		observability.F("checkout_request_id", resp.CheckoutRequestID),
	)

	return &dompayment.TrackingHandle{
		CheckoutRequestID:   resp.CheckoutRequestID,
		MerchantRequestID:   resp.MerchantRequestID,
		ResponseCode:        resp.ResponseCode,
		ResponseDescription: resp.ResponseDescription,
		CustomerMessage:     resp.CustomerMessage,
	}, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode       string `json:"ResponseCode"`
	ResultCode         string `json:"ResultCode"`
	ResultDesc         string `json:"ResultDesc"`
	Amount             int64  `json:"Amount"`
	MpesaReceiptNumber string `json:"MpesaReceiptNumber"`
	ErrorCode          string `json:"errorCode"`
	ErrorMessage       string `json:"errorMessage"`
}

// Query asks the gateway for the current status of a payment attempt. It is
// read-only and safe to call repeatedly; an empty handle fails before any
// network call.
func (c *Client) Query(ctx context.Context, checkoutRequestID string) (*dompayment.StatusPayload, error) {
	if checkoutRequestID == "" {
		return nil, dompayment.ErrMissingHandle
	}

	timestamp := c.now().Format("20060102150405")
	body := stkQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var resp stkQueryResponse
	if err := c.post(ctx, stkQueryPath, body, &resp); err != nil {
		// A still-processing attempt surfaces as a rejection with a known
		// error code; map it to a pending payload rather than a failure.
		var gwErr *gatewayError
		if asGatewayError(err, &gwErr) && gwErr.errorCode == processingErrorCode {
			return &dompayment.StatusPayload{
				State:             dompayment.ResultPending,
				ResultCode:        gwErr.errorCode,
				ResultDescription: gwErr.message,
			}, nil
		}
		return nil, err
	}

	payload := &dompayment.StatusPayload{
		ResultCode:        resp.ResultCode,
		ResultDescription: resp.ResultDesc,
		Amount:            resp.Amount,
		ReceiptNumber:     resp.MpesaReceiptNumber,
	}
	switch resp.ResultCode {
	case "0":
		payload.State = dompayment.ResultPaid
	case "":
		payload.State = dompayment.ResultPending
	default:
		payload.State = dompayment.ResultFailed
	}
	return payload, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mpesa: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mpesa: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", dompayment.ErrGatewayUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", dompayment.ErrGatewayUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newGatewayError(resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("mpesa: decode response: %w", err)
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// bearerToken fetches and caches the OAuth token, refreshing shortly before
// its reported expiry.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExp) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("mpesa: build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token: %w", dompayment.ErrGatewayUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: token: read response: %w", dompayment.ErrGatewayUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", newGatewayError(resp.StatusCode, raw)
	}

	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return "", fmt.Errorf("mpesa: decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", dompayment.ErrGatewayRejected)
	}

	ttl := 3600 * time.Second
	if secs, perr := time.ParseDuration(tok.ExpiresIn + "s"); perr == nil && secs > 0 {
		ttl = secs
	}
	c.token = tok.AccessToken
	c.tokenExp = c.now().Add(ttl - tokenSkew)
	return c.token, nil
}

func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))
}

// normalizePhone reduces a phone number to 254XXXXXXXXX digits.
func normalizePhone(phone string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)

	switch {
	case cleaned == "":
		return "", dompayment.ErrMissingPhone
	case strings.HasPrefix(cleaned, "254"):
		return cleaned, nil
	case strings.HasPrefix(cleaned, "0"):
		return "254" + cleaned[1:], nil
	case strings.HasPrefix(cleaned, "7") || strings.HasPrefix(cleaned, "1"):
		return "254" + cleaned, nil
	default:
		return cleaned, nil
	}
}
