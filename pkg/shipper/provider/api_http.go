package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tournevent/shipsync/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 20 * time.Second
	maxBodySize    = 1 << 20
	userAgent      = "shipsync/1.0"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *otelzap.Logger
	tracer     trace.Tracer
	metrics    MetricsRecorder
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL    string
	Timeout    time.Duration // bounds every call, including the retried one
	Tokens     TokenSource
	HTTPClient *http.Client // overrides Timeout when set
	Logger     *otelzap.Logger
	Tracer     trace.Tracer
	Metrics    MetricsRecorder
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/tournevent/shipsync/pkg/shipper/provider")
	}
	var metrics MetricsRecorder = noopMetrics{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}

	return &HTTPAPIClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     cfg.Tokens,
		httpClient: httpClient,
		logger:     logger,
		tracer:     tracer,
		metrics:    metrics,
	}
}

// ============================================================================
// Orders and shipments
// ============================================================================

// CreateOrder creates a provider order. POST /createOrder
func (c *HTTPAPIClient) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	return do[OrderResponse](ctx, c, "createOrder", http.MethodPost, "/createOrder", req)
}

// UpdateOrder amends a provider order before pickup. POST /updateOrder
func (c *HTTPAPIClient) UpdateOrder(ctx context.Context, req *UpdateOrderRequest) (*OrderResponse, error) {
	return do[OrderResponse](ctx, c, "updateOrder", http.MethodPost, "/updateOrder", req)
}

// CancelOrder cancels a provider order. POST /cancelOrder
func (c *HTTPAPIClient) CancelOrder(ctx context.Context, req *CancelRequest) (*CancelResponse, error) {
	return do[CancelResponse](ctx, c, "cancelOrder", http.MethodPost, "/cancelOrder", req)
}

// GetShipment fetches shipment details. GET /getShipment?orderId=
func (c *HTTPAPIClient) GetShipment(ctx context.Context, providerOrderID string) (*ShipmentInfo, error) {
	path := "/getShipment?" + url.Values{"orderId": {providerOrderID}}.Encode()
	return do[ShipmentInfo](ctx, c, "getShipment", http.MethodGet, path, nil)
}

// GetLabel fetches the airway bill. GET /printAWB?orderId=&format=
func (c *HTTPAPIClient) GetLabel(ctx context.Context, providerOrderID, format string) (*LabelResponse, error) {
	q := url.Values{"orderId": {providerOrderID}}
	if format != "" {
		q.Set("format", format)
	}
	return do[LabelResponse](ctx, c, "getLabel", http.MethodGet, "/printAWB?"+q.Encode(), nil)
}

// TrackShipment fetches live tracking. POST /trackShipment
func (c *HTTPAPIClient) TrackShipment(ctx context.Context, req *TrackRequest) (*TrackResponse, error) {
	return do[TrackResponse](ctx, c, "trackShipment", http.MethodPost, "/trackShipment", req)
}

// AssignDriver assigns one driver to a batch of orders. POST /assignDriver
func (c *HTTPAPIClient) AssignDriver(ctx context.Context, req *AssignDriverRequest) (*AssignDriverResponse, error) {
	return do[AssignDriverResponse](ctx, c, "assignDriver", http.MethodPost, "/assignDriver", req)
}

// GetOrderStatus fetches the provider's current order status. POST /orderStatus
func (c *HTTPAPIClient) GetOrderStatus(ctx context.Context, providerOrderID string) (*OrderStatusResponse, error) {
	body := map[string]string{"orderId": providerOrderID}
	return do[OrderStatusResponse](ctx, c, "orderStatus", http.MethodPost, "/orderStatus", body)
}

// GetOrderHistory fetches the provider's status history. POST /orderHistory
func (c *HTTPAPIClient) GetOrderHistory(ctx context.Context, providerOrderID string) (*OrderHistoryResponse, error) {
	body := map[string]string{"orderId": providerOrderID}
	return do[OrderHistoryResponse](ctx, c, "orderHistory", http.MethodPost, "/orderHistory", body)
}

// ============================================================================
// Pickup locations
// ============================================================================

// ListPickupLocations lists the merchant's pickup locations. GET /getPickupLocationList
func (c *HTTPAPIClient) ListPickupLocations(ctx context.Context) (*PickupLocationList, error) {
	return do[PickupLocationList](ctx, c, "listPickupLocations", http.MethodGet, "/getPickupLocationList", nil)
}

// CreatePickupLocation registers a pickup location. POST /createPickupLocation
func (c *HTTPAPIClient) CreatePickupLocation(ctx context.Context, loc *PickupLocation) (*PickupLocationResponse, error) {
	return do[PickupLocationResponse](ctx, c, "createPickupLocation", http.MethodPost, "/createPickupLocation", loc)
}

// UpdatePickupLocation updates a pickup location by code. POST /updatePickupLocation
func (c *HTTPAPIClient) UpdatePickupLocation(ctx context.Context, loc *PickupLocation) (*PickupLocationResponse, error) {
	return do[PickupLocationResponse](ctx, c, "updatePickupLocation", http.MethodPost, "/updatePickupLocation", loc)
}

// ============================================================================
// Rates
// ============================================================================

// CheckDeliveryFee quotes provider rates. POST /checkDeliveryFee
func (c *HTTPAPIClient) CheckDeliveryFee(ctx context.Context, req *DeliveryFeeRequest) (*DeliveryFeeResponse, error) {
	return do[DeliveryFeeResponse](ctx, c, "checkDeliveryFee", http.MethodPost, "/checkDeliveryFee", req)
}

// CheckContractDeliveryFee quotes the merchant's own contract rates. POST /checkContractDeliveryFee
func (c *HTTPAPIClient) CheckContractDeliveryFee(ctx context.Context, req *DeliveryFeeRequest) (*DeliveryFeeResponse, error) {
	return do[DeliveryFeeResponse](ctx, c, "checkContractDeliveryFee", http.MethodPost, "/checkContractDeliveryFee", req)
}

// ============================================================================
// Account
// ============================================================================

// BuyCredit tops up the provider wallet. POST /buyCredit
func (c *HTTPAPIClient) BuyCredit(ctx context.Context, req *BuyCreditRequest) (*BuyCreditResponse, error) {
	return do[BuyCreditResponse](ctx, c, "buyCredit", http.MethodPost, "/buyCredit", req)
}

// GetWalletBalance fetches the wallet balance. GET /getWalletBalance
func (c *HTTPAPIClient) GetWalletBalance(ctx context.Context) (*WalletBalance, error) {
	return do[WalletBalance](ctx, c, "getWalletBalance", http.MethodGet, "/getWalletBalance", nil)
}

// GetAccountInfo fetches the merchant account. GET /accountInfo
func (c *HTTPAPIClient) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	return do[AccountInfo](ctx, c, "accountInfo", http.MethodGet, "/accountInfo", nil)
}

// ============================================================================
// Delivery companies
// ============================================================================

// ListDeliveryCompanies lists carriers available through the provider. GET /getDeliveryCompanyList
func (c *HTTPAPIClient) ListDeliveryCompanies(ctx context.Context) (*DeliveryCompanyList, error) {
	return do[DeliveryCompanyList](ctx, c, "listDeliveryCompanies", http.MethodGet, "/getDeliveryCompanyList", nil)
}

// GetDeliveryCompanyConfig fetches one carrier's settings. GET /getDeliveryCompanyConfig
func (c *HTTPAPIClient) GetDeliveryCompanyConfig(ctx context.Context, code string) (*DeliveryCompanyConfig, error) {
	path := "/getDeliveryCompanyConfig?" + url.Values{"deliveryCompanyCode": {code}}.Encode()
	return do[DeliveryCompanyConfig](ctx, c, "getDeliveryCompanyConfig", http.MethodGet, path, nil)
}

// ActivateDeliveryCompany enables a carrier on the account. POST /activateDeliveryCompany
func (c *HTTPAPIClient) ActivateDeliveryCompany(ctx context.Context, req *ActivateDeliveryCompanyRequest) (*ActivateDeliveryCompanyResponse, error) {
	return do[ActivateDeliveryCompanyResponse](ctx, c, "activateDeliveryCompany", http.MethodPost, "/activateDeliveryCompany", req)
}

// HealthCheck probes the provider. GET /healthCheck
func (c *HTTPAPIClient) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	return do[HealthResponse](ctx, c, "healthCheck", http.MethodGet, "/healthCheck", nil)
}

// ============================================================================
// Transport
// ============================================================================

// do runs one provider operation and decodes a successful body into T.
func do[T any](ctx context.Context, c *HTTPAPIClient, op, method, path string, in any) (*T, error) {
	var out T
	if err := c.call(ctx, op, method, path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call issues a provider operation with tracing, metrics and the auth retry.
func (c *HTTPAPIClient) call(ctx context.Context, op, method, path string, in, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "provider."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("provider.operation", op),
		),
	)
	start := time.Now()
	defer func() {
		c.metrics.RecordProviderCall(op, outcome(err), time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var body []byte
	if in != nil {
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
	}

	resp, err := c.sendWithAuthRetry(ctx, op, method, path, body, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// sendWithAuthRetry sends the request with the current bearer token. A 401
// on the first attempt refreshes the credential once and re-sends the same
// body; a 401 on the retried attempt is returned to the caller as is.
func (c *HTTPAPIClient) sendWithAuthRetry(ctx context.Context, op, method, path string, body []byte, retried bool) (*http.Response, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || retried || !c.tokens.CanRefresh() {
		return resp, nil
	}

	drain(resp)
	c.logger.Ctx(ctx).Info("Provider rejected access token, refreshing",
		zap.String("operation", op),
	)
	if _, err := c.tokens.Refresh(ctx, token); err != nil {
		return nil, err
	}
	return c.sendWithAuthRetry(ctx, op, method, path, body, true)
}

// send performs a single HTTP exchange. Transport failures, including
// timeouts, are classified as ErrProviderUnreachable.
func (c *HTTPAPIClient) send(ctx context.Context, method, path string, body []byte, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", shipper.ErrProviderUnreachable, method, path, err)
	}
	return resp, nil
}

// parseError extracts a ProviderError from a non-2xx response.
func parseError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))

	perr := &shipper.ProviderError{
		Operation:  op,
		StatusCode: resp.StatusCode,
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && (apiErr.Code != "" || apiErr.Message != "") {
		perr.Code = apiErr.Code
		perr.Message = apiErr.Message
		perr.Details = apiErr.Details
		return perr
	}

	// Fall back to the generic {"error"|"message", "code"} shapes
	var simpleErr struct {
		Code    string `json:"code"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &simpleErr); err == nil {
		perr.Code = simpleErr.Code
		perr.Message = simpleErr.Message
		if perr.Message == "" {
			perr.Message = simpleErr.Error
		}
		if perr.Message != "" {
			return perr
		}
	}

	perr.Message = strings.TrimSpace(string(body))
	if perr.Message == "" {
		perr.Message = http.StatusText(resp.StatusCode)
	}
	return perr
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	resp.Body.Close()
}

// outcome labels a call result for metrics.
func outcome(err error) string {
	var perr *shipper.ProviderError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shipper.ErrRefreshFailed), errors.Is(err, shipper.ErrCredentialUnavailable):
		return "auth_error"
	case errors.As(err, &perr):
		return "http_error"
	case errors.Is(err, shipper.ErrProviderUnreachable):
		return "unreachable"
	default:
		return "error"
	}
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
