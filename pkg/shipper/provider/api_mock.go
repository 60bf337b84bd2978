package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/shipsync/pkg/shipper"
)

// MockAPIClient is a mock implementation of APIClient for tests and local runs.
// Each operation calls its On* hook when set, otherwise returns canned data.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnCreateOrder              func(ctx context.Context, req *OrderRequest) (*OrderResponse, error)
	OnUpdateOrder              func(ctx context.Context, req *UpdateOrderRequest) (*OrderResponse, error)
	OnCancelOrder              func(ctx context.Context, req *CancelRequest) (*CancelResponse, error)
	OnGetShipment              func(ctx context.Context, providerOrderID string) (*ShipmentInfo, error)
	OnGetLabel                 func(ctx context.Context, providerOrderID, format string) (*LabelResponse, error)
	OnTrackShipment            func(ctx context.Context, req *TrackRequest) (*TrackResponse, error)
	OnAssignDriver             func(ctx context.Context, req *AssignDriverRequest) (*AssignDriverResponse, error)
	OnCheckDeliveryFee         func(ctx context.Context, req *DeliveryFeeRequest) (*DeliveryFeeResponse, error)
	OnCheckContractDeliveryFee func(ctx context.Context, req *DeliveryFeeRequest) (*DeliveryFeeResponse, error)
	OnHealthCheck              func(ctx context.Context) (*HealthResponse, error)

	mu    sync.Mutex
	calls map[string]int
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{calls: make(map[string]int)}
}

// Calls returns how many times op was invoked.
func (m *MockAPIClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// begin records the call and applies simulated latency and errors.
func (m *MockAPIClient) begin(ctx context.Context, op string) error {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
	m.mu.Unlock()

	if m.SimulateLatency > 0 {
		select {
		case <-time.After(m.SimulateLatency):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", shipper.ErrProviderUnreachable, ctx.Err())
		}
	}
	if m.SimulateErrors {
		return &shipper.ProviderError{
			Operation:  op,
			StatusCode: http.StatusInternalServerError,
			Code:       "MOCK_ERROR",
			Message:    "Simulated API error",
		}
	}
	return nil
}

// CreateOrder returns a new provider order with a tracking number.
func (m *MockAPIClient) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	if err := m.begin(ctx, "createOrder"); err != nil {
		return nil, err
	}
	if m.OnCreateOrder != nil {
		return m.OnCreateOrder(ctx, req)
	}

	id := uuid.New().String()[:8]
	return &OrderResponse{
		Success:           true,
		OrderID:           "po-" + id,
		ShipmentID:        "ps-" + id,
		TrackingNumber:    fmt.Sprintf("TRK%d", 100000000+time.Now().UnixNano()%900000000),
		Status:            "new",
		DeliveryCompany:   req.DeliveryCompanyCode,
		EstimatedDelivery: time.Now().AddDate(0, 0, 3).Format("2006-01-02"),
	}, nil
}

// UpdateOrder echoes a successful update.
func (m *MockAPIClient) UpdateOrder(ctx context.Context, req *UpdateOrderRequest) (*OrderResponse, error) {
	if err := m.begin(ctx, "updateOrder"); err != nil {
		return nil, err
	}
	if m.OnUpdateOrder != nil {
		return m.OnUpdateOrder(ctx, req)
	}
	return &OrderResponse{Success: true, OrderID: req.OrderID, Status: "new"}, nil
}

// CancelOrder reports the order as cancelled.
func (m *MockAPIClient) CancelOrder(ctx context.Context, req *CancelRequest) (*CancelResponse, error) {
	if err := m.begin(ctx, "cancelOrder"); err != nil {
		return nil, err
	}
	if m.OnCancelOrder != nil {
		return m.OnCancelOrder(ctx, req)
	}
	return &CancelResponse{Success: true, OrderID: req.OrderID, Status: "cancelled"}, nil
}

// GetShipment returns shipment details for the order.
func (m *MockAPIClient) GetShipment(ctx context.Context, providerOrderID string) (*ShipmentInfo, error) {
	if err := m.begin(ctx, "getShipment"); err != nil {
		return nil, err
	}
	if m.OnGetShipment != nil {
		return m.OnGetShipment(ctx, providerOrderID)
	}
	return &ShipmentInfo{
		OrderID:    providerOrderID,
		ShipmentID: "ps-" + providerOrderID,
		Status:     "new",
		LabelURL:   fmt.Sprintf("https://labels.mock/%s.pdf", providerOrderID),
	}, nil
}

// GetLabel returns a hosted label URL.
func (m *MockAPIClient) GetLabel(ctx context.Context, providerOrderID, format string) (*LabelResponse, error) {
	if err := m.begin(ctx, "getLabel"); err != nil {
		return nil, err
	}
	if m.OnGetLabel != nil {
		return m.OnGetLabel(ctx, providerOrderID, format)
	}
	if format == "" {
		format = "pdf"
	}
	return &LabelResponse{
		OrderID: providerOrderID,
		Format:  format,
		URL:     fmt.Sprintf("https://labels.mock/%s.%s", providerOrderID, format),
	}, nil
}

// TrackShipment returns a single "new" event.
func (m *MockAPIClient) TrackShipment(ctx context.Context, req *TrackRequest) (*TrackResponse, error) {
	if err := m.begin(ctx, "trackShipment"); err != nil {
		return nil, err
	}
	if m.OnTrackShipment != nil {
		return m.OnTrackShipment(ctx, req)
	}
	return &TrackResponse{
		OrderID:        req.OrderID,
		TrackingNumber: req.TrackingNumber,
		Status:         "new",
		Events: []TrackingEvent{
			{Status: "new", Description: "Shipment created", Timestamp: time.Now().UTC().Format(time.RFC3339)},
		},
	}, nil
}

// AssignDriver reports every order as assigned.
func (m *MockAPIClient) AssignDriver(ctx context.Context, req *AssignDriverRequest) (*AssignDriverResponse, error) {
	if err := m.begin(ctx, "assignDriver"); err != nil {
		return nil, err
	}
	if m.OnAssignDriver != nil {
		return m.OnAssignDriver(ctx, req)
	}
	return &AssignDriverResponse{Success: true, Assigned: req.OrderIDs}, nil
}

// GetOrderStatus returns "new".
func (m *MockAPIClient) GetOrderStatus(ctx context.Context, providerOrderID string) (*OrderStatusResponse, error) {
	if err := m.begin(ctx, "orderStatus"); err != nil {
		return nil, err
	}
	return &OrderStatusResponse{OrderID: providerOrderID, Status: "new", UpdatedAt: time.Now().UTC().Format(time.RFC3339)}, nil
}

// GetOrderHistory returns a one-entry history.
func (m *MockAPIClient) GetOrderHistory(ctx context.Context, providerOrderID string) (*OrderHistoryResponse, error) {
	if err := m.begin(ctx, "orderHistory"); err != nil {
		return nil, err
	}
	return &OrderHistoryResponse{
		OrderID: providerOrderID,
		History: []TrackingEvent{{Status: "new", Timestamp: time.Now().UTC().Format(time.RFC3339)}},
	}, nil
}

// ListPickupLocations returns one warehouse.
func (m *MockAPIClient) ListPickupLocations(ctx context.Context) (*PickupLocationList, error) {
	if err := m.begin(ctx, "listPickupLocations"); err != nil {
		return nil, err
	}
	return &PickupLocationList{Locations: []PickupLocation{
		{Code: "WH-1", Name: "Main Warehouse", City: "Riyadh", Country: "SA", Status: "active"},
	}}, nil
}

// CreatePickupLocation accepts any location.
func (m *MockAPIClient) CreatePickupLocation(ctx context.Context, loc *PickupLocation) (*PickupLocationResponse, error) {
	if err := m.begin(ctx, "createPickupLocation"); err != nil {
		return nil, err
	}
	code := loc.Code
	if code == "" {
		code = "WH-" + uuid.New().String()[:6]
	}
	return &PickupLocationResponse{Success: true, Code: code}, nil
}

// UpdatePickupLocation accepts any update.
func (m *MockAPIClient) UpdatePickupLocation(ctx context.Context, loc *PickupLocation) (*PickupLocationResponse, error) {
	if err := m.begin(ctx, "updatePickupLocation"); err != nil {
		return nil, err
	}
	return &PickupLocationResponse{Success: true, Code: loc.Code}, nil
}

// CheckDeliveryFee returns two provider-rate quotes.
func (m *MockAPIClient) CheckDeliveryFee(ctx context.Context, req *DeliveryFeeRequest) (*DeliveryFeeResponse, error) {
	if err := m.begin(ctx, "checkDeliveryFee"); err != nil {
		return nil, err
	}
	if m.OnCheckDeliveryFee != nil {
		return m.OnCheckDeliveryFee(ctx, req)
	}
	return &DeliveryFeeResponse{Success: true, Fees: []DeliveryFee{
		{CompanyCode: "smsa", CompanyName: "SMSA", Price: 25 + req.Weight*2, Currency: "SAR", EstimatedDays: "2-3"},
		{CompanyCode: "aramex", CompanyName: "Aramex", Price: 28 + req.Weight*2, Currency: "SAR", EstimatedDays: "1-2"},
	}}, nil
}

// CheckContractDeliveryFee returns one contract-rate quote.
func (m *MockAPIClient) CheckContractDeliveryFee(ctx context.Context, req *DeliveryFeeRequest) (*DeliveryFeeResponse, error) {
	if err := m.begin(ctx, "checkContractDeliveryFee"); err != nil {
		return nil, err
	}
	if m.OnCheckContractDeliveryFee != nil {
		return m.OnCheckContractDeliveryFee(ctx, req)
	}
	return &DeliveryFeeResponse{Success: true, Fees: []DeliveryFee{
		{CompanyCode: "smsa", CompanyName: "SMSA", ServiceType: "contract", Price: 19 + req.Weight*1.5, Currency: "SAR"},
	}}, nil
}

// BuyCredit returns a payment link.
func (m *MockAPIClient) BuyCredit(ctx context.Context, req *BuyCreditRequest) (*BuyCreditResponse, error) {
	if err := m.begin(ctx, "buyCredit"); err != nil {
		return nil, err
	}
	return &BuyCreditResponse{Success: true, PaymentURL: "https://pay.mock/" + uuid.New().String()[:8]}, nil
}

// GetWalletBalance returns a fixed balance.
func (m *MockAPIClient) GetWalletBalance(ctx context.Context) (*WalletBalance, error) {
	if err := m.begin(ctx, "getWalletBalance"); err != nil {
		return nil, err
	}
	return &WalletBalance{Balance: 500, Currency: "SAR"}, nil
}

// GetAccountInfo returns a fixed account.
func (m *MockAPIClient) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	if err := m.begin(ctx, "accountInfo"); err != nil {
		return nil, err
	}
	return &AccountInfo{ID: "acct-mock", CompanyName: "Mock Store", Email: "ops@store.mock", WalletAmount: 500}, nil
}

// ListDeliveryCompanies returns two carriers.
func (m *MockAPIClient) ListDeliveryCompanies(ctx context.Context) (*DeliveryCompanyList, error) {
	if err := m.begin(ctx, "listDeliveryCompanies"); err != nil {
		return nil, err
	}
	return &DeliveryCompanyList{Companies: []DeliveryCompany{
		{Code: "smsa", Name: "SMSA", Enabled: true},
		{Code: "aramex", Name: "Aramex", Enabled: false},
	}}, nil
}

// GetDeliveryCompanyConfig returns empty settings.
func (m *MockAPIClient) GetDeliveryCompanyConfig(ctx context.Context, code string) (*DeliveryCompanyConfig, error) {
	if err := m.begin(ctx, "getDeliveryCompanyConfig"); err != nil {
		return nil, err
	}
	return &DeliveryCompanyConfig{Code: code, Settings: []byte(`{}`)}, nil
}

// ActivateDeliveryCompany accepts any carrier.
func (m *MockAPIClient) ActivateDeliveryCompany(ctx context.Context, req *ActivateDeliveryCompanyRequest) (*ActivateDeliveryCompanyResponse, error) {
	if err := m.begin(ctx, "activateDeliveryCompany"); err != nil {
		return nil, err
	}
	return &ActivateDeliveryCompanyResponse{Success: true}, nil
}

// HealthCheck reports "ok".
func (m *MockAPIClient) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	if err := m.begin(ctx, "healthCheck"); err != nil {
		return nil, err
	}
	if m.OnHealthCheck != nil {
		return m.OnHealthCheck(ctx)
	}
	return &HealthResponse{Status: "ok"}, nil
}

// Ensure MockAPIClient implements APIClient interface
var _ APIClient = (*MockAPIClient)(nil)
