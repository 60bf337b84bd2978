package provider

import (
	"context"
	"encoding/json"
)

// APIClient defines every provider operation used by the engine.
// This abstraction allows for mock implementations during testing
// and the real HTTP implementation in production.
type APIClient interface {
	// Orders and shipments
	CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error)
	UpdateOrder(ctx context.Context, req *UpdateOrderRequest) (*OrderResponse, error)
	CancelOrder(ctx context.Context, req *CancelRequest) (*CancelResponse, error)
	GetShipment(ctx context.Context, providerOrderID string) (*ShipmentInfo, error)
	GetLabel(ctx context.Context, providerOrderID, format string) (*LabelResponse, error)
	TrackShipment(ctx context.Context, req *TrackRequest) (*TrackResponse, error)
	AssignDriver(ctx context.Context, req *AssignDriverRequest) (*AssignDriverResponse, error)
	GetOrderStatus(ctx context.Context, providerOrderID string) (*OrderStatusResponse, error)
	GetOrderHistory(ctx context.Context, providerOrderID string) (*OrderHistoryResponse, error)

	// Pickup locations
	ListPickupLocations(ctx context.Context) (*PickupLocationList, error)
	CreatePickupLocation(ctx context.Context, loc *PickupLocation) (*PickupLocationResponse, error)
	UpdatePickupLocation(ctx context.Context, loc *PickupLocation) (*PickupLocationResponse, error)

	// Rates
	CheckDeliveryFee(ctx context.Context, req *DeliveryFeeRequest) (*DeliveryFeeResponse, error)
	CheckContractDeliveryFee(ctx context.Context, req *DeliveryFeeRequest) (*DeliveryFeeResponse, error)

	// Account
	BuyCredit(ctx context.Context, req *BuyCreditRequest) (*BuyCreditResponse, error)
	GetWalletBalance(ctx context.Context) (*WalletBalance, error)
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)

	// Delivery companies
	ListDeliveryCompanies(ctx context.Context) (*DeliveryCompanyList, error)
	GetDeliveryCompanyConfig(ctx context.Context, code string) (*DeliveryCompanyConfig, error)
	ActivateDeliveryCompany(ctx context.Context, req *ActivateDeliveryCompanyRequest) (*ActivateDeliveryCompanyResponse, error)

	HealthCheck(ctx context.Context) (*HealthResponse, error)
}

// ============================================================================
// Token endpoint
// ============================================================================

// RefreshRequest is the body of POST /refreshToken.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse is returned by POST /refreshToken. RefreshToken is only
// present when the provider rotated it.
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// ============================================================================
// Orders
// ============================================================================

// Party is a sender or recipient on the wire.
type Party struct {
	Name       string `json:"name"`
	Phone      string `json:"mobile"`
	Email      string `json:"email,omitempty"`
	Address    string `json:"address"`
	District   string `json:"district,omitempty"`
	City       string `json:"city"`
	Country    string `json:"country"`
	PostalCode string `json:"postcode,omitempty"`
}

// Item is an order line item.
type Item struct {
	ProductID string  `json:"productId,omitempty"`
	SKU       string  `json:"sku,omitempty"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Box is a package on the wire. Weight in kg, dimensions in cm.
type Box struct {
	Name   string  `json:"name,omitempty"`
	Weight float64 `json:"weight"`
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Payment describes how the order is paid.
type Payment struct {
	Method    string  `json:"method"` // "paid" or "cod"
	Amount    float64 `json:"amount"`
	CODAmount float64 `json:"codAmount,omitempty"`
	Currency  string  `json:"currency"`
}

// OrderRequest is the body of POST /createOrder.
type OrderRequest struct {
	OrderID             string  `json:"orderId"` // merchant reference
	PickupLocationCode  string  `json:"pickupLocationCode,omitempty"`
	DeliveryCompanyCode string  `json:"deliveryCompanyCode,omitempty"`
	CreateShipment      bool    `json:"createShipment"`
	Notes               string  `json:"notes,omitempty"`
	Sender              Party   `json:"sender"`
	Recipient           Party   `json:"recipient"`
	Items               []Item  `json:"items"`
	Boxes               []Box   `json:"boxes"`
	Payment             Payment `json:"payment"`
}

// OrderResponse is returned by createOrder and updateOrder.
type OrderResponse struct {
	Success           bool   `json:"success"`
	OrderID           string `json:"providerOrderId"`
	ShipmentID        string `json:"shipmentId,omitempty"`
	TrackingNumber    string `json:"trackingNumber,omitempty"`
	Status            string `json:"status,omitempty"`
	DeliveryCompany   string `json:"deliveryCompany,omitempty"`
	EstimatedDelivery string `json:"estimatedDeliveryDate,omitempty"`
	Message           string `json:"message,omitempty"`
}

// UpdateOrderRequest is the body of POST /updateOrder.
type UpdateOrderRequest struct {
	OrderID   string `json:"orderId"`
	Recipient *Party `json:"recipient,omitempty"`
	Boxes     []Box  `json:"boxes,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// CancelRequest is the body of POST /cancelOrder.
type CancelRequest struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

// CancelResponse is returned by POST /cancelOrder.
type CancelResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// ShipmentInfo is returned by GET /getShipment.
type ShipmentInfo struct {
	OrderID         string `json:"orderId"`
	ShipmentID      string `json:"shipmentId"`
	TrackingNumber  string `json:"trackingNumber"`
	Status          string `json:"status"`
	DeliveryCompany string `json:"deliveryCompany,omitempty"`
	LabelURL        string `json:"printAWBURL,omitempty"`
}

// LabelResponse is returned by GET /printAWB.
type LabelResponse struct {
	OrderID string `json:"orderId"`
	Format  string `json:"format"`
	URL     string `json:"url,omitempty"`
	Data    string `json:"data,omitempty"` // base64 when inline
}

// TrackRequest is the body of POST /trackShipment.
type TrackRequest struct {
	OrderID        string `json:"orderId,omitempty"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
}

// TrackingEvent is a single provider tracking event.
type TrackingEvent struct {
	Status      string `json:"status"`
	Stage       string `json:"stage,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Timestamp   string `json:"timestamp"` // RFC 3339
}

// TrackResponse is returned by POST /trackShipment.
type TrackResponse struct {
	OrderID        string          `json:"orderId"`
	TrackingNumber string          `json:"trackingNumber"`
	Status         string          `json:"status"`
	Events         []TrackingEvent `json:"events"`
}

// AssignDriverRequest is the body of POST /assignDriver.
type AssignDriverRequest struct {
	OrderIDs []string `json:"orderIds"`
	DriverID string   `json:"driverId"`
}

// AssignDriverResponse is returned by POST /assignDriver.
type AssignDriverResponse struct {
	Success  bool     `json:"success"`
	Assigned []string `json:"assigned,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// OrderStatusResponse is returned by POST /orderStatus.
type OrderStatusResponse struct {
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// OrderHistoryResponse is returned by POST /orderHistory.
type OrderHistoryResponse struct {
	OrderID string          `json:"orderId"`
	History []TrackingEvent `json:"history"`
}

// ============================================================================
// Pickup locations
// ============================================================================

// PickupLocation is a merchant warehouse the provider collects from.
type PickupLocation struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Mobile      string  `json:"mobile"`
	Email       string  `json:"email,omitempty"`
	Address     string  `json:"address"`
	City        string  `json:"city"`
	Country     string  `json:"country"`
	PostalCode  string  `json:"postcode,omitempty"`
	Latitude    float64 `json:"lat,omitempty"`
	Longitude   float64 `json:"lon,omitempty"`
	ContactName string  `json:"contactName,omitempty"`
	Status      string  `json:"status,omitempty"`
}

// PickupLocationList is returned by GET /getPickupLocationList.
type PickupLocationList struct {
	Locations []PickupLocation `json:"branches"`
}

// PickupLocationResponse is returned by create/update pickup location.
type PickupLocationResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// ============================================================================
// Rates
// ============================================================================

// DeliveryFeeRequest is the body of the delivery fee checks.
type DeliveryFeeRequest struct {
	OriginCity          string  `json:"originCity"`
	DestinationCity     string  `json:"destinationCity"`
	Weight              float64 `json:"weight"`
	Length              float64 `json:"length,omitempty"`
	Width               float64 `json:"width,omitempty"`
	Height              float64 `json:"height,omitempty"`
	CODAmount           float64 `json:"codAmount,omitempty"`
	DeliveryCompanyCode string  `json:"deliveryCompanyCode,omitempty"`
}

// DeliveryFee is one company's price.
type DeliveryFee struct {
	CompanyCode   string  `json:"deliveryCompanyCode"`
	CompanyName   string  `json:"deliveryCompanyName"`
	ServiceType   string  `json:"serviceType,omitempty"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
	EstimatedDays string  `json:"avgDeliveryTime,omitempty"`
}

// DeliveryFeeResponse is returned by the delivery fee checks.
type DeliveryFeeResponse struct {
	Success bool          `json:"success"`
	Fees    []DeliveryFee `json:"deliveryCompany"`
}

// ============================================================================
// Account
// ============================================================================

// BuyCreditRequest is the body of POST /buyCredit.
type BuyCreditRequest struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// BuyCreditResponse is returned by POST /buyCredit.
type BuyCreditResponse struct {
	Success    bool    `json:"success"`
	PaymentURL string  `json:"paymentUrl,omitempty"`
	Balance    float64 `json:"balance,omitempty"`
}

// WalletBalance is returned by GET /getWalletBalance.
type WalletBalance struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// AccountInfo is returned by GET /accountInfo.
type AccountInfo struct {
	ID           string  `json:"id"`
	CompanyName  string  `json:"companyName"`
	Email        string  `json:"email"`
	Plan         string  `json:"plan,omitempty"`
	CreditLimit  float64 `json:"creditLimit,omitempty"`
	WalletAmount float64 `json:"walletAmount,omitempty"`
}

// ============================================================================
// Delivery companies
// ============================================================================

// DeliveryCompany is a carrier reachable through the provider.
type DeliveryCompany struct {
	Code    string `json:"deliveryCompanyCode"`
	Name    string `json:"deliveryCompanyName"`
	Logo    string `json:"logo,omitempty"`
	Enabled bool   `json:"enabled"`
}

// DeliveryCompanyList is returned by GET /getDeliveryCompanyList.
type DeliveryCompanyList struct {
	Companies []DeliveryCompany `json:"deliveryCompanies"`
}

// DeliveryCompanyConfig is returned by GET /getDeliveryCompanyConfig.
// Settings are carrier specific and kept opaque.
type DeliveryCompanyConfig struct {
	Code     string          `json:"deliveryCompanyCode"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// ActivateDeliveryCompanyRequest is the body of POST /activateDeliveryCompany.
type ActivateDeliveryCompanyRequest struct {
	Code     string          `json:"deliveryCompanyCode"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// ActivateDeliveryCompanyResponse is returned by POST /activateDeliveryCompany.
type ActivateDeliveryCompanyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /healthCheck.
type HealthResponse struct {
	Status string `json:"status"`
}

// APIError is the error body returned by the provider.
type APIError struct {
	Code    string          `json:"errorCode"`
	Message string          `json:"errorMsg"`
	Details json.RawMessage `json:"errors,omitempty"`
}
