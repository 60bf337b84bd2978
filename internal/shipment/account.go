package shipment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tournevent/shipsync/pkg/shipper"
	"github.com/tournevent/shipsync/pkg/shipper/provider"
	"golang.org/x/sync/errgroup"
)

// The operations below pass straight through to the provider.

func (s *Service) ListPickupLocations(ctx context.Context) (*provider.PickupLocationList, error) {
	return s.api.ListPickupLocations(ctx)
}

func (s *Service) CreatePickupLocation(ctx context.Context, loc *provider.PickupLocation) (*provider.PickupLocationResponse, error) {
	if loc == nil || loc.Name == "" {
		return nil, fmt.Errorf("%w: pickup location name is required", shipper.ErrInvalidRequest)
	}
	return s.api.CreatePickupLocation(ctx, loc)
}

func (s *Service) UpdatePickupLocation(ctx context.Context, loc *provider.PickupLocation) (*provider.PickupLocationResponse, error) {
	if loc == nil || loc.Code == "" {
		return nil, fmt.Errorf("%w: pickup location code is required", shipper.ErrInvalidRequest)
	}
	return s.api.UpdatePickupLocation(ctx, loc)
}

func (s *Service) CheckDeliveryFee(ctx context.Context, req *provider.DeliveryFeeRequest) (*provider.DeliveryFeeResponse, error) {
	if err := validateFeeRequest(req); err != nil {
		return nil, err
	}
	return s.api.CheckDeliveryFee(ctx, req)
}

func (s *Service) CheckContractDeliveryFee(ctx context.Context, req *provider.DeliveryFeeRequest) (*provider.DeliveryFeeResponse, error) {
	if err := validateFeeRequest(req); err != nil {
		return nil, err
	}
	return s.api.CheckContractDeliveryFee(ctx, req)
}

// FeeQuotes holds both fee variants. A variant that failed is nil and its
// error is kept alongside.
type FeeQuotes struct {
	Provider    *provider.DeliveryFeeResponse `json:"provider,omitempty"`
	Contract    *provider.DeliveryFeeResponse `json:"contract,omitempty"`
	ProviderErr error                         `json:"-"`
	ContractErr error                         `json:"-"`
}

// QuoteDeliveryFees checks the provider rate and the contract rate
// concurrently. It fails only when both variants fail.
func (s *Service) QuoteDeliveryFees(ctx context.Context, req *provider.DeliveryFeeRequest) (*FeeQuotes, error) {
	if err := validateFeeRequest(req); err != nil {
		return nil, err
	}

	quotes := &FeeQuotes{}
	mu := &sync.Mutex{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		resp, err := s.api.CheckDeliveryFee(gctx, req)
		mu.Lock()
		defer mu.Unlock()
		quotes.Provider, quotes.ProviderErr = resp, err
		return nil // one variant failing must not cancel the other
	})
	g.Go(func() error {
		resp, err := s.api.CheckContractDeliveryFee(gctx, req)
		mu.Lock()
		defer mu.Unlock()
		quotes.Contract, quotes.ContractErr = resp, err
		return nil
	})
	_ = g.Wait()

	if quotes.ProviderErr != nil && quotes.ContractErr != nil {
		return nil, errors.Join(quotes.ProviderErr, quotes.ContractErr)
	}
	return quotes, nil
}

func validateFeeRequest(req *provider.DeliveryFeeRequest) error {
	if req == nil || req.DestinationCity == "" {
		return fmt.Errorf("%w: destinationCity is required", shipper.ErrInvalidRequest)
	}
	if req.Weight <= 0 {
		return fmt.Errorf("%w: weight must be positive", shipper.ErrInvalidRequest)
	}
	return nil
}

func (s *Service) BuyCredit(ctx context.Context, req *provider.BuyCreditRequest) (*provider.BuyCreditResponse, error) {
	if req == nil || req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", shipper.ErrInvalidRequest)
	}
	return s.api.BuyCredit(ctx, req)
}

func (s *Service) WalletBalance(ctx context.Context) (*provider.WalletBalance, error) {
	return s.api.GetWalletBalance(ctx)
}

func (s *Service) AccountInfo(ctx context.Context) (*provider.AccountInfo, error) {
	return s.api.GetAccountInfo(ctx)
}

func (s *Service) ListDeliveryCompanies(ctx context.Context) (*provider.DeliveryCompanyList, error) {
	return s.api.ListDeliveryCompanies(ctx)
}

func (s *Service) DeliveryCompanyConfig(ctx context.Context, code string) (*provider.DeliveryCompanyConfig, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: deliveryCompanyCode is required", shipper.ErrInvalidRequest)
	}
	return s.api.GetDeliveryCompanyConfig(ctx, code)
}

func (s *Service) ActivateDeliveryCompany(ctx context.Context, req *provider.ActivateDeliveryCompanyRequest) (*provider.ActivateDeliveryCompanyResponse, error) {
	if req == nil || req.Code == "" {
		return nil, fmt.Errorf("%w: deliveryCompanyCode is required", shipper.ErrInvalidRequest)
	}
	return s.api.ActivateDeliveryCompany(ctx, req)
}

// OrderStatus returns the provider-side status of a shipment's order.
func (s *Service) OrderStatus(ctx context.Context, shipmentID string) (*provider.OrderStatusResponse, error) {
	sh, err := s.providerShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	return s.api.GetOrderStatus(ctx, sh.ProviderOrderID)
}

// OrderHistory returns the provider-side history of a shipment's order.
func (s *Service) OrderHistory(ctx context.Context, shipmentID string) (*provider.OrderHistoryResponse, error) {
	sh, err := s.providerShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	return s.api.GetOrderHistory(ctx, sh.ProviderOrderID)
}

// ProviderShipment returns the provider's view of a shipment.
func (s *Service) ProviderShipment(ctx context.Context, shipmentID string) (*provider.ShipmentInfo, error) {
	sh, err := s.providerShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	return s.api.GetShipment(ctx, sh.ProviderOrderID)
}

func (s *Service) Health(ctx context.Context) (*provider.HealthResponse, error) {
	return s.api.HealthCheck(ctx)
}
