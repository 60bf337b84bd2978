package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tournevent/shipsync/internal/shipment"
	"github.com/tournevent/shipsync/internal/webhook"
	"github.com/tournevent/shipsync/pkg/shipper"
	"github.com/tournevent/shipsync/pkg/shipper/provider"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := s.shipments.Health(r.Context())
	s.respond(w, r, http.StatusOK, resp, err)
}

type webhookAck struct {
	Status     string `json:"status"`
	Outcome    string `json:"outcome"`
	ShipmentID string `json:"shipmentId,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		// the sender retries on anything but a 2xx
		s.metrics.RecordWebhook("unknown", string(webhook.OutcomeFailed))
		s.logger.Ctx(r.Context()).Error("Reading webhook body failed, acknowledging anyway", zap.Error(err))
		writeJSON(w, http.StatusOK, webhookAck{Status: "ok", Outcome: string(webhook.OutcomeFailed)})
		return
	}

	res, err := s.reconciler.Handle(r.Context(), r.Header.Get(s.signatureHeader), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Every verified delivery is acknowledged, unmatched and ignored ones included.
	writeJSON(w, http.StatusOK, webhookAck{
		Status:     "ok",
		Outcome:    string(res.Outcome),
		ShipmentID: res.ShipmentID,
	})
}

func (s *Server) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	var req shipment.CreateShipmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	sh, err := s.shipments.CreateShipment(r.Context(), req)
	s.respond(w, r, http.StatusCreated, sh, err)
}

func (s *Server) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	details, err := s.shipments.GetShipment(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, details, err)
}

func (s *Server) handleUpdateShipment(w http.ResponseWriter, r *http.Request) {
	var req shipment.UpdateShipmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	sh, err := s.shipments.UpdateShipment(r.Context(), chi.URLParam(r, "id"), req)
	s.respond(w, r, http.StatusOK, sh, err)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelShipment(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	sh, err := s.shipments.CancelShipment(r.Context(), chi.URLParam(r, "id"), req.Reason)
	s.respond(w, r, http.StatusOK, sh, err)
}

func (s *Server) handleGetLabel(w http.ResponseWriter, r *http.Request) {
	label, err := s.shipments.GetLabel(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("format"))
	s.respond(w, r, http.StatusOK, label, err)
}

func (s *Server) handleProviderShipment(w http.ResponseWriter, r *http.Request) {
	info, err := s.shipments.ProviderShipment(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, info, err)
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.shipments.OrderStatus(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, st, err)
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.shipments.OrderHistory(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, h, err)
}

func (s *Server) handleTrackShipment(w http.ResponseWriter, r *http.Request) {
	res, err := s.shipments.TrackShipment(r.Context(), chi.URLParam(r, "trackingNumber"))
	s.respond(w, r, http.StatusOK, res, err)
}

type assignDriverRequest struct {
	ShipmentIDs []string `json:"shipmentIds"`
	DriverID    string   `json:"driverId"`
}

func (s *Server) handleAssignDriver(w http.ResponseWriter, r *http.Request) {
	var req assignDriverRequest
	if !s.decode(w, r, &req) {
		return
	}
	assigned, err := s.shipments.AssignDriver(r.Context(), req.ShipmentIDs, req.DriverID)
	s.respond(w, r, http.StatusOK, map[string]any{"shipments": assigned}, err)
}

func (s *Server) handleListPickupLocations(w http.ResponseWriter, r *http.Request) {
	list, err := s.shipments.ListPickupLocations(r.Context())
	s.respond(w, r, http.StatusOK, list, err)
}

func (s *Server) handleCreatePickupLocation(w http.ResponseWriter, r *http.Request) {
	var loc provider.PickupLocation
	if !s.decode(w, r, &loc) {
		return
	}
	resp, err := s.shipments.CreatePickupLocation(r.Context(), &loc)
	s.respond(w, r, http.StatusCreated, resp, err)
}

func (s *Server) handleUpdatePickupLocation(w http.ResponseWriter, r *http.Request) {
	var loc provider.PickupLocation
	if !s.decode(w, r, &loc) {
		return
	}
	loc.Code = chi.URLParam(r, "code")
	resp, err := s.shipments.UpdatePickupLocation(r.Context(), &loc)
	s.respond(w, r, http.StatusOK, resp, err)
}

func (s *Server) handleCheckDeliveryFee(w http.ResponseWriter, r *http.Request) {
	var req provider.DeliveryFeeRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.shipments.CheckDeliveryFee(r.Context(), &req)
	s.respond(w, r, http.StatusOK, resp, err)
}

func (s *Server) handleCheckContractDeliveryFee(w http.ResponseWriter, r *http.Request) {
	var req provider.DeliveryFeeRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.shipments.CheckContractDeliveryFee(r.Context(), &req)
	s.respond(w, r, http.StatusOK, resp, err)
}

type feeQuotesResponse struct {
	Provider      *provider.DeliveryFeeResponse `json:"provider,omitempty"`
	Contract      *provider.DeliveryFeeResponse `json:"contract,omitempty"`
	ProviderError string                        `json:"providerError,omitempty"`
	ContractError string                        `json:"contractError,omitempty"`
}

func (s *Server) handleQuoteDeliveryFees(w http.ResponseWriter, r *http.Request) {
	var req provider.DeliveryFeeRequest
	if !s.decode(w, r, &req) {
		return
	}
	quotes, err := s.shipments.QuoteDeliveryFees(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := feeQuotesResponse{Provider: quotes.Provider, Contract: quotes.Contract}
	if quotes.ProviderErr != nil {
		resp.ProviderError = quotes.ProviderErr.Error()
	}
	if quotes.ContractErr != nil {
		resp.ContractError = quotes.ContractErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDeliveryCompanies(w http.ResponseWriter, r *http.Request) {
	list, err := s.shipments.ListDeliveryCompanies(r.Context())
	s.respond(w, r, http.StatusOK, list, err)
}

func (s *Server) handleDeliveryCompanyConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.shipments.DeliveryCompanyConfig(r.Context(), chi.URLParam(r, "code"))
	s.respond(w, r, http.StatusOK, cfg, err)
}

func (s *Server) handleActivateDeliveryCompany(w http.ResponseWriter, r *http.Request) {
	var req provider.ActivateDeliveryCompanyRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	req.Code = chi.URLParam(r, "code")
	resp, err := s.shipments.ActivateDeliveryCompany(r.Context(), &req)
	s.respond(w, r, http.StatusOK, resp, err)
}

func (s *Server) handleBuyCredit(w http.ResponseWriter, r *http.Request) {
	var req provider.BuyCreditRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.shipments.BuyCredit(r.Context(), &req)
	s.respond(w, r, http.StatusOK, resp, err)
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.shipments.WalletBalance(r.Context())
	s.respond(w, r, http.StatusOK, bal, err)
}

func (s *Server) handleAccountInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.shipments.AccountInfo(r.Context())
	s.respond(w, r, http.StatusOK, info, err)
}

// decode reads a JSON request body. It writes a 400 and returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: malformed JSON body: %v", shipper.ErrInvalidRequest, err))
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code           string          `json:"code"`
	Message        string          `json:"message"`
	ProviderStatus int             `json:"providerStatus,omitempty"`
	ProviderCode   string          `json:"providerCode,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
}

// statusFor maps a domain error onto an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	var perr *shipper.ProviderError
	switch {
	case errors.Is(err, shipper.ErrOrderNotFound):
		return http.StatusNotFound, "ORDER_NOT_FOUND"
	case errors.Is(err, shipper.ErrShipmentNotFound):
		return http.StatusNotFound, "SHIPMENT_NOT_FOUND"
	case errors.Is(err, shipper.ErrShipmentAlreadyExists):
		return http.StatusConflict, "SHIPMENT_ALREADY_EXISTS"
	case errors.Is(err, shipper.ErrNoProviderOrder):
		return http.StatusBadRequest, "NO_PROVIDER_ORDER"
	case errors.Is(err, shipper.ErrNoValidShipments):
		return http.StatusBadRequest, "NO_VALID_SHIPMENTS"
	case errors.Is(err, shipper.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, shipper.ErrInvalidSignature):
		return http.StatusUnauthorized, "INVALID_SIGNATURE"
	case errors.Is(err, shipper.ErrCredentialUnavailable):
		return http.StatusServiceUnavailable, "CREDENTIAL_UNAVAILABLE"
	case errors.Is(err, shipper.ErrRefreshFailed):
		return http.StatusServiceUnavailable, "REFRESH_FAILED"
	case errors.Is(err, shipper.ErrProviderUnreachable):
		return http.StatusGatewayTimeout, "PROVIDER_UNREACHABLE"
	case errors.As(err, &perr):
		return http.StatusBadGateway, "PROVIDER_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	body := errorBody{Error: errorDetail{Code: code, Message: err.Error()}}

	var perr *shipper.ProviderError
	if errors.As(err, &perr) {
		body.Error.ProviderStatus = perr.StatusCode
		body.Error.ProviderCode = perr.Code
		if len(perr.Details) > 0 {
			body.Error.Details = perr.Details
		}
	}

	log := s.logger.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			body.Error.Message = "internal error"
		}
	} else {
		log.Debug("Request rejected",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
