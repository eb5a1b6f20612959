package api

import (
    "errors"
    "net/http"
    "strings"

    "github.com/google/uuid"
    "github.com/gorilla/mux"
    "github.com/shopspring/decimal"

    "amaksub.vtu/internal/processor"
    "amaksub.vtu/internal/store"
)

type purchaseRequest struct {
    UserID         string          `json:"user_id"`
    Network        string          `json:"network"`
    Identifier     string          `json:"identifier"`
    PlanID         int64           `json:"plan_id"`
    Amount         decimal.Decimal `json:"amount"`
    Quantity       int             `json:"quantity"`
    MeterType      string          `json:"meter_type"`
    Phone          string          `json:"phone"`
    Pin            string          `json:"pin"`
    IdempotencyKey string          `json:"idempotency_key"`
}

type purchaseResponse struct {
    Success      bool                 `json:"success"`
    Transaction  *transactionResponse `json:"transaction,omitempty"`
    Replayed     bool                 `json:"replayed,omitempty"`
    Pending      bool                 `json:"pending,omitempty"`
    CustomerName string               `json:"customer_name,omitempty"`
    Error        string               `json:"error,omitempty"`
    Details      string               `json:"details,omitempty"`
}

type verifyRequest struct {
    Provider   string `json:"provider"`
    Identifier string `json:"identifier"`
    MeterType  string `json:"meter_type"`
}

type verifyResponse struct {
    Success      bool   `json:"success"`
    Valid        bool   `json:"valid"`
    CustomerName string `json:"customer_name,omitempty"`
    Error        string `json:"error,omitempty"`
    Details      string `json:"details,omitempty"`
}

const genericFailure = "service issue, please try again later"

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
    var body purchaseRequest
    if err := decodeJSON(w, r, &body); err != nil {
        writeJSON(w, http.StatusBadRequest, purchaseResponse{Error: "invalid_request", Details: "malformed request body"})
        return
    }
    userID, err := uuid.Parse(strings.TrimSpace(body.UserID))
    if err != nil {
        writeJSON(w, http.StatusBadRequest, purchaseResponse{Error: "invalid_request", Details: "invalid user_id"})
        return
    }
    key := body.IdempotencyKey
    if strings.TrimSpace(key) == "" {
        key = r.Header.Get("Idempotency-Key")
    }

    out, err := s.processor.Purchase(r.Context(), processor.Request{
        Service:        mux.Vars(r)["service"],
        UserID:         userID,
        Network:        body.Network,
        Identifier:     body.Identifier,
        PlanID:         body.PlanID,
        Amount:         body.Amount,
        Quantity:       body.Quantity,
        MeterType:      body.MeterType,
        Phone:          body.Phone,
        PIN:            body.Pin,
        PinToken:       r.Header.Get("X-Pin-Token"),
        IdempotencyKey: key,
    })
    if err != nil {
        status, code := errorStatus(err)
        resp := purchaseResponse{Error: code, Details: processor.UserMessage(err)}
        if out.Transaction.ID != 0 {
            resp.Transaction = toTransactionResponse(out.Transaction)
        }
        writeJSON(w, status, resp)
        return
    }

    resp := purchaseResponse{
        Success:      true,
        Transaction:  toTransactionResponse(out.Transaction),
        Replayed:     out.Replayed,
        Pending:      out.Pending,
        CustomerName: out.CustomerName,
    }
    status := http.StatusCreated
    switch {
    case out.Transaction.Status == store.StatusFailed:
        resp.Success = false
        resp.Error = "service_unavailable"
        resp.Details = genericFailure
        status = http.StatusBadGateway
    case out.Pending:
        status = http.StatusAccepted
    case out.Replayed:
        status = http.StatusOK
    }
    writeJSON(w, status, resp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
    var body verifyRequest
    if err := decodeJSON(w, r, &body); err != nil {
        writeJSON(w, http.StatusBadRequest, verifyResponse{Error: "invalid_request", Details: "malformed request body"})
        return
    }

    v, err := s.processor.Verify(r.Context(), processor.VerifyRequest{
        Service:    mux.Vars(r)["service"],
        Provider:   body.Provider,
        Identifier: body.Identifier,
        MeterType:  body.MeterType,
    })
    if err != nil {
        status, code := errorStatus(err)
        s.logEvent("verification_failed", map[string]any{
            "service":  mux.Vars(r)["service"],
            "provider": body.Provider,
            "reason":   code,
        })
        writeJSON(w, status, verifyResponse{Error: code, Details: processor.UserMessage(err)})
        return
    }
    writeJSON(w, http.StatusOK, verifyResponse{Success: true, Valid: true, CustomerName: v.CustomerName})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
    id, ok := pathInt64(r, "id")
    if !ok {
        writeError(w, http.StatusBadRequest, "invalid_id")
        return
    }
    t, err := s.store.GetTransaction(r.Context(), id)
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            writeError(w, http.StatusNotFound, "not_found")
            return
        }
        s.logger.Printf("get transaction error: %v", err)
        writeError(w, http.StatusInternalServerError, "internal_error")
        return
    }
    writeJSON(w, http.StatusOK, toTransactionResponse(t))
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    plans, err := s.store.ListPlans(r.Context(), strings.ToLower(vars["service"]), strings.ToLower(vars["network"]))
    if err != nil {
        s.logger.Printf("list plans error: %v", err)
        writeError(w, http.StatusInternalServerError, "internal_error")
        return
    }
    out := make([]planResponse, 0, len(plans))
    for _, p := range plans {
        out = append(out, toPlanResponse(p))
    }
    writeJSON(w, http.StatusOK, map[string]any{"plans": out})
}

// errorStatus maps a processor error to an HTTP status and a public code.
// Vendor and internal failures share one opaque code.
func errorStatus(err error) (int, string) {
    switch processor.KindOf(err) {
    case processor.ErrInvalidRequest:
        return http.StatusBadRequest, "invalid_request"
    case processor.ErrInvalidPin:
        return http.StatusForbidden, "invalid_pin"
    case processor.ErrInactiveAccount:
        return http.StatusForbidden, "inactive_account"
    case processor.ErrUserNotFound:
        return http.StatusNotFound, "user_not_found"
    case processor.ErrUnknownVendor:
        return http.StatusNotFound, "unknown_vendor"
    case processor.ErrInsufficientBalance:
        return http.StatusConflict, "insufficient_balance"
    case processor.ErrIdempotencyConflict:
        return http.StatusUnprocessableEntity, "idempotency_conflict"
    case processor.ErrUnsupportedCombination:
        return http.StatusUnprocessableEntity, "unsupported_combination"
    case processor.ErrVerificationFailed:
        return http.StatusUnprocessableEntity, "verification_failed"
    case processor.ErrVendorRejected, processor.ErrVendorUnreachable:
        return http.StatusBadGateway, "service_unavailable"
    }
    return http.StatusInternalServerError, "service_unavailable"
}
