package api

import (
    "errors"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"

    "amaksub.vtu/internal/pin"
    "amaksub.vtu/internal/store"
)

const (
    defaultListLimit = 20
    maxListLimit     = 100
)

type createUserRequest struct {
    ID       string          `json:"id"`
    FullName string          `json:"full_name"`
    Email    string          `json:"email"`
    Balance  decimal.Decimal `json:"balance"`
    Pin      string          `json:"pin"`
}

type setPinRequest struct {
    CurrentPin string `json:"current_pin"`
    NewPin     string `json:"new_pin"`
}

type verifyPinRequest struct {
    UserID string `json:"user_id"`
    Pin    string `json:"pin"`
}

type verifyPinResponse struct {
    Token     string    `json:"token"`
    ExpiresAt time.Time `json:"expires_at"`
}

type fundRequest struct {
    Amount    decimal.Decimal `json:"amount"`
    Reference string          `json:"reference"`
}

type balanceResponse struct {
    UserID  uuid.UUID       `json:"user_id"`
    Balance decimal.Decimal `json:"balance"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
    var req createUserRequest
    if err := decodeJSON(w, r, &req); err != nil {
        s.logEvent("user_create_failed", map[string]any{
            "reason": "invalid_request",
        })
        writeError(w, http.StatusBadRequest, "invalid_request")
        return
    }

    input, err := s.buildCreateUser(req)
    if err != nil {
        s.logEvent("user_create_failed", map[string]any{
            "reason": "invalid_request",
            "error":  err.Error(),
        })
        writeErrorDetails(w, http.StatusBadRequest, "invalid_request", err.Error())
        return
    }

    user, err := s.store.CreateUser(r.Context(), input)
    if err != nil {
        reason := "internal_error"
        switch {
        case errors.Is(err, store.ErrUserExists):
            reason = "user_exists"
            writeError(w, http.StatusConflict, "user_exists")
        default:
            s.logger.Printf("create user error: %v", err)
            writeError(w, http.StatusInternalServerError, "internal_error")
        }
        s.logEvent("user_create_failed", map[string]any{
            "reason":  reason,
            "user_id": input.ID.String(),
        })
        return
    }

    s.logEvent("user_created", map[string]any{
        "user_id": user.ID.String(),
        "balance": user.Balance.String(),
        "has_pin": user.PinHash != "",
    })
    writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) buildCreateUser(req createUserRequest) (store.CreateUserInput, error) {
    input := store.CreateUserInput{
        FullName: strings.TrimSpace(req.FullName),
        Email:    strings.TrimSpace(req.Email),
        Balance:  req.Balance,
    }
    if strings.TrimSpace(req.ID) == "" {
        input.ID = uuid.New()
    } else {
        id, err := uuid.Parse(strings.TrimSpace(req.ID))
        if err != nil || id == uuid.Nil {
            return store.CreateUserInput{}, errors.New("invalid id")
        }
        input.ID = id
    }
    if input.Balance.IsNegative() || !input.Balance.Equal(input.Balance.Round(2)) {
        return store.CreateUserInput{}, errors.New("invalid balance")
    }
    if req.Pin != "" {
        hash, err := s.pins.Hash(req.Pin)
        if err != nil {
            return store.CreateUserInput{}, err
        }
        input.PinHash = hash
    }
    return input, nil
}

func (s *Server) handleSetPin(w http.ResponseWriter, r *http.Request) {
    userID, ok := pathUserID(r)
    if !ok {
        writeError(w, http.StatusBadRequest, "invalid_id")
        return
    }
    var req setPinRequest
    if err := decodeJSON(w, r, &req); err != nil || !pin.Valid(req.NewPin) {
        writeErrorDetails(w, http.StatusBadRequest, "invalid_request", "new_pin must be 4 digits")
        return
    }

    user, err := s.store.GetUser(r.Context(), userID)
    if err != nil {
        s.writeUserLookupError(w, err)
        return
    }
    if user.PinHash != "" {
        if err := s.pins.Compare(user.PinHash, req.CurrentPin); err != nil {
            s.logEvent("pin_change_failed", map[string]any{
                "user_id": userID.String(),
                "reason":  "invalid_pin",
            })
            writeErrorDetails(w, http.StatusForbidden, "invalid_pin", "incorrect transaction pin")
            return
        }
    }

    hash, err := s.pins.Hash(req.NewPin)
    if err != nil {
        writeError(w, http.StatusBadRequest, "invalid_request")
        return
    }
    if err := s.store.SetPinHash(r.Context(), userID, hash); err != nil {
        s.writeUserLookupError(w, err)
        return
    }

    s.logEvent("pin_changed", map[string]any{
        "user_id": userID.String(),
    })
    writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleVerifyPin(w http.ResponseWriter, r *http.Request) {
    var req verifyPinRequest
    if err := decodeJSON(w, r, &req); err != nil {
        writeError(w, http.StatusBadRequest, "invalid_request")
        return
    }
    userID, err := uuid.Parse(strings.TrimSpace(req.UserID))
    if err != nil {
        writeErrorDetails(w, http.StatusBadRequest, "invalid_request", "invalid user_id")
        return
    }

    user, err := s.store.GetUser(r.Context(), userID)
    if err != nil {
        s.writeUserLookupError(w, err)
        return
    }
    if err := s.pins.Compare(user.PinHash, strings.TrimSpace(req.Pin)); err != nil {
        s.logEvent("pin_verify_failed", map[string]any{
            "user_id": userID.String(),
        })
        writeErrorDetails(w, http.StatusForbidden, "invalid_pin", "incorrect transaction pin")
        return
    }

    token, expires, err := s.tokens.Issue(userID)
    if err != nil {
        s.logger.Printf("issue pin token error: %v", err)
        writeError(w, http.StatusInternalServerError, "internal_error")
        return
    }
    writeJSON(w, http.StatusOK, verifyPinResponse{Token: token, ExpiresAt: expires})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
    userID, ok := pathUserID(r)
    if !ok {
        writeError(w, http.StatusBadRequest, "invalid_id")
        return
    }
    balance, err := s.store.GetBalance(r.Context(), userID)
    if err != nil {
        s.writeUserLookupError(w, err)
        return
    }
    writeJSON(w, http.StatusOK, balanceResponse{UserID: userID, Balance: balance})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
    userID, ok := pathUserID(r)
    if !ok {
        writeError(w, http.StatusBadRequest, "invalid_id")
        return
    }

    limit := defaultListLimit
    if raw := r.URL.Query().Get("limit"); raw != "" {
        n, err := strconv.Atoi(raw)
        if err != nil || n <= 0 {
            writeError(w, http.StatusBadRequest, "invalid_limit")
            return
        }
        limit = min(n, maxListLimit)
    }

    txns, err := s.store.ListTransactions(r.Context(), userID, limit)
    if err != nil {
        s.logger.Printf("list transactions error: %v", err)
        writeError(w, http.StatusInternalServerError, "internal_error")
        return
    }
    out := make([]*transactionResponse, 0, len(txns))
    for _, t := range txns {
        out = append(out, toTransactionResponse(t))
    }
    writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (s *Server) handleListBeneficiaries(w http.ResponseWriter, r *http.Request) {
    userID, ok := pathUserID(r)
    if !ok {
        writeError(w, http.StatusBadRequest, "invalid_id")
        return
    }
    list, err := s.store.ListBeneficiaries(r.Context(), userID)
    if err != nil {
        s.logger.Printf("list beneficiaries error: %v", err)
        writeError(w, http.StatusInternalServerError, "internal_error")
        return
    }
    out := make([]beneficiaryResponse, 0, len(list))
    for _, b := range list {
        out = append(out, toBeneficiaryResponse(b))
    }
    writeJSON(w, http.StatusOK, map[string]any{"beneficiaries": out})
}

func (s *Server) handleFundWallet(w http.ResponseWriter, r *http.Request) {
    userID, ok := pathUserID(r)
    if !ok {
        writeError(w, http.StatusBadRequest, "invalid_id")
        return
    }
    var req fundRequest
    if err := decodeJSON(w, r, &req); err != nil {
        writeError(w, http.StatusBadRequest, "invalid_request")
        return
    }
    req.Reference = strings.TrimSpace(req.Reference)
    if !req.Amount.IsPositive() || req.Reference == "" || len(req.Reference) > 64 {
        writeError(w, http.StatusBadRequest, "invalid_request")
        return
    }

    t, err := s.store.FundWallet(r.Context(), store.FundInput{
        UserID:    userID,
        Amount:    req.Amount.Round(2),
        Reference: req.Reference,
    })
    if err != nil {
        reason := "internal_error"
        switch {
        case errors.Is(err, store.ErrUserNotFound):
            reason = "user_not_found"
            writeError(w, http.StatusNotFound, "user_not_found")
        case errors.Is(err, store.ErrIdempotencyConflict):
            reason = "idempotency_conflict"
            writeError(w, http.StatusUnprocessableEntity, "idempotency_conflict")
        default:
            s.logger.Printf("fund wallet error: %v", err)
            writeError(w, http.StatusInternalServerError, "internal_error")
        }
        s.logEvent("wallet_funding_failed", map[string]any{
            "user_id":   userID.String(),
            "reference": req.Reference,
            "reason":    reason,
        })
        return
    }

    s.logEvent("wallet_funded", map[string]any{
        "transaction_id": t.ID,
        "user_id":        t.UserID.String(),
        "amount":         t.Amount.String(),
        "reference":      t.OrderID,
    })
    writeJSON(w, http.StatusCreated, toTransactionResponse(t))
}

func (s *Server) writeUserLookupError(w http.ResponseWriter, err error) {
    if errors.Is(err, store.ErrUserNotFound) {
        writeError(w, http.StatusNotFound, "user_not_found")
        return
    }
    s.logger.Printf("user lookup error: %v", err)
    writeError(w, http.StatusInternalServerError, "internal_error")
}
