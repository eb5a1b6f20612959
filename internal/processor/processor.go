package processor

import (
    "context"
    "encoding/json"
    "errors"
    "strings"
    "time"

    "github.com/google/uuid"

    "amaksub.vtu/internal/logging"
    "amaksub.vtu/internal/notify"
    "amaksub.vtu/internal/pin"
    "amaksub.vtu/internal/store"
    "amaksub.vtu/internal/vendor"
)

const finalizeTimeout = 15 * time.Second

// Ledger is the persistence the pipeline needs. *store.Store implements it.
type Ledger interface {
    GetUser(ctx context.Context, id uuid.UUID) (store.User, error)
    GetPlan(ctx context.Context, id int64) (store.Plan, error)
    ReservePurchase(ctx context.Context, input store.ReserveInput) (store.Transaction, bool, error)
    CompletePurchase(ctx context.Context, input store.CompleteInput) (store.Transaction, error)
    FailPurchase(ctx context.Context, input store.FailInput) (store.Transaction, error)
    NoteVendorReply(ctx context.Context, id int64, reference string, raw []byte) error
    GetTransactionByOrderID(ctx context.Context, orderID string) (store.Transaction, error)
    GetTransactionByVendorReference(ctx context.Context, vendor, reference string) (store.Transaction, error)
    LogWebhook(ctx context.Context, source string, data json.RawMessage) (store.WebhookLog, error)
}

type PinChecker interface {
    Compare(hash, pin string) error
}

type TokenVerifier interface {
    Verify(token string, userID uuid.UUID) error
}

type Alerter interface {
    Fire(alert notify.Alert)
}

type Config struct {
    Ledger  Ledger
    Vendors *vendor.Registry
    Pins    PinChecker
    Tokens  TokenVerifier
    Alerts  Alerter
    Limits  Limits
    // KeyHints holds masked vendor API keys for operator alerts.
    KeyHints map[string]string
    Logger   logging.Logger
}

type Processor struct {
    ledger   Ledger
    vendors  *vendor.Registry
    pins     PinChecker
    tokens   TokenVerifier
    alerts   Alerter
    limits   Limits
    keyHints map[string]string
    logger   logging.Logger
}

func New(cfg Config) *Processor {
    return &Processor{
        ledger:   cfg.Ledger,
        vendors:  cfg.Vendors,
        pins:     cfg.Pins,
        tokens:   cfg.Tokens,
        alerts:   cfg.Alerts,
        limits:   cfg.Limits,
        keyHints: cfg.KeyHints,
        logger:   logging.OrNop(cfg.Logger),
    }
}

type Outcome struct {
    Transaction  store.Transaction
    Replayed     bool
    Pending      bool
    CustomerName string
}

// Purchase runs one attempt: intake, PIN, balance guard, verification,
// reservation, vendor call and ledger finalization. Any returned error is a
// *Error.
func (p *Processor) Purchase(ctx context.Context, req Request) (Outcome, error) {
    out, err := p.purchase(ctx, req)
    if err != nil {
        kind := KindOf(err)
        if kind != ErrVendorRejected && kind != ErrVendorUnreachable && kind != ErrInternal {
            logging.Event(p.logger, "purchase_rejected", map[string]any{
                "user_id":  req.UserID.String(),
                "service":  req.Service,
                "order_id": req.IdempotencyKey,
                "reason":   kind.Error(),
            })
        }
    }
    return out, err
}

func (p *Processor) purchase(ctx context.Context, req Request) (Outcome, error) {
    req.normalize()
    if err := req.validate(p.limits); err != nil {
        return Outcome{}, err
    }

    user, err := p.ledger.GetUser(ctx, req.UserID)
    if err != nil {
        if errors.Is(err, store.ErrUserNotFound) {
            return Outcome{}, newError(ErrUserNotFound, "user not found", nil)
        }
        return Outcome{}, newError(ErrInternal, "", err)
    }
    if !user.IsActive {
        return Outcome{}, newError(ErrInactiveAccount, "account is inactive", nil)
    }

    if err := p.checkPin(user, req); err != nil {
        return Outcome{}, err
    }

    priced, err := p.resolvePrice(ctx, req)
    if err != nil {
        return Outcome{}, err
    }
    input := store.ReserveInput{
        UserID:     user.ID,
        Type:       req.Service,
        Amount:     priced.amount,
        Identifier: req.Identifier,
        Network:    req.Network,
        PlanCode:   priced.planCode,
        OrderID:    req.IdempotencyKey,
    }

    existing, err := p.ledger.GetTransactionByOrderID(ctx, req.IdempotencyKey)
    switch {
    case err == nil:
        return p.replay(existing, input)
    case !errors.Is(err, store.ErrNotFound):
        return Outcome{}, newError(ErrInternal, "", err)
    }

    if user.Balance.LessThan(priced.amount) {
        return Outcome{}, newError(ErrInsufficientBalance, "insufficient wallet balance", nil)
    }

    adapter, err := p.vendors.Resolve(req.Service, req.Network, priced.planType)
    if err != nil {
        return Outcome{}, newError(ErrUnsupportedCombination, "this network and plan are not available", err)
    }
    input.Vendor = adapter.Name()

    customerName, err := p.verify(ctx, adapter, user, req)
    if err != nil {
        return Outcome{}, err
    }

    t, created, err := p.ledger.ReservePurchase(ctx, input)
    if err != nil {
        return Outcome{}, mapStoreError(err)
    }
    if !created {
        return Outcome{Transaction: t, Replayed: true, Pending: t.Status == store.StatusProcessing}, nil
    }

    order := vendor.Order{
        Service:    req.Service,
        Network:    req.Network,
        Identifier: req.Identifier,
        PlanCode:   priced.planCode,
        PlanType:   priced.planType,
        Amount:     priced.amount,
        Quantity:   req.Quantity,
        MeterType:  req.MeterType,
        Phone:      req.Phone,
        RequestID:  req.IdempotencyKey,
    }

    // The vendor call and the ledger update outlive a dropped client.
    detached := context.WithoutCancel(ctx)
    res, callErr := adapter.Purchase(detached, order)

    fctx, cancel := context.WithTimeout(detached, finalizeTimeout)
    defer cancel()

    switch {
    case callErr != nil:
        return p.fail(fctx, user, t, "", errorPayload(callErr), classifyCallError(callErr))
    case res.OK:
        done, err := p.ledger.CompletePurchase(fctx, store.CompleteInput{
            TransactionID:   t.ID,
            VendorReference: res.Reference,
            Token:           res.Token,
            APIResponse:     res.Raw,
            Beneficiary:     beneficiaryFor(t),
        })
        if err != nil {
            p.alert(user, t, ErrInternal, err.Error(), res.Raw)
            return Outcome{}, newError(ErrInternal, "", err)
        }
        logging.Event(p.logger, "purchase_completed", map[string]any{
            "transaction_id": done.ID,
            "user_id":        done.UserID.String(),
            "service":        done.Type,
            "vendor":         done.Vendor,
            "amount":         done.Amount.String(),
            "order_id":       done.OrderID,
        })
        return Outcome{Transaction: done, CustomerName: customerName}, nil
    case res.Pending:
        if err := p.ledger.NoteVendorReply(fctx, t.ID, res.Reference, res.Raw); err != nil {
            logging.Event(p.logger, "vendor_reply_not_saved", map[string]any{
                "transaction_id": t.ID,
                "error":          err.Error(),
            })
        } else if res.Reference != "" {
            t.VendorReference = res.Reference
        }
        logging.Event(p.logger, "purchase_pending", map[string]any{
            "transaction_id": t.ID,
            "vendor":         t.Vendor,
            "order_id":       t.OrderID,
            "reference":      res.Reference,
            "api_response":   res.Raw,
        })
        return Outcome{Transaction: t, Pending: true, CustomerName: customerName}, nil
    default:
        return p.fail(fctx, user, t, res.Reference, res.Raw, newError(ErrVendorRejected, res.Message, nil))
    }
}

func (p *Processor) checkPin(user store.User, req Request) error {
    if req.PinToken != "" {
        if err := p.tokens.Verify(req.PinToken, user.ID); err != nil {
            return newError(ErrInvalidPin, "pin session expired, enter your pin again", err)
        }
        return nil
    }
    if err := p.pins.Compare(user.PinHash, req.PIN); err != nil {
        if errors.Is(err, pin.ErrNotSet) {
            return newError(ErrInvalidPin, "set a transaction pin first", err)
        }
        return newError(ErrInvalidPin, "incorrect transaction pin", err)
    }
    return nil
}

func (p *Processor) replay(existing store.Transaction, input store.ReserveInput) (Outcome, error) {
    same := existing.UserID == input.UserID &&
        existing.Type == input.Type &&
        existing.Amount.Equal(input.Amount) &&
        existing.Identifier == input.Identifier &&
        existing.Network == input.Network &&
        existing.PlanCode == input.PlanCode
    if !same {
        return Outcome{}, newError(ErrIdempotencyConflict, "idempotency key already used for a different purchase", nil)
    }
    logging.Event(p.logger, "purchase_replayed", map[string]any{
        "transaction_id": existing.ID,
        "order_id":       existing.OrderID,
        "status":         existing.Status,
    })
    return Outcome{Transaction: existing, Replayed: true, Pending: existing.Status == store.StatusProcessing}, nil
}

func (p *Processor) verify(ctx context.Context, adapter vendor.Adapter, user store.User, req Request) (string, error) {
    if req.Service != vendor.ServiceCable && req.Service != vendor.ServiceElectricity {
        return "", nil
    }
    v, err := adapter.Verify(ctx, vendor.VerifyQuery{
        Service:    req.Service,
        Provider:   req.Network,
        Identifier: req.Identifier,
        MeterType:  req.MeterType,
    })
    if err != nil {
        if errors.Is(err, vendor.ErrVerifyUnsupported) {
            return "", nil
        }
        kind := classifyCallError(err)
        if kind.Kind != ErrUnsupportedCombination {
            p.alert(user, store.Transaction{Type: req.Service, Vendor: adapter.Name(), OrderID: req.IdempotencyKey}, kind.Kind, err.Error(), nil)
        }
        return "", kind
    }
    if !v.Valid {
        return "", newError(ErrVerificationFailed, v.Message, nil)
    }
    return v.CustomerName, nil
}

// fail refunds the reservation and reports the vendor failure.
func (p *Processor) fail(ctx context.Context, user store.User, t store.Transaction, reference string, raw json.RawMessage, cause *Error) (Outcome, error) {
    failed, err := p.ledger.FailPurchase(ctx, store.FailInput{
        TransactionID:   t.ID,
        VendorReference: reference,
        APIResponse:     raw,
    })
    if err != nil {
        p.alert(user, t, ErrInternal, err.Error(), raw)
        return Outcome{}, newError(ErrInternal, "", err)
    }

    logging.Event(p.logger, "purchase_failed", map[string]any{
        "transaction_id": failed.ID,
        "user_id":        failed.UserID.String(),
        "service":        failed.Type,
        "vendor":         failed.Vendor,
        "order_id":       failed.OrderID,
        "reason":         cause.Kind.Error(),
        "message":        cause.Message,
        "api_response":   raw,
    })
    if cause.Kind != ErrUnsupportedCombination {
        p.alert(user, failed, cause.Kind, cause.Message, raw)
    }
    return Outcome{Transaction: failed}, cause
}

func (p *Processor) alert(user store.User, t store.Transaction, kind error, message string, raw json.RawMessage) {
    if p.alerts == nil {
        return
    }
    p.alerts.Fire(notify.Alert{
        UserName:   user.FullName,
        UserEmail:  user.Email,
        Vendor:     t.Vendor,
        APIKeyHint: p.keyHints[t.Vendor],
        Service:    t.Type,
        OrderID:    t.OrderID,
        Kind:       kind.Error(),
        Message:    message,
        Payload:    raw,
    })
}

func classifyCallError(err error) *Error {
    if errors.Is(err, vendor.ErrUnsupported) {
        return newError(ErrUnsupportedCombination, "this network and plan are not available", err)
    }
    if errors.Is(err, vendor.ErrUnreachable) {
        return newError(ErrVendorUnreachable, "", err)
    }
    return newError(ErrInternal, "", err)
}

func mapStoreError(err error) error {
    switch {
    case errors.Is(err, store.ErrInsufficientBalance):
        return newError(ErrInsufficientBalance, "insufficient wallet balance", err)
    case errors.Is(err, store.ErrIdempotencyConflict):
        return newError(ErrIdempotencyConflict, "idempotency key already used for a different purchase", err)
    case errors.Is(err, store.ErrUserNotFound):
        return newError(ErrUserNotFound, "user not found", err)
    case errors.Is(err, store.ErrUserInactive):
        return newError(ErrInactiveAccount, "account is inactive", err)
    }
    return newError(ErrInternal, "", err)
}

func errorPayload(err error) json.RawMessage {
    out, _ := json.Marshal(map[string]string{"error": err.Error()})
    return out
}

var networkNames = map[string]string{
    "mtn":     "MTN",
    "glo":     "GLO",
    "airtel":  "AIRTEL",
    "9mobile": "9MOBILE",
}

// beneficiaryFor returns the phone recipient of airtime and data purchases.
func beneficiaryFor(t store.Transaction) *store.Beneficiary {
    if t.Type != vendor.ServiceAirtime && t.Type != vendor.ServiceDataBundle {
        return nil
    }
    name, ok := networkNames[t.Network]
    if !ok {
        name = strings.ToUpper(t.Network)
    }
    return &store.Beneficiary{
        UserID:        t.UserID,
        MobileNumber:  t.Identifier,
        MobileNetwork: t.Network,
        NetworkName:   name,
    }
}
