package processor

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"

    "amaksub.vtu/internal/logging"
    "amaksub.vtu/internal/store"
    "amaksub.vtu/internal/vendor"
)

type Reconciliation struct {
    Matched     bool
    Changed     bool
    Transaction store.Transaction
}

// Reconcile settles a processing purchase from a vendor callback. The body
// is logged before anything else. Terminal records are never changed.
func (p *Processor) Reconcile(ctx context.Context, source string, body []byte) (Reconciliation, error) {
    adapter, ok := p.vendors.Adapter(source)
    if !ok {
        return Reconciliation{}, newError(ErrUnknownVendor, "unknown vendor", nil)
    }

    if _, err := p.ledger.LogWebhook(ctx, source, jsonPayload(body)); err != nil {
        return Reconciliation{}, newError(ErrInternal, "", err)
    }

    cb, err := adapter.ParseCallback(body)
    if err != nil {
        return Reconciliation{}, newError(ErrInvalidRequest, "unreadable callback", err)
    }

    t, err := p.findCallbackTransaction(ctx, source, cb)
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            logWebhook(p, "webhook_unmatched", source, cb, nil)
            return Reconciliation{}, nil
        }
        return Reconciliation{}, newError(ErrInternal, "", err)
    }
    if t.Vendor != source {
        logWebhook(p, "webhook_vendor_mismatch", source, cb, &t)
        return Reconciliation{}, nil
    }

    out := Reconciliation{Matched: true, Transaction: t}
    if t.Status != store.StatusProcessing || cb.State == vendor.CallbackPending {
        logWebhook(p, "webhook_ignored", source, cb, &t)
        return out, nil
    }

    switch cb.State {
    case vendor.CallbackCompleted:
        done, err := p.ledger.CompletePurchase(ctx, store.CompleteInput{
            TransactionID:   t.ID,
            VendorReference: cb.Reference,
            Token:           cb.Token,
            APIResponse:     jsonPayload(body),
            Beneficiary:     beneficiaryFor(t),
        })
        if err != nil {
            return out, p.finalizeError(err)
        }
        out.Transaction = done
    case vendor.CallbackFailed:
        failed, err := p.ledger.FailPurchase(ctx, store.FailInput{
            TransactionID:   t.ID,
            VendorReference: cb.Reference,
            APIResponse:     jsonPayload(body),
        })
        if err != nil {
            return out, p.finalizeError(err)
        }
        out.Transaction = failed
        user, err := p.ledger.GetUser(ctx, t.UserID)
        if err != nil {
            user = store.User{ID: t.UserID}
        }
        p.alert(user, failed, ErrVendorRejected, "vendor reported failure by callback", jsonPayload(body))
    }
    out.Changed = true
    logWebhook(p, "webhook_reconciled", source, cb, &out.Transaction)
    return out, nil
}

func (p *Processor) findCallbackTransaction(ctx context.Context, source string, cb vendor.Callback) (store.Transaction, error) {
    if cb.OrderID != "" {
        t, err := p.ledger.GetTransactionByOrderID(ctx, cb.OrderID)
        if err == nil || !errors.Is(err, store.ErrNotFound) {
            return t, err
        }
    }
    if cb.Reference != "" {
        return p.ledger.GetTransactionByVendorReference(ctx, source, cb.Reference)
    }
    return store.Transaction{}, store.ErrNotFound
}

// finalizeError treats a concurrent transition to another terminal state as
// a no-op.
func (p *Processor) finalizeError(err error) error {
    if errors.Is(err, store.ErrInvalidStatus) {
        return nil
    }
    return newError(ErrInternal, "", err)
}

func logWebhook(p *Processor, event, source string, cb vendor.Callback, t *store.Transaction) {
    fields := map[string]any{
        "source":    source,
        "order_id":  cb.OrderID,
        "reference": cb.Reference,
        "state":     string(cb.State),
    }
    if t != nil {
        fields["transaction_id"] = t.ID
        fields["status"] = t.Status
    }
    logging.Event(p.logger, event, fields)
}

// jsonPayload stores non JSON bodies as a JSON string.
func jsonPayload(body []byte) json.RawMessage {
    trimmed := bytes.TrimSpace(body)
    if len(trimmed) > 0 && json.Valid(trimmed) {
        return json.RawMessage(trimmed)
    }
    out, _ := json.Marshal(string(body))
    return out
}
