package processor_test

import (
    "context"
    "encoding/json"
    "sync"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"
    "github.com/stretchr/testify/require"
    "golang.org/x/crypto/bcrypt"

    "amaksub.vtu/internal/notify"
    "amaksub.vtu/internal/pin"
    "amaksub.vtu/internal/processor"
    "amaksub.vtu/internal/session"
    "amaksub.vtu/internal/store"
    "amaksub.vtu/internal/vendor"
)

const testPin = "1234"

type fakeLedger struct {
    mu            sync.Mutex
    users         map[uuid.UUID]store.User
    plans         map[int64]store.Plan
    txns          []store.Transaction
    entries       []store.LedgerEntry
    beneficiaries map[string]store.Beneficiary
    webhooks      []store.WebhookLog
}

func newFakeLedger() *fakeLedger {
    return &fakeLedger{
        users:         map[uuid.UUID]store.User{},
        plans:         map[int64]store.Plan{},
        beneficiaries: map[string]store.Beneficiary{},
    }
}

func (f *fakeLedger) GetUser(_ context.Context, id uuid.UUID) (store.User, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    u, ok := f.users[id]
    if !ok {
        return store.User{}, store.ErrUserNotFound
    }
    return u, nil
}

func (f *fakeLedger) GetPlan(_ context.Context, id int64) (store.Plan, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    p, ok := f.plans[id]
    if !ok {
        return store.Plan{}, store.ErrNotFound
    }
    return p, nil
}

func (f *fakeLedger) ReservePurchase(_ context.Context, input store.ReserveInput) (store.Transaction, bool, error) {
    f.mu.Lock()
    defer f.mu.Unlock()

    u, ok := f.users[input.UserID]
    if !ok {
        return store.Transaction{}, false, store.ErrUserNotFound
    }
    for _, t := range f.txns {
        if t.OrderID == input.OrderID {
            if t.UserID != input.UserID || !t.Amount.Equal(input.Amount) || t.Identifier != input.Identifier {
                return store.Transaction{}, false, store.ErrIdempotencyConflict
            }
            return t, false, nil
        }
    }
    if u.Balance.LessThan(input.Amount) {
        return store.Transaction{}, false, store.ErrInsufficientBalance
    }

    t := store.Transaction{
        ID:         int64(len(f.txns) + 1),
        UserID:     input.UserID,
        Type:       input.Type,
        Amount:     input.Amount,
        Identifier: input.Identifier,
        Network:    input.Network,
        PlanCode:   input.PlanCode,
        Vendor:     input.Vendor,
        Status:     store.StatusProcessing,
        OrderID:    input.OrderID,
        CreatedAt:  time.Now(),
    }
    f.txns = append(f.txns, t)
    u.Balance = u.Balance.Sub(input.Amount)
    f.users[u.ID] = u
    f.entries = append(f.entries, store.LedgerEntry{UserID: u.ID, TransactionID: t.ID, Amount: input.Amount, Direction: store.DirectionDebit})
    return t, true, nil
}

func (f *fakeLedger) CompletePurchase(_ context.Context, input store.CompleteInput) (store.Transaction, error) {
    f.mu.Lock()
    defer f.mu.Unlock()

    i, err := f.index(input.TransactionID)
    if err != nil {
        return store.Transaction{}, err
    }
    t := f.txns[i]
    if t.Status == store.StatusCompleted {
        return t, nil
    }
    if t.Status != store.StatusProcessing {
        return store.Transaction{}, store.ErrInvalidStatus
    }
    t.Status = store.StatusCompleted
    if input.VendorReference != "" {
        t.VendorReference = input.VendorReference
    }
    t.Token = input.Token
    t.APIResponse = input.APIResponse
    f.txns[i] = t
    if input.Beneficiary != nil {
        f.beneficiaries[input.Beneficiary.MobileNumber] = *input.Beneficiary
    }
    return t, nil
}

func (f *fakeLedger) FailPurchase(_ context.Context, input store.FailInput) (store.Transaction, error) {
    f.mu.Lock()
    defer f.mu.Unlock()

    i, err := f.index(input.TransactionID)
    if err != nil {
        return store.Transaction{}, err
    }
    t := f.txns[i]
    if t.Status == store.StatusFailed {
        return t, nil
    }
    if t.Status != store.StatusProcessing {
        return store.Transaction{}, store.ErrInvalidStatus
    }
    t.Status = store.StatusFailed
    if input.VendorReference != "" {
        t.VendorReference = input.VendorReference
    }
    t.APIResponse = input.APIResponse
    f.txns[i] = t
    u := f.users[t.UserID]
    u.Balance = u.Balance.Add(t.Amount)
    f.users[u.ID] = u
    f.entries = append(f.entries, store.LedgerEntry{UserID: u.ID, TransactionID: t.ID, Amount: t.Amount, Direction: store.DirectionCredit})
    return t, nil
}

func (f *fakeLedger) NoteVendorReply(_ context.Context, id int64, reference string, raw []byte) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    i, err := f.index(id)
    if err != nil {
        return err
    }
    if f.txns[i].Status != store.StatusProcessing {
        return nil
    }
    if reference != "" {
        f.txns[i].VendorReference = reference
    }
    if len(raw) > 0 {
        f.txns[i].APIResponse = raw
    }
    return nil
}

func (f *fakeLedger) GetTransactionByOrderID(_ context.Context, orderID string) (store.Transaction, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    for _, t := range f.txns {
        if t.OrderID == orderID {
            return t, nil
        }
    }
    return store.Transaction{}, store.ErrNotFound
}

func (f *fakeLedger) GetTransactionByVendorReference(_ context.Context, vendorName, reference string) (store.Transaction, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    for _, t := range f.txns {
        if t.Vendor == vendorName && t.VendorReference == reference {
            return t, nil
        }
    }
    return store.Transaction{}, store.ErrNotFound
}

func (f *fakeLedger) LogWebhook(_ context.Context, source string, data json.RawMessage) (store.WebhookLog, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    l := store.WebhookLog{ID: int64(len(f.webhooks) + 1), Source: source, Data: data, ProcessedAt: time.Now()}
    f.webhooks = append(f.webhooks, l)
    return l, nil
}

func (f *fakeLedger) index(id int64) (int, error) {
    for i, t := range f.txns {
        if t.ID == id {
            return i, nil
        }
    }
    return 0, store.ErrNotFound
}

func (f *fakeLedger) balance(id uuid.UUID) decimal.Decimal {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.users[id].Balance
}

func (f *fakeLedger) transactions() []store.Transaction {
    f.mu.Lock()
    defer f.mu.Unlock()
    return append([]store.Transaction(nil), f.txns...)
}

type fakeAdapter struct {
    mu           sync.Mutex
    result       vendor.Result
    err          error
    verification vendor.Verification
    verifyErr    error
    orders       []vendor.Order
    verifies     int
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) Supports(string) bool { return true }

func (a *fakeAdapter) Purchase(_ context.Context, order vendor.Order) (vendor.Result, error) {
    a.mu.Lock()
    defer a.mu.Unlock()
    a.orders = append(a.orders, order)
    return a.result, a.err
}

func (a *fakeAdapter) Verify(context.Context, vendor.VerifyQuery) (vendor.Verification, error) {
    a.mu.Lock()
    defer a.mu.Unlock()
    a.verifies++
    return a.verification, a.verifyErr
}

type callbackBody struct {
    OrderID   string `json:"order_id"`
    Reference string `json:"reference"`
    State     string `json:"state"`
}

func (a *fakeAdapter) ParseCallback(body []byte) (vendor.Callback, error) {
    var cb callbackBody
    if err := json.Unmarshal(body, &cb); err != nil {
        return vendor.Callback{}, vendor.ErrBadCallback
    }
    return vendor.Callback{OrderID: cb.OrderID, Reference: cb.Reference, State: vendor.CallbackState(cb.State)}, nil
}

func (a *fakeAdapter) calls() int {
    a.mu.Lock()
    defer a.mu.Unlock()
    return len(a.orders)
}

type recordingAlerts struct {
    mu     sync.Mutex
    alerts []notify.Alert
}

func (r *recordingAlerts) Fire(a notify.Alert) {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.alerts = append(r.alerts, a)
}

func (r *recordingAlerts) all() []notify.Alert {
    r.mu.Lock()
    defer r.mu.Unlock()
    return append([]notify.Alert(nil), r.alerts...)
}

type harness struct {
    p       *processor.Processor
    ledger  *fakeLedger
    adapter *fakeAdapter
    alerts  *recordingAlerts
    tokens  *session.Issuer
    user    store.User
    plan    store.Plan
    cable   store.Plan
}

func newHarness(t *testing.T, balance int64) *harness {
    t.Helper()

    hasher := pin.NewHasher("test-pepper").WithCost(bcrypt.MinCost)
    hash, err := hasher.Hash(testPin)
    require.NoError(t, err)

    ledger := newFakeLedger()
    user := store.User{
        ID:       uuid.New(),
        FullName: "Ada Obi",
        Email:    "ada@example.com",
        Balance:  decimal.NewFromInt(balance),
        PinHash:  hash,
        IsActive: true,
    }
    ledger.users[user.ID] = user

    plan := store.Plan{ID: 1, Service: vendor.ServiceDataBundle, Network: "mtn", PlanType: "sme", Size: "1GB", Price: decimal.NewFromInt(500), Value: "mtn-sme-1gb", Active: true}
    cable := store.Plan{ID: 2, Service: vendor.ServiceCable, Network: "dstv", Size: "Padi", Price: decimal.NewFromInt(300), Value: "dstv-padi", Active: true}
    ledger.plans[plan.ID] = plan
    ledger.plans[cable.ID] = cable

    adapter := &fakeAdapter{
        result:       vendor.Result{OK: true, Reference: "VR-1", Raw: json.RawMessage(`{"status":"successful"}`)},
        verification: vendor.Verification{Valid: true, CustomerName: "ADA OBI"},
    }
    registry := vendor.NewRegistry(adapter)
    for _, s := range []string{vendor.ServiceAirtime, vendor.ServiceDataBundle, vendor.ServiceCable, vendor.ServiceElectricity} {
        registry.SetRoute(vendor.Route{Service: s}, adapter.Name())
    }
    registry.SetRoute(vendor.Route{Service: vendor.ServiceDataBundle, PlanType: "sme"}, adapter.Name())

    alerts := &recordingAlerts{}
    tokens := session.NewIssuer("session-secret", time.Minute)

    p := processor.New(processor.Config{
        Ledger:  ledger,
        Vendors: registry,
        Pins:    hasher,
        Tokens:  tokens,
        Alerts:  alerts,
        Limits: processor.Limits{
            MinAirtime:     decimal.NewFromInt(50),
            MaxAirtime:     decimal.NewFromInt(50000),
            MinElectricity: decimal.NewFromInt(1000),
            MaxElectricity: decimal.NewFromInt(200000),
        },
        KeyHints: map[string]string{"fake": "abcd****wxyz"},
    })

    return &harness{
        p:       p,
        ledger:  ledger,
        adapter: adapter,
        alerts:  alerts,
        tokens:  tokens,
        user:    user,
        plan:    plan,
        cable:   cable,
    }
}

func (h *harness) dataRequest(key string) processor.Request {
    return processor.Request{
        Service:        vendor.ServiceDataBundle,
        UserID:         h.user.ID,
        Network:        "mtn",
        Identifier:     "08031234567",
        PlanID:         h.plan.ID,
        PIN:            testPin,
        IdempotencyKey: key,
    }
}
