package api_test

import (
    "context"
    "io"
    "log"
    "net/http"
    "net/http/httptest"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/shopspring/decimal"
    "golang.org/x/crypto/bcrypt"

    "amaksub.vtu/internal/api"
    "amaksub.vtu/internal/pin"
    "amaksub.vtu/internal/processor"
    "amaksub.vtu/internal/session"
    "amaksub.vtu/internal/store"
    "amaksub.vtu/internal/vendor"
)

const (
    testPin           = "1234"
    testWebhookSecret = "whsec-test"
)

type testEnv struct {
    pool      *pgxpool.Pool
    store     *store.Store
    pins      *pin.Hasher
    vendor    *fakeVendor
    server    *httptest.Server
    client    *http.Client
    authToken string
}

// fakeVendor answers every purchase with the configured reply in the
// vtunaija wire format.
type fakeVendor struct {
    server *httptest.Server
    mu     sync.Mutex
    reply  string
    status int
    calls  int
}

func newFakeVendor() *fakeVendor {
    f := &fakeVendor{
        reply:  `{"Status":"successful","ident":"VN-1"}`,
        status: http.StatusOK,
    }
    f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        f.mu.Lock()
        f.calls++
        reply, status := f.reply, f.status
        f.mu.Unlock()
        _, _ = io.Copy(io.Discard, r.Body)
        w.Header().Set("Content-Type", "application/json")
        w.WriteHeader(status)
        _, _ = w.Write([]byte(reply))
    }))
    return f
}

func (f *fakeVendor) respond(status int, reply string) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.status = status
    f.reply = reply
}

func (f *fakeVendor) callCount() int {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.calls
}

func setupTest(t *testing.T) *testEnv {
    t.Helper()

    dbURL := os.Getenv("DATABASE_URL")
    if dbURL == "" {
        t.Skip("DATABASE_URL is not set")
    }

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    pool, err := pgxpool.New(ctx, dbURL)
    if err != nil {
        t.Fatalf("db connection: %v", err)
    }

    applySchema(t, pool)
    resetDB(t, pool)

    logger := log.New(io.Discard, "", 0)
    fv := newFakeVendor()
    adapter := vendor.NewVtunaija(vendor.Options{BaseURL: fv.server.URL, APIKey: "vt-key", Timeout: 2 * time.Second})
    registry := vendor.NewRegistry(adapter)
    registry.SetRoute(vendor.Route{Service: vendor.ServiceDataBundle}, adapter.Name())
    // Electricity is left pointing at a vendor this server does not run.
    registry.SetRoute(vendor.Route{Service: vendor.ServiceElectricity}, vendor.BillerName)

    st := store.New(pool)
    pins := pin.NewHasher("pepper").WithCost(bcrypt.MinCost)
    tokens := session.NewIssuer("session-secret", time.Minute)
    proc := processor.New(processor.Config{
        Ledger:  st,
        Vendors: registry,
        Pins:    pins,
        Tokens:  tokens,
        Limits: processor.Limits{
            MinAirtime:     decimal.NewFromInt(50),
            MaxAirtime:     decimal.NewFromInt(50000),
            MinElectricity: decimal.NewFromInt(1000),
            MaxElectricity: decimal.NewFromInt(200000),
        },
        Logger: logger,
    })

    authToken := "test-token"
    srv := api.NewServer(api.Options{
        Store:          st,
        Processor:      proc,
        Pins:           pins,
        Tokens:         tokens,
        AuthToken:      authToken,
        WebhookSecrets: map[string]string{vendor.VtunaijaName: testWebhookSecret},
        Logger:         logger,
    })
    ts := httptest.NewServer(srv.Routes())

    return &testEnv{
        pool:      pool,
        store:     st,
        pins:      pins,
        vendor:    fv,
        server:    ts,
        client:    &http.Client{Timeout: 5 * time.Second},
        authToken: authToken,
    }
}

func (e *testEnv) close() {
    e.server.Close()
    e.vendor.server.Close()
    e.pool.Close()
}

func (e *testEnv) doRequest(t *testing.T, method, path, body string) *http.Response {
    t.Helper()
    return e.doRequestWithHeaders(t, method, path, body, nil)
}

func (e *testEnv) doRequestWithHeaders(t *testing.T, method, path, body string, headers map[string]string) *http.Response {
    t.Helper()

    req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
    if err != nil {
        t.Fatalf("new request: %v", err)
    }
    req.Header.Set("Authorization", "Bearer "+e.authToken)
    req.Header.Set("Content-Type", "application/json")
    for k, v := range headers {
        req.Header.Set(k, v)
    }

    resp, err := e.client.Do(req)
    if err != nil {
        t.Fatalf("do request: %v", err)
    }
    return resp
}

func seedUser(t *testing.T, e *testEnv, balance int64) uuid.UUID {
    t.Helper()

    hash, err := e.pins.Hash(testPin)
    if err != nil {
        t.Fatalf("hash pin: %v", err)
    }

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    u, err := e.store.CreateUser(ctx, store.CreateUserInput{
        ID:       uuid.New(),
        FullName: "Ada Obi",
        Email:    "ada@example.com",
        Balance:  decimal.NewFromInt(balance),
        PinHash:  hash,
    })
    if err != nil {
        t.Fatalf("seed user: %v", err)
    }
    return u.ID
}

func seedPlan(t *testing.T, e *testEnv, price int64) int64 {
    t.Helper()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    p, err := e.store.CreatePlan(ctx, store.Plan{
        Service:  vendor.ServiceDataBundle,
        Network:  "mtn",
        PlanType: "sme",
        Size:     "1GB",
        Price:    decimal.NewFromInt(price),
        Validity: "30 days",
        Value:    "mtn-sme-1gb",
        Active:   true,
    })
    if err != nil {
        t.Fatalf("seed plan: %v", err)
    }
    return p.ID
}

func getBalance(t *testing.T, pool *pgxpool.Pool, userID uuid.UUID) decimal.Decimal {
    t.Helper()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    var balance decimal.Decimal
    if err := pool.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1", userID).Scan(&balance); err != nil {
        t.Fatalf("get balance: %v", err)
    }
    return balance
}

// getLedgerSummary returns the entry count and the net amount debited.
func getLedgerSummary(t *testing.T, pool *pgxpool.Pool, userID uuid.UUID) (int, decimal.Decimal) {
    t.Helper()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    var count int
    var net decimal.Decimal
    err := pool.QueryRow(ctx, `
        SELECT COUNT(*),
               COALESCE(SUM(CASE WHEN direction = 'debit' THEN amount ELSE -amount END), 0)
        FROM ledger_entries WHERE user_id = $1`, userID).Scan(&count, &net)
    if err != nil {
        t.Fatalf("get ledger summary: %v", err)
    }
    return count, net
}

func getTransactionCount(t *testing.T, pool *pgxpool.Pool, userID uuid.UUID) int {
    t.Helper()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    var count int
    if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions WHERE user_id = $1", userID).Scan(&count); err != nil {
        t.Fatalf("get transaction count: %v", err)
    }
    return count
}

func applySchema(t *testing.T, pool *pgxpool.Pool) {
    t.Helper()

    schema := loadSchema(t)
    statements := strings.Split(schema, ";")

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    for _, stmt := range statements {
        s := strings.TrimSpace(stmt)
        if s == "" {
            continue
        }
        if _, err := pool.Exec(ctx, s); err != nil {
            t.Fatalf("apply schema: %v", err)
        }
    }
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
    t.Helper()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    if _, err := pool.Exec(ctx, "TRUNCATE webhook_logs, beneficiaries, ledger_entries, transactions, plans, users RESTART IDENTITY"); err != nil {
        t.Fatalf("reset db: %v", err)
    }
}

func loadSchema(t *testing.T) string {
    t.Helper()

    wd, err := os.Getwd()
    if err != nil {
        t.Fatalf("getwd: %v", err)
    }

    dir := wd
    for i := 0; i < 6; i++ {
        path := filepath.Join(dir, "schema.sql")
        if _, err := os.Stat(path); err == nil {
            data, err := os.ReadFile(path)
            if err != nil {
                t.Fatalf("read schema: %v", err)
            }
            return string(data)
        }
        parent := filepath.Dir(dir)
        if parent == dir {
            break
        }
        dir = parent
    }

    t.Fatalf("schema.sql not found from %s", wd)
    return ""
}
