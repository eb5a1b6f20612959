package api

import (
    "crypto/subtle"
    "net/http"
    "strings"

    "github.com/gorilla/mux"

    "amaksub.vtu/internal/logging"
    "amaksub.vtu/internal/pin"
    "amaksub.vtu/internal/processor"
    "amaksub.vtu/internal/session"
    "amaksub.vtu/internal/store"
)

type Server struct {
    store          *store.Store
    processor      *processor.Processor
    pins           *pin.Hasher
    tokens         *session.Issuer
    authToken      string
    webhookSecrets map[string]string
    logger         logging.Logger
}

type Options struct {
    Store     *store.Store
    Processor *processor.Processor
    Pins      *pin.Hasher
    Tokens    *session.Issuer
    AuthToken string
    // WebhookSecrets maps a vendor name to its callback signing secret.
    // Vendors without a secret cannot post callbacks.
    WebhookSecrets map[string]string
    Logger         logging.Logger
}

func NewServer(opts Options) *Server {
    return &Server{
        store:          opts.Store,
        processor:      opts.Processor,
        pins:           opts.Pins,
        tokens:         opts.Tokens,
        authToken:      opts.AuthToken,
        webhookSecrets: opts.WebhookSecrets,
        logger:         logging.OrNop(opts.Logger),
    }
}

func (s *Server) Routes() http.Handler {
    r := mux.NewRouter()
    r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
        writeError(w, http.StatusNotFound, "not_found")
    })
    r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
        writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
    })

    r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
    r.HandleFunc("/v1/webhooks/{vendor}", s.handleWebhook).Methods(http.MethodPost)

    v1 := r.PathPrefix("/v1").Subrouter()
    v1.Use(s.authMiddleware)
    v1.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
    v1.HandleFunc("/users/{id}/pin", s.handleSetPin).Methods(http.MethodPut)
    v1.HandleFunc("/users/{id}/balance", s.handleGetBalance).Methods(http.MethodGet)
    v1.HandleFunc("/users/{id}/transactions", s.handleListTransactions).Methods(http.MethodGet)
    v1.HandleFunc("/users/{id}/beneficiaries", s.handleListBeneficiaries).Methods(http.MethodGet)
    v1.HandleFunc("/users/{id}/funding", s.handleFundWallet).Methods(http.MethodPost)
    v1.HandleFunc("/pin/verify", s.handleVerifyPin).Methods(http.MethodPost)
    v1.HandleFunc("/purchases/{service}", s.handlePurchase).Methods(http.MethodPost)
    v1.HandleFunc("/verify/{service}", s.handleVerify).Methods(http.MethodPost)
    v1.HandleFunc("/transactions/{id}", s.handleGetTransaction).Methods(http.MethodGet)
    v1.HandleFunc("/plans/{service}/{network}", s.handleListPlans).Methods(http.MethodGet)
    return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        token := extractBearerToken(r.Header.Get("Authorization"))
        if !secureCompare(token, s.authToken) {
            writeError(w, http.StatusUnauthorized, "unauthorized")
            return
        }
        next.ServeHTTP(w, r)
    })
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
    if err := s.store.Ping(r.Context()); err != nil {
        s.logger.Printf("health check error: %v", err)
        writeError(w, http.StatusServiceUnavailable, "unavailable")
        return
    }
    writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func extractBearerToken(header string) string {
    if header == "" {
        return ""
    }
    parts := strings.SplitN(header, " ", 2)
    if len(parts) != 2 {
        return ""
    }
    if !strings.EqualFold(parts[0], "Bearer") {
        return ""
    }
    return strings.TrimSpace(parts[1])
}

func secureCompare(a, b string) bool {
    if a == "" || len(a) != len(b) {
        return false
    }
    return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
