package api

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/hex"
    "io"
    "net/http"
    "strings"

    "github.com/gorilla/mux"
)

const signatureHeader = "X-Signature"

type webhookResponse struct {
    Received bool   `json:"received"`
    Matched  bool   `json:"matched"`
    Status   string `json:"status,omitempty"`
}

// handleWebhook authenticates with a per-vendor HMAC instead of the bearer
// token, since vendors call it directly.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
    source := strings.ToLower(mux.Vars(r)["vendor"])
    secret := s.webhookSecrets[source]
    if secret == "" {
        writeError(w, http.StatusNotFound, "unknown_vendor")
        return
    }

    body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
    if err != nil {
        writeError(w, http.StatusBadRequest, "invalid_request")
        return
    }
    if !validSignature(secret, body, r.Header.Get(signatureHeader)) {
        s.logEvent("webhook_rejected", map[string]any{
            "source": source,
            "reason": "invalid_signature",
        })
        writeError(w, http.StatusUnauthorized, "invalid_signature")
        return
    }

    rec, err := s.processor.Reconcile(r.Context(), source, body)
    if err != nil {
        status, code := errorStatus(err)
        if status >= http.StatusInternalServerError {
            s.logger.Printf("webhook %s error: %v", source, err)
        }
        writeError(w, status, code)
        return
    }

    resp := webhookResponse{Received: true, Matched: rec.Matched}
    if rec.Matched {
        resp.Status = rec.Transaction.Status
    }
    writeJSON(w, http.StatusOK, resp)
}

func signBody(secret string, body []byte) string {
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write(body)
    return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, header string) bool {
    got, err := hex.DecodeString(strings.TrimSpace(strings.TrimPrefix(header, "sha256=")))
    if err != nil || len(got) == 0 {
        return false
    }
    want, _ := hex.DecodeString(signBody(secret, body))
    return hmac.Equal(got, want)
}
