package api

import (
    "encoding/json"
    "errors"
    "io"
    "net/http"
    "strconv"

    "github.com/google/uuid"
    "github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
    Error   string `json:"error"`
    Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
    writeJSON(w, status, errorResponse{Error: code})
}

func writeErrorDetails(w http.ResponseWriter, status int, code, details string) {
    writeJSON(w, status, errorResponse{Error: code, Details: details})
}

// decodeJSON accepts exactly one JSON object with known fields only.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
    dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
    dec.DisallowUnknownFields()
    if err := dec.Decode(dst); err != nil {
        return err
    }
    if err := dec.Decode(&struct{}{}); err != io.EOF {
        return errors.New("unexpected data after JSON object")
    }
    return nil
}

func pathUserID(r *http.Request) (uuid.UUID, bool) {
    id, err := uuid.Parse(mux.Vars(r)["id"])
    if err != nil || id == uuid.Nil {
        return uuid.Nil, false
    }
    return id, true
}

func pathInt64(r *http.Request, key string) (int64, bool) {
    id, err := strconv.ParseInt(mux.Vars(r)[key], 10, 64)
    if err != nil || id <= 0 {
        return 0, false
    }
    return id, true
}
