package pin

import (
    "crypto/hmac"
    "crypto/sha256"
    "errors"

    "golang.org/x/crypto/bcrypt"
)

const Length = 4

var (
    ErrMalformed = errors.New("pin must be 4 digits")
    ErrMismatch  = errors.New("pin mismatch")
    ErrNotSet    = errors.New("pin not set")
)

// Hasher stores PINs as bcrypt(HMAC-SHA256(pepper, pin)). The pepper is
// never persisted.
type Hasher struct {
    pepper []byte
    cost   int
}

func NewHasher(pepper string) *Hasher {
    return &Hasher{pepper: []byte(pepper), cost: bcrypt.DefaultCost}
}

// WithCost is used by tests to keep bcrypt fast.
func (h *Hasher) WithCost(cost int) *Hasher {
    return &Hasher{pepper: h.pepper, cost: cost}
}

func Valid(p string) bool {
    if len(p) != Length {
        return false
    }
    for _, c := range p {
        if c < '0' || c > '9' {
            return false
        }
    }
    return true
}

func (h *Hasher) Hash(p string) (string, error) {
    if !Valid(p) {
        return "", ErrMalformed
    }
    out, err := bcrypt.GenerateFromPassword(h.peppered(p), h.cost)
    if err != nil {
        return "", err
    }
    return string(out), nil
}

func (h *Hasher) Compare(hash, p string) error {
    if hash == "" {
        return ErrNotSet
    }
    if !Valid(p) {
        return ErrMismatch
    }
    if err := bcrypt.CompareHashAndPassword([]byte(hash), h.peppered(p)); err != nil {
        if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
            return ErrMismatch
        }
        return err
    }
    return nil
}

func (h *Hasher) peppered(p string) []byte {
    mac := hmac.New(sha256.New, h.pepper)
    mac.Write([]byte(p))
    return mac.Sum(nil)
}
