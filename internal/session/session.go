package session

import (
    "errors"
    "fmt"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/google/uuid"
)

const scopePin = "pin"

var ErrInvalidToken = errors.New("invalid pin token")

type Claims struct {
    Scope string `json:"scope"`
    jwt.RegisteredClaims
}

// Issuer hands out short-lived proof that a user entered the correct PIN.
type Issuer struct {
    secret []byte
    ttl    time.Duration
    now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
    return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) Issue(userID uuid.UUID) (string, time.Time, error) {
    now := i.now()
    expires := now.Add(i.ttl)
    claims := Claims{
        Scope: scopePin,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   userID.String(),
            ID:        uuid.NewString(),
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(expires),
        },
    }
    token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    signed, err := token.SignedString(i.secret)
    if err != nil {
        return "", time.Time{}, fmt.Errorf("sign pin token: %w", err)
    }
    return signed, expires, nil
}

// Verify accepts only an unexpired pin token issued for userID.
func (i *Issuer) Verify(raw string, userID uuid.UUID) error {
    claims := &Claims{}
    _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
        return i.secret, nil
    },
        jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
        jwt.WithExpirationRequired(),
        jwt.WithTimeFunc(i.now),
    )
    if err != nil {
        return fmt.Errorf("%w: %v", ErrInvalidToken, err)
    }
    if claims.Scope != scopePin || claims.Subject != userID.String() {
        return ErrInvalidToken
    }
    return nil
}
