package processor

import (
    "strings"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"

    "amaksub.vtu/internal/vendor"
)

const (
    maxKeyLength = 64
    maxQuantity  = 100
)

// Request is one purchase attempt. Catalog services carry PlanID and are
// priced server side; airtime and electricity carry Amount.
type Request struct {
    Service        string
    UserID         uuid.UUID
    Network        string
    Identifier     string
    PlanID         int64
    Amount         decimal.Decimal
    Quantity       int
    MeterType      string
    Phone          string
    PIN            string
    PinToken       string
    IdempotencyKey string
}

type Limits struct {
    MinAirtime     decimal.Decimal
    MaxAirtime     decimal.Decimal
    MinElectricity decimal.Decimal
    MaxElectricity decimal.Decimal
}

func invalid(message string) error {
    return newError(ErrInvalidRequest, message, nil)
}

func isCatalogService(service string) bool {
    switch service {
    case vendor.ServiceDataBundle, vendor.ServiceCable, vendor.ServiceExam, vendor.ServiceRechargeCard, vendor.ServiceDataCard:
        return true
    }
    return false
}

func isCardService(service string) bool {
    switch service {
    case vendor.ServiceExam, vendor.ServiceRechargeCard, vendor.ServiceDataCard:
        return true
    }
    return false
}

// normalize trims input in place and fills defaults.
func (r *Request) normalize() {
    r.Service = strings.ToLower(strings.TrimSpace(r.Service))
    r.Network = strings.ToLower(strings.TrimSpace(r.Network))
    r.Identifier = strings.TrimSpace(r.Identifier)
    r.MeterType = strings.ToLower(strings.TrimSpace(r.MeterType))
    r.Phone = strings.TrimSpace(r.Phone)
    r.PIN = strings.TrimSpace(r.PIN)
    r.PinToken = strings.TrimSpace(r.PinToken)
    r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)

    switch r.Service {
    case vendor.ServiceAirtime, vendor.ServiceDataBundle:
        r.Identifier = normalizePhone(r.Identifier)
    }
    if r.Phone != "" {
        r.Phone = normalizePhone(r.Phone)
    }
    if r.Service == vendor.ServiceElectricity && r.MeterType == "" {
        r.MeterType = "prepaid"
    }
    if r.Quantity == 0 && isCatalogService(r.Service) {
        r.Quantity = 1
    }
}

func (r *Request) validate(limits Limits) error {
    if r.UserID == uuid.Nil {
        return invalid("user_id is required")
    }
    if r.IdempotencyKey == "" {
        return invalid("idempotency_key is required")
    }
    if len(r.IdempotencyKey) > maxKeyLength {
        return invalid("idempotency_key is too long")
    }
    if r.PIN == "" && r.PinToken == "" {
        return invalid("pin is required")
    }
    if r.Network == "" {
        return invalid("network is required")
    }

    switch r.Service {
    case vendor.ServiceAirtime:
        if !validPhone(r.Identifier) {
            return invalid("phone number must be 11 digits")
        }
        return checkAmount(r.Amount, limits.MinAirtime, limits.MaxAirtime)
    case vendor.ServiceDataBundle:
        if !validPhone(r.Identifier) {
            return invalid("phone number must be 11 digits")
        }
    case vendor.ServiceCable:
        if !allDigits(r.Identifier) {
            return invalid("smart card number is required")
        }
    case vendor.ServiceElectricity:
        if !allDigits(r.Identifier) {
            return invalid("meter number is required")
        }
        if r.MeterType != "prepaid" && r.MeterType != "postpaid" {
            return invalid("meter_type must be prepaid or postpaid")
        }
        if r.Phone != "" && !validPhone(r.Phone) {
            return invalid("phone number must be 11 digits")
        }
        return checkAmount(r.Amount, limits.MinElectricity, limits.MaxElectricity)
    case vendor.ServiceExam:
        if !validPhone(r.Identifier) {
            return invalid("phone number must be 11 digits")
        }
    case vendor.ServiceRechargeCard, vendor.ServiceDataCard:
    default:
        return invalid("unknown service " + r.Service)
    }

    if r.PlanID <= 0 {
        return invalid("plan_id is required")
    }
    if isCardService(r.Service) {
        if r.Quantity < 1 || r.Quantity > maxQuantity {
            return invalid("quantity must be between 1 and 100")
        }
    } else if r.Quantity != 1 {
        return invalid("quantity is only allowed for card services")
    }
    return nil
}

func checkAmount(amount, lo, hi decimal.Decimal) error {
    if !amount.IsPositive() {
        return invalid("amount must be positive")
    }
    if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
        return invalid("amount has more than two decimal places")
    }
    if amount.LessThan(lo) || amount.GreaterThan(hi) {
        return invalid("amount must be between " + lo.String() + " and " + hi.String())
    }
    return nil
}

// normalizePhone turns +2348031234567 and 2348031234567 into 08031234567.
func normalizePhone(p string) string {
    p = strings.ReplaceAll(p, " ", "")
    switch {
    case strings.HasPrefix(p, "+234") && len(p) == 14:
        return "0" + p[4:]
    case strings.HasPrefix(p, "234") && len(p) == 13:
        return "0" + p[3:]
    }
    return p
}

func validPhone(p string) bool {
    return len(p) == 11 && p[0] == '0' && allDigits(p)
}

func allDigits(s string) bool {
    if s == "" {
        return false
    }
    for _, c := range s {
        if c < '0' || c > '9' {
            return false
        }
    }
    return true
}
