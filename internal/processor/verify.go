package processor

import (
    "context"
    "errors"
    "strings"

    "amaksub.vtu/internal/vendor"
)

type VerifyRequest struct {
    Service    string
    Provider   string
    Identifier string
    MeterType  string
}

// Verify checks a smart card or meter number with the vendor that would
// serve the purchase, without touching the wallet.
func (p *Processor) Verify(ctx context.Context, req VerifyRequest) (vendor.Verification, error) {
    req.Service = strings.ToLower(strings.TrimSpace(req.Service))
    req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
    req.Identifier = strings.TrimSpace(req.Identifier)
    req.MeterType = strings.ToLower(strings.TrimSpace(req.MeterType))
    if req.MeterType == "" {
        req.MeterType = "prepaid"
    }

    if req.Service != vendor.ServiceCable && req.Service != vendor.ServiceElectricity {
        return vendor.Verification{}, invalid("verification is only available for cable and electricity")
    }
    if req.Provider == "" {
        return vendor.Verification{}, invalid("provider is required")
    }
    if !allDigits(req.Identifier) {
        return vendor.Verification{}, invalid("a numeric smart card or meter number is required")
    }

    adapter, err := p.vendors.Resolve(req.Service, req.Provider, "")
    if err != nil {
        return vendor.Verification{}, newError(ErrUnsupportedCombination, "this provider is not available", err)
    }

    v, err := adapter.Verify(ctx, vendor.VerifyQuery{
        Service:    req.Service,
        Provider:   req.Provider,
        Identifier: req.Identifier,
        MeterType:  req.MeterType,
    })
    if err != nil {
        if errors.Is(err, vendor.ErrVerifyUnsupported) {
            return vendor.Verification{}, newError(ErrUnsupportedCombination, "verification is not available for this provider", err)
        }
        return vendor.Verification{}, classifyCallError(err)
    }
    if !v.Valid {
        return v, newError(ErrVerificationFailed, v.Message, nil)
    }
    return v, nil
}
