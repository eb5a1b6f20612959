package api

import (
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"

    "amaksub.vtu/internal/store"
)

type userResponse struct {
    ID        uuid.UUID       `json:"id"`
    FullName  string          `json:"full_name"`
    Email     string          `json:"email"`
    Balance   decimal.Decimal `json:"balance"`
    HasPin    bool            `json:"has_pin"`
    IsActive  bool            `json:"is_active"`
    CreatedAt time.Time       `json:"created_at"`
}

// transactionResponse never carries the raw vendor answer.
type transactionResponse struct {
    ID              int64           `json:"id"`
    UserID          uuid.UUID       `json:"user_id"`
    Type            string          `json:"transaction_type"`
    Amount          decimal.Decimal `json:"amount"`
    Identifier      string          `json:"identifier,omitempty"`
    Network         string          `json:"network,omitempty"`
    PlanCode        string          `json:"plan_code,omitempty"`
    Vendor          string          `json:"vendor,omitempty"`
    Status          string          `json:"status"`
    OrderID         string          `json:"order_id"`
    VendorReference string          `json:"vendor_reference,omitempty"`
    Token           string          `json:"token,omitempty"`
    CreatedAt       time.Time       `json:"created_at"`
    UpdatedAt       time.Time       `json:"updated_at"`
}

type beneficiaryResponse struct {
    MobileNumber  string    `json:"mobile_number"`
    MobileNetwork string    `json:"mobile_network"`
    NetworkName   string    `json:"network_name"`
    UpdatedAt     time.Time `json:"updated_at"`
}

type planResponse struct {
    ID       int64           `json:"id"`
    Service  string          `json:"service"`
    Network  string          `json:"network"`
    PlanType string          `json:"plan_type,omitempty"`
    Size     string          `json:"size"`
    Price    decimal.Decimal `json:"price"`
    Validity string          `json:"validity,omitempty"`
}

func toUserResponse(u store.User) userResponse {
    return userResponse{
        ID:        u.ID,
        FullName:  u.FullName,
        Email:     u.Email,
        Balance:   u.Balance,
        HasPin:    u.PinHash != "",
        IsActive:  u.IsActive,
        CreatedAt: u.CreatedAt,
    }
}

func toTransactionResponse(t store.Transaction) *transactionResponse {
    return &transactionResponse{
        ID:              t.ID,
        UserID:          t.UserID,
        Type:            t.Type,
        Amount:          t.Amount,
        Identifier:      t.Identifier,
        Network:         t.Network,
        PlanCode:        t.PlanCode,
        Vendor:          t.Vendor,
        Status:          t.Status,
        OrderID:         t.OrderID,
        VendorReference: t.VendorReference,
        Token:           t.Token,
        CreatedAt:       t.CreatedAt,
        UpdatedAt:       t.UpdatedAt,
    }
}

func toBeneficiaryResponse(b store.Beneficiary) beneficiaryResponse {
    return beneficiaryResponse{
        MobileNumber:  b.MobileNumber,
        MobileNetwork: b.MobileNetwork,
        NetworkName:   b.NetworkName,
        UpdatedAt:     b.UpdatedAt,
    }
}

func toPlanResponse(p store.Plan) planResponse {
    return planResponse{
        ID:       p.ID,
        Service:  p.Service,
        Network:  p.Network,
        PlanType: p.PlanType,
        Size:     p.Size,
        Price:    p.Price,
        Validity: p.Validity,
    }
}
