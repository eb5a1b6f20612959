package store

import (
    "encoding/json"
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"
)

const (
    StatusPending    = "pending"
    StatusProcessing = "processing"
    StatusCompleted  = "completed"
    StatusFailed     = "failed"
)

const (
    TypeAirtime       = "airtime"
    TypeDataBundle    = "data-bundle"
    TypeCable         = "cable"
    TypeElectricity   = "electricity"
    TypeRechargeCard  = "recharge-card"
    TypeDataCard      = "data-card"
    TypeExam          = "exam"
    TypeWalletFunding = "wallet_funding"
)

const (
    DirectionDebit  = "debit"
    DirectionCredit = "credit"
)

type User struct {
    ID        uuid.UUID
    FullName  string
    Email     string
    Balance   decimal.Decimal
    PinHash   string
    IsActive  bool
    CreatedAt time.Time
    UpdatedAt time.Time
}

type CreateUserInput struct {
    ID       uuid.UUID
    FullName string
    Email    string
    Balance  decimal.Decimal
    PinHash  string
}

// Transaction is one purchase attempt or wallet funding. OrderID carries the
// client idempotency key and is unique across all users.
type Transaction struct {
    ID              int64
    UserID          uuid.UUID
    Type            string
    Amount          decimal.Decimal
    Identifier      string
    Network         string
    PlanCode        string
    Vendor          string
    Status          string
    OrderID         string
    VendorReference string
    Token           string
    APIResponse     json.RawMessage
    CreatedAt       time.Time
    UpdatedAt       time.Time
}

type ReserveInput struct {
    UserID     uuid.UUID
    Type       string
    Amount     decimal.Decimal
    Identifier string
    Network    string
    PlanCode   string
    Vendor     string
    OrderID    string
}

type CompleteInput struct {
    TransactionID   int64
    VendorReference string
    Token           string
    APIResponse     json.RawMessage
    // Beneficiary is upserted in the same database transaction when set.
    Beneficiary *Beneficiary
}

type FailInput struct {
    TransactionID   int64
    VendorReference string
    APIResponse     json.RawMessage
}

type FundInput struct {
    UserID    uuid.UUID
    Amount    decimal.Decimal
    Reference string
}

type LedgerEntry struct {
    ID            int64
    UserID        uuid.UUID
    TransactionID int64
    Amount        decimal.Decimal
    Direction     string
    CreatedAt     time.Time
}

type Beneficiary struct {
    UserID        uuid.UUID
    MobileNumber  string
    MobileNetwork string
    NetworkName   string
    UpdatedAt     time.Time
}

// Plan is a catalog entry. Value is the vendor plan code sent on the wire.
type Plan struct {
    ID       int64
    Service  string
    Network  string
    PlanType string
    Size     string
    Price    decimal.Decimal
    Validity string
    Value    string
    Active   bool
}

type WebhookLog struct {
    ID          int64
    Source      string
    Data        json.RawMessage
    ProcessedAt time.Time
}
