package store

import (
    "context"
    "errors"

    "github.com/google/uuid"
    "github.com/jackc/pgx/v5"
)

const transactionColumns = `id, user_id, transaction_type, amount, identifier, network, plan_code,
    vendor, status, order_id, vendor_reference, token, api_response, created_at, updated_at`

type querier interface {
    QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ReservePurchase holds the purchase amount before the vendor is called. It
// locks the user row, dedupes on OrderID, debits the wallet and writes a
// processing record with its debit ledger entry in one database transaction.
// The bool is false when an existing record for the same order was returned.
func (s *Store) ReservePurchase(ctx context.Context, input ReserveInput) (Transaction, bool, error) {
    tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil {
        return Transaction{}, false, err
    }
    defer func() {
        _ = tx.Rollback(ctx)
    }()

    user, err := lockUser(ctx, tx, input.UserID)
    if err != nil {
        return Transaction{}, false, err
    }
    if !user.IsActive {
        return Transaction{}, false, ErrUserInactive
    }

    existing, err := getTransactionByOrderID(ctx, tx, input.OrderID)
    if err == nil {
        if !samePurchase(existing, input) {
            return Transaction{}, false, ErrIdempotencyConflict
        }
        return existing, false, nil
    }
    if !errors.Is(err, pgx.ErrNoRows) {
        return Transaction{}, false, err
    }

    if user.Balance.LessThan(input.Amount) {
        return Transaction{}, false, ErrInsufficientBalance
    }

    created, err := insertTransaction(ctx, tx, input, StatusProcessing)
    if err != nil {
        if isUniqueViolation(err) {
            return Transaction{}, false, ErrIdempotencyConflict
        }
        return Transaction{}, false, err
    }

    tag, err := tx.Exec(ctx, `
        UPDATE users SET balance = balance - $1, updated_at = NOW()
        WHERE id = $2 AND balance >= $1
    `, input.Amount, input.UserID)
    if err != nil {
        return Transaction{}, false, err
    }
    if tag.RowsAffected() == 0 {
        return Transaction{}, false, ErrInsufficientBalance
    }

    if err := insertLedgerEntry(ctx, tx, input.UserID, created.ID, input.Amount, DirectionDebit); err != nil {
        return Transaction{}, false, err
    }

    if err := tx.Commit(ctx); err != nil {
        return Transaction{}, false, err
    }
    return created, true, nil
}

// CompletePurchase moves a processing record to completed and upserts the
// recipient as a beneficiary. Completing an already completed record is a
// no-op.
func (s *Store) CompletePurchase(ctx context.Context, input CompleteInput) (Transaction, error) {
    tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil {
        return Transaction{}, err
    }
    defer func() {
        _ = tx.Rollback(ctx)
    }()

    t, err := lockTransaction(ctx, tx, input.TransactionID)
    if err != nil {
        return Transaction{}, err
    }

    if t.Status == StatusCompleted {
        if err := tx.Commit(ctx); err != nil {
            return Transaction{}, err
        }
        return t, nil
    }
    if t.Status != StatusProcessing {
        return Transaction{}, ErrInvalidStatus
    }

    updated, err := finishTransaction(ctx, tx, t.ID, StatusCompleted, input.VendorReference, input.Token, input.APIResponse)
    if err != nil {
        return Transaction{}, err
    }

    if input.Beneficiary != nil {
        b := *input.Beneficiary
        b.UserID = t.UserID
        if err := upsertBeneficiary(ctx, tx, b); err != nil {
            return Transaction{}, err
        }
    }

    if err := tx.Commit(ctx); err != nil {
        return Transaction{}, err
    }
    return updated, nil
}

// FailPurchase moves a processing record to failed and credits the reserved
// amount back. Failing an already failed record is a no-op.
func (s *Store) FailPurchase(ctx context.Context, input FailInput) (Transaction, error) {
    tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil {
        return Transaction{}, err
    }
    defer func() {
        _ = tx.Rollback(ctx)
    }()

    t, err := lockTransaction(ctx, tx, input.TransactionID)
    if err != nil {
        return Transaction{}, err
    }

    if t.Status == StatusFailed {
        if err := tx.Commit(ctx); err != nil {
            return Transaction{}, err
        }
        return t, nil
    }
    if t.Status != StatusProcessing {
        return Transaction{}, ErrInvalidStatus
    }

    updated, err := finishTransaction(ctx, tx, t.ID, StatusFailed, input.VendorReference, "", input.APIResponse)
    if err != nil {
        return Transaction{}, err
    }

    _, err = tx.Exec(ctx, "UPDATE users SET balance = balance + $1, updated_at = NOW() WHERE id = $2", t.Amount, t.UserID)
    if err != nil {
        return Transaction{}, err
    }

    if err := insertLedgerEntry(ctx, tx, t.UserID, t.ID, t.Amount, DirectionCredit); err != nil {
        return Transaction{}, err
    }

    if err := tx.Commit(ctx); err != nil {
        return Transaction{}, err
    }
    return updated, nil
}

// NoteVendorReply keeps the vendor reference and answer of a purchase that
// is still processing so a later callback can find it.
func (s *Store) NoteVendorReply(ctx context.Context, id int64, reference string, raw []byte) error {
    _, err := s.pool.Exec(ctx, `
        UPDATE transactions
        SET vendor_reference = CASE WHEN $1 = '' THEN vendor_reference ELSE $1 END,
            api_response = COALESCE($2, api_response),
            updated_at = NOW()
        WHERE id = $3 AND status = $4
    `, reference, jsonOrNil(raw), id, StatusProcessing)
    return err
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
    var t Transaction
    err := s.pool.QueryRow(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = $1", id).Scan(transactionDest(&t)...)
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return Transaction{}, ErrNotFound
        }
        return Transaction{}, err
    }
    return t, nil
}

func (s *Store) GetTransactionByOrderID(ctx context.Context, orderID string) (Transaction, error) {
    t, err := getTransactionByOrderID(ctx, s.pool, orderID)
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return Transaction{}, ErrNotFound
        }
        return Transaction{}, err
    }
    return t, nil
}

func (s *Store) GetTransactionByVendorReference(ctx context.Context, vendor, reference string) (Transaction, error) {
    var t Transaction
    err := s.pool.QueryRow(ctx, `
        SELECT `+transactionColumns+`
        FROM transactions
        WHERE vendor = $1 AND vendor_reference = $2
        ORDER BY id DESC
        LIMIT 1
    `, vendor, reference).Scan(transactionDest(&t)...)
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return Transaction{}, ErrNotFound
        }
        return Transaction{}, err
    }
    return t, nil
}

// ListTransactions returns the newest records first.
func (s *Store) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]Transaction, error) {
    rows, err := s.pool.Query(ctx, `
        SELECT `+transactionColumns+`
        FROM transactions
        WHERE user_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2
    `, userID, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    out := []Transaction{}
    for rows.Next() {
        var t Transaction
        if err := rows.Scan(transactionDest(&t)...); err != nil {
            return nil, err
        }
        out = append(out, t)
    }
    return out, rows.Err()
}

func insertTransaction(ctx context.Context, tx pgx.Tx, input ReserveInput, status string) (Transaction, error) {
    var t Transaction
    err := tx.QueryRow(ctx, `
        INSERT INTO transactions (user_id, transaction_type, amount, identifier, network, plan_code, vendor, status, order_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING `+transactionColumns,
        input.UserID,
        input.Type,
        input.Amount,
        input.Identifier,
        input.Network,
        input.PlanCode,
        input.Vendor,
        status,
        input.OrderID,
    ).Scan(transactionDest(&t)...)
    return t, err
}

func finishTransaction(ctx context.Context, tx pgx.Tx, id int64, status, reference, token string, raw []byte) (Transaction, error) {
    var t Transaction
    err := tx.QueryRow(ctx, `
        UPDATE transactions
        SET status = $1,
            vendor_reference = CASE WHEN $2 = '' THEN vendor_reference ELSE $2 END,
            token = $3,
            api_response = $4,
            updated_at = NOW()
        WHERE id = $5
        RETURNING `+transactionColumns,
        status,
        reference,
        token,
        jsonOrNil(raw),
        id,
    ).Scan(transactionDest(&t)...)
    return t, err
}

func lockTransaction(ctx context.Context, tx pgx.Tx, id int64) (Transaction, error) {
    var t Transaction
    err := tx.QueryRow(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = $1 FOR UPDATE", id).Scan(transactionDest(&t)...)
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return Transaction{}, ErrNotFound
        }
        return Transaction{}, err
    }
    return t, nil
}

func getTransactionByOrderID(ctx context.Context, q querier, orderID string) (Transaction, error) {
    var t Transaction
    err := q.QueryRow(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE order_id = $1", orderID).Scan(transactionDest(&t)...)
    return t, err
}

func transactionDest(t *Transaction) []any {
    return []any{
        &t.ID,
        &t.UserID,
        &t.Type,
        &t.Amount,
        &t.Identifier,
        &t.Network,
        &t.PlanCode,
        &t.Vendor,
        &t.Status,
        &t.OrderID,
        &t.VendorReference,
        &t.Token,
        &t.APIResponse,
        &t.CreatedAt,
        &t.UpdatedAt,
    }
}

func samePurchase(t Transaction, input ReserveInput) bool {
    return t.UserID == input.UserID &&
        t.Type == input.Type &&
        t.Amount.Equal(input.Amount) &&
        t.Identifier == input.Identifier &&
        t.Network == input.Network &&
        t.PlanCode == input.PlanCode
}

// jsonOrNil keeps empty payloads as SQL NULL.
func jsonOrNil(raw []byte) any {
    if len(raw) == 0 {
        return nil
    }
    return string(raw)
}
