package store

import (
    "context"
    "errors"

    "github.com/google/uuid"
    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgconn"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/shopspring/decimal"
)

type Store struct {
    pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
    return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
    return s.pool.Ping(ctx)
}

func (s *Store) CreateUser(ctx context.Context, input CreateUserInput) (User, error) {
    var u User
    err := s.pool.QueryRow(ctx, `
        INSERT INTO users (id, full_name, email, balance, pin_hash)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING `+userColumns,
        input.ID,
        input.FullName,
        input.Email,
        input.Balance,
        input.PinHash,
    ).Scan(userDest(&u)...)
    if err != nil {
        if isUniqueViolation(err) {
            return User{}, ErrUserExists
        }
        return User{}, err
    }
    return u, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
    var u User
    err := s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id).Scan(userDest(&u)...)
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return User{}, ErrUserNotFound
        }
        return User{}, err
    }
    return u, nil
}

func (s *Store) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
    var balance decimal.Decimal
    err := s.pool.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1", id).Scan(&balance)
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return decimal.Zero, ErrUserNotFound
        }
        return decimal.Zero, err
    }
    return balance, nil
}

func (s *Store) SetPinHash(ctx context.Context, id uuid.UUID, hash string) error {
    tag, err := s.pool.Exec(ctx, "UPDATE users SET pin_hash = $1, updated_at = NOW() WHERE id = $2", hash, id)
    if err != nil {
        return err
    }
    if tag.RowsAffected() == 0 {
        return ErrUserNotFound
    }
    return nil
}

// FundWallet credits the wallet and records a completed wallet_funding
// transaction. Replaying the same reference returns the original record.
func (s *Store) FundWallet(ctx context.Context, input FundInput) (Transaction, error) {
    tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil {
        return Transaction{}, err
    }
    defer func() {
        _ = tx.Rollback(ctx)
    }()

    if _, err := lockUser(ctx, tx, input.UserID); err != nil {
        return Transaction{}, err
    }

    existing, err := getTransactionByOrderID(ctx, tx, input.Reference)
    if err == nil {
        if existing.UserID != input.UserID || existing.Type != TypeWalletFunding || !existing.Amount.Equal(input.Amount) {
            return Transaction{}, ErrIdempotencyConflict
        }
        return existing, nil
    }
    if !errors.Is(err, pgx.ErrNoRows) {
        return Transaction{}, err
    }

    created, err := insertTransaction(ctx, tx, ReserveInput{
        UserID:  input.UserID,
        Type:    TypeWalletFunding,
        Amount:  input.Amount,
        OrderID: input.Reference,
    }, StatusCompleted)
    if err != nil {
        if isUniqueViolation(err) {
            return Transaction{}, ErrIdempotencyConflict
        }
        return Transaction{}, err
    }

    _, err = tx.Exec(ctx, "UPDATE users SET balance = balance + $1, updated_at = NOW() WHERE id = $2", input.Amount, input.UserID)
    if err != nil {
        return Transaction{}, err
    }

    if err := insertLedgerEntry(ctx, tx, input.UserID, created.ID, input.Amount, DirectionCredit); err != nil {
        return Transaction{}, err
    }

    if err := tx.Commit(ctx); err != nil {
        return Transaction{}, err
    }
    return created, nil
}

const userColumns = "id, full_name, email, balance, pin_hash, is_active, created_at, updated_at"

func userDest(u *User) []any {
    return []any{
        &u.ID,
        &u.FullName,
        &u.Email,
        &u.Balance,
        &u.PinHash,
        &u.IsActive,
        &u.CreatedAt,
        &u.UpdatedAt,
    }
}

func lockUser(ctx context.Context, tx pgx.Tx, id uuid.UUID) (User, error) {
    var u User
    err := tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", id).Scan(userDest(&u)...)
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return User{}, ErrUserNotFound
        }
        return User{}, err
    }
    return u, nil
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, userID uuid.UUID, transactionID int64, amount decimal.Decimal, direction string) error {
    _, err := tx.Exec(ctx, `
        INSERT INTO ledger_entries (user_id, transaction_id, amount, direction)
        VALUES ($1, $2, $3, $4)
    `, userID, transactionID, amount, direction)
    return err
}

func isUniqueViolation(err error) bool {
    var pgErr *pgconn.PgError
    if !errors.As(err, &pgErr) {
        return false
    }
    return pgErr.Code == "23505"
}
