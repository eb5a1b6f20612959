package store

import (
    "context"
    "errors"

    "github.com/google/uuid"
    "github.com/jackc/pgx/v5"
)

const planColumns = "id, service, network, plan_type, size, price, validity, value, active"

func (s *Store) GetPlan(ctx context.Context, id int64) (Plan, error) {
    var p Plan
    err := s.pool.QueryRow(ctx, "SELECT "+planColumns+" FROM plans WHERE id = $1", id).Scan(planDest(&p)...)
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            return Plan{}, ErrNotFound
        }
        return Plan{}, err
    }
    return p, nil
}

// ListPlans returns the active plans of one service and network, cheapest
// first.
func (s *Store) ListPlans(ctx context.Context, service, network string) ([]Plan, error) {
    rows, err := s.pool.Query(ctx, `
        SELECT `+planColumns+`
        FROM plans
        WHERE service = $1 AND network = $2 AND active
        ORDER BY price ASC, id ASC
    `, service, network)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    out := []Plan{}
    for rows.Next() {
        var p Plan
        if err := rows.Scan(planDest(&p)...); err != nil {
            return nil, err
        }
        out = append(out, p)
    }
    return out, rows.Err()
}

func (s *Store) CreatePlan(ctx context.Context, p Plan) (Plan, error) {
    var created Plan
    err := s.pool.QueryRow(ctx, `
        INSERT INTO plans (service, network, plan_type, size, price, validity, value, active)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING `+planColumns,
        p.Service,
        p.Network,
        p.PlanType,
        p.Size,
        p.Price,
        p.Validity,
        p.Value,
        p.Active,
    ).Scan(planDest(&created)...)
    return created, err
}

func (s *Store) ListBeneficiaries(ctx context.Context, userID uuid.UUID) ([]Beneficiary, error) {
    rows, err := s.pool.Query(ctx, `
        SELECT user_id, mobile_number, mobile_network, network_name, updated_at
        FROM beneficiaries
        WHERE user_id = $1
        ORDER BY updated_at DESC
    `, userID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    out := []Beneficiary{}
    for rows.Next() {
        var b Beneficiary
        if err := rows.Scan(&b.UserID, &b.MobileNumber, &b.MobileNetwork, &b.NetworkName, &b.UpdatedAt); err != nil {
            return nil, err
        }
        out = append(out, b)
    }
    return out, rows.Err()
}

func upsertBeneficiary(ctx context.Context, tx pgx.Tx, b Beneficiary) error {
    _, err := tx.Exec(ctx, `
        INSERT INTO beneficiaries (user_id, mobile_number, mobile_network, network_name)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id, mobile_number)
        DO UPDATE SET mobile_network = EXCLUDED.mobile_network,
            network_name = EXCLUDED.network_name,
            updated_at = NOW()
    `, b.UserID, b.MobileNumber, b.MobileNetwork, b.NetworkName)
    return err
}

func planDest(p *Plan) []any {
    return []any{
        &p.ID,
        &p.Service,
        &p.Network,
        &p.PlanType,
        &p.Size,
        &p.Price,
        &p.Validity,
        &p.Value,
        &p.Active,
    }
}
