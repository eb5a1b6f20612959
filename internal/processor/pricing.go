package processor

import (
    "context"
    "errors"
    "strings"

    "github.com/shopspring/decimal"

    "amaksub.vtu/internal/store"
)

type price struct {
    amount   decimal.Decimal
    planCode string
    planType string
}

// resolvePrice charges catalog services the stored plan price times the
// quantity, whatever the client sent. Airtime and electricity keep the
// requested amount, already bounded by validate.
func (p *Processor) resolvePrice(ctx context.Context, req Request) (price, error) {
    if !isCatalogService(req.Service) {
        return price{amount: req.Amount.Round(2)}, nil
    }

    plan, err := p.ledger.GetPlan(ctx, req.PlanID)
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            return price{}, invalid("unknown plan")
        }
        return price{}, newError(ErrInternal, "", err)
    }
    if !plan.Active {
        return price{}, invalid("plan is no longer available")
    }
    if plan.Service != req.Service || !strings.EqualFold(plan.Network, req.Network) {
        return price{}, newError(ErrUnsupportedCombination, "plan does not belong to this network", nil)
    }

    qty := req.Quantity
    if qty < 1 {
        qty = 1
    }
    return price{
        amount:   plan.Price.Mul(decimal.NewFromInt(int64(qty))),
        planCode: plan.Value,
        planType: plan.PlanType,
    }, nil
}
