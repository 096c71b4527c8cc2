package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-coupon/internal/obs"
	"github.com/noah-isme/backend-coupon/internal/prices"
)

// PriceResolver resolves a batch of identifiers into a catalog.
type PriceResolver interface {
	Resolve(ctx context.Context, ids []string) (prices.Catalog, error)
}

// Solver picks the best subset of a catalog for a budget. *Optimizer is the
// production implementation.
type Solver interface {
	Calculate(catalog prices.Catalog, budget decimal.Decimal) (Solution, error)
}

// Service resolves prices and selects the items to redeem with a coupon.
type Service struct {
	Resolver PriceResolver
	Solver   Solver
}

// NewService wires a Service.
func NewService(resolver PriceResolver, solver Solver) *Service {
	return &Service{Resolver: resolver, Solver: solver}
}

// Calculate resolves every identifier and returns the optimal subset for
// budget. A *prices.ResolutionError or *InsufficientBudgetError is returned
// unchanged so callers can inspect it.
func (s *Service) Calculate(ctx context.Context, ids []string, budget decimal.Decimal) (Solution, error) {
	ctx, span := otel.Tracer("coupon").Start(ctx, "coupon.calculate")
	defer span.End()
	span.SetAttributes(attribute.Int("coupon.items", len(ids)), attribute.String("coupon.budget", budget.String()))

	sol, err := s.calculate(ctx, ids, budget)
	obs.RecordCouponCalculation(resultLabel(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Solution{}, err
	}
	span.SetAttributes(attribute.Int("coupon.selected", len(sol.ItemIDs)), attribute.String("coupon.total", sol.Total.String()))
	return sol, nil
}

func (s *Service) calculate(ctx context.Context, ids []string, budget decimal.Decimal) (Solution, error) {
	if len(ids) == 0 {
		return Solution{}, ErrNoItems
	}
	if s.Resolver == nil || s.Solver == nil {
		return Solution{}, errors.New("coupon: service not configured")
	}
	catalog, err := s.Resolver.Resolve(ctx, ids)
	if err != nil {
		return Solution{}, err
	}

	start := time.Now()
	sol, err := s.Solver.Calculate(catalog, budget)
	obs.ObserveSolve(time.Since(start))
	if err != nil {
		return Solution{}, err
	}
	if err := verifyTotal(catalog, budget, sol); err != nil {
		return Solution{}, err
	}
	return sol, nil
}

// verifyTotal checks that the reported total is the exact sum of the chosen
// prices and fits the budget.
func verifyTotal(catalog prices.Catalog, budget decimal.Decimal, sol Solution) error {
	sum := decimal.Zero
	for _, id := range sol.ItemIDs {
		price, ok := catalog[id]
		if !ok {
			return fmt.Errorf("%w: unknown item %s", ErrInconsistentTotal, id)
		}
		sum = sum.Add(price)
	}
	if !sum.Equal(sol.Total) {
		return fmt.Errorf("%w: reported %s, items sum to %s", ErrInconsistentTotal, sol.Total.String(), sum.String())
	}
	if sum.GreaterThan(budget) {
		return fmt.Errorf("%w: total %s exceeds budget %s", ErrInconsistentTotal, sum.String(), budget.String())
	}
	return nil
}

func resultLabel(err error) string {
	var (
		resErr    *prices.ResolutionError
		budgetErr *InsufficientBudgetError
	)
	switch {
	case err == nil:
		return obs.CouponOK
	case errors.As(err, &resErr):
		return obs.CouponResolutionFailure
	case errors.As(err, &budgetErr):
		return obs.CouponInsufficientBudget
	case errors.Is(err, ErrPrecondition):
		return obs.CouponInvalid
	default:
		return obs.CouponError
	}
}
