package coupon

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrPrecondition is wrapped by every contract violation of the optimizer and service.
	ErrPrecondition = errors.New("coupon: precondition violated")
	// ErrEmptyCatalog is returned when the optimizer receives no prices.
	ErrEmptyCatalog = fmt.Errorf("%w: empty price catalog", ErrPrecondition)
	// ErrNoItems is returned when a calculation is requested for no identifiers.
	ErrNoItems = fmt.Errorf("%w: no item identifiers", ErrPrecondition)
	// ErrNegativeAmount is returned for a negative budget or price.
	ErrNegativeAmount = fmt.Errorf("%w: negative amount", ErrPrecondition)
	// ErrPrecisionLoss is returned when a price carries more decimals than the optimizer scale.
	ErrPrecisionLoss = fmt.Errorf("%w: price not representable at scale", ErrPrecondition)
	// ErrTableTooLarge is returned when the search table would exceed the configured cell or capacity limit.
	ErrTableTooLarge = fmt.Errorf("%w: search table too large", ErrPrecondition)
	// ErrInconsistentTotal is returned when a solution total does not match its items.
	ErrInconsistentTotal = errors.New("coupon: solution total does not match item prices")
)

// InsufficientBudgetError reports that no single item fits within the budget.
type InsufficientBudgetError struct {
	Budget decimal.Decimal
}

// Error implements the error interface.
func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("coupon: insufficient amount %s", e.Budget.String())
}
