// Package coupon picks the subset of items whose combined price gets as close
// as possible to a coupon amount without exceeding it.
package coupon

import (
	"fmt"
	"math"
	"math/bits"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-coupon/internal/prices"
	"github.com/noah-isme/backend-coupon/internal/pricing"
)

// DefaultMaxTableCells caps items × (capacity+1) choice bits for a single
// solve, i.e. 16 MiB of trace.
const DefaultMaxTableCells int64 = 1 << 27

// DefaultMaxCapacity caps the capacity in minor units, i.e. 8 MiB of
// reachability bits.
const DefaultMaxCapacity int64 = 1 << 26

// Solution is the chosen subset. ItemIDs are strictly ascending and Total is
// the exact sum of their prices.
type Solution struct {
	ItemIDs []string
	Total   decimal.Decimal
}

// Optimizer solves the 0/1 subset-sum over integer minor units.
type Optimizer struct {
	Scale pricing.Scale
	// MaxTableCells bounds items × (capacity+1). Zero disables the bound.
	MaxTableCells int64
	// MaxCapacity bounds the capacity in minor units. Zero disables the bound.
	MaxCapacity int64
}

// NewOptimizer validates the scale and returns an Optimizer using
// DefaultMaxCapacity.
func NewOptimizer(scale pricing.Scale, maxTableCells int64) (*Optimizer, error) {
	if err := scale.Validate(); err != nil {
		return nil, err
	}
	if maxTableCells < 0 {
		maxTableCells = 0
	}
	return &Optimizer{Scale: scale, MaxTableCells: maxTableCells, MaxCapacity: DefaultMaxCapacity}, nil
}

// WithMaxCapacity overrides the capacity bound. Zero or less disables it.
func (o *Optimizer) WithMaxCapacity(n int64) *Optimizer {
	if n < 0 {
		n = 0
	}
	o.MaxCapacity = n
	return o
}

type candidate struct {
	id    string
	units pricing.Money
}

// Calculate returns the subset of catalog with the largest total that does
// not exceed budget. Equal-total subsets are broken deterministically, and
// identical inputs always produce identical solutions.
func (o *Optimizer) Calculate(catalog prices.Catalog, budget decimal.Decimal) (Solution, error) {
	if len(catalog) == 0 {
		return Solution{}, ErrEmptyCatalog
	}
	if budget.IsNegative() {
		return Solution{}, fmt.Errorf("%w: budget %s", ErrNegativeAmount, budget.String())
	}

	// Descending identifier order: the reconstruction walk visits the
	// smallest identifiers last, which pins ties independently of map order.
	ids := catalog.IDs()
	items := make([]candidate, 0, len(ids))
	sum := decimal.Zero
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		price := catalog[id]
		if price.IsNegative() {
			return Solution{}, fmt.Errorf("%w: price of %s is %s", ErrNegativeAmount, id, price.String())
		}
		if price.GreaterThan(budget) {
			continue
		}
		units, err := o.Scale.ToMinor(price)
		if err != nil {
			return Solution{}, fmt.Errorf("%w: %s: %v", ErrPrecisionLoss, id, err)
		}
		items = append(items, candidate{id: id, units: units})
		sum = sum.Add(price)
	}
	if len(items) == 0 {
		return Solution{}, &InsufficientBudgetError{Budget: budget}
	}

	// Everything admissible fits: the only optimum is every positive price.
	if sum.LessThanOrEqual(budget) {
		chosen := make([]string, 0, len(items))
		for _, it := range items {
			if it.units > 0 {
				chosen = append(chosen, it.id)
			}
		}
		sort.Strings(chosen)
		return Solution{ItemIDs: chosen, Total: sum}, nil
	}

	// budget < sum, so capacity is the floored budget and stays below the
	// sum of admissible units.
	capacity := budget.Shift(int32(o.Scale)).Floor()
	c, err := o.tableCapacity(capacity, len(items))
	if err != nil {
		if len(items) <= maxExhaustiveItems {
			chosen := exhaustive(items, capacity)
			sort.Strings(chosen.ids)
			return Solution{ItemIDs: chosen.ids, Total: decimal.NewFromBigInt(chosen.total, -int32(o.Scale))}, nil
		}
		return Solution{}, err
	}

	chosen := solve(items, int(c))
	sort.Strings(chosen.ids)
	return Solution{ItemIDs: chosen.ids, Total: o.Scale.FromMinor(chosen.total)}, nil
}

// intCapacityLimit keeps capacity+1 within int on every platform.
var intCapacityLimit = decimal.NewFromInt(math.MaxInt32)

// tableCapacity checks the configured bounds in the decimal domain so huge
// amounts never reach int arithmetic.
func (o *Optimizer) tableCapacity(capacity decimal.Decimal, n int) (int64, error) {
	if o.MaxCapacity > 0 && capacity.GreaterThan(decimal.NewFromInt(o.MaxCapacity)) {
		return 0, fmt.Errorf("%w: capacity %s exceeds %d", ErrTableTooLarge, capacity.String(), o.MaxCapacity)
	}
	if !capacity.LessThan(intCapacityLimit) {
		return 0, fmt.Errorf("%w: capacity %s", ErrTableTooLarge, capacity.String())
	}
	c := capacity.IntPart()
	if o.MaxTableCells > 0 && (c+1) > o.MaxTableCells/int64(n) {
		return 0, fmt.Errorf("%w: %d items with capacity %d", ErrTableTooLarge, n, c)
	}
	return c, nil
}

type subset struct {
	ids   []string
	total pricing.Money
}

// solve runs the knapsack with value equal to weight as a reachability
// bitset: bit v of reach is set when some subset of the items seen so far
// sums to exactly v. trace[i] keeps the sums item i made reachable for the
// first time, so every sum has exactly one item that introduced it and the
// walk back from the best sum is unique.
func solve(items []candidate, capacity int) subset {
	words := capacity/64 + 1
	reach := make([]uint64, words)
	reach[0] = 1
	trace := make([][]uint64, len(items))

	var top uint64 = math.MaxUint64
	if r := uint(capacity%64) + 1; r < 64 {
		top = 1<<r - 1
	}

	for i, it := range items {
		w := int(it.units)
		if w <= 0 || w > capacity {
			continue
		}
		row := make([]uint64, words)
		shift, bit := w/64, uint(w%64)
		for k := words - 1; k >= shift; k-- {
			moved := reach[k-shift] << bit
			if bit > 0 && k-shift > 0 {
				moved |= reach[k-shift-1] >> (64 - bit)
			}
			if k == words-1 {
				moved &= top
			}
			row[k] = moved &^ reach[k]
			reach[k] |= moved
		}
		trace[i] = row
	}

	best := 0
	for k := words - 1; k >= 0; k-- {
		if reach[k] != 0 {
			best = k*64 + bits.Len64(reach[k]) - 1
			break
		}
	}

	out := subset{ids: []string{}, total: pricing.Money(best)}
	remaining := best
	for i := len(items) - 1; i >= 0 && remaining > 0; i-- {
		row := trace[i]
		if row == nil || row[remaining>>6]&(1<<uint(remaining&63)) == 0 {
			continue
		}
		out.ids = append(out.ids, items[i].id)
		remaining -= int(items[i].units)
	}
	return out
}
