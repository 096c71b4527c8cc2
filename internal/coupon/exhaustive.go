package coupon

import (
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// maxExhaustiveItems bounds the subset enumeration used when the capacity is
// too large for the bitset table.
const maxExhaustiveItems = 20

// uint128 holds sums of up to maxExhaustiveItems int64 prices.
type uint128 struct{ hi, lo uint64 }

func (a uint128) add(b uint64) uint128 {
	lo, carry := bits.Add64(a.lo, b, 0)
	return uint128{hi: a.hi + carry, lo: lo}
}

func (a uint128) less(b uint128) bool {
	return a.hi < b.hi || (a.hi == b.hi && a.lo < b.lo)
}

func (a uint128) bigInt() *big.Int {
	v := new(big.Int).SetUint64(a.hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(a.lo))
}

func uint128From(v *big.Int) uint128 {
	lo := new(big.Int).And(v, new(big.Int).SetUint64(^uint64(0))).Uint64()
	hi := new(big.Int).Rsh(v, 64).Uint64()
	return uint128{hi: hi, lo: lo}
}

type bigSubset struct {
	ids   []string
	total *big.Int
}

// exhaustive enumerates every subset of items. Masks are visited in
// ascending order and only a strictly larger total replaces the best, so the
// winner among equal totals is the numerically smallest mask. That is the
// same subset the bitset walk picks for the same item layout. capacity must
// be non-negative and below the sum of item units.
func exhaustive(items []candidate, capacity decimal.Decimal) bigSubset {
	limit := uint128From(capacity.BigInt())
	var best uint128
	var bestMask uint32

	for mask := uint32(1); mask < 1<<uint(len(items)); mask++ {
		var sum uint128
		over := false
		for i, it := range items {
			if mask&(1<<uint(i)) == 0 {
				continue
			}
			sum = sum.add(uint64(it.units))
			if limit.less(sum) {
				over = true
				break
			}
		}
		if !over && best.less(sum) {
			best, bestMask = sum, mask
		}
	}

	out := bigSubset{ids: []string{}, total: best.bigInt()}
	for i, it := range items {
		if bestMask&(1<<uint(i)) != 0 {
			out.ids = append(out.ids, it.id)
		}
	}
	return out
}
