package image

import (
	"math"
	"math/big"
	"regexp"
	"strconv"
)

var (
	decimalPattern       = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)
	signedDecimalPattern = regexp.MustCompile(`^[-+]?(\d+(\.\d*)?|\.\d+)$`)
	integerPattern       = regexp.MustCompile(`^[-+]?\d+$`)
	half                 = big.NewRat(1, 2)
)

// parseDecimal reads an unsigned decimal number exactly.
func parseDecimal(s string) (*big.Rat, bool) {
	if !decimalPattern.MatchString(s) {
		return nil, false
	}
	return new(big.Rat).SetString(s)
}

func parseSignedDecimal(s string) (*big.Rat, bool) {
	if !signedDecimalPattern.MatchString(s) {
		return nil, false
	}
	return new(big.Rat).SetString(s)
}

// parseInteger accepts an optionally signed base 10 integer. The sign is
// accepted so that negative values surface as range errors.
func parseInteger(s string) (int, bool) {
	if !integerPattern.MatchString(s) {
		return 0, false
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return i, true
}

// roundHalfUp rounds r to the nearest integer, halves going towards
// positive infinity. Every derived pixel value goes through it, a value
// which does not fit an int saturates.
func roundHalfUp(r *big.Rat) int {
	s := new(big.Rat).Add(r, half)
	// Denominators are always positive so Euclidean division is a floor.
	q := new(big.Int).Div(s.Num(), s.Denom())
	switch {
	case !q.IsInt64() && q.Sign() > 0, q.IsInt64() && q.Int64() > math.MaxInt:
		return math.MaxInt
	case !q.IsInt64(), q.Int64() < math.MinInt:
		return math.MinInt
	}
	return int(q.Int64())
}

// scale returns round(value * num / den).
func scale(value int, num, den *big.Rat) int {
	r := new(big.Rat).SetInt64(int64(value))
	r.Mul(r, num)
	r.Quo(r, den)
	return roundHalfUp(r)
}

func ratInt(i int) *big.Rat {
	return new(big.Rat).SetInt64(int64(i))
}

var hundred = big.NewRat(100, 1)

func atLeastOne(i int) int {
	if i < 1 {
		return 1
	}
	return i
}
