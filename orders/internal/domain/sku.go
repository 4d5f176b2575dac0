package domain

import (
	"fmt"
	"regexp"
)

var skuPattern = regexp.MustCompile(`^[A-Za-z0-9-]{3,30}$`)

type SKU struct {
	value string
}

func NewSKU(raw string) (SKU, error) {
	if !skuPattern.MatchString(raw) {
		return SKU{}, fmt.Errorf("%w: %q", ErrInvalidSKU, raw)
	}
	return SKU{value: raw}, nil
}

func ValidSKU(raw string) bool {
	return skuPattern.MatchString(raw)
}

func (s SKU) String() string { return s.value }

// DefaultMaxQuantity caps a single line item unless configured otherwise.
const DefaultMaxQuantity = 1000

type Quantity struct {
	value int
}

func NewQuantity(n int, max int) (Quantity, error) {
	if max <= 0 {
		max = DefaultMaxQuantity
	}
	if n <= 0 {
		return Quantity{}, fmt.Errorf("%w: %d must be positive", ErrInvalidQuantity, n)
	}
	if n > max {
		return Quantity{}, fmt.Errorf("%w: %d exceeds maximum %d", ErrInvalidQuantity, n, max)
	}
	return Quantity{value: n}, nil
}

func (q Quantity) Int() int { return q.value }
