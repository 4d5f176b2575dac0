package domain

import "errors"

var (
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidMoney        = errors.New("invalid money amount")
	ErrInvalidSKU          = errors.New("invalid sku")
	ErrInvalidQuantity     = errors.New("invalid quantity")
)
