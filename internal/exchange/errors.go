package exchange

import (
	"errors"
	"strings"
)

// Sentinel errors for the taxonomy in spec section 7. Adapters wrap venue
// responses into these with fmt.Errorf + %w so callers can branch with
// errors.Is without caring which venue raised it.
var (
	ErrInsufficientBalance = errors.New("exchange: insufficient balance")
	ErrRateLimited         = errors.New("exchange: rate limited")
	ErrPositionNotFound    = errors.New("exchange: position not found")
	ErrOrderNotFound       = errors.New("exchange: order not found")
	ErrInvalidQuote        = errors.New("exchange: invalid quote")
)

// insufficientBalanceCodes lists venue-specific error codes/substrings
// that indicate a rejected order due to insufficient balance. Alpaca's
// "40310000" is named explicitly in spec section 4.7; the rest are the
// corresponding codes/phrases for the other three configured venues.
var insufficientBalanceCodes = []string{
	"40310000",             // Alpaca: insufficient balance
	"insufficient balance", // Binance / generic
	"insufficient funds",   // Coinbase
	"EOrder:Insufficient funds", // Kraken
}

// IsInsufficientBalance reports whether err (or its message) indicates the
// venue rejected an order for insufficient balance, so the caller can
// trigger the single in-line retry-after-reconciliation described in spec
// section 4.7.
func IsInsufficientBalance(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInsufficientBalance) {
		return true
	}
	msg := err.Error()
	for _, code := range insufficientBalanceCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}
