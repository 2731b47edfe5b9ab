package service

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InvalidTradeError signals malformed trade parameters: non-positive quantity,
// negative price, a missing FX rate under strict policy, or an unresolvable
// specific-lot reference. Never retried automatically.
type InvalidTradeError struct {
	Reason string
}

func (e *InvalidTradeError) Error() string {
	return fmt.Sprintf("invalid trade: %s", e.Reason)
}

// InsufficientSharesError signals a sell that exceeds the open quantity
// available under the chosen selection method. The operation aborts with no
// partial mutation.
type InsufficientSharesError struct {
	Symbol    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares for %s: requested %s, available %s",
		e.Symbol, e.Requested.String(), e.Available.String())
}
