/*
calculator.go - Monetary amount <-> share count conversion

PURPOSE:
  Pure arithmetic for converting the member-entered monetary amount into
  an integer share count and back. Uses decimal arithmetic throughout -
  amounts are currency values and floating-point division drifts.

CONTRACT:
  AmountToShares(amount, price) == floor(amount / price)
  and is monotonic non-decreasing in amount for a fixed positive price.

  SharesToAmount is used for message text only. The persisted amount is
  always the member-entered value, never a reconstruction.
*/
package reserve

import "github.com/shopspring/decimal"

// AmountToShares converts a monetary amount into a whole share count,
// rounding down. Fails with ErrInvalidSharePrice when sharePrice <= 0.
func AmountToShares(amount, sharePrice decimal.Decimal) (int64, error) {
	if !sharePrice.IsPositive() {
		return 0, ErrInvalidSharePrice
	}
	return amount.Div(sharePrice).Floor().IntPart(), nil
}

// SharesToAmount converts a share count back into a monetary amount at
// the given price. Display use only.
func SharesToAmount(shares int64, sharePrice decimal.Decimal) decimal.Decimal {
	return sharePrice.Mul(decimal.NewFromInt(shares))
}
