// Package ledger maintains positions as weighted-average cost accumulators.
//
// Repeated buys of the same asset in the same portfolio merge into a single
// PortfolioElement whose buy price is the count-weighted average of all
// buys and whose order fee is the running total. Sells reduce the count and
// never touch the average; selling everything closes the position.
//
// All arithmetic uses shopspring/decimal. Never float64 for money.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/folio-labs/portfolio-service/internal/model"
)

var (
	// ErrInvalidInput is returned before any mutation when an argument is
	// out of range.
	ErrInvalidInput = errors.New("ledger: invalid input")

	// ErrNotFound is returned when no position exists for the requested key.
	ErrNotFound = errors.New("ledger: position not found")
)

// ValidateBuy checks the arguments of a buy: count > 0, buy price > 0 and
// order fee >= 0.
func ValidateBuy(count, buyPrice, orderFee decimal.Decimal) error {
	if !count.IsPositive() {
		return fmt.Errorf("%w: count must be positive, got %s", ErrInvalidInput, count)
	}
	if !buyPrice.IsPositive() {
		return fmt.Errorf("%w: buy_price must be positive, got %s", ErrInvalidInput, buyPrice)
	}
	if orderFee.IsNegative() {
		return fmt.Errorf("%w: order_fee must not be negative, got %s", ErrInvalidInput, orderFee)
	}
	return nil
}

// Merge folds a buy into an existing position:
//
//	buy_price = (buy_price*count + price*n) / (count + n)
//	count     = count + n
//	order_fee = order_fee + fee
//
// Callers validate with ValidateBuy first, so count + n is always positive.
func Merge(e model.PortfolioElement, n, price, fee decimal.Decimal) model.PortfolioElement {
	total := e.Count.Add(n)
	invested := e.CostBasis().Add(price.Mul(n))

	e.BuyPrice = invested.Div(total)
	e.Count = total
	e.OrderFee = e.OrderFee.Add(fee)
	return e
}

// Reduce sells n units out of the position. A partial sale (0 < n < count)
// subtracts from the count and keeps buy price and order fee. Anything else,
// selling the whole position, more than it or a non-positive amount, closes
// the position and reports closed == true.
func Reduce(e model.PortfolioElement, n decimal.Decimal) (model.PortfolioElement, bool) {
	if n.IsPositive() && n.LessThan(e.Count) {
		e.Count = e.Count.Sub(n)
		return e, false
	}
	return e, true
}

// ElementUpdate overwrites fields of a position. Nil fields are left as is.
type ElementUpdate struct {
	Count    *decimal.Decimal `json:"count,omitempty"`
	BuyPrice *decimal.Decimal `json:"buy_price,omitempty"`
	OrderFee *decimal.Decimal `json:"order_fee,omitempty"`
}

// Validate rejects an empty update and out-of-range prices or fees. A
// non-positive count is allowed and closes the position.
func (u ElementUpdate) Validate() error {
	if u.Count == nil && u.BuyPrice == nil && u.OrderFee == nil {
		return fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if u.BuyPrice != nil && !u.BuyPrice.IsPositive() {
		return fmt.Errorf("%w: buy_price must be positive, got %s", ErrInvalidInput, u.BuyPrice)
	}
	if u.OrderFee != nil && u.OrderFee.IsNegative() {
		return fmt.Errorf("%w: order_fee must not be negative, got %s", ErrInvalidInput, u.OrderFee)
	}
	return nil
}

// Apply returns e with the update applied and whether the position closes.
func (u ElementUpdate) Apply(e model.PortfolioElement) (model.PortfolioElement, bool) {
	if u.Count != nil {
		if !u.Count.IsPositive() {
			return e, true
		}
		e.Count = *u.Count
	}
	if u.BuyPrice != nil {
		e.BuyPrice = *u.BuyPrice
	}
	if u.OrderFee != nil {
		e.OrderFee = *u.OrderFee
	}
	return e, false
}
