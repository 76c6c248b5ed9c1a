// Package commissionpkg computes the fee retained when escrowed funds are released.
package commissionpkg

import "github.com/shopspring/decimal"

// Places is the number of decimal places money amounts are kept with.
const Places = 2

// Rate is the fraction of the amount retained as commission.
var Rate = decimal.New(3, -2)

// Compute splits amount into the commission and the net amount credited to the receiver.
//
// The commission is rounded half-up to Places decimals and the net amount is derived by
// subtraction, so commission + net always equals amount.
func Compute(amount decimal.Decimal) (commission, net decimal.Decimal) {
	commission = amount.Mul(Rate).Round(Places)
	net = amount.Sub(commission)

	return commission, net
}
