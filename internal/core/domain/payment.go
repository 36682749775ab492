package domain

import "github.com/shopspring/decimal"

// Charge is a single payment request for an order total.
type Charge struct {
	OrderID  string          `json:"order_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type ChargeResult struct {
	Approved       bool   `json:"approved"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	Reason         string `json:"reason,omitempty"`
}
