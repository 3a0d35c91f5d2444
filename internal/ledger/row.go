// Package ledger appends settled orders to the bookkeeping spreadsheet.
// Appends are best-effort: a failed append is logged and never blocks or
// retries payment settlement.
package ledger

import "time"

// Row is one spreadsheet line describing a settlement outcome, including the
// guest buyer contact and a short cart summary for reconciliation.
type Row struct {
	OrderID          string    `json:"orderId"`
	CartID           string    `json:"cartId"`
	EventID          string    `json:"eventId"`
	ProviderRef      string    `json:"providerRef"`
	Status           string    `json:"status"`
	SubtotalUsd      float64   `json:"subtotalUsd"`
	ShippingUsd      float64   `json:"shippingUsd"`
	ProcessingFeeUsd float64   `json:"processingFeeUsd"`
	TotalUsd         float64   `json:"totalUsd"`
	NetUsd           float64   `json:"netUsd"`
	SpotUsdPerOz     float64   `json:"spotUsdPerOz"`
	SpotProvider     string    `json:"spotProvider"`
	BuyerEmail       string    `json:"buyerEmail"`
	ShippingAddress  string    `json:"shippingAddress"`
	CartSummary      string    `json:"cartSummary"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// Values flattens the row into the spreadsheet column order.
func (r Row) Values() []any {
	return []any{
		r.OccurredAt.UTC().Format(time.RFC3339),
		r.OrderID,
		r.Status,
		r.TotalUsd,
		r.SubtotalUsd,
		r.ShippingUsd,
		r.ProcessingFeeUsd,
		r.NetUsd,
		r.SpotUsdPerOz,
		r.SpotProvider,
		r.ProviderRef,
		r.EventID,
		r.CartID,
		r.BuyerEmail,
		r.ShippingAddress,
		r.CartSummary,
	}
}
