package app

import "smartmarket/internal/core"

// CustomerListResult is returned by ListCustomers.
type CustomerListResult struct {
	Customers []core.Customer `json:"customers"`
}

// MaterialListResult is returned by ListMaterials and ListLowStock.
type MaterialListResult struct {
	Materials []core.Material `json:"materials"`
}

// StockVerificationResult is returned by VerifyStock. Drifted lists only
// the materials whose cached stock disagrees with the ledger.
type StockVerificationResult struct {
	Checked int               `json:"checked"`
	Drifted []core.StockDrift `json:"drifted"`
}

// QuoteListResult is returned by ListQuotes.
type QuoteListResult struct {
	Quotes []core.Quote `json:"quotes"`
}

// OrderResult is returned by order reads and lifecycle operations.
type OrderResult struct {
	Order      *core.Order      `json:"order"`
	WorkOrders []core.WorkOrder `json:"work_orders"`
	Invoice    *core.Invoice    `json:"invoice,omitempty"`
}

// OrderListResult is returned by ListOrders.
type OrderListResult struct {
	Orders []core.Order `json:"orders"`
}

// InvoiceResult is an invoice with its payment history.
type InvoiceResult struct {
	Invoice  *core.Invoice  `json:"invoice"`
	Payments []core.Payment `json:"payments"`
}

// InvoiceListResult is returned by ListInvoices.
type InvoiceListResult struct {
	Invoices []core.Invoice `json:"invoices"`
}
