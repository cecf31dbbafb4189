package web

import (
	"net/http"

	"smartmarket/internal/app"
)

// ── Invoices ──────────────────────────────────────────────────────────────────

// listInvoices handles GET /api/invoices?status=
func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListInvoices(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Invoices)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetInvoice(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) getOrderInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetOrderInvoice(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// createInvoice handles POST /api/orders/{id}/invoice. Body (optional): { amount }
// A missing or zero amount bills the order balance.
func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.CreateInvoiceRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	req.OrderID = id
	inv, err := h.svc.CreateInvoice(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, inv)
}

// ── Payments ──────────────────────────────────────────────────────────────────

// recordPayment handles POST /api/invoices/{id}/payments.
// Body: { method, amount, reference? }
func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.RecordPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.InvoiceID = id
	req.UserID = userIDFromContext(r.Context())
	result, err := h.svc.RecordPayment(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// processGatewayPayment handles POST /api/invoices/{id}/gateway-payments.
// Body: { phone, amount }. A gateway failure still leaves a pending payment
// that can be reconciled later through check-status.
func (h *Handler) processGatewayPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.GatewayPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.InvoiceID = id
	req.UserID = userIDFromContext(r.Context())
	result, err := h.svc.ProcessGatewayPayment(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.GetPayment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (h *Handler) checkPaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.CheckPaymentStatus(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// refundPayment handles POST /api/payments/{id}/refund. Body: { reason }
func (h *Handler) refundPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.RefundPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.PaymentID = id
	result, err := h.svc.RefundPayment(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
