package web

import (
	"net/http"

	"smartmarket/internal/app"
)

// ── Quotes ────────────────────────────────────────────────────────────────────

// listQuotes handles GET /api/quotes?customer_id=&status=
func (h *Handler) listQuotes(w http.ResponseWriter, r *http.Request) {
	customerID, ok := queryInt(w, r, "customer_id")
	if !ok {
		return
	}
	result, err := h.svc.ListQuotes(r.Context(), app.ListQuotesRequest{
		CustomerID: customerID,
		Status:     r.URL.Query().Get("status"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Quotes)
}

// createQuote handles POST /api/quotes.
// Body: { customer_id, items: [{material_id?, description, unit_price, quantity}] }
func (h *Handler) createQuote(w http.ResponseWriter, r *http.Request) {
	var req app.CreateQuoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CreatedBy = userIDFromContext(r.Context())
	q, err := h.svc.CreateQuote(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, q)
}

func (h *Handler) getQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q, err := h.svc.GetQuote(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, q)
}

// updateQuote handles PUT /api/quotes/{id}. Body: { items: [...] }
func (h *Handler) updateQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.UpdateQuoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.QuoteID = id
	q, err := h.svc.UpdateQuote(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, q)
}

// approveQuote handles POST /api/quotes/{id}/approve. Body (optional): { due_date }
func (h *Handler) approveQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.ApproveQuoteRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	req.QuoteID = id
	req.UserID = userIDFromContext(r.Context())
	approval, err := h.svc.ApproveQuote(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, approval)
}

// ── Orders ────────────────────────────────────────────────────────────────────

// listOrders handles GET /api/orders?customer_id=&status=
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	customerID, ok := queryInt(w, r, "customer_id")
	if !ok {
		return
	}
	result, err := h.svc.ListOrders(r.Context(), app.ListOrdersRequest{
		CustomerID: customerID,
		Status:     r.URL.Query().Get("status"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// updateOrderStatus handles PATCH /api/orders/{id}/status. Body: { status }
func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.UpdateOrderStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OrderID = id
	req.UserID = userIDFromContext(r.Context())
	result, err := h.svc.UpdateOrderStatus(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) listWorkOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.WorkOrders)
}

// ── Work orders ───────────────────────────────────────────────────────────────

func (h *Handler) getWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	wo, err := h.svc.GetWorkOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, wo)
}

// updateWorkOrder handles PATCH /api/work-orders/{id}. Body: { stage?, assigned_to?, notes? }
func (h *Handler) updateWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.UpdateWorkOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.WorkOrderID = id
	wo, err := h.svc.UpdateWorkOrder(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, wo)
}

// requestUpload handles POST /api/work-orders/{id}/upload-url. Body: { filename, content_type }
func (h *Handler) requestUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.RequestUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.WorkOrderID = id
	up, err := h.svc.RequestUpload(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, up)
}

// attachWorkOrderFile handles PUT /api/work-orders/{id}/attachment. Body: { file_url }
func (h *Handler) attachWorkOrderFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.AttachFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.WorkOrderID = id
	wo, err := h.svc.AttachWorkOrderFile(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, wo)
}
