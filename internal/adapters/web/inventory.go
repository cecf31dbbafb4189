package web

import (
	"net/http"

	"smartmarket/internal/app"
)

// ── Customers ─────────────────────────────────────────────────────────────────

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListCustomers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Customers)
}

// createCustomer handles POST /api/customers.
// Body: { name, email?, phone?, company? }
func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req app.CreateCustomerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.CreateCustomer(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, c)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.svc.GetCustomer(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, c)
}

// ── Materials ─────────────────────────────────────────────────────────────────

func (h *Handler) listMaterials(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListMaterials(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Materials)
}

func (h *Handler) listLowStock(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListLowStock(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Materials)
}

// createMaterial handles POST /api/materials.
// Body: { name, unit, category?, reorder_level?, opening_stock? }
func (h *Handler) createMaterial(w http.ResponseWriter, r *http.Request) {
	var req app.CreateMaterialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = userIDFromContext(r.Context())
	m, err := h.svc.CreateMaterial(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, m)
}

func (h *Handler) getMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := h.svc.GetMaterial(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, m)
}

func (h *Handler) deleteMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteMaterial(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) verifyMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.VerifyStock(r.Context(), &id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) verifyAllStock(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.VerifyStock(r.Context(), nil)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// ── Stock movements ───────────────────────────────────────────────────────────

// listMovements handles GET /api/stock-movements?material_id=&type=&from=&to=&page=&page_size=
func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := app.ListMovementsRequest{Type: q.Get("type")}
	var ok bool
	if req.MaterialID, ok = queryInt(w, r, "material_id"); !ok {
		return
	}
	if req.From, ok = queryTime(w, r, "from"); !ok {
		return
	}
	if req.To, ok = queryTime(w, r, "to"); !ok {
		return
	}
	page, ok := queryInt(w, r, "page")
	if !ok {
		return
	}
	size, ok := queryInt(w, r, "page_size")
	if !ok {
		return
	}
	if page != nil {
		req.Page = *page
	}
	if size != nil {
		req.PageSize = *size
	}

	result, err := h.svc.ListMovements(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// recordMovement handles POST /api/stock-movements.
// Body: { material_id, type, quantity, reference? }
func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	var req app.RecordMovementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = userIDFromContext(r.Context())
	mv, err := h.svc.RecordMovement(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, mv)
}
