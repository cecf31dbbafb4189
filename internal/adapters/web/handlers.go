package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"smartmarket/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	logger *logrus.Logger
	router chi.Router
}

// NewHandler creates and wires the chi router with all routes. events, when
// non-nil, is mounted at /ws for live payment events.
func NewHandler(svc app.ApplicationService, events http.Handler, logger *logrus.Logger, allowedOrigins []string) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recoverer(logger))
	r.Use(CORS(allowedOrigins))

	r.Get("/api/health", h.health)
	if events != nil {
		r.Handle("/ws", events)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(RequestBodyLimit(1 << 20))
		r.Use(UserID)

		// ── Customers ─────────────────────────────────────────────────────────
		r.Get("/customers", h.listCustomers)
		r.Post("/customers", h.createCustomer)
		r.Get("/customers/{id}", h.getCustomer)

		// ── Stock ledger ──────────────────────────────────────────────────────
		r.Get("/materials", h.listMaterials)
		r.Post("/materials", h.createMaterial)
		r.Get("/materials/low-stock", h.listLowStock)
		r.Get("/materials/verify", h.verifyAllStock)
		r.Get("/materials/{id}", h.getMaterial)
		r.Delete("/materials/{id}", h.deleteMaterial)
		r.Get("/materials/{id}/verify", h.verifyMaterial)
		r.Get("/stock-movements", h.listMovements)
		r.Post("/stock-movements", h.recordMovement)

		// ── Quotes ────────────────────────────────────────────────────────────
		r.Get("/quotes", h.listQuotes)
		r.Post("/quotes", h.createQuote)
		r.Get("/quotes/{id}", h.getQuote)
		r.Put("/quotes/{id}", h.updateQuote)
		r.Post("/quotes/{id}/approve", h.approveQuote)

		// ── Orders and work orders ────────────────────────────────────────────
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Patch("/orders/{id}/status", h.updateOrderStatus)
		r.Get("/orders/{id}/work-orders", h.listWorkOrders)
		r.Get("/orders/{id}/invoice", h.getOrderInvoice)
		r.Post("/orders/{id}/invoice", h.createInvoice)
		r.Get("/work-orders/{id}", h.getWorkOrder)
		r.Patch("/work-orders/{id}", h.updateWorkOrder)
		r.Post("/work-orders/{id}/upload-url", h.requestUpload)
		r.Put("/work-orders/{id}/attachment", h.attachWorkOrderFile)

		// ── Billing ───────────────────────────────────────────────────────────
		r.Get("/invoices", h.listInvoices)
		r.Get("/invoices/{id}", h.getInvoice)
		r.Post("/invoices/{id}/payments", h.recordPayment)
		r.Post("/invoices/{id}/gateway-payments", h.processGatewayPayment)
		r.Get("/payments/{id}", h.getPayment)
		r.Post("/payments/{id}/check-status", h.checkPaymentStatus)
		r.Post("/payments/{id}/refund", h.refundPayment)
	})

	h.router = r
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "VALIDATION", http.StatusBadRequest)
		return false
	}
	return true
}

// pathID parses the {id} URL parameter, writing a 400 when it is not a positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, r, "invalid id "+strconv.Quote(chi.URLParam(r, "id")), "VALIDATION", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (*int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, name+" must be an integer", "VALIDATION", http.StatusBadRequest)
		return nil, false
	}
	return &v, true
}

// queryTime parses an optional RFC 3339 or YYYY-MM-DD query parameter.
func queryTime(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, true
		}
	}
	writeError(w, r, name+" must be a date (YYYY-MM-DD) or RFC 3339 timestamp", "VALIDATION", http.StatusBadRequest)
	return nil, false
}
