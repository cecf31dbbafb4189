package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"smartmarket/internal/app"
	"smartmarket/internal/core"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService embeds the interface so each test overrides only what it calls.
type stubService struct {
	app.ApplicationService
	err error

	gotQuote    app.CreateQuoteRequest
	gotApprove  app.ApproveQuoteRequest
	gotMovement app.ListMovementsRequest
}

func (s *stubService) GetOrder(_ context.Context, id int) (*app.OrderResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &app.OrderResult{Order: &core.Order{ID: id, Status: core.OrderDesign}}, nil
}

func (s *stubService) CreateQuote(_ context.Context, req app.CreateQuoteRequest) (*core.Quote, error) {
	s.gotQuote = req
	if s.err != nil {
		return nil, s.err
	}
	return &core.Quote{ID: 1, CustomerID: req.CustomerID, Status: core.QuoteDraft, CreatedBy: req.CreatedBy}, nil
}

func (s *stubService) ApproveQuote(_ context.Context, req app.ApproveQuoteRequest) (*core.Approval, error) {
	s.gotApprove = req
	if s.err != nil {
		return nil, s.err
	}
	return &core.Approval{Order: &core.Order{ID: 9}}, nil
}

func (s *stubService) ListMovements(_ context.Context, req app.ListMovementsRequest) (*core.MovementPage, error) {
	s.gotMovement = req
	return &core.MovementPage{Movements: []core.StockMovement{}, Page: 1, PageSize: 50}, nil
}

func newTestServer(svc app.ApplicationService) http.Handler {
	logger, _ := test.NewNullLogger()
	return NewHandler(svc, nil, logger, []string{"https://shop.example.com"})
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", &core.Error{Kind: core.KindNotFound, Err: core.ErrOrderNotFound}, http.StatusNotFound, "NOT_FOUND"},
		{"conflict", &core.Error{Kind: core.KindConflict, Err: core.ErrInvalidTransition}, http.StatusConflict, "CONFLICT"},
		{"insufficient stock", &core.InsufficientStockError{MaterialID: 1, Available: decimal.NewFromInt(3), Requested: decimal.NewFromInt(5)}, http.StatusConflict, "INSUFFICIENT_STOCK"},
		{"gateway", &core.GatewayError{Op: "charge", Err: context.DeadlineExceeded}, http.StatusBadGateway, "GATEWAY"},
		{"persistence", errors.New("failed to begin transaction: conn closed"), http.StatusInternalServerError, "PERSISTENCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, newTestServer(&stubService{err: tt.err}), http.MethodGet, "/api/orders/3", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["request_id"])
		})
	}
}

func TestPersistenceErrorsHideDetail(t *testing.T) {
	rec, body := do(t, newTestServer(&stubService{err: errors.New("pq: password authentication failed")}), http.MethodGet, "/api/orders/3", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", body["error"])
}

func TestValidationErrorsCarryFields(t *testing.T) {
	svc := &stubService{err: &app.ValidationError{Fields: map[string]string{"items": "required"}}}
	rec, body := do(t, newTestServer(svc), http.MethodPost, "/api/quotes", `{"customer_id": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", body["code"])
	assert.Equal(t, map[string]any{"items": "required"}, body["fields"])
}

func TestInvalidPathID(t *testing.T) {
	rec, body := do(t, newTestServer(&stubService{}), http.MethodGet, "/api/orders/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", body["code"])
}

func TestMalformedJSON(t *testing.T) {
	rec, _ := do(t, newTestServer(&stubService{}), http.MethodPost, "/api/quotes", `{"customer_id": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateQuote_UsesActingUser(t *testing.T) {
	svc := &stubService{}
	rec, body := do(t, newTestServer(svc), http.MethodPost, "/api/quotes",
		`{"customer_id": 4, "items": [{"description": "Vinyl banner", "material_id": 2, "unit_price": "12.50", "quantity": 3}]}`,
		"X-User-ID", "clerk-7")

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "clerk-7", body["created_by"])
	require.Len(t, svc.gotQuote.Items, 1)
	assert.Equal(t, 2, *svc.gotQuote.Items[0].MaterialID)
	assert.True(t, decimal.RequireFromString("12.50").Equal(svc.gotQuote.Items[0].UnitPrice))
	assert.True(t, decimal.NewFromInt(3).Equal(svc.gotQuote.Items[0].Quantity))
}

func TestApproveQuote_EmptyBody(t *testing.T) {
	svc := &stubService{}
	rec, _ := do(t, newTestServer(svc), http.MethodPost, "/api/quotes/12/approve", "", "X-User-ID", "manager")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 12, svc.gotApprove.QuoteID)
	assert.Equal(t, "manager", svc.gotApprove.UserID)
	assert.Nil(t, svc.gotApprove.DueDate)
}

func TestApproveQuote_AlreadyApproved(t *testing.T) {
	svc := &stubService{err: &core.Error{Kind: core.KindConflict, Err: core.ErrAlreadyApproved}}
	rec, body := do(t, newTestServer(svc), http.MethodPost, "/api/quotes/12/approve", `{"due_date": "2026-04-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["error"], "already approved")
	require.NotNil(t, svc.gotApprove.DueDate)
}

func TestListMovements_QueryParams(t *testing.T) {
	svc := &stubService{}
	rec, _ := do(t, newTestServer(svc), http.MethodGet, "/api/stock-movements?material_id=3&type=issue&from=2026-03-01&page=2&page_size=20", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.gotMovement.MaterialID)
	assert.Equal(t, 3, *svc.gotMovement.MaterialID)
	assert.Equal(t, "issue", svc.gotMovement.Type)
	require.NotNil(t, svc.gotMovement.From)
	assert.Equal(t, 2026, svc.gotMovement.From.Year())
	assert.Nil(t, svc.gotMovement.To)
	assert.Equal(t, 2, svc.gotMovement.Page)
	assert.Equal(t, 20, svc.gotMovement.PageSize)

	rec, _ = do(t, newTestServer(svc), http.MethodGet, "/api/stock-movements?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndCORS(t *testing.T) {
	h := newTestServer(&stubService{})
	rec, body := do(t, h, http.MethodGet, "/api/health", "", "Origin", "https://shop.example.com")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "https://shop.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, _ = do(t, h, http.MethodGet, "/api/health", "", "Origin", "https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBodyLimit(t *testing.T) {
	big := `{"customer_id": 1, "items": [{"description": "` + strings.Repeat("x", 2<<20) + `"}]}`
	rec, body := do(t, newTestServer(&stubService{}), http.MethodPost, "/api/quotes", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "REQUEST_TOO_LARGE", body["code"])
}
