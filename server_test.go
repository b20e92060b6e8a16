package main

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/freight_backend/audit"
	"github.com/mmdatafocus/freight_backend/integrations"
	"github.com/mmdatafocus/freight_backend/models"
	"github.com/mmdatafocus/freight_backend/store"
	"github.com/mmdatafocus/freight_backend/utils"
	"github.com/mmdatafocus/freight_backend/workflow"
	"github.com/sirupsen/logrus"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	auditLog := audit.NewLog(audit.NewMemorySink(), audit.WithLogger(logger))
	engine := workflow.NewEngine(store.NewMemoryStore(), auditLog, workflow.WithLogger(logger))
	cfg := integrations.DefaultBreakerConfig()
	a := &api{
		engine:   engine,
		scanner:  integrations.NewLabelScanner("", time.Second, cfg, logger),
		insights: integrations.WithFallback(integrations.NewInsightGenerator(""), time.Second, cfg, logger),
		logger:   logger,
	}

	s := &testServer{t: t, router: newRouter(a, nil), tokens: map[string]string{}}
	for _, role := range []string{models.RoleNameOpsChina, models.RoleNameOpsTanzania, models.RoleNameFinance, models.RoleNameAdmin} {
		token, err := utils.JwtGenerate("u-"+role, role, role, time.Hour)
		if err != nil {
			t.Fatalf("token for %s: %v", role, err)
		}
		s.tokens[role] = token
	}
	return s
}

func (s *testServer) do(role, method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[role])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) decode(w *httptest.ResponseRecorder, want int, out any) {
	s.t.Helper()
	if w.Code != want {
		s.t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			s.t.Fatalf("decode response: %v", err)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[models.ErrorKind]int{
		models.KindUnauthorized:           http.StatusForbidden,
		models.KindInvalidTransition:      http.StatusConflict,
		models.KindDuplicateEntity:        http.StatusConflict,
		models.KindConcurrentModification: http.StatusConflict,
		models.KindPreconditionNotMet:     http.StatusUnprocessableEntity,
		models.KindNotFound:               http.StatusNotFound,
		models.KindInvalidInput:           http.StatusBadRequest,
		models.KindIntegrityViolation:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusFor(models.NewError(kind, models.EntityShipment, "s-1", "x")); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestAPI_ShipmentLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	if w := s.do("", http.MethodGet, "/healthz", nil); w.Code != http.StatusNoContent {
		t.Fatalf("healthz: %d", w.Code)
	}
	if w := s.do("", http.MethodGet, "/v1/entities/shipment", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	var customer models.Customer
	s.decode(s.do(models.RoleNameOpsChina, http.MethodPost, "/v1/customers", map[string]any{
		"name": "Juma Traders", "phone": "+8613800138000", "address": "Guangzhou",
	}), http.StatusCreated, &customer)

	dup := s.do(models.RoleNameOpsChina, http.MethodPost, "/v1/customers", map[string]any{
		"name": "Juma Again", "phone": "+86 138 0013 8000", "address": "Guangzhou",
	})
	var dupBody struct {
		Error models.TransitionError `json:"error"`
	}
	s.decode(dup, http.StatusConflict, &dupBody)
	if dupBody.Error.Kind != models.KindDuplicateEntity {
		t.Fatalf("expected DuplicateEntity body, got %+v", dupBody.Error)
	}

	var sh models.Shipment
	s.decode(s.do(models.RoleNameOpsChina, http.MethodPost, "/v1/shipments", map[string]any{
		"customer_id":        customer.ID,
		"origin_region":      "CN",
		"destination_region": "TZ",
		"pricing":            map[string]any{"pricing_type": "flat", "base_price": "4500", "currency": "USD"},
	}), http.StatusCreated, &sh)

	var pkg models.Package
	s.decode(s.do(models.RoleNameOpsChina, http.MethodPost, "/v1/scan-ops/scan", map[string]any{
		"code": "pkg-1", "description": "Spare parts", "weight": "12", "volume": "0.4",
		"customer_id": customer.ID, "warehouse_id": "WH-GZ-01",
	}), http.StatusCreated, &pkg)
	if pkg.Code != "PKG-1" {
		t.Fatalf("expected normalized package code, got %q", pkg.Code)
	}
	s.decode(s.do(models.RoleNameOpsChina, http.MethodPost, "/v1/transitions", map[string]any{
		"entity_type": "package", "entity_id": pkg.ID, "target": "staged", "params": map[string]any{"shipmentId": sh.ID},
	}), http.StatusOK, nil)

	approve := map[string]any{"entity_type": "shipment", "entity_id": sh.ID, "target": "approved"}
	s.decode(s.do(models.RoleNameOpsChina, http.MethodPost, "/v1/transitions", approve), http.StatusForbidden, nil)
	var res workflow.TransitionResult
	s.decode(s.do(models.RoleNameAdmin, http.MethodPost, "/v1/transitions", approve), http.StatusOK, &res)
	if res.To != string(models.ShipmentStatusApproved) || len(res.Cascaded) != 1 {
		t.Fatalf("unexpected transition result: %+v", res)
	}
	s.decode(s.do(models.RoleNameAdmin, http.MethodPost, "/v1/transitions", approve), http.StatusConflict, nil)

	dispatch := map[string]any{"entity_type": "shipment", "entity_id": sh.ID, "target": "in_transit"}
	s.decode(s.do(models.RoleNameAdmin, http.MethodPost, "/v1/transitions", dispatch), http.StatusUnprocessableEntity, nil)

	var inv models.Invoice
	s.decode(s.do(models.RoleNameFinance, http.MethodPost, "/v1/invoices", map[string]any{"shipment_id": sh.ID}), http.StatusCreated, &inv)
	if inv.Amount.String() != "4500" {
		t.Fatalf("unexpected invoice amount %s", inv.Amount)
	}

	s.decode(s.do(models.RoleNameOpsTanzania, http.MethodGet, "/v1/reports/profit/"+sh.ID, nil), http.StatusForbidden, nil)
	s.decode(s.do(models.RoleNameFinance, http.MethodGet, "/v1/reports/profit/"+sh.ID, nil), http.StatusOK, nil)
	s.decode(s.do(models.RoleNameFinance, http.MethodGet, "/v1/reports/profit/nope", nil), http.StatusNotFound, nil)

	var list struct {
		Count int `json:"count"`
	}
	s.decode(s.do(models.RoleNameOpsTanzania, http.MethodGet, "/v1/entities/shipment", nil), http.StatusOK, &list)
	if list.Count != 1 {
		t.Fatalf("TZ ops should see the CN->TZ shipment, got %d", list.Count)
	}
	s.decode(s.do(models.RoleNameAdmin, http.MethodGet, "/v1/entities/warehouse", nil), http.StatusBadRequest, nil)
}

func TestAPI_AuditEndpointsAreAdminOnly(t *testing.T) {
	s := newTestServer(t)
	s.do(models.RoleNameOpsChina, http.MethodPost, "/v1/customers", map[string]any{
		"name": "Juma Traders", "phone": "+8613800138000", "address": "Guangzhou",
	})

	s.decode(s.do(models.RoleNameFinance, http.MethodGet, "/v1/audit/logs", nil), http.StatusForbidden, nil)
	s.decode(s.do(models.RoleNameFinance, http.MethodGet, "/v1/audit/verify", nil), http.StatusForbidden, nil)

	var logs struct {
		Data  []audit.Entry `json:"data"`
		Count int           `json:"count"`
	}
	s.decode(s.do(models.RoleNameAdmin, http.MethodGet, "/v1/audit/logs?entity_type=customer", nil), http.StatusOK, &logs)
	if logs.Count != 1 || logs.Data[0].EventType != models.AuditCustomerCreated {
		t.Fatalf("unexpected audit page: %+v", logs)
	}
	s.decode(s.do(models.RoleNameAdmin, http.MethodGet, "/v1/audit/logs?from=yesterday", nil), http.StatusBadRequest, nil)

	var verify struct {
		Report audit.Report `json:"report"`
		Halted bool         `json:"halted"`
	}
	s.decode(s.do(models.RoleNameAdmin, http.MethodGet, "/v1/audit/verify", nil), http.StatusOK, &verify)
	if !verify.Report.Valid || verify.Halted {
		t.Fatalf("expected a valid chain, got %+v", verify)
	}
}

func TestAPI_ProfitWorkbookAndInsights(t *testing.T) {
	s := newTestServer(t)

	w := s.do(models.RoleNameFinance, http.MethodGet, "/v1/reports/profit.xlsx", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected workbook response %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected a zip container")
	}

	var insights struct {
		Insights string `json:"insights"`
	}
	s.decode(s.do(models.RoleNameFinance, http.MethodGet, "/v1/dashboard/insights", nil), http.StatusOK, &insights)
	if insights.Insights != integrations.InsightFallback {
		t.Fatalf("expected fallback insight, got %q", insights.Insights)
	}
}

func TestAPI_ParseLabelWithoutScanner(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "label.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write([]byte("not really a png"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/scan-ops/parse-label", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.tokens[models.RoleNameOpsChina])
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when OCR is not configured, got %d: %s", w.Code, w.Body.String())
	}

	s.decode(s.do(models.RoleNameFinance, http.MethodPost, "/v1/scan-ops/parse-label", nil), http.StatusForbidden, nil)
}
