package registerhttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaquecarne/pesajes/internal/platform/httpx"
	"github.com/chaquecarne/pesajes/internal/register"
	"github.com/chaquecarne/pesajes/internal/weighing"
	"github.com/chaquecarne/pesajes/internal/weighing/export"
	"github.com/chaquecarne/pesajes/internal/weighing/weighingtest"
)

type stubEnqueuer struct {
	from, to time.Time
	encoding string
	err      error
}

func (s *stubEnqueuer) EnqueueExport(_ context.Context, from, to time.Time, encoding string) (string, error) {
	s.from, s.to, s.encoding = from, to, encoding
	return "task-1", s.err
}

func newTestRouter(t *testing.T, exports ExportEnqueuer) (http.Handler, *weighingtest.Memory) {
	t.Helper()
	store := weighingtest.NewMemory(weighing.ProfileServer)
	_, err := weighing.Seed(context.Background(), store)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	svc := weighing.NewService(store, nil, nil, logger, weighing.ServiceConfig{Now: func() time.Time { return now }})
	ctrl := register.New(svc, logger, nil, export.Options{Location: time.UTC})

	r := chi.NewRouter()
	NewHandler(logger, ctrl, exports, time.UTC).MountRoutes(r)
	return r, store
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestScanEndpoint(t *testing.T) {
	h, store := newTestRouter(t, nil)
	require.NoError(t, store.CreateProduct(context.Background(), weighing.Product{Code: "0234567", Name: "Chorizo", Active: true}))

	rr := do(t, h, http.MethodGet, "/api/scan/0234567120340", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res struct {
		ProductCode string `json:"product_code"`
		WeightKg    string `json:"weight_kg"`
		FromLabel   bool   `json:"from_label"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "0234567", res.ProductCode)
	assert.Equal(t, "12.034", res.WeightKg)
	assert.True(t, res.FromLabel)

	rr = do(t, h, http.MethodGet, "/api/scan/9999999000100", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "No se encontró un producto con el código: 9999999", decodeProblem(t, rr).Detail)
}

func TestDecodeEndpointRejectsMalformedLabel(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rr := do(t, h, http.MethodGet, "/api/barcodes/12345", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeProblem(t, rr).Detail, "Código de barras inválido")
}

func TestRegisterEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rr := do(t, h, http.MethodPost, "/api/weighins", `{"product_code":"P001","weight_kg":"2.5","seller_code":"V001","notes":"mostrador"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "/api/weighins/1", rr.Header().Get("Location"))

	var created weighing.WeighIn
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "Carne molida", created.ProductName)
	assert.Equal(t, "21.25", created.Total.Decimal.StringFixed(2))

	rr = do(t, h, http.MethodGet, "/api/weighins/1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/weighins/2", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/weighins/abc", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegisterEndpointErrors(t *testing.T) {
	h, store := newTestRouter(t, nil)

	cases := []struct {
		name   string
		body   string
		status int
		detail string
	}{
		{"bad json", `{`, http.StatusBadRequest, "Cuerpo JSON inválido"},
		{"weight too high", `{"product_code":"P001","weight_kg":100,"seller_code":"V001"}`, http.StatusBadRequest, "El peso debe ser mayor a 0 y menor a 100 kg"},
		{"unknown seller", `{"product_code":"P001","weight_kg":1,"seller_code":"V404"}`, http.StatusNotFound, "No se encontró un vendedor con el código: V404"},
		{"notes too long", `{"product_code":"P001","weight_kg":1,"seller_code":"V001","notes":"` + strings.Repeat("x", 501) + `"}`, http.StatusBadRequest, "Campos inválidos: notes (max)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/api/weighins", tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.Equal(t, tc.detail, decodeProblem(t, rr).Detail)
		})
	}
	assert.Zero(t, store.Calls["CreateWeighIn"])
}

func TestStoreFailureIsInternalError(t *testing.T) {
	h, store := newTestRouter(t, nil)
	store.Err = errors.New("timeout")

	rr := do(t, h, http.MethodGet, "/api/weighins", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Error al cargar pesajes recientes: timeout", decodeProblem(t, rr).Detail)
}

func TestProductCRUD(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rr := do(t, h, http.MethodPost, "/api/products", `{"code":"P010","name":"Matambre","price_per_kg":"11.40"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/api/products", `{"code":"P010","name":"Otro"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodPost, "/api/products", `{"name":"Sin código"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Campos inválidos: code (required)", decodeProblem(t, rr).Detail)

	rr = do(t, h, http.MethodPut, "/api/products/P010", `{"price_per_kg":"12.00"}`)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodDelete, "/api/products/P010", "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/products/P010", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/products?all=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var all []weighing.Product
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &all))
	assert.Len(t, all, 6)
}

func TestHistoryAndStatsEndpoints(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	for _, body := range []string{
		`{"product_code":"P001","weight_kg":"1","seller_code":"V001"}`,
		`{"product_code":"P002","weight_kg":"3","seller_code":"V002"}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/weighins", body).Code)
	}

	rr := do(t, h, http.MethodGet, "/api/weighins/history?seller=V002", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rows []weighing.WeighIn
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "P002", rows[0].ProductCode)

	rr = do(t, h, http.MethodGet, "/api/weighins/history?from=2024-03-15&to=2024-03-15", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	assert.Len(t, rows, 2)

	rr = do(t, h, http.MethodGet, "/api/weighins/history?from=15/03/2024", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/stats/sellers", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats []weighing.SellerStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.Len(t, stats, 2)
	assert.Equal(t, "V002", stats[0].SellerCode)
}

func TestListLimitIsBounded(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rr := do(t, h, http.MethodGet, "/api/weighins?limit=100000000", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Datos inválidos: limit must not exceed 1000", decodeProblem(t, rr).Detail)

	rr = do(t, h, http.MethodGet, "/api/weighins/history?seller=V001&limit=1001", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/weighins?limit=1000", "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestExportCSVEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rr := do(t, h, http.MethodGet, "/api/export.csv", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "No hay datos para exportar", decodeProblem(t, rr).Detail)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/weighins", `{"entry":"P003","weight_kg":"0.75","seller_code":"V003"}`).Code)

	rr = do(t, h, http.MethodGet, "/api/export.csv", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "pesajes_")

	records, err := csv.NewReader(rr.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"1", "15/03/2024 12:00", "P003", "Costilla", "0.75", "V003", "Carlos Rodríguez", "7.25", "5.44", ""}, records[1])

	rr = do(t, h, http.MethodGet, "/api/export.csv?encoding=ascii85", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEnqueueExport(t *testing.T) {
	rr := do(t, mustRouter(t, nil), http.MethodPost, "/api/exports", `{}`)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	stub := &stubEnqueuer{}
	h := mustRouter(t, stub)
	rr = do(t, h, http.MethodPost, "/api/exports", `{"from":"2024-03-01","to":"2024-03-31","encoding":"windows-1252"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"task_id":"task-1"}`, rr.Body.String())
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), stub.from)
	assert.Equal(t, "windows-1252", stub.encoding)

	rr = do(t, h, http.MethodPost, "/api/exports", `{"from":"01/03/2024"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func mustRouter(t *testing.T, exports ExportEnqueuer) http.Handler {
	t.Helper()
	h, _ := newTestRouter(t, exports)
	return h
}
