package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-dca/internal/metrics"
	"github.com/celerix-dev/celerix-dca/pkg/schema"
	"github.com/celerix-dev/celerix-dca/pkg/sdk"
)

const fixturesCSV = "Case ID,Customer Name,Amount,Age\n" +
	"FX-1,Ada,1000,10\n" +
	"FX-2,Bob,9000,50\n" +
	"FX-3,Cy,50000,200\n"

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	p, err := sdk.NewEmbedded(sdk.Options{})
	require.NoError(t, err)
	h := &Handler{Portfolio: p, Metrics: metrics.NewRecorder()}
	return NewRouter(h, "*")
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func upload(t *testing.T, r http.Handler, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/cases/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestImportUpload(t *testing.T) {
	r := setupTestRouter(t)

	w := upload(t, r, "fixtures.csv", fixturesCSV)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"imported":3,"source":"fixtures.csv"}`, w.Body.String())

	w = do(r, http.MethodGet, "/api/cases/FX-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var c schema.Case
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Equal(t, 95, c.AIScore)
	assert.Equal(t, schema.AgencyApex, c.AllocatedAgency)
	assert.Equal(t, schema.StatusAllocated, c.Status)

	w = do(r, http.MethodGet, "/api/audit", nil)
	var log []schema.AuditLogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &log))
	require.Len(t, log, 1)
	assert.Equal(t, "Bulk Ingested 3 cases via fixtures.csv", log[0].Action)
}

func TestImportRejectsBadFile(t *testing.T) {
	r := setupTestRouter(t)

	w := upload(t, r, "cases.csv", "Case ID,Amount\nA,1\n")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Error   string `json:"error"`
		Details []struct {
			Field string `json:"field"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Error, schema.ExpectedColumns)
	require.Len(t, body.Details, 1)
	assert.Equal(t, schema.ColumnAge, body.Details[0].Field)

	w = do(r, http.MethodGet, "/api/cases", nil)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestImportJSON(t *testing.T) {
	r := setupTestRouter(t)

	w := do(r, http.MethodPost, "/api/cases/import", map[string]any{
		"rows": []map[string]any{{"case_id": "J-1", "customer_name": "Jo", "amount": "2500.50", "age": 3}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"imported":1,"source":"api"}`, w.Body.String())

	w = do(r, http.MethodPost, "/api/cases/import", map[string]any{"rows": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportJSONRequiresAmountAndAge(t *testing.T) {
	r := setupTestRouter(t)

	w := do(r, http.MethodPost, "/api/cases/import", map[string]any{
		"rows": []map[string]any{
			{"case_id": "J-1", "amount": 100, "age": 3},
			{"case_id": "J-2"},
		},
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "row 2: Amount is required")
	assert.Contains(t, w.Body.String(), "row 2: Age is required")
	assert.Contains(t, w.Body.String(), "expected columns")

	w = do(r, http.MethodGet, "/api/cases", nil)
	assert.JSONEq(t, `[]`, w.Body.String(), "the whole batch is rejected")
}

func TestUpdateStatusAndViews(t *testing.T) {
	r := setupTestRouter(t)
	require.Equal(t, http.StatusCreated, upload(t, r, "fixtures.csv", fixturesCSV).Code)

	w := do(r, http.MethodPost, "/api/cases/FX-1/status", gin.H{"status": "Closed", "note": "Paid in full", "agency": "Apex Collections"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tests := []struct {
		name string
		path string
		body gin.H
		want int
	}{
		{"unknown case", "/api/cases/FX-999/status", gin.H{"status": "Closed"}, http.StatusNotFound},
		{"invalid status", "/api/cases/FX-2/status", gin.H{"status": "Paid"}, http.StatusUnprocessableEntity},
		{"other agency's case", "/api/cases/FX-3/status", gin.H{"status": "Closed", "agency": "Apex Collections"}, http.StatusNotFound},
		{"missing status", "/api/cases/FX-2/status", gin.H{"note": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(r, http.MethodPost, tt.path, tt.body).Code)
		})
	}

	w = do(r, http.MethodGet, "/api/overview", nil)
	var ov schema.Overview
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ov))
	assert.InDelta(t, 33.3, ov.CompletionRate, 0.05)
	assert.Equal(t, 1, ov.ClosedCases)

	w = do(r, http.MethodGet, "/api/agencies/"+url.PathEscape("Apex Collections")+"/view?search=fx-2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view schema.AgencyView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, 2, view.TotalAllotted)
	assert.Equal(t, 1, view.PendingCount)
	require.Len(t, view.Cases, 1)
	assert.Equal(t, "FX-2", view.Cases[0].ID)
	assert.Equal(t, "9000", view.PendingPortfolioValue.String())

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/agencies/Nobody/view", nil).Code)

	w = do(r, http.MethodGet, "/api/audit?limit=1&user="+url.QueryEscape("Apex Collections"), nil)
	var log []schema.AuditLogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &log))
	require.Len(t, log, 1)
	assert.Contains(t, log[0].Action, "Paid in full")

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/audit?limit=abc", nil).Code)
}

func TestAgenciesHealthAndMetrics(t *testing.T) {
	r := setupTestRouter(t)

	w := do(r, http.MethodGet, "/api/agencies", nil)
	assert.JSONEq(t, `["Apex Collections","Global Recovery","Swift Debt Ltd"]`, w.Body.String())

	w = do(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	require.Equal(t, http.StatusCreated, upload(t, r, "fixtures.csv", fixturesCSV).Code)
	w = do(r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "celerix_dca_cases"), "portfolio gauges exported")

	w = do(r, http.MethodOptions, "/api/cases", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/nope", nil).Code)
}
