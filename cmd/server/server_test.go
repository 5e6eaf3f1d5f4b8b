package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/dataquality/quality"
	"github.com/liamcoop/dataquality/ruleconfig"
	"github.com/liamcoop/dataquality/rules"
)

const testRules = `
rules:
  - id: non-negative
    fields: [energy_consumption, water_withdrawal]
    check: {kind: non_negative}
tables:
  environmental_data:
    trend_fields: [energy_consumption]
`

type fakeDB struct{ err error }

func (d fakeDB) PingContext(context.Context) error { return d.err }

type fakeReports struct {
	reports []quality.QualityReport
	err     error
}

func (r fakeReports) LatestForCompany(context.Context, int) ([]quality.QualityReport, error) {
	return r.reports, r.err
}

type recordCall struct {
	table     string
	companyID int
	period    int
	values    map[string]float64
}

type fakeHistory struct {
	mu    sync.Mutex
	calls []recordCall
	err   error
}

func (h *fakeHistory) Record(_ context.Context, table string, companyID, period int, values map[string]float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.calls = append(h.calls, recordCall{table, companyID, period, values})
	return nil
}

type fakeSink struct{ err error }

func (s fakeSink) Save(context.Context, quality.QualityReport) error       { return s.err }
func (s fakeSink) LogFinding(context.Context, string, rules.Finding) error { return s.err }

type testEnv struct {
	server    *Server
	rulesPath string
	history   *fakeHistory
}

func newTestEnv(t *testing.T, db fakeDB, reports fakeReports, sink quality.ResultSink) *testEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRules), 0o600))

	var opts []quality.Option
	if sink != nil {
		opts = append(opts, quality.WithResultSink(sink))
	}
	manager := ruleconfig.NewManager(ruleconfig.ManagerConfig{
		Source:        path,
		History:       quality.NewMemoryHistory(),
		EngineOptions: opts,
	})
	_, err := manager.Reload()
	require.NoError(t, err)

	history := &fakeHistory{}
	cache := quality.NewCachedHistory(quality.NewMemoryHistory(), quality.DefaultCacheConfig())
	return &testEnv{
		server:    NewServer(db, manager, reports, history, cache),
		rulesPath: path,
		history:   history,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, fakeDB{}, fakeReports{}, nil)
	code, body := env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, 1.0, body["rules_version"])

	env = newTestEnv(t, fakeDB{err: errors.New("connection refused")}, fakeReports{}, nil)
	code, body = env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestValidate(t *testing.T) {
	env := newTestEnv(t, fakeDB{}, fakeReports{}, fakeSink{})

	code, body := env.do(t, http.MethodPost, "/api/v1/validate", ValidateRequest{
		Table:     "environmental_data",
		CompanyID: 7,
		Records: []map[string]any{
			{"year": 2023, "energy_consumption": 1200},
			{"year": 2023, "energy_consumption": -5},
		},
	})
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, true, body["persisted"])
	findings := body["findings"].([]any)
	require.Len(t, findings, 1)
	f := findings[0].(map[string]any)
	assert.Equal(t, "non-negative", f["rule_id"])
	assert.Equal(t, 1.0, f["record_index"])

	report := body["report"].(map[string]any)
	assert.Equal(t, 50.0, report["score"])
	assert.Equal(t, "F", report["grade"])
	assert.Equal(t, true, report["complete"])
	assert.NotEmpty(t, report["run_id"])
	assert.Empty(t, env.history.calls, "history is only recorded on request")
}

func TestValidateBadRequests(t *testing.T) {
	env := newTestEnv(t, fakeDB{}, fakeReports{}, nil)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"table": `},
		{"missing table", ValidateRequest{Records: []map[string]any{{}}}},
		{"missing records", `{"table": "environmental_data"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, http.MethodPost, "/api/v1/validate", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestValidatePersistFailure(t *testing.T) {
	env := newTestEnv(t, fakeDB{}, fakeReports{}, fakeSink{err: errors.New("database is down")})

	code, body := env.do(t, http.MethodPost, "/api/v1/validate", ValidateRequest{
		Table:   "environmental_data",
		Records: []map[string]any{{"energy_consumption": 10}},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["persisted"])
	assert.Contains(t, body["persist_error"], "database is down")
	assert.Equal(t, 100.0, body["report"].(map[string]any)["score"])
}

func TestValidateRecordHistory(t *testing.T) {
	env := newTestEnv(t, fakeDB{}, fakeReports{}, nil)

	code, body := env.do(t, http.MethodPost, "/api/v1/validate", ValidateRequest{
		Table:         "environmental_data",
		CompanyID:     7,
		RecordHistory: true,
		Records: []map[string]any{
			{"year": 2023, "energy_consumption": 1200, "water_withdrawal": 30, "site": "north"},
			{"year": 2023, "energy_consumption": -5},
			{"energy_consumption": 100},
		},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["history_records"])

	require.Len(t, env.history.calls, 1)
	call := env.history.calls[0]
	assert.Equal(t, "environmental_data", call.table)
	assert.Equal(t, 7, call.companyID)
	assert.Equal(t, 2023, call.period)
	assert.Equal(t, map[string]float64{"energy_consumption": 1200, "water_withdrawal": 30}, call.values)
}

func TestValidateRecordHistoryFailure(t *testing.T) {
	env := newTestEnv(t, fakeDB{}, fakeReports{}, nil)
	env.history.err = errors.New("disk full")

	code, _ := env.do(t, http.MethodPost, "/api/v1/validate", ValidateRequest{
		Table:         "environmental_data",
		RecordHistory: true,
		Records:       []map[string]any{{"year": 2023, "energy_consumption": 1200}},
	})
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestCompanyQuality(t *testing.T) {
	created := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	env := newTestEnv(t, fakeDB{}, fakeReports{reports: []quality.QualityReport{
		{RunID: "a", Table: "environmental_data", CompanyID: 7, Score: 80, Grade: quality.GradeB, CreatedAt: created},
		{RunID: "b", Table: "social_data", CompanyID: 7, Score: 100, Grade: quality.GradeA, CreatedAt: created},
	}}, nil)

	code, body := env.do(t, http.MethodGet, "/api/v1/companies/7/quality", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 7.0, body["company_id"])
	assert.Equal(t, 90.0, body["score"])
	assert.Equal(t, "A", body["grade"])
	assert.Len(t, body["tables"], 2)

	code, _ = env.do(t, http.MethodGet, "/api/v1/companies/acme/quality", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCompanyQualityNoReports(t *testing.T) {
	env := newTestEnv(t, fakeDB{}, fakeReports{reports: []quality.QualityReport{}}, nil)

	code, body := env.do(t, http.MethodGet, "/api/v1/companies/9/quality", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 100.0, body["score"])
	assert.Equal(t, "A", body["grade"])

	env = newTestEnv(t, fakeDB{}, fakeReports{err: errors.New("timeout")}, nil)
	code, _ = env.do(t, http.MethodGet, "/api/v1/companies/9/quality", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestReloadRules(t *testing.T) {
	env := newTestEnv(t, fakeDB{}, fakeReports{}, nil)

	updated := testRules + `  social_data:
    trend_fields: [employee_count]
`
	require.NoError(t, os.WriteFile(env.rulesPath, []byte(updated), 0o600))

	code, body := env.do(t, http.MethodPost, "/api/v1/rules/reload", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["version"])
	assert.Equal(t, []any{"environmental_data", "social_data"}, body["tables"])
	assert.Equal(t, 2.0, body["rules"])

	require.NoError(t, os.WriteFile(env.rulesPath, []byte("rules: [{id: x}]"), 0o600))
	code, body = env.do(t, http.MethodPost, "/api/v1/rules/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.NotEmpty(t, body["details"])

	// previous rules still serve
	code, body = env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["rules_version"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, fakeDB{}, fakeReports{}, nil)
	env.do(t, http.MethodPost, "/api/v1/validate", ValidateRequest{
		Table:   "environmental_data",
		Records: []map[string]any{{"energy_consumption": -1}},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dataquality_validation_runs_total")
	assert.Contains(t, rec.Body.String(), "dataquality_validation_findings_total")
}
