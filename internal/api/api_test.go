package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indicompute/indicompute/internal/app/earnings"
	"github.com/indicompute/indicompute/internal/app/jobs"
	"github.com/indicompute/indicompute/internal/app/registry"
	"github.com/indicompute/indicompute/internal/app/wallet"
	"github.com/indicompute/indicompute/internal/domain"
	"github.com/indicompute/indicompute/internal/health"
	"github.com/indicompute/indicompute/internal/infra/keylock"
	"github.com/indicompute/indicompute/internal/infra/sqlite"
)

const (
	owner  int64 = 1
	renter int64 = 2
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	locks := &keylock.Map{}
	reg := registry.NewService(db, locks, registry.Config{LivenessTTL: time.Minute, Currency: "INR"})
	ledger := wallet.NewLedger(db, locks, wallet.Config{Currency: "INR"})
	svc := Services{
		Registry: reg,
		Wallet:   ledger,
		Jobs:     jobs.NewLifecycle(db, locks, reg, ledger, jobs.Config{DefaultPrice: 1000, Currency: "INR"}),
		Earnings: earnings.NewAggregator(db, reg, ledger),
	}

	srv := NewServer(svc, nil)
	srv.EnableMetrics()
	checker := health.NewChecker(db, dir, ledger, 0, nil)
	checker.RunOnce(t.Context())
	srv.SetHealthChecker(checker)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// do sends a request as caller (0 = no caller header) and decodes the JSON
// response into out when out is non-nil.
func do(t *testing.T, ts *httptest.Server, method, path string, caller int64, body, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != 0 {
		req.Header.Set(CallerHeader, strconv.FormatInt(caller, 10))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func registerPricedNode(t *testing.T, ts *httptest.Server, price domain.Amount) domain.Node {
	t.Helper()
	var n domain.Node
	code := do(t, ts, http.MethodPost, "/nodes", owner, nodeRequest{Location: "Pune", GPUModel: "A100", GPUCount: 1}, &n)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, n.NodeKey)

	code = do(t, ts, http.MethodPut, fmt.Sprintf("/nodes/%d/pricing", n.ID), owner,
		pricingRequest{PricePerHour: price, Currency: "INR"}, nil)
	require.Equal(t, http.StatusOK, code)
	return n
}

// ─── Health & Auth ──────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]interface{}
	code := do(t, ts, http.MethodGet, "/health", 0, nil, &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMissingCaller(t *testing.T) {
	ts := newTestServer(t)
	var body errorBody
	code := do(t, ts, http.MethodGet, "/wallet/balance", 0, nil, &body)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", body.Error.Type)
}

// ─── End to End ─────────────────────────────────────────────────────────────

func TestJobFlow(t *testing.T) {
	ts := newTestServer(t)
	n := registerPricedNode(t, ts, 50)

	var acct domain.Account
	code := do(t, ts, http.MethodPost, "/wallet/topup", renter, topUpRequest{Amount: 100}, &acct)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.Amount(100), acct.Balance)

	code = do(t, ts, http.MethodPost, fmt.Sprintf("/nodes/%d/heartbeat", n.ID), 0, heartbeatRequest{NodeKey: n.NodeKey}, nil)
	require.Equal(t, http.StatusOK, code)

	var job domain.Job
	code = do(t, ts, http.MethodPost, "/jobs", renter, submitRequest{NodeID: n.ID, NodeKey: n.NodeKey, Command: "train"}, &job)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, domain.JobRunning, job.Status)

	code = do(t, ts, http.MethodPost, fmt.Sprintf("/jobs/%d/logs", job.ID), 0, logRequest{LogType: "stdout", Details: "ok"}, nil)
	require.Equal(t, http.StatusCreated, code)

	var logs []domain.ExecutionLog
	code = do(t, ts, http.MethodGet, fmt.Sprintf("/jobs/%d/logs", job.ID), owner, nil, &logs)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, logs, 1)

	for i := 0; i < 2; i++ {
		var done domain.Job
		code = do(t, ts, http.MethodPost, fmt.Sprintf("/jobs/%d/complete", job.ID), renter, nil, &done)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, domain.JobCompleted, done.Status)
	}

	code = do(t, ts, http.MethodGet, "/wallet/balance", owner, nil, &acct)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.Amount(50), acct.Balance)

	var dash domain.Dashboard
	code = do(t, ts, http.MethodGet, fmt.Sprintf("/nodes/%d/earnings/dashboard", n.ID), owner, nil, &dash)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.Amount(50), dash.TotalEarnings)
	assert.Equal(t, int64(1), dash.TotalJobs)

	var txs []domain.Transaction
	code = do(t, ts, http.MethodGet, "/wallet/transactions", renter, nil, &txs)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, txs, 2)
}

func TestNodeActivity(t *testing.T) {
	ts := newTestServer(t)
	n := registerPricedNode(t, ts, 50)

	code := do(t, ts, http.MethodPost, fmt.Sprintf("/nodes/%d/heartbeat", n.ID), 0, heartbeatRequest{NodeKey: n.NodeKey}, nil)
	require.Equal(t, http.StatusOK, code)

	var activity []domain.NodeActivity
	code = do(t, ts, http.MethodGet, fmt.Sprintf("/nodes/%d/activity?limit=1", n.ID), owner, nil, &activity)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, activity, 1)
	assert.Equal(t, domain.ActivityHeartbeat, activity[0].EventType)

	var body errorBody
	code = do(t, ts, http.MethodGet, fmt.Sprintf("/nodes/%d/activity", n.ID), renter, nil, &body)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", body.Error.Type)
}

func TestMarketplace_HidesKeys(t *testing.T) {
	ts := newTestServer(t)
	n := registerPricedNode(t, ts, 50)

	var raw []map[string]interface{}
	code := do(t, ts, http.MethodGet, "/marketplace/nodes", 0, nil, &raw)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, raw, 1)
	assert.EqualValues(t, n.ID, raw[0]["id"])
	assert.NotContains(t, raw[0], "node_key")
	assert.Equal(t, false, raw[0]["is_online"])
}

// ─── Error Mapping ──────────────────────────────────────────────────────────

func TestErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	n := registerPricedNode(t, ts, 50)

	tests := []struct {
		name   string
		method string
		path   string
		caller int64
		body   interface{}
		status int
		kind   string
	}{
		{"insufficient funds", http.MethodPost, "/jobs", renter,
			submitRequest{NodeID: n.ID, NodeKey: n.NodeKey, Command: "x"}, http.StatusPaymentRequired, "insufficient_funds"},
		{"wrong node key", http.MethodPost, "/jobs", renter,
			submitRequest{NodeID: n.ID, NodeKey: "nope", Command: "x"}, http.StatusUnauthorized, "invalid_credentials"},
		{"bad heartbeat", http.MethodPost, fmt.Sprintf("/nodes/%d/heartbeat", n.ID), 0,
			heartbeatRequest{NodeKey: "nope"}, http.StatusUnauthorized, "invalid_credentials"},
		{"non-positive top-up", http.MethodPost, "/wallet/topup", renter,
			topUpRequest{Amount: 0}, http.StatusBadRequest, "invalid_amount"},
		{"foreign pricing", http.MethodPut, fmt.Sprintf("/nodes/%d/pricing", n.ID), renter,
			pricingRequest{PricePerHour: 10, Currency: "INR"}, http.StatusForbidden, "forbidden"},
		{"unsupported currency", http.MethodPut, fmt.Sprintf("/nodes/%d/pricing", n.ID), owner,
			pricingRequest{PricePerHour: 10, Currency: "USD"}, http.StatusBadRequest, "unsupported_currency"},
		{"unknown job", http.MethodGet, "/jobs/999", renter, nil, http.StatusNotFound, "not_found"},
		{"bad id", http.MethodGet, "/jobs/abc", renter, nil, http.StatusBadRequest, "invalid_input"},
		{"unknown node status", http.MethodGet, "/nodes/999/status", owner, nil, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorBody
			code := do(t, ts, tt.method, tt.path, tt.caller, tt.body, &body)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.kind, body.Error.Type)
		})
	}
}

func TestGetJob_OtherUserSeesNotFound(t *testing.T) {
	ts := newTestServer(t)
	n := registerPricedNode(t, ts, 50)
	require.Equal(t, http.StatusOK, do(t, ts, http.MethodPost, "/wallet/topup", renter, topUpRequest{Amount: 50}, nil))

	var job domain.Job
	require.Equal(t, http.StatusCreated,
		do(t, ts, http.MethodPost, "/jobs", renter, submitRequest{NodeID: n.ID, NodeKey: n.NodeKey, Command: "x"}, &job))

	code := do(t, ts, http.MethodGet, fmt.Sprintf("/jobs/%d", job.ID), owner, nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code = do(t, ts, http.MethodGet, fmt.Sprintf("/jobs/%d/logs", job.ID), 99, nil, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code = do(t, ts, http.MethodDelete, fmt.Sprintf("/nodes/%d", n.ID), owner, nil, nil)
	assert.Equal(t, http.StatusConflict, code, "node with a running job cannot be deleted")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrPricingNotSet, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", domain.ErrConsistency), http.StatusInternalServerError},
		{domain.ErrNodeBusy, http.StatusConflict},
		{errors.New("database is locked"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}
