package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"sgpa-enrollment/internal/common/config"
	"sgpa-enrollment/internal/common/database"
	commonhttp "sgpa-enrollment/internal/common/http"
	"sgpa-enrollment/internal/common/logger"
	"sgpa-enrollment/internal/enrollment/service"
	"sgpa-enrollment/internal/submission"
	httptransport "sgpa-enrollment/internal/transport/http"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend stands in for the SGPA endpoint and records every body it gets.
type backend struct {
	mu     sync.Mutex
	bodies []map[string]string
	status int
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]string
	_ = json.Unmarshal(raw, &body)

	b.mu.Lock()
	b.bodies = append(b.bodies, body)
	status := b.status
	b.mu.Unlock()

	w.WriteHeader(status)
}

func (b *backend) setStatus(status int) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
}

func (b *backend) received() []map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]string, len(b.bodies))
	copy(out, b.bodies)
	return out
}

type testEnvironment struct {
	server  *httptest.Server
	backend *backend
	redis   *miniredis.Miniredis
	svc     *service.Service
}

func setupEnvironment(t *testing.T, resetDelay time.Duration) *testEnvironment {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping E2E tests in short mode")
	}

	log := logger.NewTestLogger(t)

	mr := miniredis.RunT(t)
	rdb := database.NewRedis(config.RedisConfig{Address: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, database.PingRedis(context.Background(), rdb))

	be := &backend{status: http.StatusOK}
	upstream := httptest.NewServer(be)
	t.Cleanup(upstream.Close)

	cfg := config.SubmissionConfig{BaseURL: upstream.URL, Path: "/api/submit-pa", Timeout: 5000}
	submitter := submission.NewHTTPSubmitter(commonhttp.NewClient(config.GetDuration(cfg.Timeout)), cfg.URL())

	svc := service.New(service.Dependencies{
		Store:     service.NewRedisStore(rdb, "enrollment:session:", 30*time.Minute),
		Submitter: submitter,
		Logger:    log,
	}, service.Options{ResetDelay: resetDelay})

	ready := func(ctx context.Context) error { return database.PingRedis(ctx, rdb) }
	srv := httptest.NewServer(httptransport.NewRouter(httptransport.NewHandler(svc, log), log, ready))
	t.Cleanup(srv.Close)

	return &testEnvironment{server: srv, backend: be, redis: mr, svc: svc}
}

type view struct {
	ID          string            `json:"id"`
	Step        int               `json:"step"`
	IsFinalStep bool              `json:"isFinalStep"`
	Fields      map[string]string `json:"fields"`
	Errors      map[string]string `json:"errors"`
	Status      string            `json:"status"`
	Banner      string            `json:"banner"`
}

func (env *testEnvironment) call(t *testing.T, method, path string, body interface{}) (int, view) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, env.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var v view
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &v)
	}
	return resp.StatusCode, v
}

func (env *testEnvironment) fillAndReachFinalStep(t *testing.T, base string) {
	t.Helper()
	status, _ := env.call(t, http.MethodPatch, base+"/fields", map[string]string{
		"SALUTATION":     "MR",
		"SNAME":          "Bikash Thapa",
		"PASSPORT":       "N0912345",
		"NATIONALITY":    "NPL",
		"GENDER":         "Male",
		"DOB":            "1988-11-03",
		"EMAIL":          "bikash@example.com",
		"MOBILE_NO":      "0112223344",
		"POSTCODE":       "81700",
		"ADDRESS_1":      "Lot 5, Kawasan Perindustrian",
		"MARITAL_STATUS": "M",
	})
	require.Equal(t, http.StatusOK, status)

	for i := 0; i < 2; i++ {
		status, _ = env.call(t, http.MethodPost, base+"/advance", nil)
		require.Equal(t, http.StatusOK, status)
	}
}

func TestFullE2E(t *testing.T) {
	env := setupEnvironment(t, 200*time.Millisecond)

	status, v := env.call(t, http.MethodPost, "/api/v1/enrollments", nil)
	require.Equal(t, http.StatusCreated, status)
	base := "/api/v1/enrollments/" + v.ID
	assert.True(t, env.redis.Exists("enrollment:session:"+v.ID))

	env.fillAndReachFinalStep(t, base)

	status, v = env.call(t, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", v.Status)

	got := env.backend.received()
	require.Len(t, got, 1)
	assert.Len(t, got[0], 16)
	assert.Equal(t, "Bikash Thapa", got[0]["SNAME"])
	assert.Equal(t, "NPL", got[0]["NATIONALITY"])
	assert.Equal(t, "0605", got[0]["OCCUPATION_CODE"])
	assert.Equal(t, "", got[0]["ADDRESS_2"])

	// the delayed reset blanks the form, defaults included
	require.Eventually(t, func() bool {
		_, v = env.call(t, http.MethodGet, base, nil)
		return v.Step == 0 && v.Status == "idle"
	}, 3*time.Second, 20*time.Millisecond)
	assert.Empty(t, v.Fields["SNAME"])
	assert.Empty(t, v.Fields["NATIONALITY"])
	assert.Equal(t, 0, env.svc.PendingResets())
}

func TestBackendRejection(t *testing.T) {
	env := setupEnvironment(t, time.Hour)
	env.backend.setStatus(http.StatusInternalServerError)

	_, v := env.call(t, http.MethodPost, "/api/v1/enrollments", nil)
	base := "/api/v1/enrollments/" + v.ID
	env.fillAndReachFinalStep(t, base)

	status, v := env.call(t, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "error", v.Status)
	assert.Equal(t, "Bikash Thapa", v.Fields["SNAME"])
	assert.True(t, v.IsFinalStep)

	// retry after the backend recovers
	env.backend.setStatus(http.StatusCreated)
	status, v = env.call(t, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", v.Status)
	assert.Len(t, env.backend.received(), 2)
}

func TestSessionExpiry(t *testing.T) {
	env := setupEnvironment(t, time.Hour)

	_, v := env.call(t, http.MethodPost, "/api/v1/enrollments", nil)
	env.redis.FastForward(31 * time.Minute)

	status, _ := env.call(t, http.MethodGet, "/api/v1/enrollments/"+v.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestReadiness(t *testing.T) {
	env := setupEnvironment(t, time.Hour)

	status, _ := env.call(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, status)

	env.redis.Close()
	status, _ = env.call(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
