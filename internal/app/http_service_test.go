package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/guildsync/internal/guild"
	"github.com/dokzlo13/guildsync/internal/ledger"
	"github.com/dokzlo13/guildsync/internal/reconcile"
)

func newTestHTTP(t *testing.T, m *guild.Memory, source string) (*HTTPService, http.Handler) {
	t.Helper()
	r, l := newTestRunner(t, m)
	svc := NewHTTPService("127.0.0.1:0", time.Second, r, l, source)
	return svc, svc.Handler()
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHTTP_HealthAndReady(t *testing.T) {
	svc, h := newTestHTTP(t, guild.NewMemory("everyone", true), "")

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/ready").Code)

	svc.SetReady(true)
	rec := do(t, h, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHTTP_Metrics(t *testing.T) {
	_, h := newTestHTTP(t, guild.NewMemory("everyone", true), "")

	rec := do(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHTTP_PlanUsesConfiguredSource(t *testing.T) {
	m := guild.NewMemory("everyone", true)
	source := writeBlueprint(t, testBlueprint)
	_, h := newTestHTTP(t, m, source)

	rec := do(t, h, http.MethodGet, "/plan")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "Dry-Run Plan:"))
	assert.Contains(t, body, "+ create role: Team")
	assert.Contains(t, body, "+ create text channel: General/#rules")

	// Naming the configured source explicitly is allowed.
	rec = do(t, h, http.MethodGet, "/plan?source="+url.QueryEscape(source))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, m.Calls())
}

func TestHTTP_PlanRejectsBadBlueprint(t *testing.T) {
	_, h := newTestHTTP(t, guild.NewMemory("everyone", true), writeBlueprint(t, "just a string"))

	rec := do(t, h, http.MethodGet, "/plan")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestHTTP_RefusesUnconfiguredSource(t *testing.T) {
	var fetched atomic.Int32
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetched.Add(1)
		fmt.Fprint(w, "roles: [Intruder]\ncategories:\n  - name: Spam\n")
	}))
	defer foreign.Close()

	m := guild.NewMemory("everyone", true)
	_, h := newTestHTTP(t, m, writeBlueprint(t, testBlueprint))

	for _, target := range []string{
		"/apply?source=" + url.QueryEscape(foreign.URL),
		"/apply?source=" + url.QueryEscape(writeBlueprint(t, "roles: [Other]\n")),
	} {
		rec := do(t, h, http.MethodPost, target)
		assert.Equal(t, http.StatusForbidden, rec.Code, target)
	}
	assert.Equal(t, http.StatusForbidden,
		do(t, h, http.MethodGet, "/plan?source="+url.QueryEscape(foreign.URL)).Code)

	assert.Zero(t, fetched.Load())
	assert.Empty(t, m.Calls())
}

func TestHTTP_NoConfiguredSource(t *testing.T) {
	m := guild.NewMemory("everyone", true)
	_, h := newTestHTTP(t, m, "")

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/apply").Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodGet, "/plan").Code)
	assert.Empty(t, m.Calls())
}

func TestHTTP_ApplyAndRuns(t *testing.T) {
	m := guild.NewMemory("everyone", true)
	_, h := newTestHTTP(t, m, writeBlueprint(t, testBlueprint))

	rec := do(t, h, http.MethodPost, "/apply")
	require.Equal(t, http.StatusOK, rec.Code)

	var sum reconcile.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, reconcile.Summary{RolesCreated: 2, CategoriesCreated: 1, ChannelsCreated: 2}, sum)

	rec = do(t, h, http.MethodGet, "/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []ledger.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EventRunCompleted, entries[0].EventType)
	assert.Equal(t, "http", entries[0].Reason)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/runs?limit=zero").Code)
}

func TestHTTP_ApplyFailure(t *testing.T) {
	_, h := newTestHTTP(t, guild.NewMemory("everyone", true), filepath.Join(t.TempDir(), "missing.yaml"))

	rec := do(t, h, http.MethodPost, "/apply")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
}

func TestHTTP_RunsWithoutLedger(t *testing.T) {
	r, _ := newTestRunner(t, guild.NewMemory("everyone", true))
	h := NewHTTPService("127.0.0.1:0", time.Second, r, nil, "").Handler()

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/runs").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/apply").Code)
}

func TestHTTP_Trigger(t *testing.T) {
	svc, h := newTestHTTP(t, guild.NewMemory("everyone", true), "")
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/trigger").Code)

	triggered := 0
	svc.SetTrigger(func() { triggered++ })
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/trigger").Code)
	assert.Equal(t, 1, triggered)
}
