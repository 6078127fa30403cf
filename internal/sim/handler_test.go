package sim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xinkaiwang/chunkmgr/internal/config"
	"github.com/xinkaiwang/chunkmgr/kerror"
	"github.com/xinkaiwang/chunkmgr/krunloop"
	"github.com/xinkaiwang/chunkmgr/util/json"
)

func newApiUnderTest(t *testing.T) (*http.ServeMux, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	ts := newSimUnderTest(t)
	for i := 0; i < 5; i++ {
		ts.step(ctx)
	}
	rl := krunloop.NewRunLoop(ctx, ts, "apitest")
	go rl.Run(ctx)

	memCfg := config.DefaultMemConfig()
	handler := NewHandler(memCfg, ts.simCfg, rl)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return mux, func() {
		rl.StopAndWaitForExit()
		cancel()
	}
}

func TestUsageEndpoint(t *testing.T) {
	mux, stop := newApiUnderTest(t)
	defer stop()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var snapshot UsageSnapshot
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, 1, snapshot.Iteration)
	assert.Len(t, snapshot.Devices, 2)
}

func TestUsageEndpointRejectsNonGet(t *testing.T) {
	mux, stop := newApiUnderTest(t)
	defer stop()

	// kerror panic 要被 middleware 接住，映射成 400，而不是冒泡出去
	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/usage", strings.NewReader("{}")))
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "MethodNotAllowed", body["error"])
	assert.Equal(t, kerror.EC_INVALID_PARAMETER.String(), body["code"])
}

func TestConfigEndpoint(t *testing.T) {
	mux, stop := newApiUnderTest(t)
	defer stop()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "mem")
	assert.Contains(t, body, "sim")
}
