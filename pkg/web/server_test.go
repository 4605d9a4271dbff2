package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-shopcam/internal/clock"
	"github.com/teslashibe/go-shopcam/internal/log"
	"github.com/teslashibe/go-shopcam/pkg/camera"
	"github.com/teslashibe/go-shopcam/pkg/capture"
	"github.com/teslashibe/go-shopcam/pkg/detect"
	"github.com/teslashibe/go-shopcam/pkg/payment"
	"github.com/teslashibe/go-shopcam/pkg/receipt"
)

type testEnv struct {
	srv  *Server
	src  *camera.Fake
	clk  *clock.Fake
	loop *capture.Loop
	flow *payment.Flow
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := log.Discard()
	env := &testEnv{
		srv: NewServer(Config{Logger: logger}),
		src: camera.NewFake(
			camera.Device{ID: "cam-front", Label: "Front Camera"},
			camera.Device{ID: "cam-back", Label: "Back Camera"},
		),
		clk: clock.NewFake(time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)),
	}
	env.loop = capture.New(env.src, detect.NewMock(), env.srv, env.srv,
		capture.WithClock(env.clk), capture.WithLogger(logger))

	issuer := payment.IssuerFunc(func(ctx context.Context, amount float64) (string, error) {
		return "https://pay.example/" + payment.FormatAmount(amount), nil
	})
	env.flow = payment.New(issuer, env.srv,
		payment.WithClock(env.clk),
		payment.WithLogger(logger),
		payment.WithOnChange(env.srv.PaymentChanged))

	env.srv.Attach(Backends{Session: env.loop, Payments: env.flow})
	t.Cleanup(func() {
		env.loop.Close()
		env.loop.Wait()
		env.srv.Shutdown()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.App().Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	code, body := env.do(t, http.MethodGet, "/api/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestDevicesBackFirst(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	resp, err := env.srv.App().Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	var devices []camera.Device
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&devices))
	require.Len(t, devices, 2)
	assert.Equal(t, "cam-back", devices[0].ID)
}

func TestCameraStartDefaultsToBack(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/camera/start", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "streaming", body["state"])
	assert.Equal(t, "cam-back", env.src.Current())

	code, body = env.do(t, http.MethodPost, "/api/camera/start", `{"device_id":"cam-back"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.NotEmpty(t, body["error"])

	code, body = env.do(t, http.MethodPost, "/api/camera/device", `{"device_id":"cam-front"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "cam-front", body["device"])

	code, body = env.do(t, http.MethodPost, "/api/camera/stop", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["state"])
	assert.Empty(t, env.src.Current())
}

func TestCameraPermissionDenied(t *testing.T) {
	env := newTestEnv(t)
	env.src.Permission = camera.PermissionFunc(func(context.Context) (camera.PermissionState, error) {
		return camera.PermissionDenied, nil
	})

	code, _ := env.do(t, http.MethodPost, "/api/camera/start", `{"device_id":"cam-back"}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, capture.Idle, env.loop.State())
}

func TestCheckoutStartsPayment(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, http.MethodPost, "/api/camera/start", `{"device_id":"cam-back"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := env.do(t, http.MethodPost, "/api/checkout", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["total"])
	assert.Empty(t, env.src.Current(), "checkout releases the camera")

	require.Eventually(t, func() bool {
		return env.flow.Snapshot().State == payment.AwaitingScan
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPaymentEndpoints(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/payment", `{}`)
	assert.Equal(t, http.StatusBadRequest, code, "missing amount fails the guard")

	code, body := env.do(t, http.MethodPost, "/api/payment", `{"amount":12.5}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "awaiting_scan", body["state"])
	assert.Equal(t, "https://pay.example/12.5", body["code_url"])

	code, _ = env.do(t, http.MethodPost, "/api/payment/retry", "")
	assert.Equal(t, http.StatusConflict, code)

	code, body = env.do(t, http.MethodPost, "/api/payment/scan", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "confirmed", body["state"])

	code, body = env.do(t, http.MethodGet, "/api/payment", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["active"])

	code, _ = env.do(t, http.MethodDelete, "/api/payment", "")
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = env.do(t, http.MethodPost, "/api/payment/scan", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestOptionalBackendsNotConfigured(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodGet, "/api/orders", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body := env.do(t, http.MethodGet, "/api/receipts/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["configured"])
}

type fakeReceipts struct {
	codes []string
}

func (f *fakeReceipts) Status(state string) receipt.Status {
	return receipt.Status{AuthURL: "https://accounts.example/auth?state=" + state}
}

func (f *fakeReceipts) AuthURL(state string) string {
	return "https://accounts.example/auth?state=" + state
}

func (f *fakeReceipts) HandleCallback(ctx context.Context, code string) error {
	if code == "bad" {
		return errors.New("exchange failed")
	}
	f.codes = append(f.codes, code)
	return nil
}

func (f *fakeReceipts) Disconnect() error { return nil }

func TestReceiptOAuthState(t *testing.T) {
	env := newTestEnv(t)
	fr := &fakeReceipts{}
	b := env.srv.components()
	b.Receipts = fr
	env.srv.Attach(b)

	code, _ := env.do(t, http.MethodGet, "/api/receipts/callback?state=forged&code=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)

	_, body := env.do(t, http.MethodGet, "/api/receipts/status", "")
	authURL, _ := body["auth_url"].(string)
	state := authURL[strings.Index(authURL, "state=")+len("state="):]

	code, _ = env.do(t, http.MethodGet, "/api/receipts/callback?state="+state+"&code=abc", "")
	assert.Equal(t, http.StatusSeeOther, code)
	assert.Equal(t, []string{"abc"}, fr.codes)

	code, _ = env.do(t, http.MethodGet, "/api/receipts/callback?state="+state+"&code=abc", "")
	assert.Equal(t, http.StatusBadRequest, code, "state is single use")
}

func stateOf(t *testing.T, authURL string) string {
	t.Helper()
	i := strings.Index(authURL, "state=")
	require.GreaterOrEqual(t, i, 0, authURL)
	return authURL[i+len("state="):]
}

func TestReceiptOAuthStateSurvivesStatusPolling(t *testing.T) {
	env := newTestEnv(t)
	fr := &fakeReceipts{}
	b := env.srv.components()
	b.Receipts = fr
	env.srv.Attach(b)

	_, body := env.do(t, http.MethodGet, "/api/receipts/status", "")
	first := stateOf(t, body["auth_url"].(string))
	_, body = env.do(t, http.MethodGet, "/api/receipts/status", "")
	second := stateOf(t, body["auth_url"].(string))
	assert.NotEqual(t, first, second)

	code, _ := env.do(t, http.MethodGet, "/api/receipts/callback?state="+first+"&code=abc", "")
	assert.Equal(t, http.StatusSeeOther, code)
	code, _ = env.do(t, http.MethodGet, "/api/receipts/callback?state="+second+"&code=def", "")
	assert.Equal(t, http.StatusSeeOther, code)
	assert.Equal(t, []string{"abc", "def"}, fr.codes)
}

func TestOAuthStateExpiryAndCap(t *testing.T) {
	env := newTestEnv(t)
	srv := env.srv

	stale := srv.newOAuthState()
	srv.mu.Lock()
	srv.oauthStates[stale] = time.Now().Add(-oauthStateTTL - time.Second)
	srv.mu.Unlock()
	assert.False(t, srv.checkOAuthState(stale), "expired state rejected")

	oldest := srv.newOAuthState()
	srv.mu.Lock()
	srv.oauthStates[oldest] = time.Now().Add(-time.Minute)
	srv.mu.Unlock()
	for i := 0; i < maxOAuthStates; i++ {
		srv.newOAuthState()
	}
	srv.mu.RLock()
	assert.Len(t, srv.oauthStates, maxOAuthStates)
	srv.mu.RUnlock()
	assert.False(t, srv.checkOAuthState(oldest), "oldest state evicted")
	assert.False(t, srv.checkOAuthState(""))
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, http.MethodGet, "/ws/session", "")
	assert.Equal(t, http.StatusUpgradeRequired, code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{camera.ErrPermissionDenied, http.StatusForbidden},
		{camera.ErrDeviceUnavailable, http.StatusConflict},
		{capture.ErrAlreadyStreaming, http.StatusConflict},
		{payment.ErrGuardFailure, http.StatusBadRequest},
		{&payment.APIError{StatusCode: 500}, http.StatusBadGateway},
		{capture.ErrClosed, http.StatusGone},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
