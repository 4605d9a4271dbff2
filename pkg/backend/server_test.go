package backend

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-shopcam/internal/log"
	"github.com/teslashibe/go-shopcam/pkg/catalog"
	"github.com/teslashibe/go-shopcam/pkg/detect"
)

type modelFunc func(ctx context.Context, encoded []byte) ([]catalog.Detection, error)

func (f modelFunc) Predict(ctx context.Context, encoded []byte) ([]catalog.Detection, error) {
	return f(ctx, encoded)
}

var testPrices = catalog.NewIndex([]catalog.Entry{
	{Name: "Milk", Price: 2.5},
	{Name: "Apple", Price: 0.99},
})

func newTestServer(t *testing.T, model Model, limiter *RateLimiter) *httptest.Server {
	t.Helper()
	pn := DefaultPayNow()
	pn.Expiry = time.Date(2025, 3, 5, 22, 0, 0, 0, time.UTC)
	s := New(model, testPrices, pn, log.Discard())
	ts := httptest.NewServer(s.Router(limiter))
	t.Cleanup(ts.Close)
	return ts
}

func dataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.White)
	u, err := detect.EncodeDataURL(img, 80)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestPredict(t *testing.T) {
	var gotBytes int
	model := modelFunc(func(ctx context.Context, encoded []byte) ([]catalog.Detection, error) {
		gotBytes = len(encoded)
		return []catalog.Detection{
			{ClassLabel: "milk", CenterX: 10, CenterY: 10, Width: 4, Height: 4, Confidence: 0.9},
			{ClassLabel: "yogurt", CenterX: 20, CenterY: 20, Width: 4, Height: 4, Confidence: 0.8},
		}, nil
	})
	ts := newTestServer(t, model, nil)

	body := `{"image":"` + dataURL(t) + `"}`
	resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS origin = %q", got)
	}

	var res detect.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if gotBytes == 0 {
		t.Error("model received no image bytes")
	}
	if len(res.Detections) != 2 || res.Detections[0].Price != 2.5 || res.Detections[1].Price != 0 {
		t.Errorf("unexpected detections %+v", res.Detections)
	}
	if len(res.Catalog) != 2 || res.Catalog[0].Name != "Milk" {
		t.Errorf("unexpected catalog %+v", res.Catalog)
	}
}

func TestPredictMissingImage(t *testing.T) {
	ts := newTestServer(t, modelFunc(func(context.Context, []byte) ([]catalog.Detection, error) {
		t.Error("model must not be called")
		return nil, nil
	}), nil)

	for _, body := range []string{`{}`, `{"image":""}`, `not json`} {
		resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		var e errorResponse
		json.NewDecoder(resp.Body).Decode(&e)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest || e.Error != "No image data found" {
			t.Errorf("body %q: status=%d error=%q", body, resp.StatusCode, e.Error)
		}
	}
}

func TestPredictModelError(t *testing.T) {
	ts := newTestServer(t, modelFunc(func(context.Context, []byte) ([]catalog.Detection, error) {
		return nil, errors.New("boom")
	}), nil)

	resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(`{"image":"`+dataURL(t)+`"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestPredictPreflight(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/predict", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
		t.Errorf("allow methods = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "Content-Type" {
		t.Errorf("allow headers = %q", got)
	}
}

func TestGenerateQR(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	tests := map[string]string{
		"12.5": "amount=12.5&",
		"3":    "amount=3.0&",
		"":     "amount=0.0&",
		"abc":  "amount=0.0&",
	}
	for in, want := range tests {
		resp, err := http.Get(ts.URL + "/generate_qr?amount=" + in)
		if err != nil {
			t.Fatal(err)
		}
		var out qrResponse
		json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()

		if !strings.Contains(out.CodeURL, want) {
			t.Errorf("amount %q: url %q missing %q", in, out.CodeURL, want)
		}
	}
}

func TestPayNowURL(t *testing.T) {
	pn := DefaultPayNow()
	pn.Expiry = time.Date(2025, 3, 5, 22, 0, 0, 0, time.UTC)
	s := New(nil, nil, pn, log.Discard())

	want := "https://www.sgqrcode.com/paynow?mobile=97656051&uen=&editable=1&amount=12.5&expiry=2025%2F03%2F05%2022%3A00&ref_id=paymenttest&company="
	if got := s.PayNowURL(12.5); got != want {
		t.Errorf("PayNowURL\n got: %s\nwant: %s", got, want)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, nil, NewRateLimiter(1, 2))

	var codes []int
	for i := 0; i < 4; i++ {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("burst rejected: %v", codes)
	}
	if codes[3] != http.StatusTooManyRequests {
		t.Errorf("limit not enforced: %v", codes)
	}
}

func TestRateLimiterEvict(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.visitor("10.0.0.1")
	now = now.Add(5 * time.Minute)
	rl.visitor("10.0.0.2")
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["10.0.0.1"]; ok {
		t.Error("idle visitor not evicted")
	}
	if _, ok := rl.visitors["10.0.0.2"]; !ok {
		t.Error("active visitor evicted")
	}
}
