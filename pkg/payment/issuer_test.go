package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/teslashibe/go-shopcam/internal/httpc"
)

func TestHTTPIssuer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate_qr" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("amount"); got != "12.5" {
			t.Errorf("amount = %q, want 12.5", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"qr_code_url":"https://www.sgqrcode.com/paynow?amount=12.5"}`))
	}))
	defer server.Close()

	issuer := NewHTTPIssuer(server.URL+"/", nil)
	code, err := issuer.IssueCode(context.Background(), 12.50)
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	if code != "https://www.sgqrcode.com/paynow?amount=12.5" {
		t.Errorf("unexpected code %q", code)
	}
}

func TestHTTPIssuerErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"bad json", http.StatusOK, `not json`},
		{"empty url", http.StatusOK, `{"qr_code_url":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewHTTPIssuer(server.URL, nil).IssueCode(context.Background(), 1)
			if !errors.Is(err, ErrCodeIssuance) {
				t.Fatalf("expected ErrCodeIssuance, got %v", err)
			}
		})
	}
}

func TestHTTPIssuerAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Invalid amount"}`))
	}))
	defer server.Close()

	_, err := NewHTTPIssuer(server.URL, nil).IssueCode(context.Background(), 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "Invalid amount" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestHTTPIssuerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewHTTPIssuer(url, nil).IssueCode(context.Background(), 1)
	if !errors.Is(err, ErrCodeIssuance) {
		t.Fatalf("expected ErrCodeIssuance, got %v", err)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := map[float64]string{
		12.50:     "12.5",
		3:         "3",
		0.1 + 0.2: "0.3",
		9.999:     "10",
		1.05:      "1.05",
	}
	for in, want := range tests {
		if got := FormatAmount(in); got != want {
			t.Errorf("FormatAmount(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestNewHTTPIssuerDefaultClient(t *testing.T) {
	issuer := NewHTTPIssuer("http://backend", nil)
	if issuer.httpClient.Timeout != httpc.DefaultTimeout {
		t.Errorf("timeout = %v, want %v", issuer.httpClient.Timeout, httpc.DefaultTimeout)
	}
	if _, ok := issuer.httpClient.Transport.(*http.Transport); !ok {
		t.Errorf("expected the httpc transport, got %T", issuer.httpClient.Transport)
	}
}
