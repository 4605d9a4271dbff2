// Package backend is the inference service the shopping dashboard calls:
// object detection with prices, and payment code links.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/teslashibe/go-shopcam/pkg/catalog"
	"github.com/teslashibe/go-shopcam/pkg/detect"
)

// maxBody bounds a /predict request; a 1080p JPEG data URL is well under it.
const maxBody = 16 << 20

// Model detects items in an encoded image.
type Model interface {
	Predict(ctx context.Context, encoded []byte) ([]catalog.Detection, error)
}

// PayNow configures the payment code links.
type PayNow struct {
	Mobile  string
	RefID   string
	Company string
	// Expiry is stamped into each link. Zero means now plus ExpiryWindow.
	Expiry       time.Time
	ExpiryWindow time.Duration
}

// DefaultPayNow returns the demo payee.
func DefaultPayNow() PayNow {
	return PayNow{
		Mobile:       "97656051",
		RefID:        "paymenttest",
		ExpiryWindow: time.Hour,
	}
}

// Server serves /predict, /generate_qr and /healthz.
type Server struct {
	model  Model
	prices *catalog.Index
	paynow PayNow
	logger *slog.Logger
	now    func() time.Time
}

// New creates a backend server.
func New(model Model, prices *catalog.Index, paynow PayNow, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if prices == nil {
		prices = catalog.NewIndex(nil)
	}
	return &Server{
		model:  model,
		prices: prices,
		paynow: paynow,
		logger: logger.With("component", "backend"),
		now:    time.Now,
	}
}

// Router builds the HTTP routes. A nil limiter disables rate limiting.
func (s *Server) Router(limiter *RateLimiter) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/generate_qr", s.handleGenerateQR).Methods(http.MethodGet)
	r.Use(corsMiddleware)
	if limiter != nil {
		r.Use(limiter.Middleware)
	}
	return r
}

type predictRequest struct {
	Image string `json:"image"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type qrResponse struct {
	CodeURL string `json:"qr_code_url"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "items": s.prices.Len()})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusOK, map[string]string{"message": "CORS is working!"})
		return
	}

	var req predictRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil || req.Image == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No image data found"})
		return
	}
	encoded, err := detect.DecodeDataURL(req.Image)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid image data"})
		return
	}

	start := time.Now()
	dets, err := s.model.Predict(r.Context(), encoded)
	if err != nil {
		s.logger.Error("predict failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Detection failed"})
		return
	}

	for i := range dets {
		price, _ := s.prices.Price(dets[i].ClassLabel)
		dets[i].Price = price
	}
	s.logger.Debug("predict", "detections", len(dets), "elapsed", time.Since(start))

	writeJSON(w, http.StatusOK, detect.Result{
		Detections: nonNil(dets),
		Catalog:    s.prices.Entries(),
	})
}

// handleGenerateQR returns a PayNow link for the amount. A missing or
// malformed amount is treated as 0.
func (s *Server) handleGenerateQR(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil {
		amount = 0
	}
	writeJSON(w, http.StatusOK, qrResponse{CodeURL: s.PayNowURL(amount)})
}

// PayNowURL builds the payment link for amount.
func (s *Server) PayNowURL(amount float64) string {
	expiry := s.paynow.Expiry
	if expiry.IsZero() {
		expiry = s.now().Add(s.paynow.ExpiryWindow)
	}
	return fmt.Sprintf("https://www.sgqrcode.com/paynow?mobile=%s&uen=&editable=1&amount=%s&expiry=%s&ref_id=%s&company=%s",
		escape(s.paynow.Mobile),
		formatAmount(amount),
		escape(expiry.Format("2006/01/02 15:04")),
		escape(s.paynow.RefID),
		escape(s.paynow.Company),
	)
}

// formatAmount always carries a decimal point, so 3 is "3.0" and 12.5 is
// "12.5".
func formatAmount(a float64) string {
	s := strconv.FormatFloat(a, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func nonNil(d []catalog.Detection) []catalog.Detection {
	if d == nil {
		return []catalog.Detection{}
	}
	return d
}
