package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/teslashibe/go-shopcam/internal/httpc"
)

// HTTPIssuer requests payment codes from the backend's generate_qr endpoint.
type HTTPIssuer struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPIssuer creates an issuer for baseURL. A nil client gets the shared
// httpc defaults.
func NewHTTPIssuer(baseURL string, client *http.Client) *HTTPIssuer {
	if client == nil {
		client = httpc.NewClient(httpc.DefaultTimeout)
	}
	return &HTTPIssuer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

type codeResponse struct {
	CodeURL string `json:"qr_code_url"`
	Error   string `json:"error,omitempty"`
}

// IssueCode calls GET /generate_qr?amount=<n>.
func (c *HTTPIssuer) IssueCode(ctx context.Context, amount float64) (string, error) {
	q := url.Values{"amount": {FormatAmount(amount)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/generate_qr?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrCodeIssuance, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCodeIssuance, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrCodeIssuance, err)
	}

	var out codeResponse
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &out) == nil && out.Error != "" {
			msg = out.Error
		}
		return "", &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrCodeIssuance, err)
	}
	if out.CodeURL == "" {
		return "", fmt.Errorf("%w: empty qr_code_url", ErrCodeIssuance)
	}
	return out.CodeURL, nil
}

// FormatAmount renders an amount rounded to cents in its shortest form, so
// 12.50 becomes "12.5" and 3.00 becomes "3".
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(math.Round(amount*100)/100, 'f', -1, 64)
}
