// Package receipt exports confirmed orders to Google Docs.
package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/option"

	"github.com/teslashibe/go-shopcam/pkg/catalog"
	"github.com/teslashibe/go-shopcam/pkg/orders"
)

// ErrNotConnected is returned when no Google account has been linked.
var ErrNotConnected = errors.New("receipt: not connected to Google")

// Config configures the Google Docs exporter.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string // e.g. "http://localhost:8080/api/receipts/callback"
	TokenPath    string // default ~/.shopcam/google_token.json
	Logger       *slog.Logger
}

// GoogleDocs writes one document per order.
type GoogleDocs struct {
	config    *oauth2.Config
	tokenPath string
	logger    *slog.Logger

	mu      sync.RWMutex
	token   *oauth2.Token
	service *docs.Service
}

// NewGoogleDocs creates an exporter and loads a saved token if present.
func NewGoogleDocs(cfg Config) (*GoogleDocs, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("receipt: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost:8080/api/receipts/callback"
	}
	if cfg.TokenPath == "" {
		home, _ := os.UserHomeDir()
		cfg.TokenPath = filepath.Join(home, ".shopcam", "google_token.json")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &GoogleDocs{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{docs.DocumentsScope, "https://www.googleapis.com/auth/drive.file"},
			Endpoint:     google.Endpoint,
		},
		tokenPath: cfg.TokenPath,
		logger:    logger.With("component", "receipt"),
	}

	if err := g.loadToken(); err == nil {
		if err := g.initService(context.Background(), option.WithHTTPClient(g.config.Client(context.Background(), g.token))); err != nil {
			g.logger.Warn("saved Google token unusable", "error", err)
			g.token = nil
		}
	}
	return g, nil
}

// NewWithService builds an exporter around an existing Docs service.
func NewWithService(svc *docs.Service, logger *slog.Logger) *GoogleDocs {
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleDocs{
		config:  &oauth2.Config{Endpoint: google.Endpoint},
		logger:  logger.With("component", "receipt"),
		token:   &oauth2.Token{AccessToken: "external", Expiry: time.Now().Add(24 * time.Hour)},
		service: svc,
	}
}

// Connected reports whether orders can be exported.
func (g *GoogleDocs) Connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.service != nil && g.token != nil && g.token.Valid()
}

// AuthURL returns the consent URL.
func (g *GoogleDocs) AuthURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges the authorization code and saves the token.
func (g *GoogleDocs) HandleCallback(ctx context.Context, code string) error {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("receipt: exchange code: %w", err)
	}

	g.mu.Lock()
	g.token = token
	g.mu.Unlock()

	if err := g.saveToken(); err != nil {
		g.logger.Warn("failed to save Google token", "error", err)
	}
	return g.initService(ctx, option.WithHTTPClient(g.config.Client(context.Background(), token)))
}

// Disconnect forgets the token and removes it from disk.
func (g *GoogleDocs) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = nil
	g.service = nil
	if g.tokenPath == "" {
		return nil
	}
	if err := os.Remove(g.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("receipt: remove token: %w", err)
	}
	return nil
}

// Export creates a document for the order and returns its URL.
func (g *GoogleDocs) Export(ctx context.Context, o *orders.Order) (string, error) {
	g.mu.RLock()
	svc := g.service
	g.mu.RUnlock()
	if svc == nil {
		return "", ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	created, err := svc.Documents.Create(&docs.Document{Title: Title(o)}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("receipt: create document: %w", err)
	}

	_, err = svc.Documents.BatchUpdate(created.DocumentId, &docs.BatchUpdateDocumentRequest{
		Requests: []*docs.Request{{
			InsertText: &docs.InsertTextRequest{
				Location: &docs.Location{Index: 1},
				Text:     Format(o),
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return DocURL(created.DocumentId), fmt.Errorf("receipt: created document but failed to add content: %w", err)
	}

	g.logger.Info("receipt exported", "order", o.ID, "doc", created.DocumentId)
	return DocURL(created.DocumentId), nil
}

// Status is the connection state shown on the dashboard.
type Status struct {
	Connected bool   `json:"connected"`
	AuthURL   string `json:"auth_url,omitempty"`
}

// Status returns the connection state.
func (g *GoogleDocs) Status(state string) Status {
	s := Status{Connected: g.Connected()}
	if !s.Connected {
		s.AuthURL = g.AuthURL(state)
	}
	return s
}

// DocURL returns the edit URL of a document.
func DocURL(docID string) string {
	return fmt.Sprintf("https://docs.google.com/document/d/%s/edit", docID)
}

// Title is the document title for an order.
func Title(o *orders.Order) string {
	return fmt.Sprintf("Receipt %s", o.ConfirmedAt.Format("2006-01-02 15:04"))
}

// Format renders the receipt body.
func Format(o *orders.Order) string {
	var b strings.Builder
	b.WriteString(Title(o) + "\n\n")
	for _, row := range o.Items {
		fmt.Fprintf(&b, "%s\t%s\n", row.Label, row.Display())
	}
	if len(o.Items) > 0 {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Total: %s\n", catalog.FormatPrice(o.Amount))
	fmt.Fprintf(&b, "Order: %s\n", o.ID)
	if o.CodeRef != "" {
		fmt.Fprintf(&b, "Payment code: %s\n", o.CodeRef)
	}
	return b.String()
}

func (g *GoogleDocs) initService(ctx context.Context, opts ...option.ClientOption) error {
	svc, err := docs.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("receipt: create docs service: %w", err)
	}
	g.mu.Lock()
	g.service = svc
	g.mu.Unlock()
	return nil
}

func (g *GoogleDocs) loadToken() error {
	data, err := os.ReadFile(g.tokenPath)
	if err != nil {
		return err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}
	g.mu.Lock()
	g.token = &token
	g.mu.Unlock()
	return nil
}

func (g *GoogleDocs) saveToken() error {
	g.mu.RLock()
	token := g.token
	g.mu.RUnlock()
	if token == nil {
		return fmt.Errorf("no token to save")
	}
	if err := os.MkdirAll(filepath.Dir(g.tokenPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(g.tokenPath, data, 0o600)
}
