package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-shopcam/internal/clock"
	"github.com/teslashibe/go-shopcam/pkg/catalog"
	"github.com/teslashibe/go-shopcam/pkg/orders"
)

// DefaultConfirmDelay is how long the confirmation screen waits before
// completing.
const DefaultConfirmDelay = 3000 * time.Millisecond

// Config configures a Flow.
type Config struct {
	ConfirmDelay time.Duration
	Clock        clock.Clock
	Store        OrderStore
	Exporter     Exporter
	OnChange     func(Snapshot)
	Logger       *slog.Logger
}

// DefaultConfig returns the default flow configuration.
func DefaultConfig() Config {
	return Config{
		ConfirmDelay: DefaultConfirmDelay,
		Clock:        clock.New(),
		Logger:       slog.Default(),
	}
}

// Option configures a Flow.
type Option func(*Config)

// WithConfirmDelay sets the delay between Scan and completion.
func WithConfirmDelay(d time.Duration) Option {
	return func(c *Config) { c.ConfirmDelay = d }
}

// WithClock sets the clock used for the completion timer.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) { c.Clock = clk }
}

// WithStore persists confirmed orders.
func WithStore(s OrderStore) Option {
	return func(c *Config) { c.Store = s }
}

// WithExporter exports a receipt for each confirmed order.
func WithExporter(e Exporter) Option {
	return func(c *Config) { c.Exporter = e }
}

// WithOnChange registers a callback for state changes. It is called with
// the flow lock held and must not call back into the Flow.
func WithOnChange(fn func(Snapshot)) Option {
	return func(c *Config) { c.OnChange = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

type session struct {
	id         string
	state      State
	amount     float64
	items      []catalog.PriceRow
	code       string
	err        error
	requesting bool
	orderID    string
	completed  bool
	updatedAt  time.Time
}

// Flow is a single-shopper payment state machine. A new Enter replaces any
// previous session.
type Flow struct {
	cfg    Config
	issuer CodeIssuer
	nav    Navigator
	logger *slog.Logger

	mu   sync.Mutex
	sess *session

	wg sync.WaitGroup
}

// New creates a payment flow.
func New(issuer CodeIssuer, nav Navigator, opts ...Option) *Flow {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ConfirmDelay <= 0 {
		cfg.ConfirmDelay = DefaultConfirmDelay
	}
	return &Flow{
		cfg:    cfg,
		issuer: issuer,
		nav:    nav,
		logger: cfg.Logger.With("component", "payment"),
	}
}

// ValidAmount reports whether amount can be charged.
func ValidAmount(amount *float64) bool {
	if amount == nil {
		return false
	}
	a := *amount
	return !math.IsNaN(a) && !math.IsInf(a, 0) && a >= 0
}

// Enter starts a payment for amount. Without a valid amount the navigator
// is sent to the entry screen and ErrGuardFailure is returned. Otherwise a
// code is requested; on failure the flow stays in CodeRequested until
// RetryCode.
func (f *Flow) Enter(ctx context.Context, amount *float64, items ...catalog.PriceRow) error {
	if !ValidAmount(amount) {
		f.logger.Warn("payment entered without valid amount")
		f.nav.Entry()
		return ErrGuardFailure
	}

	f.mu.Lock()
	s := &session{
		id:        uuid.NewString(),
		state:     AwaitingAmount,
		amount:    *amount,
		items:     append([]catalog.PriceRow(nil), items...),
		updatedAt: f.cfg.Clock.Now(),
	}
	f.sess = s
	f.logger.Info("payment started", "session", s.id, "amount", s.amount)
	f.transitionLocked(s, CodeRequested)
	s.requesting = true
	f.mu.Unlock()

	return f.requestCode(ctx, s)
}

// RetryCode requests a new code after a failed issuance.
func (f *Flow) RetryCode(ctx context.Context) error {
	f.mu.Lock()
	s := f.sess
	if s == nil {
		f.mu.Unlock()
		return ErrNoSession
	}
	if s.state != CodeRequested || s.requesting {
		f.mu.Unlock()
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, s.state)
	}
	s.requesting = true
	s.err = nil
	f.notifyLocked()
	f.mu.Unlock()

	return f.requestCode(ctx, s)
}

func (f *Flow) requestCode(ctx context.Context, s *session) error {
	code, err := f.issuer.IssueCode(ctx, s.amount)

	f.mu.Lock()
	defer f.mu.Unlock()
	s.requesting = false
	if f.sess != s {
		f.logger.Debug("discarding code for abandoned session", "session", s.id)
		return ErrNoSession
	}
	if err != nil {
		if !errors.Is(err, ErrCodeIssuance) {
			err = fmt.Errorf("%w: %v", ErrCodeIssuance, err)
		}
		s.err = err
		s.updatedAt = f.cfg.Clock.Now()
		f.logger.Error("payment code request failed", "session", s.id, "error", err)
		f.notifyLocked()
		return err
	}
	s.code = code
	f.transitionLocked(s, AwaitingScan)
	return nil
}

// Scan records that the shopper scanned the code. Completion follows after
// the confirm delay and cannot be cancelled. Scanning a confirmed payment
// again does nothing.
func (f *Flow) Scan() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.sess
	if s == nil {
		return ErrNoSession
	}
	switch s.state {
	case Confirmed:
		return nil
	case AwaitingScan:
	default:
		return fmt.Errorf("%w: scan from %s", ErrInvalidTransition, s.state)
	}

	s.orderID = uuid.NewString()
	f.transitionLocked(s, Confirmed)
	order := &orders.Order{
		ID:          s.orderID,
		SessionID:   s.id,
		Amount:      s.amount,
		Items:       s.items,
		CodeRef:     s.code,
		ConfirmedAt: s.updatedAt,
	}
	f.persist(order)

	f.cfg.Clock.AfterFunc(f.cfg.ConfirmDelay, func() { f.complete(s) })
	return nil
}

func (f *Flow) complete(s *session) {
	f.mu.Lock()
	if s.completed {
		f.mu.Unlock()
		return
	}
	s.completed = true
	orderID := s.orderID
	f.mu.Unlock()

	f.logger.Info("payment complete", "session", s.id, "order", orderID)
	f.nav.Confirmation(orderID)
}

// persist saves and exports the order in the background. Failures are
// logged only.
func (f *Flow) persist(o *orders.Order) {
	if f.cfg.Store == nil && f.cfg.Exporter == nil {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if f.cfg.Store != nil {
			if err := f.cfg.Store.Save(ctx, o); err != nil {
				f.logger.Error("failed to save order", "order", o.ID, "error", err)
				return
			}
		}
		if f.cfg.Exporter == nil {
			return
		}
		url, err := f.cfg.Exporter.Export(ctx, o)
		if err != nil {
			f.logger.Warn("receipt export failed", "order", o.ID, "error", err)
			if url == "" {
				return
			}
		}
		if f.cfg.Store != nil {
			if err := f.cfg.Store.SetReceiptURL(ctx, o.ID, url); err != nil {
				f.logger.Error("failed to record receipt url", "order", o.ID, "error", err)
			}
		}
	}()
}

// Leave abandons the current session. A confirmed payment still completes.
func (f *Flow) Leave() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sess == nil {
		return
	}
	f.logger.Debug("payment session left", "session", f.sess.id, "state", f.sess.state)
	f.sess = nil
	f.notifyLocked()
}

// Snapshot returns the current payment state.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// Wait blocks until background order persistence has finished.
func (f *Flow) Wait() {
	f.wg.Wait()
}

func (f *Flow) transitionLocked(s *session, to State) {
	f.logger.Debug("payment transition", "session", s.id, "from", s.state, "to", to)
	s.state = to
	s.updatedAt = f.cfg.Clock.Now()
	f.notifyLocked()
}

func (f *Flow) notifyLocked() {
	if f.cfg.OnChange != nil {
		f.cfg.OnChange(f.snapshotLocked())
	}
}

func (f *Flow) snapshotLocked() Snapshot {
	s := f.sess
	if s == nil {
		return Snapshot{State: AwaitingAmount}
	}
	snap := Snapshot{
		Active:    true,
		SessionID: s.id,
		State:     s.state,
		Amount:    s.amount,
		Items:     append([]catalog.PriceRow(nil), s.items...),
		CodeURL:   s.code,
		OrderID:   s.orderID,
		UpdatedAt: s.updatedAt,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}
