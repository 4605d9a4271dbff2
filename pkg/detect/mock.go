package detect

import (
	"context"
	"image"
	"sync"
	"time"
)

// Mock implements Detector for testing.
type Mock struct {
	// DetectFunc is called when Detect is invoked.
	DetectFunc func(ctx context.Context, frame image.Image) (*Result, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a Detect invocation.
type MockCall struct {
	Time  time.Time
	Frame image.Image
}

// NewMock returns a mock that answers with an empty result.
func NewMock() *Mock {
	return &Mock{
		DetectFunc: func(ctx context.Context, frame image.Image) (*Result, error) {
			return &Result{}, nil
		},
	}
}

// NewStaticMock returns a mock that always answers with res.
func NewStaticMock(res *Result) *Mock {
	return &Mock{
		DetectFunc: func(ctx context.Context, frame image.Image) (*Result, error) {
			return res, nil
		},
	}
}

// Detect calls DetectFunc and records the call.
func (m *Mock) Detect(ctx context.Context, frame image.Image) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Time: time.Now(), Frame: frame})
	fn := m.DetectFunc
	m.mu.Unlock()

	if fn == nil {
		return nil, ErrNetwork
	}
	return fn(ctx, frame)
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Detect calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ Detector = (*Mock)(nil)
