package orders

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-shopcam/pkg/catalog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "orders.db")
	s, err := Open(context.Background(), "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveGetList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2025, 3, 5, 21, 0, 0, 0, time.UTC)
	first := &Order{
		ID:        "o-1",
		SessionID: "s-1",
		Amount:    12.50,
		Items: []catalog.PriceRow{
			{Label: "milk", Price: 2.50, Matched: true},
			{Label: "Widget", Matched: false},
		},
		CodeRef:     "https://example.test/qr?amount=12.5",
		ConfirmedAt: base,
	}
	second := &Order{ID: "o-2", SessionID: "s-2", Amount: 0.99, ConfirmedAt: base.Add(time.Minute)}

	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, first.Items, got.Items)
	assert.Equal(t, 12.50, got.Amount)
	assert.True(t, base.Equal(got.ConfirmedAt))

	list, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "o-2", list[0].ID, "newest first")

	list, err = s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	o := &Order{ID: "dup", SessionID: "s", ConfirmedAt: time.Now()}
	require.NoError(t, s.Save(ctx, o))
	assert.Error(t, s.Save(ctx, o))
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetReceiptURL(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Save(ctx, &Order{ID: "o", SessionID: "s", ConfirmedAt: time.Now()}))

	require.NoError(t, s.SetReceiptURL(ctx, "o", "https://docs.google.com/document/d/abc/edit"))
	got, err := s.Get(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, "https://docs.google.com/document/d/abc/edit", got.ReceiptURL)

	assert.ErrorIs(t, s.SetReceiptURL(ctx, "missing", "x"), ErrNotFound)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: "postgres"}
	assert.Equal(t, "UPDATE t SET a = $1 WHERE b = $2", pg.rebind("UPDATE t SET a = ? WHERE b = ?"))

	lite := &Store{driver: "sqlite"}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.Error(t, err)
}
