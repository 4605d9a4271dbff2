package shopcam

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-shopcam/internal/config"
	ilog "github.com/teslashibe/go-shopcam/internal/log"
	"github.com/teslashibe/go-shopcam/pkg/capture"
	"github.com/teslashibe/go-shopcam/pkg/catalog"
	"github.com/teslashibe/go-shopcam/pkg/detect"
	"github.com/teslashibe/go-shopcam/pkg/payment"
	"github.com/teslashibe/go-shopcam/pkg/recorder"
)

func replayConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	w, err := recorder.NewWriter(dir, "fixture")
	require.NoError(t, err)
	require.NoError(t, w.Record(1, "cam0", &detect.Result{
		Detections: []catalog.Detection{{ClassLabel: "apple", Confidence: 0.9}},
		Catalog:    []catalog.Entry{{Name: "apple", Price: 1.5}},
	}))
	require.NoError(t, w.Close())

	cfg := config.Default()
	cfg.Camera.Kind = "replay"
	cfg.Capture.ReplayFile = w.Path()
	cfg.Orders.DSN = "file:" + filepath.Join(dir, "orders.db")
	cfg.Web.StaticDir = dir
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.Kind = "usb"
	_, err := New(cfg, ilog.Discard())
	assert.Error(t, err)
}

func TestInitReplay(t *testing.T) {
	app, err := New(replayConfig(t), ilog.Discard())
	require.NoError(t, err)
	require.NoError(t, app.Init(context.Background()))
	defer app.Shutdown()

	require.NotNil(t, app.Loop())
	require.NotNil(t, app.Flow())
	assert.NotNil(t, app.store)
	assert.Nil(t, app.receipts)
	assert.Nil(t, app.client)

	devices, err := app.Loop().Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "replay", devices[0].ID)

	require.NoError(t, app.Loop().Start(context.Background(), "replay"))
	assert.Equal(t, capture.Streaming, app.Loop().State())
	assert.Equal(t, payment.AwaitingAmount, app.Flow().Snapshot().State)
}

func TestInitReplayNeedsFile(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.Kind = "replay"
	cfg.Orders.DSN = ""

	app, err := New(cfg, ilog.Discard())
	require.NoError(t, err)
	assert.ErrorContains(t, app.Init(context.Background()), "replay_file")
}

func TestInitRecorder(t *testing.T) {
	cfg := replayConfig(t)
	cfg.Capture.RecordDir = t.TempDir()

	app, err := New(cfg, ilog.Discard())
	require.NoError(t, err)
	require.NoError(t, app.Init(context.Background()))
	defer app.Shutdown()

	require.NotNil(t, app.rec)
	assert.Equal(t, cfg.Capture.RecordDir, filepath.Dir(app.rec.Path()))
}

func TestShutdownIsSafeAfterPartialInit(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.Kind = "replay"
	app, err := New(cfg, ilog.Discard())
	require.NoError(t, err)
	require.Error(t, app.Init(context.Background()))
	app.Shutdown()
}
