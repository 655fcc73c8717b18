package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/config"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/memkv"
)

func TestMetricsCountAndServe(t *testing.T) {
	m := NewMetrics()
	m.ObserveBatch(28, nil)
	m.ObserveBatch(5, nil)
	m.ObserveBatch(3, errors.New("timeout"))
	m.ObserveEvent("pixels")
	m.ObserveDropped("canvas-switch")
	m.SetLive(2, 40)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"pixelpainter_pixels_sent_total 33", "pixelpainter_batches_failed_total 1", `pixelpainter_connections_dropped_total{reason="canvas-switch"} 1`, "pixelpainter_queued_pixels 40"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("exposition lacks %q", want)
		}
	}
}

func TestWatchStoreExportsKVCounters(t *testing.T) {
	kv := memkv.New(memkv.Options{Shards: 2})
	defer kv.Close()
	kv.Set("id:a", []byte("abcd"), 0)
	kv.Get("id:a")
	kv.Get("id:missing")

	m := NewMetrics()
	if err := m.WatchStore("activity", kv.Metrics); err != nil {
		t.Fatalf("watch store: %v", err)
	}
	if err := m.WatchStore("activity", kv.Metrics); err == nil {
		t.Fatalf("second registration under one label must fail")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`pixelpainter_kv_keys{store="activity"} 1`,
		`pixelpainter_kv_bytes{store="activity"} 4`,
		`pixelpainter_kv_hits_total{store="activity"} 1`,
		`pixelpainter_kv_misses_total{store="activity"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("exposition lacks %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveBatch(1, nil)
	m.ObserveEvent("chat")
	m.SetLive(1, 1)
	if err := m.WatchStore("activity", nil); err != nil {
		t.Fatalf("nil metrics must ignore stores: %v", err)
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("want 404 from nil metrics, got %d", rec.Code)
	}
}

func TestSetupLoggerWritesFile(t *testing.T) {
	prev := zap.L()
	defer zap.ReplaceGlobals(prev)
	path := filepath.Join(t.TempDir(), "logs", "pp.log")
	l, err := SetupLogger(config.LogConfig{Level: "debug", Format: "json", Outputs: []string{path}})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	zap.L().Debug("hello", zap.String("k", "v"))
	_ = l.Sync()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"hello"`) || !strings.Contains(string(b), `"k":"v"`) {
		t.Fatalf("unexpected log content %q", b)
	}
}
