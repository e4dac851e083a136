package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-og/config"
	"github.com/saiset-co/sai-og/logger"
	"github.com/saiset-co/sai-og/scheduler"
	"github.com/saiset-co/sai-og/types"
)

func testConfig(t *testing.T) *types.EngineConfig {
	t.Helper()

	dir := t.TempDir()
	tmplDir := filepath.Join(dir, "templates")
	if err := os.MkdirAll(tmplDir, 0o755); err != nil {
		t.Fatal(err)
	}
	card := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 600 315">
	<rect width="600" height="315" fill="#202040"/>
	<text x="30" y="80" font-size="32" fill="#ffffff">{{ title | default: "Untitled" }}</text>
</svg>`
	if err := os.WriteFile(filepath.Join(tmplDir, "card.svg"), []byte(card), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.NewLoader().Defaults()
	cfg.Templates.Dir = tmplDir
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Cache.Persistent = &types.PersistentCacheConfig{
		Type:          "disk",
		TTL:           time.Hour,
		SweepSchedule: "0 0 * * * *",
		Config:        map[string]interface{}{"dir": filepath.Join(dir, "cache")},
	}
	return cfg
}

func TestServiceEndToEnd(t *testing.T) {
	svc, err := New(context.Background(), testConfig(t), logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	url := "http://" + svc.Server().Addr() + "/og/card?w=600&h=315&title=Hello"

	status, body, err := fasthttp.GetTimeout(nil, url, 10*time.Second)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if status != fasthttp.StatusOK {
		t.Fatalf("status = %d, body %s", status, body)
	}
	if !bytes.HasPrefix(body, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("response is not a PNG")
	}

	if _, _, err := fasthttp.GetTimeout(nil, url, 10*time.Second); err != nil {
		t.Fatalf("second GET: %v", err)
	}
	if stats := svc.Generator().Stats(); stats.Hits != 1 {
		t.Errorf("stats = %+v, want one hit", stats)
	}

	if err := svc.Scheduler().Run(scheduler.PersistentSweepJob); err != nil {
		t.Errorf("sweep: %v", err)
	}
}

func TestServiceRejectsUnknownTier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Persistent.Type = "memcached"

	if _, err := New(context.Background(), cfg, logger.NewNop()); !errors.Is(err, types.ErrCacheTypeUnknown) {
		t.Fatalf("err = %v, want ErrCacheTypeUnknown", err)
	}
}

func TestServiceLifecycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Enabled = false

	svc, err := New(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := svc.Stop(); !errors.Is(err, types.ErrServiceIsNotRunning) {
		t.Errorf("Stop before Start = %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Start(); !errors.Is(err, types.ErrServiceIsRunning) {
		t.Errorf("second Start = %v", err)
	}

	img, err := svc.Generator().Generate(context.Background(), &types.RenderParams{Template: "card", Width: 300, Height: 150})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if img.Width != 300 || img.Height != 150 {
		t.Errorf("size = %dx%d", img.Width, img.Height)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if svc.Generator().IsRunning() {
		t.Error("generator still running after Stop")
	}
}

func TestServiceCollectsMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Enabled = false
	cfg.Templates.Watch = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.Namespace = "svc_test"

	svc, err := New(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = svc.Stop() }()

	if _, err := svc.Generator().Generate(context.Background(), &types.RenderParams{Template: "card", Width: 120, Height: 63}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if err := svc.Scheduler().Run(scheduler.MetricsCollectJob); err != nil {
		t.Fatalf("collect: %v", err)
	}

	var names []string
	for _, job := range svc.Scheduler().Jobs() {
		names = append(names, job.Name)
	}
	if len(names) != 2 {
		t.Errorf("jobs = %v, want sweep and collect", names)
	}
}
