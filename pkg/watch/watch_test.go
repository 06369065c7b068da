package watch

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mbedconf/mbedconf/pkg/telemetry"
)

func TestIsInput(t *testing.T) {
	tests := map[string]bool{
		"mbed_app.json":       true,
		"targets.yaml":        true,
		"boot/bootloader.HEX": true,
		"image.bin":           true,
		"main.cpp":            false,
		"README":              false,
	}
	for path, want := range tests {
		if got := IsInput(path); got != want {
			t.Errorf("IsInput(%q) = %v, want %v", path, got, want)
		}
	}
}

// runWatcher starts w in the background and returns the channel receiving
// every reload.
func runWatcher(t *testing.T, w *Watcher) <-chan []string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	reloads := make(chan []string, 8)
	go func() {
		done <- w.Run(ctx, func(ctx context.Context, changed []string) error {
			select {
			case reloads <- changed:
			case <-ctx.Done():
			}
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("watcher returned error: %v", err)
		}
	})
	// Give the watcher time to register its directories
	time.Sleep(100 * time.Millisecond)
	return reloads
}

func TestWatcher_Run(t *testing.T) {
	root := t.TempDir()
	lib := filepath.Join(root, "events")
	if err := os.MkdirAll(lib, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := telemetry.DefaultConfig().Metrics
	cfg.Enabled = true
	metrics, err := telemetry.NewMetrics(cfg)
	if err != nil {
		t.Fatal(err)
	}

	reloads := runWatcher(t, New([]string{root}, WithDebounce(50*time.Millisecond), WithMetrics(metrics)))

	libDoc := filepath.Join(lib, "mbed_lib.json")
	if err := os.WriteFile(filepath.Join(lib, "events.cpp"), []byte("int x;"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(libDoc, []byte(`{"name": "events"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case changed := <-reloads:
		if !reflect.DeepEqual(changed, []string{libDoc}) {
			t.Errorf("expected only %s, got %v", libDoc, changed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if got := reloadCount(t, metrics); got < 1 {
		t.Errorf("expected reloads to be counted, got %v", got)
	}
}

func reloadCount(t *testing.T, m *telemetry.Metrics) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() == "mbedconf_watch_reloads_total" {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatal("reload counter not registered")
	return 0
}

func TestWatcher_NewDirectory(t *testing.T) {
	root := t.TempDir()
	reloads := runWatcher(t, New([]string{root}, WithDebounce(50*time.Millisecond)))

	dir := filepath.Join(root, "FEATURE_BLE")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Let the watcher pick up the new directory
	time.Sleep(200 * time.Millisecond)
	doc := filepath.Join(dir, "mbed_lib.json")
	if err := os.WriteFile(doc, []byte(`{"name": "ble"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case changed := <-reloads:
			for _, p := range changed {
				if p == doc {
					return
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for a reload from the new directory")
		}
	}
}

func TestWatcher_MissingPath(t *testing.T) {
	w := New([]string{filepath.Join(t.TempDir(), "missing")})
	if err := w.Run(context.Background(), func(context.Context, []string) error { return nil }); err == nil {
		t.Error("expected error for a missing path")
	}
}
