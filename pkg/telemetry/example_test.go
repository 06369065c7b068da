package telemetry_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mbedconf/mbedconf/pkg/engine"
	"github.com/mbedconf/mbedconf/pkg/telemetry"
)

// Example_basicSetup demonstrates telemetry setup in a command.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	telemetry.FromContext(ctx).Debug("Resolution started")

	fmt.Println(tel.Config.ServiceName)
	// Output: mbedconf
}

// Example_instrumentedOperation demonstrates wrapping an operation.
func Example_instrumentedOperation() {
	tel, _ := telemetry.NewTelemetry(telemetry.DefaultConfig())
	ctx := tel.WithContext(context.Background())

	op := telemetry.StartOperation(ctx, "regions.partition", telemetry.AttrTargetName.String("K64F"))
	err := engine.NewHardError(engine.KindRegionOverflow, "not enough memory on device")
	op.End(err)

	fmt.Println(op.Timer.Duration() >= 0)
	// Output: true
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*telemetry.Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*telemetry.Config) {}},
		{name: "bad level", mutate: func(c *telemetry.Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *telemetry.Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *telemetry.Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, wantErr: true},
		{name: "sampling rate", mutate: func(c *telemetry.Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "metrics without address", mutate: func(c *telemetry.Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddress = ""
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := telemetry.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := telemetry.NewLoggerWithWriter(telemetry.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.NewComponentLogger("resolver").WithTarget("K64F").Debug("Layer processed")

	out := buf.String()
	for _, want := range []string{`"component":"resolver"`, `"target":"K64F"`, `"message":"Layer processed"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestMetrics_RecordResolution(t *testing.T) {
	cfg := telemetry.DefaultConfig().Metrics
	cfg.Enabled = true
	m, err := telemetry.NewMetrics(cfg)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	m.RecordResolution("K64F", 2, 10*time.Millisecond, nil)
	m.RecordResolution("K64F", 1, time.Millisecond,
		engine.NewHardError(engine.KindUnsupportedFeature, "feature 'FOO' is not a supported feature"))

	n, err := testutil.GatherAndCount(m.Registry(), "mbedconf_resolutions_total")
	if err != nil {
		t.Fatalf("Failed to gather: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 resolution series, got %d", n)
	}
	n, err = testutil.GatherAndCount(m.Registry(), "mbedconf_errors_total")
	if err != nil {
		t.Fatalf("Failed to gather: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 error series, got %d", n)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *telemetry.Metrics
	m.RecordResolution("K64F", 1, time.Second, nil)
	m.RecordReload()
	m.RecordPolicyViolations("p", "error", 3)
	if m.Registry() != nil {
		t.Error("expected nil registry")
	}
}
