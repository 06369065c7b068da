package resolver

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mbedconf/mbedconf/pkg/engine"
	"github.com/mbedconf/mbedconf/pkg/targets"
)

const targetsDoc = `
Target:
  core: null
  features: []
  extra_labels: []
  device_has: []
  macros: []
  bootloader_supported: false
  config:
    baud:
      help: Console baud rate
      value: 9600
    stdio-flush:
      value: false
Base:
  inherits: [Target]
  config:
    clock:
      value: 48
Other:
  inherits: [Target]
K64F:
  inherits: [Base]
  device_name: MK64FN1M0xxx12
  bootloader_supported: true
  extra_labels: [Freescale]
  overrides:
    clock: 120
`

func decode(t *testing.T, text string) engine.OrderedMap {
	t.Helper()
	var m engine.OrderedMap
	if err := yaml.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("Failed to decode document: %v", err)
	}
	return m
}

func loadTarget(t *testing.T, doc, name string) *targets.Target {
	t.Helper()
	catalog, err := targets.NewCatalog(decode(t, doc), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	target, err := catalog.Target(name)
	if err != nil {
		t.Fatalf("Failed to resolve target %s: %v", name, err)
	}
	return target
}

func library(t *testing.T, text string) *engine.LibraryDoc {
	t.Helper()
	doc, err := engine.DocumentFromMap(engine.UnitLibrary, "", decode(t, text))
	if err != nil {
		t.Fatalf("Failed to build library: %v", err)
	}
	return doc
}

func application(t *testing.T, text string) *engine.LibraryDoc {
	t.Helper()
	doc, err := engine.DocumentFromMap(engine.UnitApplication, "mbed_app.json", decode(t, text))
	if err != nil {
		t.Fatalf("Failed to build application: %v", err)
	}
	return doc
}

func newConfig(t *testing.T, target string, app *engine.LibraryDoc, libs ...*engine.LibraryDoc) *Config {
	t.Helper()
	c, err := New(loadTarget(t, targetsDoc, target), app)
	if err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}
	if err := c.AddLibraries(libs...); err != nil {
		t.Fatalf("Failed to add libraries: %v", err)
	}
	return c
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

func TestResolve_LibraryOverridesTargetParameter(t *testing.T) {
	lib := library(t, `
name: L
target_overrides:
  "*":
    target.baud: 115200
`)
	c := newConfig(t, "Target", nil, lib)

	if _, err := c.ResolveFeatures(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	macros, err := c.Macros()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(macros, "MBED_CONF_TARGET_BAUD=115200") {
		t.Errorf("expected overridden baud in %v", macros)
	}
	if contains(macros, "MBED_CONF_TARGET_BAUD=9600") {
		t.Errorf("unexpected ancestor value in %v", macros)
	}
	p, _ := c.Parameter("target.baud")
	if p.SetBy.String() != "library:L[*]" || p.DefinedBy.String() != "target:Target" {
		t.Errorf("unexpected provenance: defined by %s, set by %s", p.DefinedBy, p.SetBy)
	}
}

func TestResolve_Precedence(t *testing.T) {
	lib := library(t, `
name: events
config:
  queue-size: 32
target_overrides:
  "*":
    target.clock: 96
    queue-size: 64
`)
	app := application(t, `
target_overrides:
  "*":
    events.queue-size: 128
`)
	c := newConfig(t, "K64F", app, lib)
	if err := c.Resolve(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		param string
		want  interface{}
		setBy string
	}{
		{param: "target.clock", want: 96, setBy: "library:events[*]"},
		{param: "events.queue-size", want: 128, setBy: "application[*]"},
		{param: "target.baud", want: 9600, setBy: "target:Target"},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			p, ok := c.Parameter(tt.param)
			if !ok {
				t.Fatalf("parameter %s not found", tt.param)
			}
			if p.Value != tt.want || p.SetBy.String() != tt.setBy {
				t.Errorf("expected %v set by %s, got %v set by %s", tt.want, tt.setBy, p.Value, p.SetBy)
			}
		})
	}
}

func TestResolve_TargetOverrideNeedsInheritancePath(t *testing.T) {
	doc := targetsDoc + `
Mixed:
  inherits: [Base, Other]
`
	doc = strings.Replace(doc, "Other:\n  inherits: [Target]\n", "Other:\n  inherits: [Target]\n  overrides:\n    clock: 1\n", 1)
	c, err := New(loadTarget(t, doc, "Mixed"), nil)
	if err != nil {
		t.Fatal(err)
	}

	err = c.Resolve(context.Background())
	if !errors.Is(err, engine.ErrUndefinedParameter) {
		t.Fatalf("expected undefined parameter error, got %v", err)
	}
	if !engine.IsHard(err) {
		t.Error("expected a hard error for a target override")
	}
	var cerr *engine.ConfigError
	if errors.As(err, &cerr) && cerr.DefinedBy != "target:Base" {
		t.Errorf("expected defining unit target:Base, got %q", cerr.DefinedBy)
	}
}

func TestResolve_DuplicateParameter(t *testing.T) {
	doc := strings.Replace(targetsDoc, "    clock:\n      value: 48\n", "    clock:\n      value: 48\n    baud: 1\n", 1)
	c, err := New(loadTarget(t, doc, "K64F"), nil)
	if err != nil {
		t.Fatal(err)
	}
	err = c.Resolve(context.Background())
	if !errors.Is(err, engine.ErrDuplicateParameter) {
		t.Fatalf("expected duplicate parameter error, got %v", err)
	}
	if !strings.Contains(err.Error(), "target:Base") || !strings.Contains(err.Error(), "target:Target") {
		t.Errorf("expected both units in message: %v", err)
	}
}

func TestResolve_SoftErrors(t *testing.T) {
	lib := library(t, `
name: net
target_overrides:
  "*":
    target.custom_attr: 1
    target.bootloader_img: boot.hex
`)
	app := application(t, `
target_overrides:
  "*":
    app.missing: 1
  K64F:
    net.missing: 2
`)
	c := newConfig(t, "K64F", app, lib)
	if err := c.Resolve(context.Background()); err != nil {
		t.Fatalf("soft errors must not abort the pass: %v", err)
	}

	if n := len(c.SoftErrors()); n != 2 {
		t.Fatalf("expected 2 soft errors, got %d", n)
	}
	err := c.Validate()
	if !errors.Is(err, engine.ErrUndefinedParameter) || !engine.IsSoft(err) {
		t.Fatalf("expected soft undefined parameter error, got %v", err)
	}
	if !strings.Contains(err.Error(), "app.missing") {
		t.Errorf("expected the first soft error, got %v", err)
	}

	if _, err := c.ResolveFeatures(context.Background()); !errors.Is(err, engine.ErrUndefinedParameter) {
		t.Errorf("expected feature resolution to surface the soft error, got %v", err)
	}
}

func TestResolve_LabelSections(t *testing.T) {
	lib := library(t, `
name: drivers
config:
  spi-speed: 1000
target_overrides:
  Freescale:
    spi-speed: 2000
  STM:
    spi-speed: 3000
    undefined-here: 1
`)
	c := newConfig(t, "K64F", nil, lib)
	if err := c.Resolve(context.Background()); err != nil {
		t.Fatal(err)
	}
	p, _ := c.Parameter("drivers.spi-speed")
	if p.Value != 2000 || p.SetBy.String() != "library:drivers[Freescale]" {
		t.Errorf("unexpected value %v set by %s", p.Value, p.SetBy)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("skipped label sections must not report errors: %v", err)
	}
}

func TestResolve_LibraryCannotOverrideExtraLabels(t *testing.T) {
	lib := library(t, `
name: bad
target_overrides:
  "*":
    target.extra_labels_add: [EXTRA]
`)
	c := newConfig(t, "K64F", nil, lib)
	if err := c.Resolve(context.Background()); !errors.Is(err, engine.ErrScopeViolation) {
		t.Errorf("expected scope violation, got %v", err)
	}

	app := application(t, `
target_overrides:
  "*":
    target.extra_labels_add: [EXTRA]
`)
	c = newConfig(t, "K64F", app)
	if err := c.Resolve(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(c.Labels(), "EXTRA") || !contains(c.Labels(), "Freescale") {
		t.Errorf("expected extra labels in %v", c.Labels())
	}
}

func TestResolve_OverrideConflictAcrossUnits(t *testing.T) {
	lib := library(t, `
name: a
target_overrides:
  "*":
    target.device_has_add: [SPI]
`)
	app := application(t, `
target_overrides:
  "*":
    target.device_has_remove: [SPI]
`)
	c := newConfig(t, "K64F", app, lib)
	err := c.Resolve(context.Background())
	if !errors.Is(err, engine.ErrOverrideConflict) {
		t.Fatalf("expected override conflict, got %v", err)
	}
	var cerr *engine.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
	if cerr.Unit != "application[*]" || cerr.DefinedBy != "library:a[*]" {
		t.Errorf("expected conflict between library:a[*] and application[*], got %q and %q", cerr.DefinedBy, cerr.Unit)
	}
}

func TestResolve_StrictReplaceConflictsWithPendingAddition(t *testing.T) {
	lib := library(t, `
name: a
target_overrides:
  "*":
    target.features_add: [BLE]
`)
	app := application(t, `
target_overrides:
  "*":
    target.features: [STORAGE]
`)
	c := newConfig(t, "K64F", app, lib)
	err := c.Resolve(context.Background())
	if !errors.Is(err, engine.ErrOverrideConflict) {
		t.Fatalf("expected override conflict, got %v", err)
	}

	app = application(t, `
target_overrides:
  "*":
    target.features: [BLE, STORAGE]
`)
	c = newConfig(t, "K64F", app, lib)
	if err := c.Resolve(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(c.Features(), []string{"BLE", "STORAGE"}) {
		t.Errorf("expected [BLE STORAGE], got %v", c.Features())
	}
}

func TestResolve_EmptyLabelSectionNeverApplies(t *testing.T) {
	app := application(t, `
config:
  x: 1
target_overrides:
  "":
    x: 2
`)
	c := newConfig(t, "K64F", app)
	if err := c.Resolve(context.Background()); err != nil {
		t.Fatal(err)
	}
	p, _ := c.Parameter("app.x")
	if p.Value != 1 || p.SetBy.String() != "application" {
		t.Errorf("expected the empty label section to be skipped, got %v set by %s", p.Value, p.SetBy)
	}
}

func TestResolve_HardErrorKeepsPreviousState(t *testing.T) {
	first := library(t, `
name: a
target_overrides:
  "*":
    target.features_add: [BLE]
`)
	bad := library(t, `
name: b
target_overrides:
  "*":
    target.extra_labels_add: [EXTRA]
`)
	c := newConfig(t, "K64F", nil, first, bad)
	if err := c.Resolve(context.Background()); !errors.Is(err, engine.ErrScopeViolation) {
		t.Fatalf("expected scope violation, got %v", err)
	}
	if features := c.Features(); len(features) != 0 {
		t.Errorf("expected no features from the aborted pass, got %v", features)
	}
	if _, ok := c.Attribute("features"); !ok {
		t.Error("expected features to stay visible")
	}
}

func TestResolveFeatures_Fixpoint(t *testing.T) {
	ble := library(t, `
name: ble
config:
  mtu: 23
target_overrides:
  "*":
    target.features_add: [IPV4]
`)
	calls := make(map[string]int)
	sources := engine.FeatureSourcesFunc(func(feature string) ([]*engine.LibraryDoc, error) {
		calls[feature]++
		if feature == "BLE" {
			return []*engine.LibraryDoc{ble}, nil
		}
		return nil, nil
	})
	app := application(t, `
target_overrides:
  "*":
    target.features_add: [BLE]
`)

	c, err := New(loadTarget(t, targetsDoc, "K64F"), app, WithFeatureSources(sources))
	if err != nil {
		t.Fatal(err)
	}
	features, err := c.ResolveFeatures(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(features, []string{"BLE", "IPV4"}) {
		t.Errorf("expected [BLE IPV4], got %v", features)
	}
	if calls["BLE"] != 1 || calls["IPV4"] != 1 {
		t.Errorf("expected each feature to be expanded once, got %v", calls)
	}
	if _, ok := c.Parameter("ble.mtu"); !ok {
		t.Error("expected feature library parameters to be resolved")
	}

	// Another pass adds nothing
	if err := c.Resolve(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c.Features(), features) {
		t.Errorf("expected stable features, got %v", c.Features())
	}
}

func TestResolveFeatures_UnsupportedFeature(t *testing.T) {
	app := application(t, `
target_overrides:
  "*":
    target.features_add: [WIFI_MAGIC]
`)
	c := newConfig(t, "K64F", app)
	_, err := c.ResolveFeatures(context.Background())
	if !errors.Is(err, engine.ErrUnsupportedFeature) {
		t.Fatalf("expected unsupported feature error, got %v", err)
	}
	var cerr *engine.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
	if cerr.Param != "target.features" || cerr.Unit != "application[*]" {
		t.Errorf("expected the feature attributed to application[*], got %+v", cerr)
	}
}

func TestCompile_RequiredParameterGate(t *testing.T) {
	lib := library(t, `
name: tls
config:
  key:
    help: Device key
    required: true
`)
	c := newConfig(t, "K64F", nil, lib)
	if _, err := c.ResolveFeatures(context.Background()); !errors.Is(err, engine.ErrMissingRequiredParameter) {
		t.Fatalf("expected missing required parameter error, got %v", err)
	}
	macros, err := c.Macros()
	if !errors.Is(err, engine.ErrMissingRequiredParameter) || macros != nil {
		t.Errorf("expected no partial output, got %v, %v", macros, err)
	}
}

func TestCompile_MacroOrder(t *testing.T) {
	lib := library(t, `
name: rtos
macros: [OS_TICK=1000, OS_DEBUG]
`)
	app := application(t, `
macros: [OS_DEBUG, APP_MODE=2]
config:
  verbose: true
`)
	c := newConfig(t, "Target", app, lib)
	if _, err := c.ResolveFeatures(context.Background()); err != nil {
		t.Fatal(err)
	}
	macros, err := c.Macros()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"OS_TICK=1000",
		"OS_DEBUG",
		"APP_MODE=2",
		"MBED_CONF_TARGET_BAUD=9600",
		"MBED_CONF_TARGET_STDIO_FLUSH=0",
		"MBED_CONF_APP_VERBOSE=1",
	}
	if !reflect.DeepEqual(macros, want) {
		t.Errorf("expected %v, got %v", want, macros)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	run := func() []string {
		libs := []*engine.LibraryDoc{
			library(t, "name: zeta\nconfig:\n  a: 1\n"),
			library(t, "name: alpha\nconfig:\n  b: 2\ntarget_overrides:\n  \"*\":\n    target.device_has_add: [SPI, CAN]\n"),
		}
		c := newConfig(t, "K64F", nil, libs...)
		if _, err := c.ResolveFeatures(context.Background()); err != nil {
			t.Fatal(err)
		}
		macros, err := c.Macros()
		if err != nil {
			t.Fatal(err)
		}
		device, _ := c.Attribute("device_has")
		return append(macros, engine.ToStrings(device)...)
	}

	first, second := run(), run()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical output, got %v and %v", first, second)
	}
}

func TestAddLibraries(t *testing.T) {
	c := newConfig(t, "K64F", nil)
	lib := library(t, "name: net\n")
	lib.Path = "libs/net/mbed_lib.json"

	if err := c.AddLibraries(lib, lib); err != nil {
		t.Fatalf("same path must be registered once: %v", err)
	}
	other := library(t, "name: net\n")
	other.Path = "vendor/net/mbed_lib.json"
	if err := c.AddLibraries(other); !errors.Is(err, engine.ErrDuplicateLibrary) {
		t.Errorf("expected duplicate library error, got %v", err)
	}
	if len(c.Libraries()) != 1 {
		t.Errorf("expected 1 library, got %d", len(c.Libraries()))
	}
}

func TestAttributeAndRegions(t *testing.T) {
	app := application(t, `
artifact_name: firmware
target_overrides:
  K64F:
    target.restrict_size: "0x20000"
    target.features_add: [STORAGE]
`)
	c := newConfig(t, "K64F", app)
	if err := c.Resolve(context.Background()); err != nil {
		t.Fatal(err)
	}

	if c.Name() != "firmware" {
		t.Errorf("expected artifact name, got %q", c.Name())
	}
	if !c.HasRegions() {
		t.Error("expected regions to be configured")
	}
	size, ok, err := c.RestrictSize()
	if err != nil || !ok || size != 0x20000 {
		t.Errorf("unexpected restrict size %d %t %v", size, ok, err)
	}
	if v, _ := c.Attribute("features"); !reflect.DeepEqual(v, []string{"STORAGE"}) {
		t.Errorf("unexpected features %v", v)
	}
	if v, _ := c.Attribute("device_name"); v != "MK64FN1M0xxx12" {
		t.Errorf("unexpected device name %v", v)
	}
	if _, ok := c.Attribute("clock"); ok {
		t.Error("unknown attributes must not be visible")
	}
}
