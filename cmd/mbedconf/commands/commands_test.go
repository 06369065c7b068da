package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const targetsJSON = `{
  "Target": {
    "core": null,
    "features": [],
    "extra_labels": [],
    "bootloader_supported": false,
    "config": {"baud": {"help": "Console baud rate", "value": 9600}}
  },
  "K64F": {
    "inherits": ["Target"],
    "device_name": "MK64FN1M0xxx12",
    "bootloader_supported": true,
    "extra_labels": ["Freescale"]
  }
}`

const appJSON = `{
  "macros": ["APP_MODE=1"],
  "target_overrides": {
    "*": {"target.restrict_size": "0x10000"},
    "K64F": {"events.size": 16}
  }
}`

const devicesYAML = `MK64FN1M0xxx12:
  vendor: NXP
  rom:
    start: 0x0
    size: 0x100000
`

// setupProject writes a small project and returns its root.
func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"targets.json":         targetsJSON,
		"devices.yaml":         devicesYAML,
		"mbed_app.json":        appJSON,
		"events/mbed_lib.json": `{"name": "events", "config": {"size": 8}}`,
	}
	for name, content := range files {
		writeFile(t, filepath.Join(root, name), content)
	}
	return root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// execute runs the CLI against the project in root and returns stdout.
// Flags in args come last, so a later --target replaces K64F.
func execute(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	base := []string{
		"--targets", filepath.Join(root, "targets.json"),
		"--source", root,
		"--target", "K64F",
	}
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMacrosCommand(t *testing.T) {
	root := setupProject(t)

	out, err := execute(t, root, "macros")
	if err != nil {
		t.Fatalf("macros failed: %v", err)
	}
	for _, want := range []string{"MBED_CONF_EVENTS_SIZE=16", "MBED_CONF_TARGET_BAUD=9600", "APP_MODE=1"} {
		if !strings.Contains(out, want+"\n") {
			t.Errorf("expected %s in output:\n%s", want, out)
		}
	}

	out, err = execute(t, root, "macros", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var tokens []string
	if err := json.Unmarshal([]byte(out), &tokens); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if len(tokens) != 3 {
		t.Errorf("expected 3 macros, got %v", tokens)
	}
}

func TestMacrosCommand_Errors(t *testing.T) {
	root := setupProject(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown target", args: []string{"macros", "--target", "NOPE"}, want: "NOPE"},
		{name: "missing targets file", args: []string{"macros", "--targets", filepath.Join(root, "missing.json")}, want: "missing.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, root, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestHeaderCommand(t *testing.T) {
	root := setupProject(t)
	path := filepath.Join(root, "BUILD", "mbed_config.h")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, root, "header", "-o", path); err != nil {
		t.Fatalf("header failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"__MBED_CONFIG_DATA__", "MBED_CONF_EVENTS_SIZE", "application[K64F]"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected %s in header:\n%s", want, data)
		}
	}
}

func TestParamsCommand(t *testing.T) {
	root := setupProject(t)

	out, err := execute(t, root, "params", "--json")
	if err != nil {
		t.Fatalf("params failed: %v", err)
	}
	var report []paramReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	got := make(map[string]string)
	for _, p := range report {
		got[p.Name] = p.DefinedBy + " -> " + p.SetBy
	}
	want := map[string]string{
		"events.size": "library:events -> application[K64F]",
		"target.baud": "target:Target -> target:Target",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected provenance %v, got %v", want, got)
	}

	out, err = execute(t, root, "params", "--prefix", "events.")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "MBED_CONF_EVENTS_SIZE") || strings.Contains(out, "target.baud") {
		t.Errorf("unexpected filtered report:\n%s", out)
	}
}

func TestRegionsCommand(t *testing.T) {
	root := setupProject(t)

	out, err := execute(t, root, "regions", "--devices", filepath.Join(root, "devices.yaml"))
	if err != nil {
		t.Fatalf("regions failed: %v", err)
	}
	for _, want := range []string{"application", "0x00010000", "post_application", "0x000f0000"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output:\n%s", want, out)
		}
	}

	if _, err := execute(t, root, "regions"); err == nil {
		t.Error("expected error without a device index")
	}
}

func TestValidateCommand(t *testing.T) {
	root := setupProject(t)
	devices := filepath.Join(root, "devices.yaml")

	out, err := execute(t, root, "validate", "--devices", devices)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "policies passed") {
		t.Errorf("unexpected output:\n%s", out)
	}

	policy := filepath.Join(root, "policies", "size.json")
	writeFile(t, policy, `{
  "name": "queue-size",
  "severity": "error",
  "rego": "package custom.size\n\ndeny contains msg if {\n\tsome p in input.parameters\n\tp.name == \"events.size\"\n\tp.value > 8\n\tmsg := sprintf(\"events.size %v is above 8\", [p.value])\n}\n"
}`)

	out, err = execute(t, root, "validate", "--devices", devices, "--policy", filepath.Dir(policy))
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	if !strings.Contains(out, "events.size 16 is above 8") {
		t.Errorf("expected the violation to be reported:\n%s", out)
	}

	if _, err := execute(t, root, "validate", "--devices", devices, "--policy", filepath.Dir(policy),
		"--disable-policy", "queue-size"); err != nil {
		t.Errorf("expected the disabled policy to be skipped, got %v", err)
	}
	if _, err := execute(t, root, "validate", "--devices", devices, "--disable-policy", "nope"); err == nil ||
		!strings.Contains(err.Error(), "policy not found") {
		t.Errorf("expected an unknown policy error, got %v", err)
	}
}

const bundleJSON = `{
  "name": "release",
  "version": "2.0.0",
  "policies": [
    {
      "name": "target-name",
      "severity": "error",
      "enabled": false,
      "rego": "package release.target\n\ndeny contains msg if {\n\tinput.target != \"K64F\"\n\tmsg := \"wrong target\"\n}\n"
    }
  ]
}`

func TestPoliciesCommand(t *testing.T) {
	root := setupProject(t)
	bundle := filepath.Join(t.TempDir(), "release.json")
	writeFile(t, bundle, bundleJSON)

	out, err := execute(t, root, "policies", "list", "--json", "--policy", bundle,
		"--enable-policy", "target-name", "--disable-policy", "string-values")
	if err != nil {
		t.Fatalf("policies list failed: %v", err)
	}
	var listed []struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	enabled := make(map[string]bool)
	for _, p := range listed {
		enabled[p.Name] = p.Enabled
	}
	want := map[string]bool{
		"macro-naming":  true,
		"region-layout": true,
		"string-values": false,
		"target-name":   true,
		"target-scope":  true,
	}
	if !reflect.DeepEqual(enabled, want) {
		t.Errorf("expected %v, got %v", want, enabled)
	}

	out, err = execute(t, root, "policies", "list", "--policy", bundle)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bundle:release") {
		t.Errorf("expected the bundle as source:\n%s", out)
	}

	out, err = execute(t, root, "policies", "show", "target-name", "--policy", bundle)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "package release.target") {
		t.Errorf("unexpected policy source:\n%s", out)
	}
	if _, err := execute(t, root, "policies", "show", "missing"); err == nil {
		t.Error("expected an error for an unknown policy")
	}

	// The bundle policy sees the resolved target name
	devices := filepath.Join(root, "devices.yaml")
	if _, err := execute(t, root, "validate", "--devices", devices, "--policy", bundle,
		"--enable-policy", "target-name"); err != nil {
		t.Errorf("expected validation to pass for K64F, got %v", err)
	}
}

func TestTargetsCommand(t *testing.T) {
	root := setupProject(t)

	out, err := execute(t, root, "targets", "list")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Target\nK64F\n" {
		t.Errorf("unexpected target list %q", out)
	}

	out, err = execute(t, root, "targets", "show", "K64F", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var report targetReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(report.ResolutionOrder, []string{"K64F", "Target"}) {
		t.Errorf("unexpected resolution order %v", report.ResolutionOrder)
	}
	if report.Device != "MK64FN1M0xxx12" {
		t.Errorf("unexpected device %q", report.Device)
	}
}

func TestHistory(t *testing.T) {
	root := setupProject(t)
	db := filepath.Join(root, ".mbedconf", "history.db")

	if _, err := execute(t, root, "macros", "--history", db); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "mbed_app.json"), strings.Replace(appJSON, `"events.size": 16`, `"events.size": 32`, 1))
	if _, err := execute(t, root, "macros", "--history", db); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, root, "history", "diff", "--history", db)
	if err != nil {
		t.Fatalf("diff failed: %v", err)
	}
	if out != "~ events.size value: 16 -> 32\n" {
		t.Errorf("unexpected diff %q", out)
	}

	// Failed resolutions are recorded too
	if _, err := execute(t, root, "macros", "--history", db, "--target", "NOPE"); err == nil {
		t.Fatal("expected an unknown target to fail")
	}

	out, err = execute(t, root, "history", "list", "--history", db, "--target", "NOPE")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "failed") {
		t.Errorf("expected a failed record:\n%s", out)
	}

	out, err = execute(t, root, "history", "prune", "--keep", "1", "--history", db)
	if err != nil {
		t.Fatal(err)
	}
	if out != "Deleted 1 resolution(s)\n" {
		t.Errorf("unexpected prune output %q", out)
	}
}

func TestHistory_RequiresDatabase(t *testing.T) {
	root := setupProject(t)
	if _, err := execute(t, root, "history", "list"); err == nil {
		t.Error("expected error without --history")
	}
}
