package sources

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mbedconf/mbedconf/pkg/config"
	"github.com/mbedconf/mbedconf/pkg/engine"
	"github.com/mbedconf/mbedconf/pkg/resolver"
	"github.com/mbedconf/mbedconf/pkg/targets"
)

func library(name, overrides string) string {
	return `{"name": "` + name + `", "config": {"enabled": true}` + overrides + `}`
}

// setupTree writes a source tree and returns its root.
func setupTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"mbed_app.json":                             `{}`,
		"events/mbed_lib.json":                      library("events", ""),
		"TARGET_K64F/drivers/mbed_lib.json":         library("k64f-drivers", ""),
		"TARGET_STM/drivers/mbed_lib.json":          library("stm-drivers", ""),
		".git/mbed_lib.json":                        library("hidden", ""),
		"BUILD/mbed_lib.json":                       library("build", ""),
		"FEATURE_BLE/ble/mbed_lib.json":             library("ble", `, "target_overrides": {"*": {"target.features_add": ["IPV4"]}}`),
		"FEATURE_BLE/FEATURE_STORAGE/mbed_lib.json": library("ble-storage", ""),
		"FEATURE_IPV4/net/mbed_lib.json":            library("net", ""),
		"events/README.md":                          "events",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func names(libs []*engine.LibraryDoc) []string {
	out := make([]string, len(libs))
	for i, l := range libs {
		out[i] = l.Name
	}
	return out
}

func TestScanner_Scan(t *testing.T) {
	root := setupTree(t)
	s := NewScanner(config.NewLoader(), []string{"K64F", "Target"})

	tree, err := s.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if got := names(tree.Libraries()); !reflect.DeepEqual(got, []string{"k64f-drivers", "events"}) {
		t.Errorf("unexpected libraries %v", got)
	}
	if got := tree.Features(); !reflect.DeepEqual(got, []string{"BLE", "IPV4"}) {
		t.Errorf("unexpected features %v", got)
	}
}

func TestTree_LibrariesFor(t *testing.T) {
	root := setupTree(t)
	tree, err := NewScanner(nil, []string{"K64F"}).Scan(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}

	libs, err := tree.LibrariesFor("BLE")
	if err != nil {
		t.Fatal(err)
	}
	if got := names(libs); !reflect.DeepEqual(got, []string{"ble"}) {
		t.Errorf("unexpected BLE libraries %v", got)
	}
	again, _ := tree.LibrariesFor("BLE")
	if len(again) != 1 || again[0] != libs[0] {
		t.Error("expected the same documents on every call")
	}

	// Nested feature directories become visible once their parent is loaded
	storage, err := tree.LibrariesFor("STORAGE")
	if err != nil {
		t.Fatal(err)
	}
	if got := names(storage); !reflect.DeepEqual(got, []string{"ble-storage"}) {
		t.Errorf("unexpected STORAGE libraries %v", got)
	}

	if libs, err := tree.LibrariesFor("LWIP"); err != nil || len(libs) != 0 {
		t.Errorf("expected no libraries, got %v, %v", libs, err)
	}
}

func TestScanner_InvalidLibrary(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, config.LibConfigName), []byte(`{"config": {}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewScanner(nil, nil).Scan(context.Background(), root); err == nil {
		t.Error("expected error for a library without a name")
	}
}

func TestTree_DrivesFeatureResolution(t *testing.T) {
	root := setupTree(t)

	var doc engine.OrderedMap
	if err := yaml.Unmarshal([]byte("K64F:\n  features: []\n  extra_labels: []\n"), &doc); err != nil {
		t.Fatal(err)
	}
	catalog, err := targets.NewCatalog(doc, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	target, err := catalog.Target("K64F")
	if err != nil {
		t.Fatal(err)
	}

	tree, err := NewScanner(nil, target.Labels).Scan(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	app, err := config.NewLoader().ParseApplication(context.Background(), "mbed_app.json",
		[]byte(`{"target_overrides": {"*": {"target.features_add": ["BLE"]}}}`))
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := resolver.New(target, app, resolver.WithFeatureSources(tree))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddLibraries(tree.Libraries()...); err != nil {
		t.Fatal(err)
	}
	features, err := cfg.ResolveFeatures(context.Background())
	if err != nil {
		t.Fatalf("feature resolution failed: %v", err)
	}
	if !reflect.DeepEqual(features, []string{"BLE", "IPV4"}) {
		t.Errorf("unexpected features %v", features)
	}
	if got := names(cfg.Libraries()); !reflect.DeepEqual(got, []string{"ble", "events", "k64f-drivers", "net"}) {
		t.Errorf("unexpected libraries %v", got)
	}
	macros, err := cfg.Macros()
	if err != nil {
		t.Fatal(err)
	}
	want := "MBED_CONF_NET_ENABLED=1"
	found := false
	for _, m := range macros {
		found = found || m == want
	}
	if !found {
		t.Errorf("expected %s in %v", want, macros)
	}
}
