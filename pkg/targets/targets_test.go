package targets

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mbedconf/mbedconf/pkg/engine"
)

const hierarchy = `
Target:
  core: null
  default_toolchain: ARM
  features: []
  device_has: []
  extra_labels: []
  bootloader_supported: false
  public: false
  config:
    console-uart:
      value: true
NXP:
  inherits: [Target]
  extra_labels: [NXP]
  device_has: [SERIAL, SPI, I2C]
Freescale:
  inherits: [Target]
  extra_labels_add: [Freescale]
K64F:
  inherits: [NXP, Freescale]
  core: Cortex-M4F
  device_name: MK64FN1M0xxx12
  bootloader_supported: true
  device_has_add: [CAN, "ETH=1"]
  device_has_remove: [I2C]
  features_add: [STORAGE]
K64F_CLONE:
  inherits: [K64F]
  device_has_remove: [ETH]
`

func loadCatalog(t *testing.T, text string) *Catalog {
	t.Helper()
	var doc engine.OrderedMap
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		t.Fatalf("Failed to decode targets: %v", err)
	}
	c, err := NewCatalog(doc, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	return c
}

func TestCatalog_ResolutionOrder(t *testing.T) {
	c := loadCatalog(t, hierarchy)

	order, err := c.ResolutionOrder("K64F_CLONE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Ancestor{
		{Name: "K64F_CLONE", Level: 0},
		{Name: "K64F", Level: 1},
		{Name: "NXP", Level: 2},
		{Name: "Target", Level: 3},
		{Name: "Freescale", Level: 2},
	}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestCatalog_UnknownTarget(t *testing.T) {
	c := loadCatalog(t, hierarchy)
	if _, err := c.Target("NOPE"); !errors.Is(err, engine.ErrInvalidTarget) {
		t.Errorf("expected invalid target error, got %v", err)
	}
}

func TestCatalog_RejectsCycles(t *testing.T) {
	var doc engine.OrderedMap
	text := "A:\n  inherits: [B]\nB:\n  inherits: [C]\nC:\n  inherits: [A]\n"
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		t.Fatal(err)
	}
	_, err := NewCatalog(doc, zerolog.Nop())
	if !errors.Is(err, engine.ErrInvalidTarget) {
		t.Fatalf("expected invalid target error, got %v", err)
	}
	if !strings.Contains(err.Error(), "circular inheritance") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestCatalog_RejectsUnknownParent(t *testing.T) {
	var doc engine.OrderedMap
	if err := yaml.Unmarshal([]byte("A:\n  inherits: [Missing]\n"), &doc); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCatalog(doc, zerolog.Nop()); !errors.Is(err, engine.ErrInvalidTarget) {
		t.Errorf("expected invalid target error, got %v", err)
	}
}

func TestTarget_CumulativeAttributes(t *testing.T) {
	c := loadCatalog(t, hierarchy)

	tests := []struct {
		target string
		attr   string
		want   []string
	}{
		{target: "K64F", attr: "device_has", want: []string{"SERIAL", "SPI", "CAN", "ETH=1"}},
		{target: "K64F_CLONE", attr: "device_has", want: []string{"SERIAL", "SPI", "CAN"}},
		{target: "K64F", attr: "features", want: []string{"STORAGE"}},
		{target: "K64F", attr: "extra_labels", want: []string{"NXP"}},
		{target: "Freescale", attr: "extra_labels", want: []string{"Freescale"}},
	}

	for _, tt := range tests {
		t.Run(tt.target+"/"+tt.attr, func(t *testing.T) {
			target, err := c.Target(tt.target)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := target.Cumulative(tt.attr)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTarget_RemovingMissingItemFails(t *testing.T) {
	c := loadCatalog(t, hierarchy+"BROKEN:\n  inherits: [NXP]\n  device_has_remove: [USB]\n")
	if _, err := c.Target("BROKEN"); !errors.Is(err, engine.ErrInvalidTarget) {
		t.Errorf("expected invalid target error, got %v", err)
	}
}

func TestTarget_LabelsAndAttributes(t *testing.T) {
	c := loadCatalog(t, hierarchy)
	target, err := c.Target("K64F")
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"K64F", "NXP", "Target", "Freescale"}
	if !reflect.DeepEqual(target.Labels, want) {
		t.Errorf("expected labels %v, got %v", want, target.Labels)
	}
	if !target.HasLabel("NXP") || target.HasLabel("STM") {
		t.Error("unexpected label membership")
	}
	if !target.Bool("bootloader_supported") {
		t.Error("expected bootloader support from K64F")
	}
	if target.String("default_toolchain") != "ARM" {
		t.Errorf("expected inherited toolchain, got %q", target.String("default_toolchain"))
	}
	if v, _ := target.Attr("public"); v != true {
		t.Errorf("expected public to default to true, got %v", v)
	}
	if !target.Inherits("K64F", "Target") || target.Inherits("NXP", "Freescale") {
		t.Error("unexpected inheritance paths")
	}
}

func TestTarget_CloneIsIndependent(t *testing.T) {
	c := loadCatalog(t, hierarchy)
	target, err := c.Target("K64F")
	if err != nil {
		t.Fatal(err)
	}
	clone := target.Clone()
	clone.Block("K64F")[0].Value = "mutated"
	clone.Labels[0] = "X"

	if target.Block("K64F")[0].Value == "mutated" || target.Labels[0] == "X" {
		t.Error("clone shares state with the original snapshot")
	}
	node, _ := c.Node("K64F")
	if node.Data[0].Value == "mutated" {
		t.Error("snapshot shares state with the catalog")
	}
}

func TestGraph_LevelsAndDOT(t *testing.T) {
	c := loadCatalog(t, hierarchy)
	g := c.Graph()

	if !reflect.DeepEqual(g.Roots, []string{"Target"}) {
		t.Errorf("expected Target as only root, got %v", g.Roots)
	}
	if g.Nodes["K64F_CLONE"].Depth != 3 {
		t.Errorf("expected depth 3, got %d", g.Nodes["K64F_CLONE"].Depth)
	}
	dot := g.ToDOT()
	if !strings.Contains(dot, "\"NXP\" -> \"K64F\"") {
		t.Errorf("missing edge in DOT output:\n%s", dot)
	}
}
