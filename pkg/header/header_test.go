package header

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mbedconf/mbedconf/pkg/engine"
	"github.com/mbedconf/mbedconf/pkg/params"
	"github.com/mbedconf/mbedconf/pkg/resolver"
)

func compiled() *resolver.Compiled {
	baud := &params.Parameter{
		Name:      "target.baud",
		Value:     115200,
		MacroName: "MBED_CONF_TARGET_BAUD",
		DefinedBy: engine.TargetUnit("Target"),
		SetBy:     engine.LibraryUnit("L").WithLabel("*"),
	}
	size := &params.Parameter{
		Name:      "app.size",
		Value:     8,
		MacroName: "MBED_CONF_APP_SIZE",
		DefinedBy: engine.ApplicationUnit(),
		SetBy:     engine.ApplicationUnit(),
	}
	return &resolver.Compiled{
		Declared: []params.Macro{
			{Decl: "OS_TICK=1000", Name: "OS_TICK", Value: "1000", HasValue: true, DefinedBy: engine.LibraryUnit("rtos")},
			{Decl: "APP_DEBUG", Name: "APP_DEBUG", DefinedBy: engine.ApplicationUnit()},
		},
		Params: []resolver.ParamMacro{
			{Name: baud.MacroName, Value: "115200", Param: baud},
			{Name: size.MacroName, Value: "8", Param: size},
		},
	}
}

func TestString(t *testing.T) {
	got, err := String(compiled())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `// Automatically generated configuration file.
// DO NOT EDIT, content will be overwritten.

#ifndef __MBED_CONFIG_DATA__
#define __MBED_CONFIG_DATA__

// Configuration parameters
#define MBED_CONF_TARGET_BAUD 115200 // set by library:L[*]
#define MBED_CONF_APP_SIZE    8      // set by application

// Macros
#define OS_TICK               1000   // defined by library:rtos
#define APP_DEBUG // defined by application

#endif
`
	if got != want {
		t.Errorf("unexpected header:\n%s\nwant:\n%s", got, want)
	}
}

func TestString_Empty(t *testing.T) {
	got, err := String(&resolver.Compiled{})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "// Configuration parameters") || strings.Contains(got, "// Macros") {
		t.Errorf("expected no sections, got:\n%s", got)
	}
	if !strings.HasSuffix(got, "#define "+Guard+"\n\n#endif\n") {
		t.Errorf("unexpected header:\n%s", got)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mbed_config.h")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(path, compiled()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "// Automatically generated") {
		t.Errorf("expected the file to be replaced, got %q", data)
	}
}
