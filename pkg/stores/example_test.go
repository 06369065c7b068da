package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mbedconf/mbedconf/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a history store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: stores.MemoryPath,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleDiff demonstrates comparing the latest two resolutions of a target.
func ExampleDiff() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	baud := func(v string) []stores.ParameterRecord {
		return []stores.ParameterRecord{{
			Name:      "target.baud",
			Value:     &v,
			MacroName: "MBED_CONF_TARGET_BAUD",
			DefinedBy: "target:Target",
			SetBy:     "application[*]",
		}}
	}

	first := stores.NewResolution("K64F", "mbed_app.json")
	first.Parameters = baud("9600")
	second := stores.NewResolution("K64F", "mbed_app.json")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	second.Parameters = baud("115200")

	for _, res := range []*stores.Resolution{first, second} {
		if err := store.SaveResolution(ctx, res); err != nil {
			log.Fatal(err)
		}
	}

	target := "K64F"
	history, _ := store.ListResolutions(ctx, &target, 2, 0)
	latest, _ := store.GetResolution(ctx, history[0].ID)
	previous, _ := store.GetResolution(ctx, history[1].ID)

	for _, c := range stores.Diff(previous, latest) {
		fmt.Printf("%s %s: %s -> %s\n", c.Kind, c.Name, *c.Old, *c.New)
	}
	// Output: value target.baud: 9600 -> 115200
}
