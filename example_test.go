package minimalkv_test

import (
	"context"
	"fmt"
	"log"

	"github.com/janjagusch/minimalkv"
)

func ExampleFromURL() {
	ctx := context.Background()

	store, err := minimalkv.FromURL(ctx, "memory://")
	if err != nil {
		log.Fatal(err)
	}

	if err := store.Put(ctx, "greeting", []byte("hello")); err != nil {
		log.Fatal(err)
	}

	data, err := store.Get(ctx, "greeting")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(data))
	// Output: hello
}

func ExampleKeys() {
	ctx := context.Background()
	store := minimalkv.NewMemoryStore()

	for _, key := range []string{"logs-1", "logs-2", "config"} {
		if err := store.Put(ctx, key, []byte("x")); err != nil {
			log.Fatal(err)
		}
	}

	keys, err := minimalkv.Keys(ctx, store, "logs-")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(keys)
	// Output: [logs-1 logs-2]
}

func ExampleCache() {
	ctx := context.Background()

	// Reads hit the fast front store first and fall back to the
	// authoritative back store.
	store := minimalkv.Cache(minimalkv.NewMemoryStore(), minimalkv.NewMemoryStore())

	if err := store.Put(ctx, "k", []byte("v")); err != nil {
		log.Fatal(err)
	}

	data, err := store.Get(ctx, "k")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(data))
	// Output: v
}
