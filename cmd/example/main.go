// Embedded usage of the storage engine with typed keys and values, no
// server involved.
package main

import (
	"fmt"
	"log"

	"github.com/Diffblue-benchmarks/hydra/pkg/codec"
	"github.com/Diffblue-benchmarks/hydra/pkg/store"
)

func main() {
	backing, err := store.NewFileStore("hydra_example_data")
	if err != nil {
		log.Fatalf("Open backing store: %v", err)
	}

	st, err := store.Open[uint64, string](
		backing,
		codec.Uint64{},
		codec.String{},
		func(a, b uint64) bool { return a < b },
		store.Options{MaxEntries: 64, CachePages: 8},
	)
	if err != nil {
		log.Fatalf("Open store: %v", err)
	}
	defer st.Close()

	for i := uint64(1); i <= 500; i++ {
		if err := st.Put(i, fmt.Sprintf("job-%04d", i)); err != nil {
			log.Fatalf("Put %d: %v", i, err)
		}
	}
	fmt.Printf("Wrote 500 entries across %d pages\n", st.PageCount())

	val, found, err := st.Get(42)
	if err != nil {
		log.Fatalf("Get: %v", err)
	}
	fmt.Printf("Get(42) -> %q (found=%v)\n", val, found)

	// Cursor-style pagination: hop page to page via NextFirstKey.
	cursor, ok, err := st.FirstKey()
	if err != nil {
		log.Fatalf("FirstKey: %v", err)
	}
	pages := 0
	for ok {
		pages++
		cursor, ok, err = st.NextFirstKey(cursor)
		if err != nil {
			log.Fatalf("NextFirstKey: %v", err)
		}
	}
	fmt.Printf("Walked %d page boundaries\n", pages)

	// Ordered range scan from key 490.
	it := st.Scan(490)
	for it.Next() {
		fmt.Printf("  %d -> %s\n", it.Key(), it.Value())
	}
	if err := it.Err(); err != nil {
		log.Fatalf("Scan: %v", err)
	}
}
