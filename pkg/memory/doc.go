// Package memory implements a tiered memory store over heterogeneous layers.
//
// Invariants:
//   - A cascaded write leaves an independent copy of the annotated document in
//     the target tier and in every faster tier of the hierarchy.
//   - Promote and Demote copy; the source document is never removed.
//   - One merged search result set never holds two documents with the same
//     identity ("id", falling back to "memory_key").
//   - A failing or panicking layer never aborts calls to its siblings.
//
// Usage:
//
//	store, _ := memory.NewTieredStore(memory.Options{
//		Hierarchy: []memory.NamedLayer{
//			{Name: memory.ShortTerm, Layer: memory.NewInMemoryLayer()},
//			{Name: memory.LongTerm, Layer: docs},
//		},
//		Extra: []memory.NamedLayer{{Name: memory.SemanticLayer, Layer: vectors}},
//	})
//	store.Store(ctx, "pref", memory.Document{"content": "dark mode"}, memory.StoreOptions{
//		Layer:   memory.LongTerm,
//		Cascade: true,
//	})
//	doc, ok := store.Retrieve(ctx, "pref", memory.RetrieveOptions{})
package memory
