package memory

import "context"

// Retriever is the narrow view of the store the search engine depends on.
type Retriever interface {
	// Search runs q across layers (default: all) and returns de-duplicated
	// documents. It never returns an error; failures yield an empty slice.
	Search(ctx context.Context, q Query, layers []string) []Document
}

var _ Retriever = (*TieredStore)(nil)

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, q Query, layers []string) []Document

// Search calls f.
func (f RetrieverFunc) Search(ctx context.Context, q Query, layers []string) []Document {
	return f(ctx, q, layers)
}
