package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashProvider is a deterministic offline embedder. Each lower-cased word is
// hashed into one of Dimension buckets and the result is L2-normalized, so
// texts sharing words have a positive cosine similarity.
type HashProvider struct {
	dimension int
}

var _ Provider = (*HashProvider)(nil)

// NewHashProvider creates a hash embedder producing vectors of size dimension.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashProvider{dimension: dimension}
}

func (p *HashProvider) Dimension() int {
	return p.dimension
}

func (p *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := make([]float32, p.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(p.dimension)]++
	}

	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		// An empty text still needs a valid unit vector for cosine distance.
		v[0] = 1
		return v, nil
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}

func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
