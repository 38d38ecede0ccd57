package index

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic bag-of-words embedder for runs without an embeddings API.
type HashEmbedder struct {
	Dim int
}

func (h HashEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	dim := h.Dim
	if dim <= 0 {
		dim = 256
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		vec := make([]float32, dim)
		for _, tok := range strings.FieldsFunc(strings.ToLower(in), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			f := fnv.New32a()
			_, _ = f.Write([]byte(tok))
			vec[int(f.Sum32())%dim]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			n := float32(math.Sqrt(norm))
			for j := range vec {
				vec[j] /= n
			}
		}
		out[i] = vec
	}
	return out, nil
}
