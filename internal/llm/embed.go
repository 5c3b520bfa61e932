package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashEmbedder is a deterministic, offline Embedder. It hashes character
// trigrams into a fixed-size vector and L2-normalizes it. Quality is far
// below a learned model, but it keeps every semantic tier functional (and
// testable) without network access.
type HashEmbedder struct {
	Dim int
}

// NewHashEmbedder returns a HashEmbedder with a 256-dim vector space.
func NewHashEmbedder() *HashEmbedder { return &HashEmbedder{Dim: 256} }

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := h.Dim
	if dim <= 0 {
		dim = 256
	}
	vec := make([]float32, dim)

	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	runes := []rune(normalized)
	if len(runes) == 0 {
		return vec, nil
	}
	for i := 0; i+3 <= len(runes); i++ {
		hasher := fnv.New32a()
		_, _ = hasher.Write([]byte(string(runes[i : i+3])))
		sum := hasher.Sum32()
		idx := int(sum % uint32(dim))
		// Half the hash space contributes negatively so vectors spread
		// across the sphere instead of clustering in one orthant.
		if sum&0x80000000 != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either has
// zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
