package index

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b, or 0 when either is empty or their lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ToFloat32 narrows an embedding for storage in float4 vector columns.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

// ToFloat64 widens a stored embedding.
func ToFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

type scored struct {
	pos   int
	score float64
}

// topK ranks scores descending and keeps the first k. Ties keep insertion order.
func topK(scores []scored, k int) []scored {
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if k > 0 && len(scores) > k {
		scores = scores[:k]
	}
	return scores
}
