// Package distance provides the pluggable distance functions used by the
// HNSW index. Cosine distance is the default; L2 and dot-product are
// provided as configuration alternatives.
package distance

import "math"

// Func computes a distance between two equal-length vectors. Lower values
// indicate higher similarity. Implementations must tolerate (but need not
// make sense of) mismatched lengths by returning the largest representable
// distance for the metric, since dimension mismatches are rejected earlier
// by the caller.
type Func func(a, b []float32) float32

// Kind names a configured distance function.
type Kind string

const (
	Cosine Kind = "cosine"
	L2     Kind = "l2"
	Dot    Kind = "dot"
)

// Resolve returns the Func for a configured Kind. The zero Kind resolves
// to Cosine, matching the spec's default.
func Resolve(k Kind) (Func, error) {
	switch k {
	case "", Cosine:
		return CosineDistance, nil
	case L2:
		return L2Distance, nil
	case Dot:
		return DotDistance, nil
	default:
		return nil, &UnknownKindError{Kind: k}
	}
}

// UnknownKindError reports an unrecognized distance kind in configuration.
type UnknownKindError struct{ Kind Kind }

func (e *UnknownKindError) Error() string {
	return "distance: unknown kind " + string(e.Kind)
}

// CosineDistance returns 1-cosine_similarity(a,b), clamped to [0,2].
// Zero-norm vectors are treated as maximally distant from everything.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return float32(1 - sim)
}

// L2Distance returns the Euclidean distance between a and b.
func L2Distance(a, b []float32) float32 {
	if len(a) != len(b) {
		return float32(math.MaxFloat32)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// DotDistance returns the negative dot product, so that larger raw dot
// products (more similar, for normalized vectors) sort as smaller
// distances, consistent with the other metrics.
func DotDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return float32(math.MaxFloat32)
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(-dot)
}
