// Package quant implements the fixed-point int8 quantization used by the
// graph engine's vector store: no training, no codebooks — every
// component independently clamps to [-1, 1] and rounds to the int8 range.
package quant

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when a vector's length does not match
// the caller-supplied dimension.
var ErrDimensionMismatch = errors.New("quant: vector length does not match dimension")

// Quantize converts an f32 vector to its i8 representation per §3: clamp
// each component to [-1, 1], then round to the nearest int8 in
// [-127, 127]. dst must have the same length as src.
func Quantize(src []float32, dst []byte) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: src=%d dst=%d", ErrDimensionMismatch, len(src), len(dst))
	}
	for i, f := range src {
		c := f
		if c < -1 {
			c = -1
		} else if c > 1 {
			c = 1
		}
		dst[i] = byte(int8(math.Round(float64(c) * 127)))
	}
	return nil
}

// Dequantize expands an i8 vector back to f32 by dividing each component
// by 127. Used only for exact re-rank fallback and diagnostics — the
// orchestrator's re-rank path prefers the f32 disk store, which carries
// no quantization error.
func Dequantize(src []byte, dst []float32) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: src=%d dst=%d", ErrDimensionMismatch, len(src), len(dst))
	}
	for i, b := range src {
		dst[i] = float32(int8(b)) / 127
	}
	return nil
}

// Normalize scales v to unit L2 norm in place, returning the original
// norm. Callers performing cosine/similarity scoring must normalize
// before quantizing, since §4.F's cosine and similarity score
// conversions are valid only for unit vectors.
func Normalize(v []float32) float64 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return 0
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return norm
}
