package quant

import (
	"math"
	"testing"
)

func TestQuantizeClampsAndRounds(t *testing.T) {
	src := []float32{-2, -1, 0, 0.5, 1, 2}
	dst := make([]byte, len(src))
	if err := Quantize(src, dst); err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	want := []int8{-127, -127, 0, 64, 127, 127}
	for i, w := range want {
		if int8(dst[i]) != w {
			t.Fatalf("dst[%d] = %d, want %d", i, int8(dst[i]), w)
		}
	}
}

func TestQuantizeRejectsLengthMismatch(t *testing.T) {
	if err := Quantize([]float32{1, 2}, make([]byte, 3)); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestDequantizeRoundTripWithinQuantizationError(t *testing.T) {
	src := []float32{0.25, -0.5, 0.75, -1}
	i8 := make([]byte, len(src))
	if err := Quantize(src, i8); err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	back := make([]float32, len(src))
	if err := Dequantize(i8, back); err != nil {
		t.Fatalf("Dequantize: %v", err)
	}
	for i := range src {
		if math.Abs(float64(src[i]-back[i])) > 1.0/127 {
			t.Fatalf("component %d: %v round-tripped to %v, error too large", i, src[i], back[i])
		}
	}
}

func TestNormalizeProducesUnitNorm(t *testing.T) {
	v := []float32{3, 4}
	norm := Normalize(v)
	if norm != 5 {
		t.Fatalf("expected original norm 5, got %v", norm)
	}
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if math.Abs(sumSq-1) > 1e-9 {
		t.Fatalf("expected unit norm after normalize, got sumSq=%v", sumSq)
	}
}

func TestNormalizeZeroVectorIsNoop(t *testing.T) {
	v := []float32{0, 0, 0}
	if n := Normalize(v); n != 0 {
		t.Fatalf("expected 0 norm for zero vector, got %v", n)
	}
	for _, f := range v {
		if f != 0 {
			t.Fatalf("expected zero vector to remain zero")
		}
	}
}
