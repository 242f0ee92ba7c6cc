package kernel

import (
	"math/rand"
	"testing"
)

func randI8Vec(r *rand.Rand, n int) []byte {
	v := make([]byte, n)
	r.Read(v)
	return v
}

func TestL2SqMatchesScalarOnAlignedLength(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	a := randI8Vec(r, 128)
	b := randI8Vec(r, 128)

	got := L2SqI8(a, b)
	want := L2SqI8Scalar(a, b)
	if got != want {
		t.Fatalf("L2SqI8 = %d, scalar = %d", got, want)
	}
}

func TestL2SqMatchesScalarWithTail(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for _, n := range []int{1, 3, 15, 17, 31, 100, 133} {
		a := randI8Vec(r, n)
		b := randI8Vec(r, n)
		got := L2SqI8(a, b)
		want := L2SqI8Scalar(a, b)
		if got != want {
			t.Fatalf("dim=%d: L2SqI8 = %d, scalar = %d", n, got, want)
		}
	}
}

func TestDotMatchesScalar(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for _, n := range []int{4, 16, 17, 100} {
		a := randI8Vec(r, n)
		b := randI8Vec(r, n)
		got := DotI8(a, b)
		want := DotI8Scalar(a, b)
		if got != want {
			t.Fatalf("dim=%d: DotI8 = %d, scalar = %d", n, got, want)
		}
	}
}

func TestL2SqZeroForIdenticalVectors(t *testing.T) {
	a := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if d := L2SqI8(a, a); d != 0 {
		t.Fatalf("expected 0 distance for identical vectors, got %d", d)
	}
}

func TestL2SqKnownValue(t *testing.T) {
	a := []byte{byte(int8(127)), 0, 0, 0}
	b := []byte{0, byte(int8(127)), 0, 0}
	// (127-0)^2 + (0-127)^2 = 16129 + 16129
	if d := L2SqI8(a, b); d != 32258 {
		t.Fatalf("expected 32258, got %d", d)
	}
}

func TestNoOverflowAtMaxSafeDimension(t *testing.T) {
	n := 1000
	a := make([]byte, n)
	b := make([]byte, n)
	neg := int8(-127)
	for i := range a {
		a[i] = byte(int8(127))
		b[i] = byte(neg)
	}
	got := L2SqI8(a, b)
	want := int32(n) * (254 * 254)
	if got != want {
		t.Fatalf("got %d want %d", got, want)
	}
}
