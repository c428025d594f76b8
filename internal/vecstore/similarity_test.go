package vecstore

import (
	"math"
	"testing"
)

func Test_Cosine_SelfSimilarityIsOne(t *testing.T) {
	t.Parallel()
	vectors := [][]float32{
		{1, 0, 0},
		{0.3, -0.7, 0.2},
		{5, 5, 5, 5},
	}
	for _, v := range vectors {
		if got := Cosine(v, v); math.Abs(got-1) > 1e-9 {
			t.Errorf("cosine(v, v) for %v: want 1, got %v", v, got)
		}
	}
}

func Test_Cosine_ZeroVectorIsZeroNotNaN(t *testing.T) {
	t.Parallel()
	zero := []float32{0, 0, 0}
	v := []float32{1, 2, 3}

	if got := Cosine(zero, v); got != 0 {
		t.Errorf("cosine(zero, v): want 0, got %v", got)
	}
	if got := Cosine(zero, zero); got != 0 {
		t.Errorf("cosine(zero, zero): want 0, got %v", got)
	}
	if math.IsNaN(Cosine(zero, v)) {
		t.Errorf("cosine with zero vector must never be NaN")
	}
}

func Test_Cosine_MismatchedLengthsYieldZero(t *testing.T) {
	t.Parallel()
	if got := Cosine([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("mismatched lengths: want 0, got %v", got)
	}
	if got := Cosine(nil, nil); got != 0 {
		t.Errorf("empty vectors: want 0, got %v", got)
	}
}

func Test_Cosine_OrthogonalAndOpposite(t *testing.T) {
	t.Parallel()
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal: want 0, got %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Errorf("opposite: want -1, got %v", got)
	}
}

func Test_Normalize_CollapsesCaseAndWhitespace(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want string
	}{
		{"  Camera   App\tCrashes ", "camera app crashes"},
		{"already normal", "already normal"},
		{"\n\n", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("normalize(%q): want %q, got %q", tc.in, tc.want, got)
		}
	}
}

func Test_HashText_StableAndNormalizationInvariant(t *testing.T) {
	t.Parallel()
	a := HashText("Camera app crashes")
	b := HashText("  camera   APP crashes ")
	if a != b {
		t.Errorf("hash should be invariant under normalisation: %s vs %s", a, b)
	}
	if a != HashText("Camera app crashes") {
		t.Errorf("hash should be stable across repeated calls")
	}
	if a == HashText("different text entirely") {
		t.Errorf("distinct texts should not collide")
	}
}
