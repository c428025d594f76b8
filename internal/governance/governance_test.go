package governance

import (
	"errors"
	"testing"
)

func Test_Profile_DiscoveryOverrides(t *testing.T) {
	t.Parallel()
	p := NewProfile(ModeDiscovery)

	cases := []struct {
		op   Operation
		want float64
	}{
		{OpReuseRow, 0.97},
		{OpClusterLabel, 0.80},
		{OpMergeLabel, 0.90},
		// Operations without a discovery override fall through to base.
		{OpSemanticRelated, 0.70},
		{OpCacheSimilarity, 0.92},
	}
	for _, tc := range cases {
		got, err := p.Threshold(tc.op)
		if err != nil {
			t.Fatalf("threshold %s: %v", tc.op, err)
		}
		if got != tc.want {
			t.Errorf("threshold %s: want %v, got %v", tc.op, tc.want, got)
		}
	}
}

func Test_Profile_RestrictedOverrides(t *testing.T) {
	t.Parallel()
	p := NewProfile(ModeRestricted)

	cases := []struct {
		op   Operation
		want float64
	}{
		{OpReuseRow, 0.93},
		{OpClusterLabel, 0.90},
		{OpMergeLabel, 0.75},
	}
	for _, tc := range cases {
		got, err := p.Threshold(tc.op)
		if err != nil {
			t.Fatalf("threshold %s: %v", tc.op, err)
		}
		if got != tc.want {
			t.Errorf("threshold %s: want %v, got %v", tc.op, tc.want, got)
		}
	}
}

func Test_Profile_HybridUsesBaseUnmodified(t *testing.T) {
	t.Parallel()
	hybrid := NewProfile(ModeHybrid)
	unknownMode := NewProfile(ProcessingMode("legacy"))

	for op, want := range baseThresholds {
		for _, p := range []*ThresholdProfile{hybrid, unknownMode} {
			got, err := p.Threshold(op)
			if err != nil {
				t.Fatalf("threshold %s: %v", op, err)
			}
			if got != want {
				t.Errorf("mode %s threshold %s: want %v, got %v", p.Mode(), op, want, got)
			}
		}
	}
}

func Test_Profile_UnknownOperationFailsFast(t *testing.T) {
	t.Parallel()
	p := NewProfile(ModeDiscovery)

	if _, err := p.Threshold(Operation("REUSE_ROWS")); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("want ErrUnknownOperation, got %v", err)
	}
	if _, err := p.Validate(Operation("nope"), 0.99); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("validate: want ErrUnknownOperation, got %v", err)
	}
}

func Test_Profile_Validate(t *testing.T) {
	t.Parallel()
	p := NewProfile(ModeDiscovery)

	ok, err := p.Validate(OpReuseRow, 0.97)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !ok {
		t.Errorf("0.97 should meet the 0.97 discovery reuse threshold")
	}

	ok, err = p.Validate(OpReuseRow, 0.969)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok {
		t.Errorf("0.969 should not meet the 0.97 discovery reuse threshold")
	}
}

func Test_Profile_ThresholdsAreIsolatedPerProfile(t *testing.T) {
	t.Parallel()
	a := NewProfile(ModeDiscovery)
	b := NewProfile(ModeRestricted)

	av, _ := a.Threshold(OpReuseRow)
	bv, _ := b.Threshold(OpReuseRow)
	if av == bv {
		t.Fatalf("profiles should resolve independently: discovery %v restricted %v", av, bv)
	}
}
