package retrieval

import (
	"testing"
	"time"
)

func Test_ClampScore_Bounds(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{0.99, 0.99},
		{1.0, 0.99},
		{7.3, 0.99},
	}
	for _, tc := range cases {
		if got := clampScore(tc.in); got != tc.want {
			t.Errorf("clamp(%v): want %v, got %v", tc.in, tc.want, got)
		}
	}
}

func Test_GroupKey_PriorityOrder(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		meta map[string]string
		want string
	}{
		{"file wins over everything", map[string]string{"file": "a.xlsx", "module": "Camera"}, "file:a.xlsx"},
		{"filename before filePath", map[string]string{"filename": "b.csv", "filePath": "/x/b.csv"}, "filename:b.csv"},
		{"filePath before function", map[string]string{"filePath": "/x", "function": "f"}, "filePath:/x"},
		{"function before module", map[string]string{"function": "f", "module": "Camera"}, "function:f"},
		{"module alone", map[string]string{"module": "Camera"}, "module:Camera"},
		{"no grouping fields", map[string]string{"mode": "discovery"}, ""},
		{"empty values skipped", map[string]string{"file": "", "module": "Camera"}, "module:Camera"},
	}
	for _, tc := range cases {
		if got := groupKey(tc.meta); got != tc.want {
			t.Errorf("%s: want %q, got %q", tc.name, tc.want, got)
		}
	}
}

func Test_ProfileByName(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"", "default", "code_focused", "analytics_focused"} {
		if _, err := profileByName(name); err != nil {
			t.Errorf("profile %q should resolve: %v", name, err)
		}
	}
	if _, err := profileByName("speed"); err == nil {
		t.Errorf("unknown profile must fail")
	}
}

func Test_RecencyFactor(t *testing.T) {
	t.Parallel()
	r := newTestRetriever(t, &fakeSearcher{}, nil)
	now := time.Now()

	// Fresh records score ~1, zero timestamps score exactly 0.
	if got := r.recencyFactor(now, now); got < 0.99 {
		t.Errorf("fresh record: want ~1, got %v", got)
	}
	if got := r.recencyFactor(time.Time{}, now); got != 0 {
		t.Errorf("zero timestamp: want 0, got %v", got)
	}

	// Decay is monotone in age.
	young := r.recencyFactor(now.Add(-24*time.Hour), now)
	old := r.recencyFactor(now.Add(-90*24*time.Hour), now)
	if young <= old {
		t.Errorf("decay must be monotone: 1d %v vs 90d %v", young, old)
	}

	// Disabled recency always scores 0.
	disabled := newTestRetriever(t, &fakeSearcher{}, &Config{DisableRecency: true})
	if got := disabled.recencyFactor(now, now); got != 0 {
		t.Errorf("disabled recency: want 0, got %v", got)
	}
}

func Test_RecencyFactor_StableWithinADay(t *testing.T) {
	t.Parallel()
	r := newTestRetriever(t, &fakeSearcher{}, nil)
	created := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// Clock movement within the same age day must not change the factor;
	// crossing a day boundary may.
	morning := r.recencyFactor(created, created.Add(2*time.Hour))
	evening := r.recencyFactor(created, created.Add(23*time.Hour))
	if morning != evening {
		t.Errorf("factor drifted within one day: %v vs %v", morning, evening)
	}
	nextDay := r.recencyFactor(created, created.Add(25*time.Hour))
	if nextDay >= morning {
		t.Errorf("factor must decay across day boundaries: %v vs %v", nextDay, morning)
	}
}
