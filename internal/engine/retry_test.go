package engine

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}.withDefaults()
	want := []time.Duration{10, 20, 40, 50, 50}
	for attempt, w := range want {
		if got := calculateBackoff(attempt, cfg); got != w*time.Millisecond {
			t.Fatalf("attempt %d: got %s want %s", attempt, got, w*time.Millisecond)
		}
	}
}

func TestResolveStartHeight(t *testing.T) {
	cases := []struct {
		start   string
		safe    uint64
		want    uint64
		wantErr bool
	}{
		{start: "", safe: 100, want: 0},
		{start: "0", safe: 100, want: 0},
		{start: "42", safe: 100, want: 42},
		{start: "latest-10", safe: 100, want: 90},
		{start: "latest-500", safe: 100, want: 0},
		{start: "latest-x", safe: 100, wantErr: true},
		{start: "soon", safe: 100, wantErr: true},
	}
	for _, tc := range cases {
		got, err := resolveStartHeight(tc.start, tc.safe)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.start)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %d err=%v want %d", tc.start, got, err, tc.want)
		}
	}
}
