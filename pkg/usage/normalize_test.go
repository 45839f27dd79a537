package usage

import "testing"

func TestFromRemaining(t *testing.T) {
	tests := []struct {
		remaining float64
		want      float64
	}{
		{0.73, 27},  // fraction
		{1.0, 0},    // full fraction remaining
		{0, 100},    // nothing left
		{42, 58},    // percent form
		{100, 0},    // percent, all remaining
		{150, 0},    // over-reported remaining clamps to 0 used
		{-5, 100},   // negative remaining means exhausted
		{0.25, 75},
	}
	for _, tt := range tests {
		if got := FromRemaining(tt.remaining); got != tt.want {
			t.Errorf("FromRemaining(%v) = %v; want %v", tt.remaining, got, tt.want)
		}
	}
}

func TestFromUsedLimit(t *testing.T) {
	tests := []struct {
		used, limit float64
		want        float64
	}{
		{50, 100, 50},
		{1, 4, 25},
		{0, 0, 0},   // zero limit never divides
		{10, 0, 0},  // zero limit never divides
		{10, -1, 0}, // negative limit treated as zero
		{200, 100, 100},
	}
	for _, tt := range tests {
		if got := FromUsedLimit(tt.used, tt.limit); got != tt.want {
			t.Errorf("FromUsedLimit(%v, %v) = %v; want %v", tt.used, tt.limit, got, tt.want)
		}
	}
}

func TestFromPercent_Clamps(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-10, 0},
		{0, 0},
		{55.5, 55.5},
		{100, 100},
		{180, 100},
	}
	for _, tt := range tests {
		if got := FromPercent(tt.in); got != tt.want {
			t.Errorf("FromPercent(%v) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestSelectWindows_PreferredLabelFirst(t *testing.T) {
	candidates := []RateWindow{
		{Label: "requests", UsedPercent: 90},
		{Label: "five_hour", UsedPercent: 10},
		{Label: "tokens", UsedPercent: 50},
	}
	p, s, tert := SelectWindows(candidates, "five_hour")
	if p == nil || p.Label != "five_hour" {
		t.Fatalf("primary = %+v; want five_hour", p)
	}
	if s == nil || s.Label != "requests" {
		t.Errorf("secondary = %+v; want requests (least remaining)", s)
	}
	if tert == nil || tert.Label != "tokens" {
		t.Errorf("tertiary = %+v; want tokens", tert)
	}
}

func TestSelectWindows_LeastRemainingOrder(t *testing.T) {
	candidates := []RateWindow{
		{Label: "a", UsedPercent: 20},
		{Label: "b", UsedPercent: 80},
		{Label: "c", UsedPercent: 50},
		{Label: "d", UsedPercent: 95},
	}
	p, s, tert := SelectWindows(candidates)
	if p.Label != "d" || s.Label != "b" || tert.Label != "c" {
		t.Errorf("got %s/%s/%s; want d/b/c", p.Label, s.Label, tert.Label)
	}
}

func TestSelectWindows_RawRemainingBeatsPercent(t *testing.T) {
	// 2 calls left out of 30 is more urgent than 100 left out of
	// 50000, even though the big pool is a higher fraction used.
	candidates := []RateWindow{
		{Label: "search", UsedPercent: FromUsedLimit(28, 30), Remaining: 2},
		{Label: "integration", UsedPercent: FromUsedLimit(49900, 50000), Remaining: 100},
	}
	p, s, _ := SelectWindows(candidates)
	if p == nil || p.Label != "search" {
		t.Fatalf("primary = %+v; want search (2 remaining)", p)
	}
	if s == nil || s.Label != "integration" {
		t.Errorf("secondary = %+v; want integration", s)
	}
}

func TestSelectWindows_FewerThanThree(t *testing.T) {
	p, s, tert := SelectWindows([]RateWindow{{Label: "only", UsedPercent: 5}})
	if p == nil || p.Label != "only" {
		t.Fatalf("primary = %+v; want only", p)
	}
	if s != nil || tert != nil {
		t.Errorf("expected nil secondary/tertiary, got %+v/%+v", s, tert)
	}
	p, s, tert = SelectWindows(nil)
	if p != nil || s != nil || tert != nil {
		t.Errorf("expected all nil for empty candidates")
	}
}
