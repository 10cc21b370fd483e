package markethours

import (
	"testing"
	"time"
)

func ist(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, IST)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"mid session", ist(2026, time.August, 26, 11, 0), true},
		{"before open", ist(2026, time.August, 26, 9, 14), false},
		{"exact open", ist(2026, time.August, 26, 9, 15), true},
		{"exact close", ist(2026, time.August, 26, 15, 30), false},
		{"saturday", ist(2026, time.August, 29, 11, 0), false},
		{"holiday independence day", ist(2026, time.August, 15, 11, 0), false},
	}
	for _, tc := range cases {
		if got := IsMarketOpen(tc.t); got != tc.want {
			t.Errorf("%s: IsMarketOpen=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestInSkipWindow(t *testing.T) {
	if !InSkipWindow(ist(2026, time.August, 26, 9, 17), 5) {
		t.Error("9:17 should be inside a 5-minute skip window")
	}
	if InSkipWindow(ist(2026, time.August, 26, 9, 21), 5) {
		t.Error("9:21 should be outside a 5-minute skip window")
	}
	if InSkipWindow(ist(2026, time.August, 26, 9, 17), 0) {
		t.Error("zero skip window should never match")
	}
}

func TestNextOpen_SkipsWeekend(t *testing.T) {
	// Friday after close → Monday open
	next := NextOpen(ist(2026, time.August, 28, 16, 0))
	want := ist(2026, time.August, 31, 9, 15)
	if !next.Equal(want) {
		t.Errorf("NextOpen=%v, want %v", next, want)
	}
}

func TestSessionStartAnchorsBuckets(t *testing.T) {
	open := SessionStart(ist(2026, time.August, 26, 13, 42))
	if open.Hour() != 9 || open.Minute() != 15 {
		t.Errorf("SessionStart=%v, want 09:15 IST", open)
	}
}

func TestTradingDay(t *testing.T) {
	// 00:10 IST on Aug 27 is still Aug 26 in UTC; the ledger key must be IST.
	ts := ist(2026, time.August, 27, 0, 10).UTC()
	if got := TradingDay(ts); got != "2026-08-27" {
		t.Errorf("TradingDay=%q, want 2026-08-27", got)
	}
}
