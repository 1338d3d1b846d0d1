package plan

import (
	"testing"
)

func TestParseGroupID_RoundTrip(t *testing.T) {
	group := NewGroupID("main", "AAPL")

	profile, symbol, ok := ParseGroupID(group)
	if !ok {
		t.Fatalf("expected %q to parse", group)
	}
	if profile != "main" || symbol != "AAPL" {
		t.Errorf("got profile=%q symbol=%q", profile, symbol)
	}
}

func TestParseGroupID_ProfileWithUnderscores(t *testing.T) {
	group := NewGroupID("desk_a_swing", "MSFT")

	profile, symbol, ok := ParseGroupID(group)
	if !ok {
		t.Fatalf("expected %q to parse", group)
	}
	if profile != "desk_a_swing" || symbol != "MSFT" {
		t.Errorf("got profile=%q symbol=%q", profile, symbol)
	}
}

func TestParseGroupID_Foreign(t *testing.T) {
	for _, group := range []string{
		"",
		"AAPL",
		"OCA_x",
		"manual_main_AAPL_1700000000_ab12cd34",
	} {
		if _, _, ok := ParseGroupID(group); ok {
			t.Errorf("expected %q to be rejected", group)
		}
	}
}
