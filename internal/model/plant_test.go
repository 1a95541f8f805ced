package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimeOfDayJSONRoundTrip(t *testing.T) {
	var got TimeOfDay
	if err := json.Unmarshal([]byte(`"06:30"`), &got); err != nil {
		t.Fatal(err)
	}
	if got.Hour != 6 || got.Minute != 30 {
		t.Fatalf("got %v, want 06:30", got)
	}

	b, err := json.Marshal(TimeOfDay{Hour: 22, Minute: 5})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"22:05"` {
		t.Fatalf("got %s, want \"22:05\"", b)
	}
}

func TestParseTimeOfDayRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "25:00", "12:60", "noon"} {
		if _, err := ParseTimeOfDay(s); err == nil {
			t.Errorf("ParseTimeOfDay(%q) accepted invalid input", s)
		}
	}
}

func TestQuietWindowContains(t *testing.T) {
	at := func(h, m int) time.Time {
		return time.Date(2026, 8, 29, h, m, 0, 0, time.UTC)
	}

	overnight := QuietWindow{Start: TimeOfDay{Hour: 22}, End: TimeOfDay{Hour: 6}}
	daytime := QuietWindow{Start: TimeOfDay{Hour: 12}, End: TimeOfDay{Hour: 14}}
	disabled := QuietWindow{Start: TimeOfDay{Hour: 8}, End: TimeOfDay{Hour: 8}}

	cases := []struct {
		name string
		win  QuietWindow
		at   time.Time
		want bool
	}{
		{"overnight before midnight", overnight, at(23, 30), true},
		{"overnight after midnight", overnight, at(5, 59), true},
		{"overnight at start", overnight, at(22, 0), true},
		{"overnight at end", overnight, at(6, 0), false},
		{"overnight midday", overnight, at(12, 0), false},
		{"daytime inside", daytime, at(13, 0), true},
		{"daytime outside", daytime, at(15, 0), false},
		{"equal start and end disabled", disabled, at(8, 0), false},
	}
	for _, tc := range cases {
		if got := tc.win.Contains(tc.at); got != tc.want {
			t.Errorf("%s: Contains=%v, want %v", tc.name, got, tc.want)
		}
	}
}
