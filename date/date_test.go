package date

import (
	"testing"
	"time"
)

// TestTime assert that the time() is cannonical and gives comparable times.
func TestTime(t *testing.T) {
	d1 := New(2025, 7, 31)
	d2 := New(2025, 7, 31)

	if d1.time() != d2.time() {
		// Note that usually time.Time are not comparable (there is a pointer for the timezone) this
		// tests also checks that the property remain true
		t.Errorf("invalid time() function same day gives two different time")
	}
}

func TestDaysBetween(t *testing.T) {
	testCases := []struct {
		name string
		a, b Date
		want int
	}{
		{"same day", New(2025, time.January, 10), New(2025, time.January, 10), 0},
		{"next day", New(2025, time.January, 10), New(2025, time.January, 11), 1},
		{"reversed", New(2025, time.January, 11), New(2025, time.January, 10), 1},
		{"across month", New(2025, time.January, 30), New(2025, time.February, 2), 3},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DaysBetween(tc.a, tc.b); got != tc.want {
				t.Errorf("DaysBetween(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	d, err := Parse("2025-01-10")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := d.String(); got != "2025-01-10" {
		t.Errorf("String() = %q, want %q", got, "2025-01-10")
	}
}
