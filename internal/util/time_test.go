package util

import (
	"testing"
	"time"
)

func TestParseDealDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"Oct 2025", time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)},
		{"October 2025", time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)},
		{"31 Oct 2025", time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC)},
		{"Oct 31, 2025", time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC)},
		{"1st Sept 2024", time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)},
		{"2025-03-14", time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"2025-03-14T18:30:00Z", time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"31 Feb 2025", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"  29 Feb 2024 ", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
	}

	for _, tc := range cases {
		got, err := ParseDealDate(tc.in)
		if err != nil {
			t.Fatalf("ParseDealDate(%q) error: %v", tc.in, err)
		}
		if !got.Equal(tc.want) || got.Location() != time.UTC {
			t.Fatalf("ParseDealDate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseDealDateRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "TBA", "Q3 2025", "Oct", "12 13 2025"} {
		if _, err := ParseDealDate(in); err == nil {
			t.Fatalf("ParseDealDate(%q) expected error", in)
		}
	}
}
