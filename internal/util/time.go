package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// ParseDealDate normalizes the loose date text shown on the listing into a
// UTC midnight timestamp. Accepted shapes:
//
//	"Oct 2025", "October 2025"          -> first of month
//	"31 Oct 2025", "Oct 31, 2025"        -> that day
//	"2025-10-31", RFC 3339
//
// A day that does not exist in the named month ("31 Feb 2025") falls back to
// the first of that month.
func ParseDealDate(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return truncateDay(t.UTC()), nil
		}
	}

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '-' || r == '/'
	})

	var (
		month    time.Month
		year     int
		day      int
		hasMonth bool
	)
	for _, tok := range tokens {
		if m, ok := monthNames[tok]; ok {
			month, hasMonth = m, true
			continue
		}
		tok = strings.TrimRight(tok, "stndrh") // 1st, 2nd, 3rd, 4th
		n, err := strconv.Atoi(tok)
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognized date token %q in %q", tok, text)
		}
		switch {
		case n >= 1000:
			year = n
		case day == 0:
			day = n
		default:
			return time.Time{}, fmt.Errorf("ambiguous date %q", text)
		}
	}

	if !hasMonth || year == 0 {
		return time.Time{}, fmt.Errorf("unparseable date %q", text)
	}
	if day < 1 || day > DaysIn(month, year) {
		day = 1
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

// DaysIn returns the number of days in month of year.
func DaysIn(month time.Month, year int) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDay renders a round date the way logs and the dry-run table show it.
func FormatDay(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}
