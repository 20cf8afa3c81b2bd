// Package domain contains the core entities of the tile mosaic job.
package domain

import "fmt"

// Months lists the canonical English month names in calendar order.
var Months = [12]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// monthIndex returns the zero-based calendar position of a month name.
func monthIndex(name string) (int, error) {
	for i, m := range Months {
		if m == name {
			return i, nil
		}
	}
	return -1, &InvalidMonthNameError{Name: name}
}

// MonthNumber converts a canonical month name to its two-digit number
// ("January" -> "01").
func MonthNumber(name string) (string, error) {
	i, err := monthIndex(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d", i+1), nil
}

// MonthsForYear returns the months of year that fall inside the range
// startYear/startMonth .. endYear/endMonth, in calendar order.
//
// Both month names are validated even when the year does not need them, so
// a bad range fails on the first year evaluated.
func MonthsForYear(year, startYear int, startMonth string, endYear int, endMonth string) ([]string, error) {
	from, err := monthIndex(startMonth)
	if err != nil {
		return nil, err
	}
	to, err := monthIndex(endMonth)
	if err != nil {
		return nil, err
	}

	lo, hi := 0, len(Months)-1
	if year == startYear {
		lo = from
	}
	if year == endYear {
		hi = to
	}
	if lo > hi {
		return []string{}, nil
	}

	months := make([]string, 0, hi-lo+1)
	months = append(months, Months[lo:hi+1]...)
	return months, nil
}
