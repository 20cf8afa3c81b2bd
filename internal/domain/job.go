package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Job is the parameter set of one mosaic run.
type Job struct {
	Zones      []string // UTM zone identifiers, e.g. "32Q"
	StartYear  int
	EndYear    int
	Indexes    []string // Index names, upper-cased
	StartMonth string   // Canonical month name
	EndMonth   string   // Canonical month name
}

// ParseJob builds a job from the string form used on the command line:
// a [start, end] year pair and a [start, end] month-name pair.
func ParseJob(zones, years, indexes, months []string) (Job, error) {
	if len(years) != 2 {
		return Job{}, &ValidationError{
			Field:      "years",
			Value:      years,
			Constraint: "[start_year, end_year]",
			Message:    "exactly two years are required",
		}
	}
	if len(months) != 2 {
		return Job{}, &ValidationError{
			Field:      "months",
			Value:      months,
			Constraint: "[start_month, end_month]",
			Message:    "exactly two month names are required",
		}
	}

	startYear, err := parseYear(years[0])
	if err != nil {
		return Job{}, err
	}
	endYear, err := parseYear(years[1])
	if err != nil {
		return Job{}, err
	}

	job := Job{
		Zones:      zones,
		StartYear:  startYear,
		EndYear:    endYear,
		Indexes:    indexes,
		StartMonth: strings.TrimSpace(months[0]),
		EndMonth:   strings.TrimSpace(months[1]),
	}
	job.Normalize()

	return job, job.Validate()
}

func parseYear(s string) (int, error) {
	year, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || year < 1 {
		return 0, &ValidationError{
			Field:      "years",
			Value:      s,
			Constraint: "positive integer",
			Message:    "year must be a positive integer",
		}
	}
	return year, nil
}

// Normalize trims zones and upper-cases index names, dropping empty entries.
func (j *Job) Normalize() {
	zones := make([]string, 0, len(j.Zones))
	for _, z := range j.Zones {
		if z = strings.TrimSpace(z); z != "" {
			zones = append(zones, z)
		}
	}
	j.Zones = zones

	indexes := make([]string, 0, len(j.Indexes))
	for _, idx := range j.Indexes {
		if idx = strings.ToUpper(strings.TrimSpace(idx)); idx != "" {
			indexes = append(indexes, idx)
		}
	}
	j.Indexes = indexes
}

// MaxYearSpan bounds the number of years a single job may cover.
const MaxYearSpan = 100

// Validate checks the job for structural errors and unknown month names.
func (j Job) Validate() error {
	if len(j.Zones) == 0 {
		return &ValidationError{
			Field:      "zones",
			Value:      j.Zones,
			Constraint: "non-empty",
			Message:    "at least one zone is required",
		}
	}
	if len(j.Indexes) == 0 {
		return &ValidationError{
			Field:      "indexes",
			Value:      j.Indexes,
			Constraint: "non-empty",
			Message:    "at least one index is required",
		}
	}
	if j.StartYear > j.EndYear {
		return &ValidationError{
			Field:      "years",
			Value:      []int{j.StartYear, j.EndYear},
			Constraint: "start_year <= end_year",
			Message:    "start year is after end year",
		}
	}
	if j.EndYear-j.StartYear >= MaxYearSpan {
		return &ValidationError{
			Field:      "years",
			Value:      []int{j.StartYear, j.EndYear},
			Constraint: fmt.Sprintf("at most %d years", MaxYearSpan),
			Message:    "year range is too long",
		}
	}
	if _, err := MonthNumber(j.StartMonth); err != nil {
		return err
	}
	if _, err := MonthNumber(j.EndMonth); err != nil {
		return err
	}
	return nil
}

// Years returns every year of the job's range in ascending order.
func (j Job) Years() []int {
	years := make([]int, 0, j.EndYear-j.StartYear+1)
	for y := j.StartYear; y <= j.EndYear; y++ {
		years = append(years, y)
	}
	return years
}

// Months returns the months of year covered by the job.
func (j Job) Months(year int) ([]string, error) {
	return MonthsForYear(year, j.StartYear, j.StartMonth, j.EndYear, j.EndMonth)
}

// WantsIndex reports whether the upper-cased index name was requested.
func (j Job) WantsIndex(index string) bool {
	for _, idx := range j.Indexes {
		if idx == index {
			return true
		}
	}
	return false
}
