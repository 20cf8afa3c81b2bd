package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseJob(t *testing.T) {
	job, err := ParseJob(
		[]string{"32Q", " 33Q ", ""},
		[]string{"2020", "2021"},
		[]string{"ndvi", "Ndwi"},
		[]string{"November", "February"},
	)
	if err != nil {
		t.Fatalf("ParseJob() error = %v", err)
	}

	if !reflect.DeepEqual(job.Zones, []string{"32Q", "33Q"}) {
		t.Errorf("Zones = %v", job.Zones)
	}
	if !reflect.DeepEqual(job.Indexes, []string{"NDVI", "NDWI"}) {
		t.Errorf("Indexes = %v", job.Indexes)
	}
	if job.StartYear != 2020 || job.EndYear != 2021 {
		t.Errorf("years = %d..%d, want 2020..2021", job.StartYear, job.EndYear)
	}
	if !reflect.DeepEqual(job.Years(), []int{2020, 2021}) {
		t.Errorf("Years() = %v", job.Years())
	}

	months, err := job.Months(2020)
	if err != nil {
		t.Fatalf("Months() error = %v", err)
	}
	if !reflect.DeepEqual(months, []string{"November", "December"}) {
		t.Errorf("Months(2020) = %v", months)
	}

	if !job.WantsIndex("NDVI") || job.WantsIndex("ndvi") || job.WantsIndex("EVI") {
		t.Error("WantsIndex() must match upper-cased requested indexes only")
	}
}

func TestParseJobErrors(t *testing.T) {
	tests := []struct {
		name    string
		zones   []string
		years   []string
		indexes []string
		months  []string
		wantErr error
	}{
		{"no zones", nil, []string{"2021", "2021"}, []string{"NDVI"}, []string{"March", "March"}, ErrInvalidJob},
		{"no indexes", []string{"32Q"}, []string{"2021", "2021"}, []string{" "}, []string{"March", "March"}, ErrInvalidJob},
		{"one year", []string{"32Q"}, []string{"2021"}, []string{"NDVI"}, []string{"March", "March"}, ErrInvalidJob},
		{"bad year", []string{"32Q"}, []string{"20x1", "2021"}, []string{"NDVI"}, []string{"March", "March"}, ErrInvalidJob},
		{"inverted years", []string{"32Q"}, []string{"2022", "2021"}, []string{"NDVI"}, []string{"March", "March"}, ErrInvalidJob},
		{"year span too long", []string{"32Q"}, []string{"1", "999999999"}, []string{"NDVI"}, []string{"March", "March"}, ErrInvalidJob},
		{"three months", []string{"32Q"}, []string{"2021", "2021"}, []string{"NDVI"}, []string{"March", "April", "May"}, ErrInvalidJob},
		{"bad month", []string{"32Q"}, []string{"2021", "2021"}, []string{"NDVI"}, []string{"Marzo", "March"}, ErrInvalidMonthName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJob(tt.zones, tt.years, tt.indexes, tt.months)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("all job errors should wrap ErrInvalidInput, got %v", err)
			}
		})
	}
}
