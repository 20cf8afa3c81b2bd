package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jobrunner/tilemerge/internal/domain"
)

func TestLoadJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	content := `
zones: [32Q, " 33Q "]
years: [2020, 2021]
indexes: [ndvi, EVI]
months: [November, February]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write job: %v", err)
	}

	job, err := LoadJob(path)
	if err != nil {
		t.Fatalf("LoadJob() error = %v", err)
	}

	want := domain.Job{
		Zones:      []string{"32Q", "33Q"},
		StartYear:  2020,
		EndYear:    2021,
		Indexes:    []string{"NDVI", "EVI"},
		StartMonth: "November",
		EndMonth:   "February",
	}
	if !reflect.DeepEqual(job, want) {
		t.Errorf("LoadJob() = %+v, want %+v", job, want)
	}
}

func TestParseJobErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"empty", "", domain.ErrInvalidJob},
		{"unknown key", "zones: [32Q]\ntiles: 3\n", domain.ErrInvalidJob},
		{"year not a number", "zones: [32Q]\nyears: [soon, 2021]\nindexes: [NDVI]\nmonths: [March, March]\n", domain.ErrInvalidJob},
		{"single year", "zones: [32Q]\nyears: [2021]\nindexes: [NDVI]\nmonths: [March, March]\n", domain.ErrInvalidJob},
		{"no zones", "years: [2021, 2021]\nindexes: [NDVI]\nmonths: [March, March]\n", domain.ErrInvalidJob},
		{"bad month", "zones: [32Q]\nyears: [2021, 2021]\nindexes: [NDVI]\nmonths: [Marsh, April]\n", domain.ErrInvalidMonthName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJob([]byte(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseJob() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Error("job errors must wrap ErrInvalidInput")
			}
		})
	}
}

func TestLoadJobMissingFile(t *testing.T) {
	_, err := LoadJob(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}
