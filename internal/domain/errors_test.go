package domain

import (
	"errors"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:      "years",
		Value:      []int{2022, 2021},
		Constraint: "start_year <= end_year",
		Message:    "start year is after end year",
	}

	// Test Error() output
	got := err.Error()
	if got == "" {
		t.Error("Error() should not return empty string")
	}

	// Test Unwrap()
	if !errors.Is(err, ErrInvalidJob) {
		t.Error("ValidationError should unwrap to ErrInvalidJob")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should unwrap to ErrInvalidInput")
	}
}

func TestInvalidMonthNameError(t *testing.T) {
	err := &InvalidMonthNameError{Name: "Marzo"}

	if got := err.Error(); got != `invalid month name "Marzo"` {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrInvalidMonthName) {
		t.Error("InvalidMonthNameError should unwrap to ErrInvalidMonthName")
	}
}

func TestWrappingErrors(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
	}{
		{"discovery", &DiscoveryError{Prefix: "32Q/2021/March/composites/", Err: cause}},
		{"download", &DownloadError{Key: "32Q/2021/March/composites/indexes/ndvi.tif", Path: "/tmp/x", Attempts: 3, Err: cause}},
		{"storage with key", &StorageError{Operation: "download", Key: "a.tif", Err: cause}},
		{"storage without key", &StorageError{Operation: "list", Err: cause}},
		{"merge", &MergeError{Dir: "/tmp/2021/NDVI/03", Err: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() == "" {
				t.Error("Error() should not return empty string")
			}

			// Test Unwrap
			if !errors.Is(tt.err, cause) {
				t.Error("Unwrap should return the underlying error")
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{
		Field:   "storage.bucket",
		Message: "bucket is required",
	}

	got := err.Error()
	if got == "" {
		t.Error("Error() should not return empty string")
	}

	// Test Unwrap
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ConfigError should unwrap to ErrInvalidInput")
	}
}

func TestSentinelErrors(t *testing.T) {
	// Test that specific errors wrap base errors correctly
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"ErrInvalidMonthName", ErrInvalidMonthName, ErrInvalidInput},
		{"ErrInvalidJob", ErrInvalidJob, ErrInvalidInput},
		{"ErrIncompatibleTiles", ErrIncompatibleTiles, ErrInvalidInput},
		{"ErrUnsupportedRaster", ErrUnsupportedRaster, ErrUnsupported},
		{"ErrObjectNotFound", ErrObjectNotFound, ErrNotFound},
		{"ErrStorageUnavailable", ErrStorageUnavailable, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.wantErr) {
				t.Errorf("%s should wrap %v", tt.name, tt.wantErr)
			}
		})
	}
}
