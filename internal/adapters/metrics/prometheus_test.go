package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jobrunner/tilemerge/internal/ports/output"
)

var _ output.MetricsCollector = (*Collector)(nil)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector("")

	c.IncDownloads("fetched")
	c.IncDownloads("fetched")
	c.IncDownloads("failed")
	c.IncDownloadRetries()
	c.IncMosaics("written")
	c.IncStorageOperations("list", true)
	c.IncStorageOperations("list", false)
	c.SetTasksDiscovered(12)
	c.ObserveMergeDuration(2 * time.Second)
	c.ObserveStorageDuration("download", time.Second)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"fetched", testutil.ToFloat64(c.downloads.WithLabelValues("fetched")), 2},
		{"failed", testutil.ToFloat64(c.downloads.WithLabelValues("failed")), 1},
		{"retries", testutil.ToFloat64(c.downloadRetries), 1},
		{"mosaics", testutil.ToFloat64(c.mosaics.WithLabelValues("written")), 1},
		{"list success", testutil.ToFloat64(c.storageOperations.WithLabelValues("list", "success")), 1},
		{"list error", testutil.ToFloat64(c.storageOperations.WithLabelValues("list", "error")), 1},
		{"tasks", testutil.ToFloat64(c.tasksDiscovered), 12},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollectorIsolatedRegistries(t *testing.T) {
	a := NewCollector("tilemerge")
	b := NewCollector("tilemerge")

	a.IncDownloads("fetched")
	if got := testutil.ToFloat64(b.downloads.WithLabelValues("fetched")); got != 0 {
		t.Errorf("collectors share state: %v", got)
	}
}

func TestCollectorWriteTextfile(t *testing.T) {
	c := NewCollector("tilemerge")
	c.IncMosaics("written")
	c.RecordRun(3*time.Second, true, time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "tilemerge.prom")
	if err := c.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	for _, want := range []string{
		`tilemerge_mosaics_total{outcome="written"} 1`,
		"tilemerge_last_run_success 1",
		"tilemerge_run_duration_seconds 3",
		"tilemerge_last_run_timestamp_seconds 1.7e+09",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}

func TestCollectorPush(t *testing.T) {
	var (
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCollector("tilemerge")
	c.IncDownloads("fetched")

	if err := c.Push(context.Background(), srv.URL, "tilemerge"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if method != http.MethodPut {
		t.Errorf("method = %s, want PUT", method)
	}
	if path != "/metrics/job/tilemerge" {
		t.Errorf("path = %s, want /metrics/job/tilemerge", path)
	}
	if body == "" {
		t.Error("expected a metrics payload")
	}
}

func TestCollectorPushError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := NewCollector("").Push(context.Background(), srv.URL, "tilemerge"); err == nil {
		t.Error("expected error for a failing gateway")
	}
}
