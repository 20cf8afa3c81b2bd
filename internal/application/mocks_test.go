package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/jobrunner/tilemerge/internal/domain"
	"github.com/jobrunner/tilemerge/internal/ports/output"
)

// testLogger returns a logger that only reports errors.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockStorage implements output.ObjectStorage for testing. Object contents
// are kept in memory and written verbatim to the download destination.
type mockStorage struct {
	mu sync.Mutex

	objects     map[string]string // key -> content
	listErr     map[string]error  // prefix -> error
	downloadErr map[string]error  // key -> permanent error
	transient   map[string]int    // key -> number of failing attempts before success

	lists   []string
	fetches map[string]int
}

func newMockStorage(objects map[string]string) *mockStorage {
	return &mockStorage{
		objects:     objects,
		listErr:     make(map[string]error),
		downloadErr: make(map[string]error),
		transient:   make(map[string]int),
		fetches:     make(map[string]int),
	}
}

func (m *mockStorage) List(_ context.Context, prefix string, _ bool) ([]domain.RemoteObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lists = append(m.lists, prefix)
	if err, ok := m.listErr[prefix]; ok {
		return nil, err
	}

	var objects []domain.RemoteObject
	for key, content := range m.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, domain.RemoteObject{Key: key, Size: int64(len(content))})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	m.mu.Lock()
	m.fetches[key]++
	attempt := m.fetches[key]
	err := m.downloadErr[key]
	failing := m.transient[key]
	content, ok := m.objects[key]
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if attempt <= failing {
		return fmt.Errorf("transient failure %d", attempt)
	}
	if !ok {
		return domain.ErrObjectNotFound
	}
	return os.WriteFile(dest, []byte(content), 0600)
}

func (m *mockStorage) fetchCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[key]
}

func (m *mockStorage) totalFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.fetches {
		n += c
	}
	return n
}

// tileContent encodes a uniform single-band tile understood by mockCodec:
// upper-left corner, size in pixels and sample value.
func tileContent(x, y float64, w, h int, v float64) string {
	return fmt.Sprintf("%g %g %d %d %g", x, y, w, h, v)
}

// writeTile writes a tile file understood by mockCodec.
func writeTile(t *testing.T, path string, x, y float64, w, h int, v float64) {
	t.Helper()
	if err := os.WriteFile(path, []byte(tileContent(x, y, w, h, v)), 0600); err != nil {
		t.Fatalf("failed to write tile: %v", err)
	}
}

// mockCodec implements output.RasterCodec over the text format of
// tileContent. Written rasters are kept in memory; the file on disk only
// holds a marker that Open rejects.
type mockCodec struct {
	mu sync.Mutex

	writeErr error
	epsg     map[string]int // EPSG override by file name
	opened   []string
	closed   []string
	written  map[string]*domain.Raster
}

func newMockCodec() *mockCodec {
	return &mockCodec{written: make(map[string]*domain.Raster)}
}

func (c *mockCodec) Open(path string) (output.RasterSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var (
		x, y, v float64
		w, h    int
	)
	if _, err := fmt.Sscanf(string(data), "%g %g %d %d %g", &x, &y, &w, &h, &v); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedRaster, path)
	}

	c.mu.Lock()
	c.opened = append(c.opened, path)
	c.mu.Unlock()

	r := uniformRaster(x, y, w, h, v)
	if code, ok := c.epsg[filepath.Base(path)]; ok {
		r.CRS.EPSG = code
	}
	return &mockSource{codec: c, path: path, raster: r}, nil
}

func (c *mockCodec) Write(path string, r *domain.Raster) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	if err := os.WriteFile(path, []byte("mosaic"), 0600); err != nil {
		return err
	}
	c.mu.Lock()
	c.written[path] = r
	c.mu.Unlock()
	return nil
}

type mockSource struct {
	codec  *mockCodec
	path   string
	raster *domain.Raster
}

func (s *mockSource) Path() string { return s.path }

func (s *mockSource) Profile() domain.Profile { return s.raster.Profile }

func (s *mockSource) Read() (*domain.Raster, error) { return s.raster, nil }

func (s *mockSource) Close() error {
	s.codec.mu.Lock()
	s.codec.closed = append(s.codec.closed, s.path)
	s.codec.mu.Unlock()
	return nil
}

// uniformRaster returns a single-band raster of w x h pixels of size 10 with
// its upper-left corner at (x, y) and every sample set to v.
func uniformRaster(x, y float64, w, h int, v float64) *domain.Raster {
	return domain.NewRaster(domain.Profile{
		Width:    w,
		Height:   h,
		Bands:    1,
		DataType: domain.DataTypeFloat32,
		Transform: domain.GeoTransform{
			OriginX:     x,
			OriginY:     y,
			PixelWidth:  10,
			PixelHeight: 10,
		},
		CRS: domain.CRS{EPSG: 32632},
	}, v)
}

// mockLedger implements output.RunLedger and records every call.
type mockLedger struct {
	mu sync.Mutex

	started   []string
	downloads map[string][]domain.DownloadResult
	mosaics   map[string][]domain.Mosaic
	finished  []*domain.Run
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		downloads: make(map[string][]domain.DownloadResult),
		mosaics:   make(map[string][]domain.Mosaic),
	}
}

func (l *mockLedger) StartRun(_ context.Context, run *domain.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, run.ID)
	return nil
}

func (l *mockLedger) RecordDownloads(_ context.Context, runID string, results []domain.DownloadResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.downloads[runID] = append(l.downloads[runID], results...)
	return nil
}

func (l *mockLedger) RecordMosaic(_ context.Context, runID string, mosaic domain.Mosaic) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mosaics[runID] = append(l.mosaics[runID], mosaic)
	return nil
}

func (l *mockLedger) FinishRun(_ context.Context, run *domain.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, run)
	return nil
}
