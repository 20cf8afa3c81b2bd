package application

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jobrunner/tilemerge/internal/domain"
	"github.com/jobrunner/tilemerge/internal/ports/output"
)

func newTestMerger(codec output.RasterCodec) *Merger {
	return NewMerger(codec, domain.MergeLast, &output.NoOpMetrics{}, testLogger())
}

func TestListTiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.tif", "a.tif", "notes.txt", "c.tif.part", "NDVI_2021_03.tif"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.tif"), 0750); err != nil {
		t.Fatal(err)
	}

	tiles, err := ListTiles(dir, filepath.Join(dir, "NDVI_2021_03.tif"))
	if err != nil {
		t.Fatalf("ListTiles() error = %v", err)
	}

	want := []string{filepath.Join(dir, "a.tif"), filepath.Join(dir, "b.tif")}
	if len(tiles) != len(want) {
		t.Fatalf("ListTiles() = %v, want %v", tiles, want)
	}
	for i := range want {
		if tiles[i] != want[i] {
			t.Errorf("tile %d = %s, want %s", i, tiles[i], want[i])
		}
	}

	// An exclude path in another directory excludes nothing.
	tiles, err = ListTiles(dir, filepath.Join(t.TempDir(), "NDVI_2021_03.tif"))
	if err != nil {
		t.Fatalf("ListTiles() error = %v", err)
	}
	if len(tiles) != 3 {
		t.Errorf("expected 3 tiles, got %v", tiles)
	}
}

func TestListTilesSkipsInterruptedWrites(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"32Q_ndvi.tif", ".tilemerge-123456.tif", ".tilemerge-654321.tmp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	tiles, err := ListTiles(dir, "")
	if err != nil {
		t.Fatalf("ListTiles() error = %v", err)
	}
	if len(tiles) != 1 || tiles[0] != filepath.Join(dir, "32Q_ndvi.tif") {
		t.Errorf("ListTiles() = %v, want only 32Q_ndvi.tif", tiles)
	}
}

func TestMerger_MergeDirEmpty(t *testing.T) {
	dir := t.TempDir()
	codec := newMockCodec()
	out := filepath.Join(dir, "out.tif")

	n, err := newTestMerger(codec).MergeDir(context.Background(), dir, out)
	if err != nil {
		t.Fatalf("MergeDir() error = %v", err)
	}
	if n != 0 {
		t.Errorf("MergeDir() = %d tiles, want 0 for an empty directory", n)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output should not exist")
	}
}

func TestMerger_MergeDirMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")

	_, err := newTestMerger(newMockCodec()).MergeDir(context.Background(), dir, filepath.Join(dir, "out.tif"))
	var mergeErr *domain.MergeError
	if !errors.As(err, &mergeErr) {
		t.Errorf("expected MergeError, got %v", err)
	}
}

func TestMerger_Precedence(t *testing.T) {
	tests := []struct {
		name  string
		first string // file name of the tile with value 1
		want  float64
	}{
		{"later file wins", "a.tif", 2},
		{"earlier file loses", "b.tif", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			second := "b.tif"
			if tt.first == "b.tif" {
				second = "a.tif"
			}
			// Two 4x4 tiles overlapping in a 2x2 square.
			writeTile(t, filepath.Join(dir, tt.first), 0, 40, 4, 4, 1)
			writeTile(t, filepath.Join(dir, second), 20, 20, 4, 4, 2)

			codec := newMockCodec()
			out := filepath.Join(dir, "out.tif")
			n, err := newTestMerger(codec).MergeDir(context.Background(), dir, out)
			if err != nil {
				t.Fatalf("MergeDir() error = %v", err)
			}
			if n != 2 {
				t.Fatalf("MergeDir() = %d tiles, want 2", n)
			}

			merged := codec.written[out]
			if merged == nil {
				t.Fatal("mosaic was not written")
			}
			if merged.Width != 6 || merged.Height != 6 {
				t.Fatalf("size = %dx%d, want 6x6", merged.Width, merged.Height)
			}
			// Pixel (2, 2) lies in the overlap.
			if got := merged.At(0, 2, 2); got != tt.want {
				t.Errorf("overlap = %f, want %f", got, tt.want)
			}
			// Pixel (0, 0) is covered only by the tile at (0, 40).
			if got := merged.At(0, 0, 0); got != 1 {
				t.Errorf("pixel (0, 0) = %f, want 1", got)
			}
		})
	}
}

func TestMerger_ExcludesPreviousMosaic(t *testing.T) {
	root := t.TempDir()
	group := domain.MosaicGroup{Year: 2021, Index: "NDVI", MonthNumber: "03"}
	dir := group.Dir(root)
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatal(err)
	}
	writeTile(t, filepath.Join(dir, "32Q_ndvi.tif"), 0, 20, 2, 2, 1)

	codec := newMockCodec()
	merger := newTestMerger(codec)

	for run := 1; run <= 2; run++ {
		mosaic, err := merger.MergeGroup(context.Background(), root, group)
		if err != nil {
			t.Fatalf("run %d: MergeGroup() error = %v", run, err)
		}
		if mosaic == nil {
			t.Fatalf("run %d: expected a mosaic", run)
		}
		if mosaic.Path != group.OutputPath(root) {
			t.Errorf("run %d: path = %s, want %s", run, mosaic.Path, group.OutputPath(root))
		}
		if mosaic.Tiles != 1 {
			t.Errorf("run %d: tiles = %d, want 1", run, mosaic.Tiles)
		}
	}
}

func TestMerger_MergeGroupEmpty(t *testing.T) {
	root := t.TempDir()
	group := domain.MosaicGroup{Year: 2021, Index: "NDVI", MonthNumber: "03"}
	if err := os.MkdirAll(group.Dir(root), 0750); err != nil {
		t.Fatal(err)
	}

	mosaic, err := newTestMerger(newMockCodec()).MergeGroup(context.Background(), root, group)
	if err != nil {
		t.Fatalf("MergeGroup() error = %v", err)
	}
	if mosaic != nil {
		t.Errorf("expected no mosaic, got %+v", mosaic)
	}
}

func TestMerger_ClosesTilesOnFailure(t *testing.T) {
	t.Run("write error", func(t *testing.T) {
		dir := t.TempDir()
		writeTile(t, filepath.Join(dir, "a.tif"), 0, 20, 2, 2, 1)
		writeTile(t, filepath.Join(dir, "b.tif"), 20, 20, 2, 2, 2)

		codec := newMockCodec()
		codec.writeErr = errors.New("disk full")

		_, err := newTestMerger(codec).MergeDir(context.Background(), dir, filepath.Join(dir, "out.tif"))
		if err == nil {
			t.Fatal("expected error")
		}
		var mergeErr *domain.MergeError
		if !errors.As(err, &mergeErr) {
			t.Errorf("expected MergeError, got %T", err)
		}
		if len(codec.opened) != 2 || len(codec.closed) != 2 {
			t.Errorf("opened %d, closed %d; want 2 and 2", len(codec.opened), len(codec.closed))
		}
	})

	t.Run("unreadable tile", func(t *testing.T) {
		dir := t.TempDir()
		writeTile(t, filepath.Join(dir, "a.tif"), 0, 20, 2, 2, 1)
		if err := os.WriteFile(filepath.Join(dir, "b.tif"), []byte("garbage"), 0600); err != nil {
			t.Fatal(err)
		}

		codec := newMockCodec()
		_, err := newTestMerger(codec).MergeDir(context.Background(), dir, filepath.Join(dir, "out.tif"))
		if !errors.Is(err, domain.ErrUnsupportedRaster) {
			t.Errorf("expected ErrUnsupportedRaster, got %v", err)
		}
		if len(codec.opened) != 1 || len(codec.closed) != 1 {
			t.Errorf("opened %d, closed %d; want 1 and 1", len(codec.opened), len(codec.closed))
		}
		if len(codec.written) != 0 {
			t.Error("no mosaic should be written")
		}
	})
}

func TestMerger_WarnsOnMixedCRS(t *testing.T) {
	dir := t.TempDir()
	writeTile(t, filepath.Join(dir, "32Q_ndvi.tif"), 0, 20, 2, 2, 1)
	writeTile(t, filepath.Join(dir, "33Q_ndvi.tif"), 20, 20, 2, 2, 2)

	codec := newMockCodec()
	codec.epsg = map[string]int{"33Q_ndvi.tif": 32633}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	merger := NewMerger(codec, domain.MergeLast, &output.NoOpMetrics{}, logger)

	n, err := merger.MergeDir(context.Background(), dir, filepath.Join(dir, "out.tif"))
	if err != nil {
		t.Fatalf("MergeDir() error = %v", err)
	}
	if n != 2 {
		t.Errorf("MergeDir() = %d tiles, want 2", n)
	}
	if !strings.Contains(buf.String(), "different coordinate reference systems") ||
		!strings.Contains(buf.String(), "32633") {
		t.Errorf("expected a CRS warning, got %q", buf.String())
	}

	// Tiles sharing one CRS stay silent.
	buf.Reset()
	codec.epsg = nil
	if _, err := merger.MergeDir(context.Background(), dir, filepath.Join(dir, "out.tif")); err != nil {
		t.Fatalf("MergeDir() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected warning: %q", buf.String())
	}
}
