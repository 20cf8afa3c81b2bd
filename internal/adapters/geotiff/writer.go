package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/jobrunner/tilemerge/internal/domain"
)

// stripSize is the target uncompressed size of one strip.
const stripSize = 64 << 10

// Options control how rasters are written.
type Options struct {
	Compression int // CompressionNone, CompressionDeflate or CompressionZSTD
	Level       int // Deflate level, zlib.DefaultCompression if zero
}

// ParseCompression maps a compression name onto a writable scheme.
func ParseCompression(name string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "deflate":
		return CompressionDeflate, nil
	case "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("%w: compression %q (want none, deflate or zstd)", domain.ErrInvalidInput, name)
	}
}

// tempPattern names the in-progress mosaic. It must not carry the tile
// extension so an interrupted write is never listed as an input tile.
const tempPattern = ".tilemerge-*.tmp"

// Write encodes r as a striped, pixel-interleaved GeoTIFF. The file is
// written next to path and renamed into place.
func Write(path string, r *domain.Raster, opts Options) error {
	data, err := Encode(r, opts)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), tempPattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil { //#nosec G302 -- mosaics are shared outputs
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Encode returns the little-endian GeoTIFF encoding of r.
func Encode(r *domain.Raster, opts Options) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if len(r.Data) != r.Bands {
		return nil, fmt.Errorf("%w: %d bands declared, %d present", domain.ErrUnsupportedRaster, r.Bands, len(r.Data))
	}
	if opts.Compression == 0 {
		opts.Compression = CompressionDeflate
	}
	switch opts.Compression {
	case CompressionNone, CompressionDeflate, CompressionZSTD:
	default:
		return nil, fmt.Errorf("%w: cannot write compression %d", domain.ErrUnsupportedRaster, opts.Compression)
	}
	if opts.Level == 0 {
		opts.Level = zlib.DefaultCompression
	}

	order := binary.LittleEndian
	size := r.DataType.Size()
	rowBytes := r.Width * r.Bands * size
	rps := max(1, min(r.Height, stripSize/rowBytes))
	strips := (r.Height + rps - 1) / rps

	chunks := make([][]byte, strips)
	counts := make([]uint32, strips)
	for s := 0; s < strips; s++ {
		y0 := s * rps
		rows := min(rps, r.Height-y0)

		raw := make([]byte, rows*rowBytes)
		for y := 0; y < rows; y++ {
			for x := 0; x < r.Width; x++ {
				for b := 0; b < r.Bands; b++ {
					off := y*rowBytes + (x*r.Bands+b)*size
					encodeSample(raw[off:], r.At(b, x, y0+y), r.DataType, order)
				}
			}
		}

		chunk, err := compress(raw, opts)
		if err != nil {
			return nil, err
		}
		chunks[s] = chunk
		counts[s] = uint32(len(chunk))
	}

	bits := make([]uint16, r.Bands)
	formats := make([]uint16, r.Bands)
	for b := range bits {
		bits[b] = uint16(size * 8)
		formats[b] = sampleFormat(r.DataType)
	}

	entries := []entry{
		longEntry(order, tagImageWidth, uint32(r.Width)),
		longEntry(order, tagImageLength, uint32(r.Height)),
		shortEntry(order, tagBitsPerSample, bits...),
		shortEntry(order, tagCompression, uint16(opts.Compression)),
		shortEntry(order, tagPhotometric, 1),
		longEntry(order, tagStripOffsets, make([]uint32, strips)...),
		shortEntry(order, tagSamplesPerPixel, uint16(r.Bands)),
		longEntry(order, tagRowsPerStrip, uint32(rps)),
		longEntry(order, tagStripByteCounts, counts...),
		shortEntry(order, tagPlanarConfig, planarChunky),
		shortEntry(order, tagSampleFormat, formats...),
		doubleEntry(order, tagModelPixelScale, r.Transform.PixelWidth, r.Transform.PixelHeight, 0),
		doubleEntry(order, tagModelTiepoint, 0, 0, 0, r.Transform.OriginX, r.Transform.OriginY, 0),
	}
	if r.Bands > 1 {
		entries = append(entries, shortEntry(order, tagExtraSamples, make([]uint16, r.Bands-1)...))
	}
	if keys := geoKeys(r.CRS); len(keys) > 0 {
		entries = append(entries, shortEntry(order, tagGeoKeyDirectory, keys...))
	}
	if len(r.CRS.Doubles) > 0 {
		entries = append(entries, doubleEntry(order, tagGeoDoubleParams, r.CRS.Doubles...))
	}
	if r.CRS.ASCII != "" {
		entries = append(entries, asciiEntry(tagGeoASCIIParams, r.CRS.ASCII))
	}
	if r.NoData != nil {
		entries = append(entries, asciiEntry(tagGDALNoData, formatNoData(*r.NoData)))
	}

	return encodeFile(order, entries, tagStripOffsets, chunks)
}

func compress(raw []byte, opts Options) ([]byte, error) {
	switch opts.Compression {
	case CompressionNone:
		return raw, nil
	case CompressionZSTD:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(raw, nil), nil
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, opts.Level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// geoKeys returns the GeoKey directory to write. A directory read from a
// source file is kept verbatim; otherwise one is built from the EPSG code.
func geoKeys(crs domain.CRS) []uint16 {
	if len(crs.Keys) > 0 {
		return crs.Keys
	}
	if crs.EPSG <= 0 || crs.EPSG > math.MaxUint16 {
		return nil
	}

	model, key := uint16(modelTypeProjected), uint16(keyProjectedType)
	if crs.EPSG >= 4000 && crs.EPSG < 5000 {
		model, key = modelTypeGeographic, keyGeographicType
	}
	return []uint16{
		1, 1, 0, 3,
		keyModelType, 0, 1, model,
		keyRasterType, 0, 1, rasterPixelIsArea,
		key, 0, 1, uint16(crs.EPSG),
	}
}

func sampleFormat(dt domain.DataType) uint16 {
	switch dt {
	case domain.DataTypeInt8, domain.DataTypeInt16, domain.DataTypeInt32:
		return sampleFormatInt
	case domain.DataTypeFloat32, domain.DataTypeFloat64:
		return sampleFormatFloat
	default:
		return sampleFormatUint
	}
}

func formatNoData(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// encodeSample writes v at the start of b. Integer types are rounded and
// clamped to their range; NaN becomes zero.
func encodeSample(b []byte, v float64, dt domain.DataType, order binary.ByteOrder) {
	switch dt {
	case domain.DataTypeUint8:
		b[0] = uint8(clampInt(v, 0, math.MaxUint8))
	case domain.DataTypeInt8:
		b[0] = uint8(int8(clampInt(v, math.MinInt8, math.MaxInt8)))
	case domain.DataTypeUint16:
		order.PutUint16(b, uint16(clampInt(v, 0, math.MaxUint16)))
	case domain.DataTypeInt16:
		order.PutUint16(b, uint16(int16(clampInt(v, math.MinInt16, math.MaxInt16))))
	case domain.DataTypeUint32:
		order.PutUint32(b, uint32(clampInt(v, 0, math.MaxUint32)))
	case domain.DataTypeInt32:
		order.PutUint32(b, uint32(int32(clampInt(v, math.MinInt32, math.MaxInt32))))
	case domain.DataTypeFloat32:
		order.PutUint32(b, math.Float32bits(float32(v)))
	case domain.DataTypeFloat64:
		order.PutUint64(b, math.Float64bits(v))
	}
}

func clampInt(v, lo, hi float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return int64(v)
}
