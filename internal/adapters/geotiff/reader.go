package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/tiff/lzw"

	"github.com/jobrunner/tilemerge/internal/domain"
)

// zstd codecs are safe for concurrent EncodeAll and DecodeAll calls.
var (
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil)
	})
)

// layout describes how the pixel data of an image is chunked on disk.
type layout struct {
	compression int
	predictor   int
	planar      int
	samples     int // samples per pixel
	sampleSize  int // bytes per sample
	tiled       bool
	chunkW      int
	chunkH      int
	across      int
	down        int
	offsets     []uint64
	counts      []uint64
}

// Source is an opened GeoTIFF file. The file stays open until Close.
type Source struct {
	f       *os.File
	path    string
	order   binary.ByteOrder
	profile domain.Profile
	layout  layout
}

// Open opens a GeoTIFF and reads its profile. Pixel data is decoded by Read.
func Open(path string) (*Source, error) {
	f, err := os.Open(path) //#nosec G304 -- path comes from a listed tile directory
	if err != nil {
		return nil, err
	}

	src, err := newSource(f, path)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

func newSource(f *os.File, path string) (*Source, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	dir, err := readIFD(f, info.Size())
	if err != nil {
		return nil, err
	}

	profile, err := readProfile(dir)
	if err != nil {
		return nil, err
	}

	l, err := readLayout(dir, profile)
	if err != nil {
		return nil, err
	}

	return &Source{
		f:       f,
		path:    path,
		order:   dir.order,
		profile: profile,
		layout:  l,
	}, nil
}

// Path returns the file the source was opened from.
func (s *Source) Path() string { return s.path }

// Profile returns the geospatial profile of the image.
func (s *Source) Profile() domain.Profile { return s.profile }

// Close closes the underlying file.
func (s *Source) Close() error { return s.f.Close() }

// ifdFormat holds the sizes that differ between classic TIFF and BigTIFF.
type ifdFormat struct {
	big       bool
	countSize int // bytes of the entry count
	entrySize int // bytes of one entry
	inline    int // values up to this size are stored in the entry
}

var (
	classicFormat = ifdFormat{countSize: 2, entrySize: 12, inline: 4}
	bigFormat     = ifdFormat{big: true, countSize: 8, entrySize: 20, inline: 8}
)

// readIFD reads the header and the first image file directory of a classic
// TIFF or a BigTIFF.
func readIFD(r io.ReaderAt, size int64) (*ifd, error) {
	var hdr [16]byte
	if _, err := r.ReadAt(hdr[:8], 0); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", domain.ErrUnsupportedRaster, err)
	}

	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: not a TIFF file", domain.ErrUnsupportedRaster)
	}

	var (
		format ifdFormat
		off    uint64
	)
	switch magic := order.Uint16(hdr[2:]); magic {
	case 42:
		format = classicFormat
		off = uint64(order.Uint32(hdr[4:]))
	case 43:
		if _, err := r.ReadAt(hdr[8:], 8); err != nil {
			return nil, fmt.Errorf("%w: reading BigTIFF header: %v", domain.ErrUnsupportedRaster, err)
		}
		if order.Uint16(hdr[4:]) != 8 || order.Uint16(hdr[6:]) != 0 {
			return nil, fmt.Errorf("%w: BigTIFF offset size %d", domain.ErrUnsupportedRaster, order.Uint16(hdr[4:]))
		}
		format = bigFormat
		off = order.Uint64(hdr[8:])
	default:
		return nil, fmt.Errorf("%w: bad TIFF magic %d", domain.ErrUnsupportedRaster, magic)
	}
	if off < 8 || off >= uint64(size) {
		return nil, fmt.Errorf("%w: IFD offset %d outside file", domain.ErrUnsupportedRaster, off)
	}

	nb := make([]byte, format.countSize)
	if _, err := r.ReadAt(nb, int64(off)); err != nil {
		return nil, fmt.Errorf("%w: reading IFD: %v", domain.ErrUnsupportedRaster, err)
	}
	n := uint64(0)
	if format.big {
		n = order.Uint64(nb)
	} else {
		n = uint64(order.Uint16(nb))
	}
	if n > uint64(size)/uint64(format.entrySize) {
		return nil, fmt.Errorf("%w: IFD overruns file", domain.ErrUnsupportedRaster)
	}

	raw := make([]byte, int(n)*format.entrySize)
	if _, err := r.ReadAt(raw, int64(off)+int64(format.countSize)); err != nil {
		return nil, fmt.Errorf("%w: reading IFD entries: %v", domain.ErrUnsupportedRaster, err)
	}

	dir := &ifd{order: order, fields: make(map[uint16]field, n)}
	for i := 0; i < int(n); i++ {
		e := raw[format.entrySize*i : format.entrySize*(i+1)]
		tag := order.Uint16(e[0:])
		typ := order.Uint16(e[2:])

		var (
			count uint64
			value []byte
		)
		if format.big {
			count, value = order.Uint64(e[4:]), e[12:20]
		} else {
			count, value = uint64(order.Uint32(e[4:])), e[8:12]
		}

		ts := typeSize(typ)
		if ts == 0 {
			continue
		}
		if count > uint64(size)/uint64(ts) {
			return nil, fmt.Errorf("%w: tag %d overruns file", domain.ErrUnsupportedRaster, tag)
		}
		total := uint64(ts) * count

		data := make([]byte, total)
		if total <= uint64(format.inline) {
			copy(data, value[:total])
		} else {
			at := uint64(0)
			if format.big {
				at = order.Uint64(value)
			} else {
				at = uint64(order.Uint32(value))
			}
			if at > uint64(size)-total {
				return nil, fmt.Errorf("%w: tag %d overruns file", domain.ErrUnsupportedRaster, tag)
			}
			if _, err := r.ReadAt(data, int64(at)); err != nil {
				return nil, fmt.Errorf("%w: reading tag %d: %v", domain.ErrUnsupportedRaster, tag, err)
			}
		}
		dir.fields[tag] = field{typ: typ, count: count, data: data}
	}

	return dir, nil
}

// readProfile extracts dimensions, sample type and georeferencing.
func readProfile(dir *ifd) (domain.Profile, error) {
	var p domain.Profile

	width, err := dir.uintOr(tagImageWidth, 0)
	if err != nil {
		return p, err
	}
	height, err := dir.uintOr(tagImageLength, 0)
	if err != nil {
		return p, err
	}
	spp, err := dir.uintOr(tagSamplesPerPixel, 1)
	if err != nil {
		return p, err
	}
	p.Width, p.Height, p.Bands = int(width), int(height), int(spp)

	p.DataType, err = readDataType(dir, p.Bands)
	if err != nil {
		return p, err
	}

	p.Transform, err = readTransform(dir)
	if err != nil {
		return p, err
	}

	p.CRS, err = readCRS(dir)
	if err != nil {
		return p, err
	}

	if s := strings.TrimSpace(dir.ascii(tagGDALNoData)); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return p, fmt.Errorf("%w: bad nodata value %q", domain.ErrUnsupportedRaster, s)
		}
		p.NoData = &v
	}

	return p, p.Validate()
}

// readDataType maps BitsPerSample and SampleFormat onto a data type. Every
// sample must share the same type.
func readDataType(dir *ifd, samples int) (domain.DataType, error) {
	bits, err := dir.uints(tagBitsPerSample)
	if err != nil {
		return domain.DataTypeUnknown, err
	}
	if len(bits) == 0 {
		bits = []uint64{1}
	}
	formats, err := dir.uints(tagSampleFormat)
	if err != nil {
		return domain.DataTypeUnknown, err
	}
	if len(formats) == 0 {
		formats = []uint64{sampleFormatUint}
	}

	for _, b := range bits {
		if b != bits[0] {
			return domain.DataTypeUnknown, fmt.Errorf("%w: mixed bits per sample", domain.ErrUnsupportedRaster)
		}
	}
	for _, f := range formats {
		if f != formats[0] {
			return domain.DataTypeUnknown, fmt.Errorf("%w: mixed sample formats", domain.ErrUnsupportedRaster)
		}
	}
	if len(bits) != 1 && len(bits) != samples {
		return domain.DataTypeUnknown, fmt.Errorf("%w: %d bits per sample values for %d samples",
			domain.ErrUnsupportedRaster, len(bits), samples)
	}

	switch [2]uint64{formats[0], bits[0]} {
	case [2]uint64{sampleFormatUint, 8}:
		return domain.DataTypeUint8, nil
	case [2]uint64{sampleFormatInt, 8}:
		return domain.DataTypeInt8, nil
	case [2]uint64{sampleFormatUint, 16}:
		return domain.DataTypeUint16, nil
	case [2]uint64{sampleFormatInt, 16}:
		return domain.DataTypeInt16, nil
	case [2]uint64{sampleFormatUint, 32}:
		return domain.DataTypeUint32, nil
	case [2]uint64{sampleFormatInt, 32}:
		return domain.DataTypeInt32, nil
	case [2]uint64{sampleFormatFloat, 32}:
		return domain.DataTypeFloat32, nil
	case [2]uint64{sampleFormatFloat, 64}:
		return domain.DataTypeFloat64, nil
	default:
		return domain.DataTypeUnknown, fmt.Errorf("%w: %d-bit samples of format %d",
			domain.ErrUnsupportedRaster, bits[0], formats[0])
	}
}

// readTransform reads a north-up geotransform from the tiepoint and pixel
// scale tags, or from a model transformation without rotation.
func readTransform(dir *ifd) (domain.GeoTransform, error) {
	scale, err := dir.floats(tagModelPixelScale)
	if err != nil {
		return domain.GeoTransform{}, err
	}
	tie, err := dir.floats(tagModelTiepoint)
	if err != nil {
		return domain.GeoTransform{}, err
	}

	if len(scale) >= 2 && len(tie) >= 6 {
		return domain.GeoTransform{
			OriginX:     tie[3] - tie[0]*scale[0],
			OriginY:     tie[4] + tie[1]*scale[1],
			PixelWidth:  scale[0],
			PixelHeight: scale[1],
		}, nil
	}

	m, err := dir.floats(tagModelTransformation)
	if err != nil {
		return domain.GeoTransform{}, err
	}
	if len(m) >= 8 {
		if m[1] != 0 || m[4] != 0 {
			return domain.GeoTransform{}, fmt.Errorf("%w: rotated rasters are not supported", domain.ErrUnsupportedRaster)
		}
		return domain.GeoTransform{
			OriginX:     m[3],
			OriginY:     m[7],
			PixelWidth:  m[0],
			PixelHeight: -m[5],
		}, nil
	}

	return domain.GeoTransform{}, fmt.Errorf("%w: missing georeferencing", domain.ErrUnsupportedRaster)
}

// readCRS keeps the GeoKey directory and resolves its EPSG code.
func readCRS(dir *ifd) (domain.CRS, error) {
	var crs domain.CRS

	keys, err := dir.uints(tagGeoKeyDirectory)
	if err != nil {
		return crs, err
	}
	if len(keys) > 0 {
		crs.Keys = make([]uint16, len(keys))
		for i, k := range keys {
			crs.Keys[i] = uint16(k)
		}
	}

	if crs.Doubles, err = dir.floats(tagGeoDoubleParams); err != nil {
		return crs, err
	}
	crs.ASCII = dir.ascii(tagGeoASCIIParams)
	crs.EPSG = epsgFromKeys(crs.Keys)
	return crs, nil
}

// epsgFromKeys returns the projected, else geographic, EPSG code stored
// inline in a GeoKey directory.
func epsgFromKeys(keys []uint16) int {
	if len(keys) < 4 {
		return 0
	}

	geographic := 0
	n := int(keys[3])
	for i := 0; i < n && 4+4*i+3 < len(keys); i++ {
		k := keys[4+4*i : 4+4*i+4]
		if k[1] != 0 {
			continue
		}
		switch k[0] {
		case keyProjectedType:
			return int(k[3])
		case keyGeographicType:
			geographic = int(k[3])
		}
	}
	return geographic
}

// readLayout reads the chunking and compression of the image.
func readLayout(dir *ifd, p domain.Profile) (layout, error) {
	l := layout{
		samples:    p.Bands,
		sampleSize: p.DataType.Size(),
	}

	compression, err := dir.uintOr(tagCompression, CompressionNone)
	if err != nil {
		return l, err
	}
	switch compression {
	case CompressionNone, CompressionLZW, CompressionDeflate, compressionDeflateOld,
		CompressionPackBits, CompressionZSTD:
		l.compression = int(compression)
	default:
		return l, fmt.Errorf("%w: compression %d", domain.ErrUnsupportedRaster, compression)
	}

	predictor, err := dir.uintOr(tagPredictor, predictorNone)
	if err != nil {
		return l, err
	}
	isFloat := p.DataType == domain.DataTypeFloat32 || p.DataType == domain.DataTypeFloat64
	switch {
	case predictor == predictorNone, predictor == predictorHorizontal:
	case predictor == predictorFloat && isFloat:
	default:
		return l, fmt.Errorf("%w: predictor %d for %s samples", domain.ErrUnsupportedRaster, predictor, p.DataType)
	}
	l.predictor = int(predictor)

	planar, err := dir.uintOr(tagPlanarConfig, planarChunky)
	if err != nil {
		return l, err
	}
	if planar != planarChunky && planar != planarPlanar {
		return l, fmt.Errorf("%w: planar configuration %d", domain.ErrUnsupportedRaster, planar)
	}
	l.planar = int(planar)

	offsetsTag, countsTag := uint16(tagStripOffsets), uint16(tagStripByteCounts)
	if dir.has(tagTileWidth) {
		l.tiled = true
		offsetsTag, countsTag = tagTileOffsets, tagTileByteCounts

		tw, err := dir.uintOr(tagTileWidth, 0)
		if err != nil {
			return l, err
		}
		th, err := dir.uintOr(tagTileLength, 0)
		if err != nil {
			return l, err
		}
		if tw == 0 || th == 0 {
			return l, fmt.Errorf("%w: zero tile size", domain.ErrUnsupportedRaster)
		}
		l.chunkW, l.chunkH = int(tw), int(th)
	} else {
		rps, err := dir.uintOr(tagRowsPerStrip, uint64(p.Height))
		if err != nil {
			return l, err
		}
		if rps == 0 || rps > uint64(p.Height) {
			rps = uint64(p.Height)
		}
		l.chunkW, l.chunkH = p.Width, int(rps)
	}
	l.across = (p.Width + l.chunkW - 1) / l.chunkW
	l.down = (p.Height + l.chunkH - 1) / l.chunkH

	if l.offsets, err = dir.uints(offsetsTag); err != nil {
		return l, err
	}
	if l.counts, err = dir.uints(countsTag); err != nil {
		return l, err
	}

	want := l.across * l.down
	if l.planar == planarPlanar {
		want *= l.samples
	}
	if len(l.offsets) < want || len(l.counts) < want {
		return l, fmt.Errorf("%w: %d chunks listed, %d required",
			domain.ErrUnsupportedRaster, min(len(l.offsets), len(l.counts)), want)
	}

	return l, nil
}

// Read decodes every band of the image.
func (s *Source) Read() (*domain.Raster, error) {
	l := s.layout
	p := s.profile
	r := domain.NewRaster(p, 0)

	planes, perChunk := 1, l.samples
	if l.planar == planarPlanar {
		planes, perChunk = l.samples, 1
	}
	rowBytes := l.chunkW * perChunk * l.sampleSize

	for plane := 0; plane < planes; plane++ {
		for cy := 0; cy < l.down; cy++ {
			rows := l.chunkH
			if !l.tiled {
				rows = min(l.chunkH, p.Height-cy*l.chunkH)
			}

			for cx := 0; cx < l.across; cx++ {
				i := plane*l.across*l.down + cy*l.across + cx
				buf, err := s.readChunk(i, rowBytes*rows)
				if err != nil {
					return nil, fmt.Errorf("%s: chunk %d: %w", s.path, i, err)
				}
				switch l.predictor {
				case predictorHorizontal:
					undoHorizontal(buf, rowBytes, perChunk, l.sampleSize, s.order)
				case predictorFloat:
					undoFloatPredictor(buf, rowBytes, perChunk, l.sampleSize, s.order)
				}

				x0, y0 := cx*l.chunkW, cy*l.chunkH
				for y := 0; y < rows && y0+y < p.Height; y++ {
					for x := 0; x < l.chunkW && x0+x < p.Width; x++ {
						for k := 0; k < perChunk; k++ {
							band := k
							if l.planar == planarPlanar {
								band = plane
							}
							off := y*rowBytes + (x*perChunk+k)*l.sampleSize
							r.Set(band, x0+x, y0+y, decodeSample(buf[off:], p.DataType, s.order))
						}
					}
				}
			}
		}
	}

	return r, nil
}

// readChunk reads and decompresses chunk i into a buffer of size bytes.
func (s *Source) readChunk(i, size int) ([]byte, error) {
	out := make([]byte, size)

	// Sparse chunks have neither offset nor data.
	if s.layout.counts[i] == 0 {
		return out, nil
	}

	raw := make([]byte, s.layout.counts[i])
	if _, err := s.f.ReadAt(raw, int64(s.layout.offsets[i])); err != nil {
		return nil, fmt.Errorf("%w: reading chunk: %v", domain.ErrUnsupportedRaster, err)
	}

	var rc io.ReadCloser
	switch s.layout.compression {
	case CompressionNone:
		if len(raw) < size {
			return nil, fmt.Errorf("%w: short chunk", domain.ErrUnsupportedRaster)
		}
		copy(out, raw)
		return out, nil
	case CompressionPackBits:
		if err := unpackBits(raw, out); err != nil {
			return nil, err
		}
		return out, nil
	case CompressionZSTD:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		data, err := dec.DecodeAll(raw, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: decompressing chunk: %v", domain.ErrUnsupportedRaster, err)
		}
		if len(data) < size {
			return nil, fmt.Errorf("%w: short chunk", domain.ErrUnsupportedRaster)
		}
		copy(out, data)
		return out, nil
	case CompressionLZW:
		rc = lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
	case CompressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedRaster, err)
		}
		rc = zr
	}
	defer func() { _ = rc.Close() }()

	if _, err := io.ReadFull(rc, out); err != nil {
		return nil, fmt.Errorf("%w: decompressing chunk: %v", domain.ErrUnsupportedRaster, err)
	}
	return out, nil
}

// undoHorizontal reverses horizontal differencing in place, row by row.
func undoHorizontal(buf []byte, rowBytes, samples, size int, order binary.ByteOrder) {
	stride := samples * size
	for row := 0; row+rowBytes <= len(buf); row += rowBytes {
		line := buf[row : row+rowBytes]
		switch size {
		case 1:
			for i := stride; i < len(line); i++ {
				line[i] += line[i-stride]
			}
		case 2:
			for i := stride; i+2 <= len(line); i += 2 {
				order.PutUint16(line[i:], order.Uint16(line[i:])+order.Uint16(line[i-stride:]))
			}
		case 4:
			for i := stride; i+4 <= len(line); i += 4 {
				order.PutUint32(line[i:], order.Uint32(line[i:])+order.Uint32(line[i-stride:]))
			}
		case 8:
			for i := stride; i+8 <= len(line); i += 8 {
				order.PutUint64(line[i:], order.Uint64(line[i:])+order.Uint64(line[i-stride:]))
			}
		}
	}
}

// undoFloatPredictor reverses the floating point predictor in place, row
// by row. Each row is byte-wise differenced with a stride of one pixel and
// stored as byte planes, most significant byte first.
func undoFloatPredictor(buf []byte, rowBytes, samples, size int, order binary.ByteOrder) {
	values := rowBytes / size
	tmp := make([]byte, rowBytes)
	for row := 0; row+rowBytes <= len(buf); row += rowBytes {
		line := buf[row : row+rowBytes]
		for i := samples; i < len(line); i++ {
			line[i] += line[i-samples]
		}

		copy(tmp, line)
		for i := 0; i < values; i++ {
			for b := 0; b < size; b++ {
				v := tmp[b*values+i]
				if order == binary.BigEndian {
					line[i*size+b] = v
				} else {
					line[i*size+size-1-b] = v
				}
			}
		}
	}
}

// unpackBits decodes PackBits run-length data until out is full.
func unpackBits(raw, out []byte) error {
	n := 0
	for i := 0; i < len(raw) && n < len(out); {
		c := int8(raw[i])
		i++
		switch {
		case c >= 0:
			k := int(c) + 1
			if i+k > len(raw) {
				return fmt.Errorf("%w: truncated PackBits literal", domain.ErrUnsupportedRaster)
			}
			n += copy(out[n:], raw[i:i+k])
			i += k
		case c != -128:
			if i >= len(raw) {
				return fmt.Errorf("%w: truncated PackBits run", domain.ErrUnsupportedRaster)
			}
			for k := 1 - int(c); k > 0 && n < len(out); k-- {
				out[n] = raw[i]
				n++
			}
			i++
		}
	}
	if n < len(out) {
		return fmt.Errorf("%w: short chunk", domain.ErrUnsupportedRaster)
	}
	return nil
}

// decodeSample decodes one sample at the start of b.
func decodeSample(b []byte, dt domain.DataType, order binary.ByteOrder) float64 {
	switch dt {
	case domain.DataTypeUint8:
		return float64(b[0])
	case domain.DataTypeInt8:
		return float64(int8(b[0]))
	case domain.DataTypeUint16:
		return float64(order.Uint16(b))
	case domain.DataTypeInt16:
		return float64(int16(order.Uint16(b)))
	case domain.DataTypeUint32:
		return float64(order.Uint32(b))
	case domain.DataTypeInt32:
		return float64(int32(order.Uint32(b)))
	case domain.DataTypeFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case domain.DataTypeFloat64:
		return math.Float64frombits(order.Uint64(b))
	default:
		return 0
	}
}
