// Package geotiff reads and writes single-image GeoTIFF rasters.
package geotiff

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/jobrunner/tilemerge/internal/domain"
)

// TIFF tags.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagExtraSamples    = 338
	tagSampleFormat    = 339

	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoASCIIParams      = 34737
	tagGDALNoData          = 42113
)

// Compression schemes.
const (
	CompressionNone       = 1
	CompressionLZW        = 5
	CompressionDeflate    = 8
	CompressionPackBits   = 32773
	CompressionZSTD       = 50000
	compressionDeflateOld = 32946
)

const (
	predictorNone       = 1
	predictorHorizontal = 2
	predictorFloat      = 3

	planarChunky = 1
	planarPlanar = 2

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// GeoKeys.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsArea   = 1
)

// TIFF field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
	typeIFD       = 13
	typeLong8     = 16 // BigTIFF
	typeSLong8    = 17
	typeIFD8      = 18
)

// typeSize returns the size in bytes of one value of a field type.
func typeSize(typ uint16) int {
	switch typ {
	case typeByte, typeASCII, typeSByte, typeUndefined:
		return 1
	case typeShort, typeSShort:
		return 2
	case typeLong, typeSLong, typeFloat, typeIFD:
		return 4
	case typeRational, typeSRational, typeDouble, typeLong8, typeSLong8, typeIFD8:
		return 8
	default:
		return 0
	}
}

// field is one IFD entry with its value bytes loaded.
type field struct {
	typ   uint16
	count uint64
	data  []byte
}

// ifd is a decoded image file directory.
type ifd struct {
	order  binary.ByteOrder
	fields map[uint16]field
}

func (d *ifd) has(tag uint16) bool {
	_, ok := d.fields[tag]
	return ok
}

// uints returns an integer field as unsigned values.
func (d *ifd) uints(tag uint16) ([]uint64, error) {
	f, ok := d.fields[tag]
	if !ok {
		return nil, nil
	}

	out := make([]uint64, f.count)
	for i := range out {
		switch f.typ {
		case typeByte, typeUndefined:
			out[i] = uint64(f.data[i])
		case typeShort:
			out[i] = uint64(d.order.Uint16(f.data[2*i:]))
		case typeLong, typeIFD:
			out[i] = uint64(d.order.Uint32(f.data[4*i:]))
		case typeLong8, typeIFD8:
			out[i] = d.order.Uint64(f.data[8*i:])
		default:
			return nil, fmt.Errorf("%w: tag %d has non-integer type %d", domain.ErrUnsupportedRaster, tag, f.typ)
		}
	}
	return out, nil
}

// uintOr returns the first value of an integer field, or def if absent.
func (d *ifd) uintOr(tag uint16, def uint64) (uint64, error) {
	vs, err := d.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(vs) == 0 {
		return def, nil
	}
	return vs[0], nil
}

// floats returns a DOUBLE or FLOAT field.
func (d *ifd) floats(tag uint16) ([]float64, error) {
	f, ok := d.fields[tag]
	if !ok {
		return nil, nil
	}

	out := make([]float64, f.count)
	for i := range out {
		switch f.typ {
		case typeDouble:
			out[i] = math.Float64frombits(d.order.Uint64(f.data[8*i:]))
		case typeFloat:
			out[i] = float64(math.Float32frombits(d.order.Uint32(f.data[4*i:])))
		default:
			return nil, fmt.Errorf("%w: tag %d has non-float type %d", domain.ErrUnsupportedRaster, tag, f.typ)
		}
	}
	return out, nil
}

// ascii returns an ASCII field without its NUL terminator.
func (d *ifd) ascii(tag uint16) string {
	f, ok := d.fields[tag]
	if !ok || f.typ != typeASCII {
		return ""
	}
	b := f.data
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}

// entry is an IFD entry to be encoded.
type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shortEntry(order binary.ByteOrder, tag uint16, vs ...uint16) entry {
	data := make([]byte, 2*len(vs))
	for i, v := range vs {
		order.PutUint16(data[2*i:], v)
	}
	return entry{tag: tag, typ: typeShort, count: uint32(len(vs)), data: data}
}

func longEntry(order binary.ByteOrder, tag uint16, vs ...uint32) entry {
	data := make([]byte, 4*len(vs))
	for i, v := range vs {
		order.PutUint32(data[4*i:], v)
	}
	return entry{tag: tag, typ: typeLong, count: uint32(len(vs)), data: data}
}

func doubleEntry(order binary.ByteOrder, tag uint16, vs ...float64) entry {
	data := make([]byte, 8*len(vs))
	for i, v := range vs {
		order.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return entry{tag: tag, typ: typeDouble, count: uint32(len(vs)), data: data}
}

func asciiEntry(tag uint16, s string) entry {
	data := append([]byte(s), 0)
	return entry{tag: tag, typ: typeASCII, count: uint32(len(data)), data: data}
}

// encodeFile lays out a classic TIFF with a single IFD: header, IFD,
// out-of-line values, then chunk data. The entry tagged offsetsTag receives
// the chunk offsets.
func encodeFile(order binary.ByteOrder, entries []entry, offsetsTag uint16, chunks [][]byte) ([]byte, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdSize := 2 + 12*len(entries) + 4
	pos := 8 + ifdSize

	// Out-of-line value offsets, word aligned.
	valueOffsets := make([]int, len(entries))
	for i, e := range entries {
		if len(e.data) <= 4 {
			continue
		}
		pos += pos & 1
		valueOffsets[i] = pos
		pos += len(e.data)
	}

	offsets := make([]uint32, len(chunks))
	for i, c := range chunks {
		pos += pos & 1
		if uint64(pos) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: file exceeds 4 GiB", domain.ErrUnsupportedRaster)
		}
		offsets[i] = uint32(pos)
		pos += len(c)
	}
	if uint64(pos) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: file exceeds 4 GiB", domain.ErrUnsupportedRaster)
	}

	for i := range entries {
		if entries[i].tag == offsetsTag {
			entries[i] = longEntry(order, offsetsTag, offsets...)
		}
	}

	buf := make([]byte, pos)
	if order == binary.BigEndian {
		copy(buf, "MM")
	} else {
		copy(buf, "II")
	}
	order.PutUint16(buf[2:], 42)
	order.PutUint32(buf[4:], 8)

	p := 8
	order.PutUint16(buf[p:], uint16(len(entries)))
	p += 2
	for i, e := range entries {
		order.PutUint16(buf[p:], e.tag)
		order.PutUint16(buf[p+2:], e.typ)
		order.PutUint32(buf[p+4:], e.count)
		if len(e.data) <= 4 {
			copy(buf[p+8:p+12], e.data)
		} else {
			order.PutUint32(buf[p+8:], uint32(valueOffsets[i]))
			copy(buf[valueOffsets[i]:], e.data)
		}
		p += 12
	}
	// Next IFD offset stays zero.

	for i, c := range chunks {
		copy(buf[offsets[i]:], c)
	}
	return buf, nil
}
