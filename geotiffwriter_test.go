package topodata

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"math"
	"slices"
	"testing"
	"testing/fstest"

	"github.com/alecthomas/assert/v2"
	"github.com/klauspost/compress/zlib"
)

// A geoTIFFFixture describes a single band GeoTIFF to be written by bytes.
type geoTIFFFixture struct {
	samples       [][]float64 // Rows of samples.
	sampleFormat  uint16
	bitsPerSample uint16
	originX       float64
	originY       float64
	resX          float64
	resY          float64
	epsg          int
	pixelIsPoint  bool
	noData        string
	tileSize      int // Zero for strips.
	rowsPerStrip  int
	compression   uint16
	predictor     uint16
	bigEndian     bool
}

type tiffEntry struct {
	tag   uint16
	typ   uint16
	count int
	value []byte
}

const (
	tiffTypeASCII  = 2
	tiffTypeShort  = 3
	tiffTypeLong   = 4
	tiffTypeDouble = 12
)

// bytes returns f encoded as a classic TIFF.
func (f geoTIFFFixture) bytes(t *testing.T) []byte {
	t.Helper()

	var byteOrder binary.ByteOrder = binary.LittleEndian
	byteOrderMark := "II"
	if f.bigEndian {
		byteOrder = binary.BigEndian
		byteOrderMark = "MM"
	}
	sampleFormat := cmp.Or(f.sampleFormat, sampleFormatFloat)
	bitsPerSample := cmp.Or(f.bitsPerSample, 32)
	compression := cmp.Or(f.compression, compressionNone)
	predictor := cmp.Or(f.predictor, predictorNone)

	height := len(f.samples)
	width := len(f.samples[0])
	blockWidth, blockLength := width, cmp.Or(f.rowsPerStrip, height)
	if f.tileSize != 0 {
		blockWidth, blockLength = f.tileSize, f.tileSize
	}
	blocksAcross := (width + blockWidth - 1) / blockWidth
	blocksDown := (height + blockLength - 1) / blockLength

	data := []byte(byteOrderMark)
	data = byteOrder.AppendUint16(data, 42)
	data = byteOrder.AppendUint32(data, 0) // Patched below.

	var blockOffsets, blockByteCounts []uint32
	for r := range blocksDown {
		for c := range blocksAcross {
			rows := blockLength
			if f.tileSize == 0 {
				rows = min(blockLength, height-r*blockLength)
			}
			var block []byte
			for y := range rows {
				values := make([]float64, blockWidth)
				for x := range blockWidth {
					if row, col := r*blockLength+y, c*blockWidth+x; row < height && col < width {
						values[x] = f.samples[row][col]
					}
				}
				if predictor == predictorHorizontal {
					for x := blockWidth - 1; x > 0; x-- {
						values[x] -= values[x-1]
					}
				}
				for _, value := range values {
					block = appendSample(block, byteOrder, sampleFormat, bitsPerSample, value)
				}
			}
			if compression == compressionDeflate {
				var buffer bytes.Buffer
				w := zlib.NewWriter(&buffer)
				_, err := w.Write(block)
				assert.NoError(t, err)
				assert.NoError(t, w.Close())
				block = buffer.Bytes()
			}
			blockOffsets = append(blockOffsets, uint32(len(data)))
			blockByteCounts = append(blockByteCounts, uint32(len(block)))
			data = append(data, block...)
		}
	}
	if len(data)%2 != 0 {
		data = append(data, 0)
	}

	shorts := func(values ...uint16) []byte {
		var b []byte
		for _, value := range values {
			b = byteOrder.AppendUint16(b, value)
		}
		return b
	}
	longs := func(values ...uint32) []byte {
		var b []byte
		for _, value := range values {
			b = byteOrder.AppendUint32(b, value)
		}
		return b
	}
	doubles := func(values ...float64) []byte {
		var b []byte
		for _, value := range values {
			b = byteOrder.AppendUint64(b, math.Float64bits(value))
		}
		return b
	}

	rasterType := uint16(RasterPixelIsArea)
	tiepointX, tiepointY := f.originX, f.originY
	if f.pixelIsPoint {
		rasterType = RasterPixelIsPoint
		tiepointX += f.resX / 2
		tiepointY -= f.resY / 2
	}
	geoKeys := []uint16{1, 1, 0, 2, uint16(GeoKeyGTModelType), 0, 1, 1, uint16(GeoKeyGTRasterType), 0, 1, rasterType}
	switch {
	case f.epsg == WGS84LatLonEPSG:
		geoKeys[7] = 2
		geoKeys = append(geoKeys, uint16(GeoKeyGeodeticCRS), 0, 1, uint16(f.epsg))
		geoKeys[3]++
	case f.epsg != 0:
		geoKeys = append(geoKeys, uint16(GeoKeyProjectedCRS), 0, 1, uint16(f.epsg))
		geoKeys[3]++
	}

	entries := []tiffEntry{
		{256, tiffTypeLong, 1, longs(uint32(width))},
		{257, tiffTypeLong, 1, longs(uint32(height))},
		{258, tiffTypeShort, 1, shorts(bitsPerSample)},
		{259, tiffTypeShort, 1, shorts(compression)},
		{262, tiffTypeShort, 1, shorts(1)},
		{277, tiffTypeShort, 1, shorts(1)},
		{284, tiffTypeShort, 1, shorts(planarConfigurationChunky)},
		{317, tiffTypeShort, 1, shorts(predictor)},
		{339, tiffTypeShort, 1, shorts(sampleFormat)},
		{33550, tiffTypeDouble, 3, doubles(f.resX, f.resY, 0)},
		{33922, tiffTypeDouble, 6, doubles(0, 0, 0, tiepointX, tiepointY, 0)},
		{34735, tiffTypeShort, len(geoKeys), shorts(geoKeys...)},
	}
	if f.tileSize != 0 {
		entries = append(entries,
			tiffEntry{322, tiffTypeLong, 1, longs(uint32(blockWidth))},
			tiffEntry{323, tiffTypeLong, 1, longs(uint32(blockLength))},
			tiffEntry{324, tiffTypeLong, len(blockOffsets), longs(blockOffsets...)},
			tiffEntry{325, tiffTypeLong, len(blockByteCounts), longs(blockByteCounts...)},
		)
	} else {
		entries = append(entries,
			tiffEntry{273, tiffTypeLong, len(blockOffsets), longs(blockOffsets...)},
			tiffEntry{278, tiffTypeLong, 1, longs(uint32(blockLength))},
			tiffEntry{279, tiffTypeLong, len(blockByteCounts), longs(blockByteCounts...)},
		)
	}
	if f.noData != "" {
		value := append([]byte(f.noData), 0)
		entries = append(entries, tiffEntry{42113, tiffTypeASCII, len(value), value})
	}
	slices.SortFunc(entries, func(a, b tiffEntry) int {
		return int(a.tag) - int(b.tag)
	})

	ifdOffset := len(data)
	byteOrder.PutUint32(data[4:8], uint32(ifdOffset))
	extraOffset := ifdOffset + 2 + 12*len(entries) + 4
	var extra []byte
	data = byteOrder.AppendUint16(data, uint16(len(entries)))
	for _, entry := range entries {
		data = byteOrder.AppendUint16(data, entry.tag)
		data = byteOrder.AppendUint16(data, entry.typ)
		data = byteOrder.AppendUint32(data, uint32(entry.count))
		if len(entry.value) <= 4 {
			value := make([]byte, 4)
			copy(value, entry.value)
			data = append(data, value...)
			continue
		}
		data = byteOrder.AppendUint32(data, uint32(extraOffset+len(extra)))
		extra = append(extra, entry.value...)
		if len(extra)%2 != 0 {
			extra = append(extra, 0)
		}
	}
	data = byteOrder.AppendUint32(data, 0)
	return append(data, extra...)
}

func appendSample(b []byte, byteOrder binary.ByteOrder, sampleFormat, bitsPerSample uint16, value float64) []byte {
	switch {
	case sampleFormat == sampleFormatFloat && bitsPerSample == 32:
		return byteOrder.AppendUint32(b, math.Float32bits(float32(value)))
	case sampleFormat == sampleFormatFloat && bitsPerSample == 64:
		return byteOrder.AppendUint64(b, math.Float64bits(value))
	case bitsPerSample == 8:
		return append(b, byte(int8(value)))
	case bitsPerSample == 16:
		return byteOrder.AppendUint16(b, uint16(int16(value)))
	default:
		return byteOrder.AppendUint32(b, uint32(int32(value)))
	}
}

// newTestFS returns a filesystem containing fixtures.
func newTestFS(t *testing.T, fixtures map[string]geoTIFFFixture) fstest.MapFS {
	t.Helper()
	fsys := make(fstest.MapFS)
	for name, fixture := range fixtures {
		fsys[name] = &fstest.MapFile{
			Data: fixture.bytes(t),
		}
	}
	return fsys
}

// newGrid returns a height by width grid with values f(row, col).
func newGrid(height, width int, f func(row, col int) float64) [][]float64 {
	grid := make([][]float64, height)
	for row := range grid {
		grid[row] = make([]float64, width)
		for col := range grid[row] {
			grid[row][col] = f(row, col)
		}
	}
	return grid
}

// nodataFixture is a 3x3 grid with pixel centers at integer latitudes and
// longitudes from 0 to 2 and NODATA in its lower right corner.
var nodataFixture = geoTIFFFixture{
	samples: [][]float64{
		{2, 1, 0},
		{3, 9999, 9999},
		{4, 9999, 9999},
	},
	sampleFormat:  sampleFormatInt,
	bitsPerSample: 16,
	originX:       -0.5,
	originY:       2.5,
	resX:          1,
	resY:          1,
	epsg:          WGS84LatLonEPSG,
	noData:        "9999",
}

// worldFixture is a one degree global grid with pixel centers on integer
// latitudes and longitudes, stored as 64x64 tiles.
var worldFixture = geoTIFFFixture{
	samples: newGrid(181, 361, func(row, col int) float64 {
		return float64(row*1000 + col)
	}),
	originX:  -180.5,
	originY:  90.5,
	resX:     1,
	resY:     1,
	epsg:     WGS84LatLonEPSG,
	noData:   "-3.4028234663852886e+038",
	tileSize: 64,
}
