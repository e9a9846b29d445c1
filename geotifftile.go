package topodata

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/klauspost/compress/zlib"
	"github.com/maypok86/otter/v2"
	"golang.org/x/image/tiff/lzw"
)

const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionDeflate      = 8
	compressionAdobeDeflate = 32946

	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3

	planarConfigurationChunky   = 1
	planarConfigurationSeparate = 2
)

var errShortRead = errors.New("short read")

type readAtSeeker interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// A GeoTIFFTile is an open GeoTIFF file. Only the first band of the first IFD
// is read.
type GeoTIFFTile struct {
	file                fs.File
	r                   readAtSeeker
	byteOrder           binary.ByteOrder
	imageWidth          int
	imageLength         int
	tiled               bool
	blockWidth          int
	blockLength         int
	blocksAcross        int
	blocksDown          int
	blockOffsets        []uint64
	blockByteCounts     []uint64
	blockSamplesPerPix  int
	bytesPerSample      int
	sampleFormat        int
	compression         int
	predictor           int
	noData              float64
	hasNoData           bool
	epsg                int
	geoTransform        GeoTransform
	blockCacheSizeBytes int
	blockCache          *otter.Cache[TileCoord, []float64]
}

// A GeoTIFFTileOption sets an option on a GeoTIFFTile.
type GeoTIFFTileOption func(*GeoTIFFTile)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth          uint32    `tiff:"field,tag=256"`
	ImageLength         uint32    `tiff:"field,tag=257"`
	BitsPerSample       []uint16  `tiff:"field,tag=258"`
	Compression         uint16    `tiff:"field,tag=259"`
	StripOffsets        []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel     uint16    `tiff:"field,tag=277"`
	RowsPerStrip        uint32    `tiff:"field,tag=278"`
	StripByteCounts     []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration uint16    `tiff:"field,tag=284"`
	Predictor           uint16    `tiff:"field,tag=317"`
	TileWidth           uint32    `tiff:"field,tag=322"`
	TileLength          uint32    `tiff:"field,tag=323"`
	TileOffsets         []uint64  `tiff:"field,tag=324"`
	TileByteCounts      []uint64  `tiff:"field,tag=325"`
	SampleFormat        []uint16  `tiff:"field,tag=339"`
	ModelPixelScaleTag  []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag    []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag  []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag  []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag   string    `tiff:"field,tag=34737"`
	GDALNoData          string    `tiff:"field,tag=42113"`
}

// NewGeoTIFFTile opens filename in fsys. The file must implement io.ReaderAt
// and io.Seeker.
func NewGeoTIFFTile(fsys fs.FS, filename string, options ...GeoTIFFTileOption) (*GeoTIFFTile, error) {
	ok := false

	t := &GeoTIFFTile{
		blockCacheSizeBytes: 128 << 20, // 128MB.
	}
	for _, option := range options {
		option(t)
	}

	file, err := fsys.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if !ok {
			_ = file.Close()
		}
	}()
	r, isReadAtSeeker := file.(readAtSeeker)
	if !isReadAtSeeker {
		return nil, errors.ErrUnsupported
	}
	t.file = file
	t.r = r

	byteOrderMark := make([]byte, 2)
	if _, err := r.ReadAt(byteOrderMark, 0); err != nil {
		return nil, err
	}
	switch string(byteOrderMark) {
	case "II":
		t.byteOrder = binary.LittleEndian
	case "MM":
		t.byteOrder = binary.BigEndian
	default:
		return nil, errParse
	}

	tiffTIFF, err := tiff.Parse(r, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}
	if len(tiffTIFF.IFDs()) == 0 {
		return nil, errors.New("no IFDs")
	}

	// Overviews follow the full resolution image and are ignored.
	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	if err := t.initLayout(&ifd); err != nil {
		return nil, err
	}
	if err := t.initGeoreferencing(&ifd); err != nil {
		return nil, err
	}

	blockCacheCount := max(t.blockCacheSizeBytes/(8*t.blockWidth*t.blockLength), 1)
	t.blockCache, err = otter.New(&otter.Options[TileCoord, []float64]{
		MaximumSize: blockCacheCount,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return t, nil
}

// WithBlockCacheSize sets the maximum size in bytes of decoded blocks kept in
// memory while a GeoTIFFTile is open.
func WithBlockCacheSize(blockCacheSize int) GeoTIFFTileOption {
	return func(t *GeoTIFFTile) {
		t.blockCacheSizeBytes = blockCacheSize
	}
}

// initLayout sets t's image layout and sample encoding from ifd.
func (t *GeoTIFFTile) initLayout(ifd *geoTIFFIFD) error {
	samplesPerPixel := max(int(ifd.SamplesPerPixel), 1)

	if len(ifd.BitsPerSample) == 0 {
		return errors.ErrUnsupported
	}
	for _, bitsPerSample := range ifd.BitsPerSample[1:] {
		if bitsPerSample != ifd.BitsPerSample[0] {
			return errors.ErrUnsupported
		}
	}
	bitsPerSample := int(ifd.BitsPerSample[0])

	t.sampleFormat = sampleFormatUint
	if len(ifd.SampleFormat) > 0 {
		t.sampleFormat = int(ifd.SampleFormat[0])
	}
	switch {
	case t.sampleFormat == sampleFormatUint && (bitsPerSample == 8 || bitsPerSample == 16 || bitsPerSample == 32):
	case t.sampleFormat == sampleFormatInt && (bitsPerSample == 8 || bitsPerSample == 16 || bitsPerSample == 32):
	case t.sampleFormat == sampleFormatFloat && (bitsPerSample == 32 || bitsPerSample == 64):
	default:
		return fmt.Errorf("sample format %d with %d bits per sample: %w", t.sampleFormat, bitsPerSample, errors.ErrUnsupported)
	}
	t.bytesPerSample = bitsPerSample / 8

	switch t.compression = int(ifd.Compression); t.compression {
	case 0:
		t.compression = compressionNone
	case compressionNone, compressionLZW, compressionDeflate, compressionAdobeDeflate:
	default:
		return fmt.Errorf("compression %d: %w", t.compression, errors.ErrUnsupported)
	}

	switch t.predictor = int(ifd.Predictor); {
	case t.predictor == 0:
		t.predictor = predictorNone
	case t.predictor == predictorNone:
	case t.predictor == predictorHorizontal && t.sampleFormat != sampleFormatFloat:
	case t.predictor == predictorFloatingPoint && t.sampleFormat == sampleFormatFloat:
	default:
		return fmt.Errorf("predictor %d: %w", t.predictor, errors.ErrUnsupported)
	}

	switch ifd.PlanarConfiguration {
	case 0, planarConfigurationChunky:
		t.blockSamplesPerPix = samplesPerPixel
	case planarConfigurationSeparate:
		t.blockSamplesPerPix = 1
	default:
		return errors.ErrUnsupported
	}

	t.imageWidth = int(ifd.ImageWidth)
	t.imageLength = int(ifd.ImageLength)
	if t.imageWidth == 0 || t.imageLength == 0 {
		return errors.New("empty image")
	}
	if ifd.TileWidth != 0 {
		t.tiled = true
		t.blockWidth = int(ifd.TileWidth)
		t.blockLength = int(ifd.TileLength)
		t.blockOffsets = ifd.TileOffsets
		t.blockByteCounts = ifd.TileByteCounts
		if t.blockLength == 0 {
			return errors.New("missing tile length")
		}
	} else {
		t.blockWidth = t.imageWidth
		t.blockLength = int(ifd.RowsPerStrip)
		if t.blockLength == 0 || t.blockLength > t.imageLength {
			t.blockLength = t.imageLength
		}
		t.blockOffsets = ifd.StripOffsets
		t.blockByteCounts = ifd.StripByteCounts
	}
	t.blocksAcross = (t.imageWidth + t.blockWidth - 1) / t.blockWidth
	t.blocksDown = (t.imageLength + t.blockLength - 1) / t.blockLength
	blocksPerImage := t.blocksAcross * t.blocksDown
	if len(t.blockOffsets) < blocksPerImage || len(t.blockByteCounts) < blocksPerImage {
		return errors.New("incorrect number of block byte counts or offsets")
	}

	if noData := strings.TrimSpace(strings.TrimRight(ifd.GDALNoData, "\x00")); noData != "" {
		value, err := strconv.ParseFloat(noData, 64)
		if err != nil {
			return fmt.Errorf("GDAL_NODATA: %w", err)
		}
		if t.sampleFormat == sampleFormatFloat && t.bytesPerSample == 4 {
			value = float64(float32(value))
		}
		t.noData = value
		t.hasNoData = true
	}

	return nil
}

// initGeoreferencing sets t's geotransform and EPSG code from ifd.
func (t *GeoTIFFTile) initGeoreferencing(ifd *geoTIFFIFD) error {
	if len(ifd.ModelPixelScaleTag) < 2 || len(ifd.ModelTiepointTag) < 6 {
		return fmt.Errorf("georeferencing: %w", errors.ErrUnsupported)
	}
	scaleX, scaleY := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
	if scaleX <= 0 || scaleY <= 0 {
		return fmt.Errorf("georeferencing: %w", errors.ErrUnsupported)
	}
	i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
	x, y := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
	originX := x - i*scaleX
	originY := y + j*scaleY

	if len(ifd.GeoKeyDirectoryTag) > 0 {
		parsedGeoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return fmt.Errorf("geokeys: %w", err)
		}
		t.epsg = parsedGeoKeys.EPSG()
		if parsedGeoKeys.PixelIsPoint() {
			originX -= scaleX / 2
			originY += scaleY / 2
		}
	}

	t.geoTransform = NewGeoTransform(originX, originY, scaleX, scaleY)
	return nil
}

// Close closes t.
func (t *GeoTIFFTile) Close() error {
	return t.file.Close()
}

// EPSG returns t's EPSG code.
func (t *GeoTIFFTile) EPSG() int {
	return t.epsg
}

// GeoTransform returns t's geotransform.
func (t *GeoTIFFTile) GeoTransform() GeoTransform {
	return t.geoTransform
}

// Size returns t's size in pixels.
func (t *GeoTIFFTile) Size() (int, int) {
	return t.imageWidth, t.imageLength
}

// Sample returns the value at (row, col), in pixel-center coordinates,
// interpolated with kernel.
func (t *GeoTIFFTile) Sample(ctx context.Context, row, col float64, kernel Kernel) (float64, bool, error) {
	return Interpolate(ctx, t, row, col, kernel)
}

// Pixel returns the pixel at (row, col). Pixels outside t and NODATA pixels
// are returned as NaN.
func (t *GeoTIFFTile) Pixel(ctx context.Context, row, col int) (float64, error) {
	if row < 0 || t.imageLength <= row || col < 0 || t.imageWidth <= col {
		return math.NaN(), nil
	}
	blockCoord := TileCoord{
		C: col / t.blockWidth,
		R: row / t.blockLength,
	}
	switch blockSamples, err := t.getBlockSamplesCached(ctx, blockCoord); {
	case errors.Is(err, otter.ErrNotFound):
		return math.NaN(), nil
	case err != nil:
		return 0, err
	default:
		return blockSamples[(row%t.blockLength)*t.blockWidth+col%t.blockWidth], nil
	}
}

// getBlockSamplesCached returns the samples of the block at blockCoord using
// t's cache.
func (t *GeoTIFFTile) getBlockSamplesCached(ctx context.Context, blockCoord TileCoord) ([]float64, error) {
	return t.blockCache.Get(ctx, blockCoord, otter.LoaderFunc[TileCoord, []float64](t.getBlockSamples))
}

// getBlockSamples reads, decompresses, and decodes the block at blockCoord.
// Masked samples are NaN. If the block is sparse, it returns the error
// otter.ErrNotFound.
func (t *GeoTIFFTile) getBlockSamples(ctx context.Context, blockCoord TileCoord) ([]float64, error) {
	blockIndex := blockCoord.C + t.blocksAcross*blockCoord.R
	blockByteCount := t.blockByteCounts[blockIndex]
	blockOffset := t.blockOffsets[blockIndex]
	if blockByteCount == 0 {
		return nil, otter.ErrNotFound
	}

	compressedData := make([]byte, blockByteCount)
	switch n, err := t.r.ReadAt(compressedData, int64(blockOffset)); {
	case n == len(compressedData):
	case err != nil:
		return nil, err
	default:
		return nil, errShortRead
	}

	// The last strip may be short. Tiles are always padded.
	rows := t.blockLength
	if !t.tiled {
		rows = min(t.blockLength, t.imageLength-blockCoord.R*t.blockLength)
	}
	rowBytes := t.blockWidth * t.blockSamplesPerPix * t.bytesPerSample

	blockData, err := t.decompressBlockData(compressedData, rows*rowBytes)
	if err != nil {
		return nil, err
	}
	for r := range rows {
		t.undoPredictor(blockData[r*rowBytes : (r+1)*rowBytes])
	}

	return t.decodeBlockData(blockData, rows, rowBytes), nil
}

// decompressBlockData decompresses compressedData into size bytes.
func (t *GeoTIFFTile) decompressBlockData(compressedData []byte, size int) ([]byte, error) {
	var r io.Reader
	switch t.compression {
	case compressionNone:
		if len(compressedData) < size {
			return nil, errShortRead
		}
		return compressedData[:size], nil
	case compressionLZW:
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		r = lzwReader
	case compressionDeflate, compressionAdobeDeflate:
		zlibReader, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer zlibReader.Close()
		r = zlibReader
	}
	blockData := make([]byte, size)
	if _, err := io.ReadFull(r, blockData); err != nil {
		return nil, err
	}
	return blockData, nil
}

// undoPredictor reverses t's predictor on a single row of block data in place.
func (t *GeoTIFFTile) undoPredictor(row []byte) {
	stride := t.blockSamplesPerPix
	switch t.predictor {
	case predictorHorizontal:
		switch t.bytesPerSample {
		case 1:
			for i := stride; i < len(row); i++ {
				row[i] += row[i-stride]
			}
		case 2:
			for i := 2 * stride; i < len(row); i += 2 {
				v := t.byteOrder.Uint16(row[i:]) + t.byteOrder.Uint16(row[i-2*stride:])
				t.byteOrder.PutUint16(row[i:], v)
			}
		case 4:
			for i := 4 * stride; i < len(row); i += 4 {
				v := t.byteOrder.Uint32(row[i:]) + t.byteOrder.Uint32(row[i-4*stride:])
				t.byteOrder.PutUint32(row[i:], v)
			}
		}
	case predictorFloatingPoint:
		for i := stride; i < len(row); i++ {
			row[i] += row[i-stride]
		}
		// Bytes are stored as planes, most significant byte first.
		planes := bytes.Clone(row)
		n := len(row) / t.bytesPerSample
		for k := range n {
			for b := range t.bytesPerSample {
				if t.byteOrder == binary.BigEndian {
					row[k*t.bytesPerSample+b] = planes[b*n+k]
				} else {
					row[k*t.bytesPerSample+t.bytesPerSample-1-b] = planes[b*n+k]
				}
			}
		}
	}
}

// decodeBlockData decodes the first band of blockData. Rows beyond rows, and
// masked samples, are NaN.
func (t *GeoTIFFTile) decodeBlockData(blockData []byte, rows, rowBytes int) []float64 {
	blockSamples := make([]float64, t.blockWidth*t.blockLength)
	pixelBytes := t.blockSamplesPerPix * t.bytesPerSample
	for r := range t.blockLength {
		for c := range t.blockWidth {
			i := r*t.blockWidth + c
			if r >= rows {
				blockSamples[i] = math.NaN()
				continue
			}
			sample := t.decodeSample(blockData[r*rowBytes+c*pixelBytes:])
			if math.IsNaN(sample) || t.hasNoData && sample == t.noData {
				sample = math.NaN()
			}
			blockSamples[i] = sample
		}
	}
	return blockSamples
}

// decodeSample decodes the sample at the start of data.
func (t *GeoTIFFTile) decodeSample(data []byte) float64 {
	switch t.sampleFormat {
	case sampleFormatInt:
		switch t.bytesPerSample {
		case 1:
			return float64(int8(data[0]))
		case 2:
			return float64(int16(t.byteOrder.Uint16(data)))
		default:
			return float64(int32(t.byteOrder.Uint32(data)))
		}
	case sampleFormatFloat:
		if t.bytesPerSample == 4 {
			return float64(math.Float32frombits(t.byteOrder.Uint32(data)))
		}
		return math.Float64frombits(t.byteOrder.Uint64(data))
	default:
		switch t.bytesPerSample {
		case 1:
			return float64(data[0])
		case 2:
			return float64(t.byteOrder.Uint16(data))
		default:
			return float64(t.byteOrder.Uint32(data))
		}
	}
}

// A GeoTIFFSource is a RasterSource that opens GeoTIFF files from a
// filesystem.
type GeoTIFFSource struct {
	fsys               fs.FS
	geoTIFFTileOptions []GeoTIFFTileOption
}

// NewGeoTIFFSource returns a new GeoTIFFSource that opens files in fsys with
// options.
func NewGeoTIFFSource(fsys fs.FS, options ...GeoTIFFTileOption) *GeoTIFFSource {
	return &GeoTIFFSource{
		fsys:               fsys,
		geoTIFFTileOptions: options,
	}
}

// Open opens the GeoTIFF at path.
func (s *GeoTIFFSource) Open(ctx context.Context, path string) (Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	geoTIFFTile, err := NewGeoTIFFTile(s.fsys, path, s.geoTIFFTileOptions...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tilesOpenedTotal.Inc()
	return geoTIFFTile, nil
}
