package topodata

import (
	"context"
	"math"
	"strconv"
)

// A Kernel is an interpolation kernel.
type Kernel int

const (
	// KernelDefault defers to the raster engine's default, which is nearest.
	KernelDefault Kernel = iota
	KernelNearest
	KernelBilinear
	KernelCubic
)

// cubicA is the Keys cubic convolution parameter, as used by GDAL.
const cubicA = -0.5

func (k Kernel) String() string {
	switch k {
	case KernelDefault:
		return "default"
	case KernelNearest:
		return "nearest"
	case KernelBilinear:
		return "bilinear"
	case KernelCubic:
		return "cubic"
	default:
		return "Kernel(" + strconv.Itoa(int(k)) + ")"
	}
}

// A KernelTable maps interpolation method names to kernels.
type KernelTable map[string]Kernel

// DefaultKernelTable returns a new KernelTable with the supported interpolation
// methods.
func DefaultKernelTable() KernelTable {
	return KernelTable{
		"nearest":  KernelNearest,
		"bilinear": KernelBilinear,
		"cubic":    KernelCubic,
	}
}

// Lookup returns the kernel for name. If name is unknown and lenient is true
// then KernelDefault is returned, otherwise an *InputError is returned.
func (t KernelTable) Lookup(name string, lenient bool) (Kernel, error) {
	if kernel, ok := t[name]; ok {
		return kernel, nil
	}
	if lenient {
		return KernelDefault, nil
	}
	return 0, newInputError("Unknown interpolation method '%s'.", name)
}

// A PixelReader returns individual pixel values. Pixels that are NODATA or
// outside the raster are returned as NaN.
type PixelReader interface {
	Pixel(ctx context.Context, row, col int) (float64, error)
}

// Interpolate samples r at (row, col) in pixel-center coordinates, where the
// center of pixel (i, j) is at (i, j). Pixels that contribute with a zero
// weight are not read. If any contributing pixel is NaN then ok is false.
func Interpolate(ctx context.Context, r PixelReader, row, col float64, kernel Kernel) (float64, bool, error) {
	var value float64
	var err error
	switch kernel {
	case KernelBilinear:
		value, err = interpolateBilinear(ctx, r, row, col)
	case KernelCubic:
		value, err = interpolateCubic(ctx, r, row, col)
	default:
		value, err = r.Pixel(ctx, int(math.Floor(row+0.5)), int(math.Floor(col+0.5)))
	}
	if err != nil {
		return 0, false, err
	}
	if math.IsNaN(value) {
		return math.NaN(), false, nil
	}
	return value, true, nil
}

func interpolateBilinear(ctx context.Context, r PixelReader, row, col float64) (float64, error) {
	r0, c0 := math.Floor(row), math.Floor(col)
	dy, dx := row-r0, col-c0
	i, j := int(r0), int(c0)

	// z00*(1-dx)*(1-dy) + z10*dx*(1-dy) + z01*(1-dx)*dy + z11*dx*dy
	terms := [4]struct {
		row, col int
		wx, wy   float64
	}{
		{i, j, 1 - dx, 1 - dy},
		{i, j + 1, dx, 1 - dy},
		{i + 1, j, 1 - dx, dy},
		{i + 1, j + 1, dx, dy},
	}

	result := 0.0
	for _, term := range terms {
		if term.wx == 0 || term.wy == 0 {
			continue
		}
		z, err := r.Pixel(ctx, term.row, term.col)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(z) {
			return math.NaN(), nil
		}
		result += z * term.wx * term.wy
	}
	return result, nil
}

func interpolateCubic(ctx context.Context, r PixelReader, row, col float64) (float64, error) {
	r0, c0 := math.Floor(row), math.Floor(col)
	wy := cubicWeights(row - r0)
	wx := cubicWeights(col - c0)
	i, j := int(r0), int(c0)

	result := 0.0
	for m := range 4 {
		if wy[m] == 0 {
			continue
		}
		rowSum := 0.0
		for n := range 4 {
			if wx[n] == 0 {
				continue
			}
			z, err := r.Pixel(ctx, i+m-1, j+n-1)
			if err != nil {
				return 0, err
			}
			if math.IsNaN(z) {
				return math.NaN(), nil
			}
			rowSum += z * wx[n]
		}
		result += rowSum * wy[m]
	}
	return result, nil
}

// cubicWeights returns the weights of the four pixels at offsets -1, 0, 1,
// and 2 for a fractional offset t in [0, 1).
func cubicWeights(t float64) [4]float64 {
	return [4]float64{
		cubicKernel(t + 1),
		cubicKernel(t),
		cubicKernel(1 - t),
		cubicKernel(2 - t),
	}
}

func cubicKernel(x float64) float64 {
	x = math.Abs(x)
	switch {
	case x <= 1:
		return ((cubicA+2)*x-(cubicA+3))*x*x + 1
	case x < 2:
		return ((cubicA*x-5*cubicA)*x+8*cubicA)*x - 4*cubicA
	default:
		return 0
	}
}
