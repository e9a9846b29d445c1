package topodata

// ValidatePointsLieWithinRaster returns an *InputError if any of xs, ys lies
// outside the data extent of a raster with the given bounds and resolution.
//
// Bounds describe the outer edges of the outer pixels but values are sampled
// at pixel centers, so the valid extent is inset by half a pixel on each side.
// Points on the inset edge are valid. Latitude violations are reported before
// longitude violations, each for the lowest offending index. lats and lons are
// only used in error messages.
func ValidatePointsLieWithinRaster(xs, ys, lats, lons []float64, bounds Bounds, resX, resY float64) error {
	xMin := min(bounds.Left, bounds.Right) + resX/2
	xMax := max(bounds.Left, bounds.Right) - resX/2
	yMin := min(bounds.Top, bounds.Bottom) + resY/2
	yMax := max(bounds.Top, bounds.Bottom) - resY/2

	for i, y := range ys {
		if !(yMin <= y && y <= yMax) {
			return newInputError("Location '%v,%v' has latitude outside of raster bounds", lats[i], lons[i])
		}
	}
	for i, x := range xs {
		if !(xMin <= x && x <= xMax) {
			return newInputError("Location '%v,%v' has longitude outside of raster bounds", lats[i], lons[i])
		}
	}
	return nil
}
