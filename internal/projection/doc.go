// Package projection reconstructs the geographic coordinates of a native
// forecast grid from its projection parameters.
//
// # Grid Convention
//
// Forecast grids are regular in projected space. Cell (i, j) sits at
//
//	x = x0 + i*dx
//	y = y0 + j*dy
//
// where (x0, y0) is the forward projection of the grid's first point. Row
// j = 0 is the southernmost row and column i = 0 the westernmost, so values
// are stored row-major as vals[j*nx+i]. Decoders that read grids in another
// scanning order normalise to this layout before building a definition.
//
// # Polar Stereographic
//
// The only supported family is the ellipsoidal polar stereographic projection
// (USGS Professional Paper 1395, Snyder 1987, pp. 160-164), north or south
// aspect, with an optional latitude of true scale. The DWD WarnMOS products use
// the north aspect with lon_0 = 10 and lat_ts = 60 on WGS84.
//
// The inverse solves for geodetic latitude by fixed-point iteration on the
// conformal latitude, which converges to well below 1e-9 degrees within a
// handful of steps anywhere on the hemisphere.
package projection
