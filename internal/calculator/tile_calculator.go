package calculator

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/geoyee/slippytile/internal/model"
)

// MaxTilesInDimension returns the number of tiles along one axis at zoom.
func MaxTilesInDimension(zoom model.ZoomLevel) float64 {
	return float64(zoom.MaxTiles())
}

// MaxPixelsInDimension returns the width (and height) of the world raster in pixels.
func MaxPixelsInDimension(zoom model.ZoomLevel, size model.TileSize) float64 {
	return float64(size.Pixels()) * MaxTilesInDimension(zoom)
}

// GeoToTile converts a latitude/longitude to the tile containing it.
// Inputs outside the mercator domain are the caller's problem; see GeoToTileChecked.
func GeoToTile(lat, lon float64, zoom model.ZoomLevel) model.TileCoordinates {
	return model.TileCoordinates{
		X: floorIndex(lonToTileX(lon, zoom)),
		Y: floorIndex(latToTileY(lat, zoom)),
	}
}

// GeoToTileChecked is GeoToTile with domain validation.
func GeoToTileChecked(lat, lon float64, zoom model.ZoomLevel) (model.TileCoordinates, error) {
	if err := ValidateGeo(lat, lon); err != nil {
		return model.TileCoordinates{}, err
	}
	return GeoToTile(lat, lon, zoom), nil
}

// TileToGeo returns the top-left corner of tile (x, y).
func TileToGeo(x, y uint32, zoom model.ZoomLevel) model.GeoCoordinates {
	return TileFracToGeo(float64(x), float64(y), zoom)
}

// TileFracToGeo is the inverse of the fractional tile transform, without rounding to tile indices.
func TileFracToGeo(x, y float64, zoom model.ZoomLevel) model.GeoCoordinates {
	n := MaxTilesInDimension(zoom)
	return model.GeoCoordinates{
		Latitude:  mercatorYToLat(y / n),
		Longitude: x/n*360.0 - 180.0,
	}
}

// TileToWorldPixel projects geo onto the world raster. The origin is the top-left
// corner (lon -180, lat +85.05) and both axes grow right/down.
func TileToWorldPixel(geo model.GeoCoordinates, size model.TileSize, zoom model.ZoomLevel) (float64, float64) {
	px := float64(size.Pixels())
	return lonToTileX(geo.Longitude, zoom) * px, latToTileY(geo.Latitude, zoom) * px
}

// WorldPixelToGeo is the inverse of TileToWorldPixel.
func WorldPixelToGeo(x, y float64, size model.TileSize, zoom model.ZoomLevel) model.GeoCoordinates {
	maxPx := MaxPixelsInDimension(zoom, size)
	return model.GeoCoordinates{
		Latitude:  mercatorYToLat(y / maxPx),
		Longitude: x/maxPx*360.0 - 180.0,
	}
}

// FlipY converts a pixel row between top-left and bottom-left origin conventions.
// The projection functions never do this themselves.
func FlipY(y float64, zoom model.ZoomLevel, size model.TileSize) float64 {
	return MaxPixelsInDimension(zoom, size) - y
}

// ValidateGeo rejects points the mercator transform cannot represent.
func ValidateGeo(lat, lon float64) error {
	switch {
	case math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0):
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, lat, lon)
	case lat < -MaxLatitude || lat > MaxLatitude:
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, lat)
	case lon < -180 || lon > 180:
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, lon)
	}
	return nil
}

// Resolve turns a Location into tile coordinates at zoom. Resolving the same
// location at the same zoom always yields the same tile.
func Resolve(loc model.Location, zoom model.ZoomLevel) (model.TileCoordinates, error) {
	switch l := loc.(type) {
	case model.TileCoordinates:
		return l, nil
	case *model.TileCoordinates:
		return *l, nil
	case model.GeoCoordinates:
		return GeoToTileChecked(l.Latitude, l.Longitude, zoom)
	case *model.GeoCoordinates:
		return GeoToTileChecked(l.Latitude, l.Longitude, zoom)
	default:
		return model.TileCoordinates{}, fmt.Errorf("%w: %T", ErrUnknownLocation, loc)
	}
}

// ExpandRegion returns every tile within radius rings of center, row by row.
// Indices saturate at 0 and at 2^zoom-1 instead of wrapping.
func ExpandRegion(center model.TileCoordinates, radius model.Radius, zoom model.ZoomLevel) []model.TileCoordinates {
	r := uint64(radius)
	last := zoom.MaxTiles() - 1
	minX, maxX := saturatingRange(uint64(center.X), r, last)
	minY, maxY := saturatingRange(uint64(center.Y), r, last)

	tiles := make([]model.TileCoordinates, 0, (maxX-minX+1)*(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, model.TileCoordinates{X: uint32(x), Y: uint32(y)})
		}
	}
	return tiles
}

// TileBound returns the geographic extent of the tile.
func TileBound(key model.TileKey) orb.Bound {
	return maptile.New(key.Coordinates.X, key.Coordinates.Y, maptile.Zoom(key.Zoom)).Bound()
}

func saturatingRange(c, r, last uint64) (uint64, uint64) {
	if c > last {
		c = last
	}
	lo := uint64(0)
	if c > r {
		lo = c - r
	}
	hi := c + r
	if hi > last {
		hi = last
	}
	return lo, hi
}

func lonToTileX(lon float64, zoom model.ZoomLevel) float64 {
	return (lon + 180.0) / 360.0 * MaxTilesInDimension(zoom)
}

func latToTileY(lat float64, zoom model.ZoomLevel) float64 {
	latRad := lat * math.Pi / 180.0
	return (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * MaxTilesInDimension(zoom)
}

// mercatorYToLat maps a normalized row (0 at the top, 1 at the bottom) to latitude.
func mercatorYToLat(t float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*t))) * 180.0 / math.Pi
}

// indexSnapUlps is how far below an integer, in units of last place, a tile
// index may fall and still be treated as that integer. A tile corner produced
// by TileToGeo then maps back to the same tile.
const indexSnapUlps = 64

func floorIndex(v float64) uint32 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= math.MaxUint32 {
		return math.MaxUint32
	}
	if r := math.Ceil(v); r > v && r-v <= indexSnapUlps*ulp(v) {
		v = r
	}
	return uint32(math.Floor(v))
}

func ulp(v float64) float64 {
	return math.Nextafter(v, math.Inf(1)) - v
}
