package calculator

import (
	"math"

	"github.com/geoyee/slippytile/internal/model"
)

const (
	// EarthCircumference is the equatorial circumference in meters.
	EarthCircumference = 40_075_016.686
	// EarthRadius is the WGS84 semi-major axis in meters.
	EarthRadius     = 6_378_137.0
	DegreesPerMeter = 360.0 / EarthCircumference
	MetersPerDegree = EarthCircumference / 360.0

	// MaxLatitude is the latitude at which the square web-mercator world ends.
	MaxLatitude = 85.0511287798066
)

// MetersPerPixel returns the ground resolution at the given latitude.
// See https://wiki.openstreetmap.org/wiki/Slippy_map_tilenames#Resolution_and_Scale
func MetersPerPixel(zoom model.ZoomLevel, latitude float64, size model.TileSize) float64 {
	base := EarthCircumference / float64(size.Pixels())
	return base * math.Cos(latitude*math.Pi/180.0) / float64(zoom.MaxTiles())
}
