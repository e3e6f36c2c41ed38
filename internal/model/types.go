// Package model 定义数据模型
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// MaxZoomLevel 最大缩放级别
const MaxZoomLevel = 25

// ErrInvalidZoomLevel is returned for zoom levels outside 0..=25.
var ErrInvalidZoomLevel = errors.New("zoom level out of range (0 <= zoom <= 25)")

// ZoomLevel 缩放级别
type ZoomLevel uint8

// ParseZoomLevel converts an integer to a ZoomLevel, rejecting values above MaxZoomLevel.
func ParseZoomLevel(z int) (ZoomLevel, error) {
	if z < 0 || z > MaxZoomLevel {
		return 0, fmt.Errorf("%w: %d", ErrInvalidZoomLevel, z)
	}
	return ZoomLevel(z), nil
}

// Valid reports whether z is within 0..=25.
func (z ZoomLevel) Valid() bool {
	return z <= MaxZoomLevel
}

// MaxTiles returns the number of tiles per dimension, 2^zoom.
func (z ZoomLevel) MaxTiles() uint64 {
	return uint64(1) << z
}

// TileSize 瓦片像素尺寸
type TileSize uint16

const (
	TileSizeNormal    TileSize = 256
	TileSizeLarge     TileSize = 512
	TileSizeVeryLarge TileSize = 768
)

// NewTileSize maps a pixel count to a TileSize. Unknown sizes fall back to 256px.
func NewTileSize(px int) TileSize {
	switch px {
	case 768:
		return TileSizeVeryLarge
	case 512:
		return TileSizeLarge
	default:
		return TileSizeNormal
	}
}

// Pixels returns the edge length of the tile in pixels.
func (s TileSize) Pixels() uint32 {
	switch s {
	case TileSizeLarge, TileSizeVeryLarge:
		return uint32(s)
	default:
		return uint32(TileSizeNormal)
	}
}

// URLSuffix returns the retina suffix some tile servers expect.
func (s TileSize) URLSuffix() string {
	switch s {
	case TileSizeLarge:
		return "@2x"
	case TileSizeVeryLarge:
		return "@3x"
	default:
		return ""
	}
}

func (s TileSize) String() string {
	return fmt.Sprintf("%dpx", s.Pixels())
}

// Radius is the number of rings of neighbouring tiles requested around a center tile.
type Radius uint8

// TileCount returns (2r+1)^2.
func (r Radius) TileCount() int {
	side := 2*int(r) + 1
	return side * side
}

// Location is either a TileCoordinates or a GeoCoordinates value.
type Location interface {
	location()
}

// TileCoordinates 瓦片坐标
type TileCoordinates struct {
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
}

func (TileCoordinates) location() {}

func (c TileCoordinates) String() string {
	return fmt.Sprintf("(%d, %d)", c.X, c.Y)
}

// GeoCoordinates 经纬度坐标
type GeoCoordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (GeoCoordinates) location() {}

// Point returns the coordinates as an orb point (lon, lat).
func (g GeoCoordinates) Point() orb.Point {
	return orb.Point{g.Longitude, g.Latitude}
}

// TileKey identifies one fetchable tile artifact. It is comparable and used directly as a map key.
type TileKey struct {
	Coordinates TileCoordinates `json:"coordinates"`
	Zoom        ZoomLevel       `json:"zoom"`
	Size        TileSize        `json:"size"`
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d@%d", k.Zoom, k.Coordinates.X, k.Coordinates.Y, k.Size.Pixels())
}

// DownloadStatus 下载状态
type DownloadStatus int

const (
	StatusDownloading DownloadStatus = iota
	StatusDownloaded
)

func (s DownloadStatus) String() string {
	switch s {
	case StatusDownloading:
		return "downloading"
	case StatusDownloaded:
		return "downloaded"
	default:
		return "unknown"
	}
}

// RegionRequest asks for every tile within Radius rings of Center.
type RegionRequest struct {
	Size     TileSize
	Zoom     ZoomLevel
	Center   Location
	Radius   Radius
	UseCache bool
	// Endpoint overrides the configured endpoint when non-empty.
	Endpoint string
}

// BufferedRequest 被准入控制延迟的单个瓦片请求
type BufferedRequest struct {
	Key      TileKey
	Endpoint string
	Path     string
	UseCache bool
}

// FetchResult 下载任务结果
type FetchResult struct {
	Key       TileKey
	Path      string
	Err       error
	Attempts  int
	Bytes     int64
	FromCache bool
}

// OK reports whether the artifact is available at Path.
func (r FetchResult) OK() bool {
	return r.Err == nil
}

// EventKind 事件类型
type EventKind int

const (
	EventDownloaded EventKind = iota
	EventFailed
)

func (k EventKind) String() string {
	if k == EventFailed {
		return "failed"
	}
	return "downloaded"
}

// Event is emitted by the completion poller once per finished tile.
type Event struct {
	Kind      EventKind
	Key       TileKey
	Path      string
	Bound     orb.Bound
	Err       error
	FromCache bool
	// Refreshed is set when a forced re-download replaced an artifact that was already Downloaded.
	Refreshed bool
	Time      time.Time
}

// DownloadStats 下载统计
type DownloadStats struct {
	Requested  int64
	Success    int64
	Failed     int64
	CacheHits  int64
	Deduped    int64
	Buffered   int64
	Retries    int64
	BytesTotal int64
	Active     int32
	StartTime  time.Time
}

// TileInfo 瓦片信息
type TileInfo struct {
	X          uint32    `json:"x"`
	Y          uint32    `json:"y"`
	Z          uint8     `json:"z"`
	Size       uint32    `json:"size"`
	FilePath   string    `json:"file_path"`
	FileSize   int64     `json:"file_size"`
	Downloaded time.Time `json:"downloaded"`
}

// ResumeData 断点续传数据
type ResumeData struct {
	Version   string              `json:"version"`
	Endpoint  string              `json:"endpoint"`
	Completed map[string]TileInfo `json:"completed"`
	Failed    map[string]string   `json:"failed"`
	SavedAt   time.Time           `json:"saved_at"`
}
