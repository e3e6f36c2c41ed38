// Package util 提供工具函数
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/geoyee/slippytile/internal/model"
)

// GetTileURL 获取瓦片URL
//
// A plain endpoint yields {endpoint}/{z}/{x}/{y}{suffix}.png. An endpoint
// containing "{z}" is treated as a template with {x}, {y}, {z}, {-y} and {s}
// (size suffix) placeholders.
func GetTileURL(endpoint string, key model.TileKey) string {
	x := int(key.Coordinates.X)
	y := int(key.Coordinates.Y)
	z := int(key.Zoom)

	if !strings.Contains(endpoint, "{z}") {
		return fmt.Sprintf("%s/%d/%d/%d%s.png", strings.TrimSuffix(endpoint, "/"), z, x, y, key.Size.URLSuffix())
	}

	url := endpoint
	url = strings.ReplaceAll(url, "{x}", strconv.Itoa(x))
	url = strings.ReplaceAll(url, "{y}", strconv.Itoa(y))
	url = strings.ReplaceAll(url, "{z}", strconv.Itoa(z))
	url = strings.ReplaceAll(url, "{-y}", strconv.Itoa((1<<z)-y-1))
	url = strings.ReplaceAll(url, "{s}", key.Size.URLSuffix())
	return url
}

// TileFilename 获取瓦片保存路径
//
// The layout {dir}/{zoom}.{x}.{y}.{size}.tile.png is the on-disk cache key and
// must stay stable across releases.
func TileFilename(dir string, key model.TileKey) string {
	name := fmt.Sprintf("%d.%d.%d.%d.tile.png", key.Zoom, key.Coordinates.X, key.Coordinates.Y, key.Size.Pixels())
	return filepath.Join(dir, name)
}

// ValidateFileFormat 验证文件格式
func ValidateFileFormat(data []byte) bool {
	if len(data) < 8 {
		return false
	}

	// PNG
	if data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G' {
		return true
	}

	// JPG
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return true
	}

	// WEBP
	if len(data) >= 12 && data[0] == 'R' && data[1] == 'I' && data[2] == 'F' &&
		data[3] == 'F' && data[8] == 'W' && data[9] == 'E' && data[10] == 'B' &&
		data[11] == 'P' {
		return true
	}

	return false
}

// EnsureDirExists 确保目录存在
func EnsureDirExists(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// GenerateTileKey 生成瓦片唯一标识
func GenerateTileKey(key model.TileKey) string {
	return fmt.Sprintf("%d/%d/%d/%d", key.Zoom, key.Coordinates.X, key.Coordinates.Y, key.Size.Pixels())
}

// ParseTileKey 解析瓦片唯一标识, the inverse of GenerateTileKey.
func ParseTileKey(id string) (model.TileKey, error) {
	parts := strings.Split(id, "/")
	if len(parts) != 4 {
		return model.TileKey{}, fmt.Errorf("malformed tile key %q", id)
	}

	var nums [4]uint64
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return model.TileKey{}, fmt.Errorf("malformed tile key %q: %w", id, err)
		}
		nums[i] = n
	}

	zoom, err := model.ParseZoomLevel(int(nums[0]))
	if err != nil {
		return model.TileKey{}, err
	}
	return model.TileKey{
		Coordinates: model.TileCoordinates{X: uint32(nums[1]), Y: uint32(nums[2])},
		Zoom:        zoom,
		Size:        model.NewTileSize(int(nums[3])),
	}, nil
}
