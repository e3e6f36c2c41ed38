// Package resume 提供断点续传功能
package resume

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/geoyee/slippytile/internal/logger"
	"github.com/geoyee/slippytile/internal/model"
	"github.com/geoyee/slippytile/internal/util"
)

const ledgerVersion = "3.0"

// ResumeManager 断点续传管理器
//
// The ledger records fetch outcomes across restarts so that tiles which failed
// in an earlier run can be requested again. It is advisory: a completed entry
// whose file vanished or changed size is dropped on lookup.
type ResumeManager struct {
	resumeData *model.ResumeData
	resumeFile string
	saveDir    string
	logger     logger.Logger
	mu         sync.RWMutex
}

// NewResumeManager 创建断点续传管理器
func NewResumeManager(saveDir, resumeFile string, log logger.Logger) *ResumeManager {
	return &ResumeManager{
		resumeFile: resumeFile,
		saveDir:    saveDir,
		logger:     log.WithComponent("resume"),
		resumeData: newResumeData(""),
	}
}

func newResumeData(endpoint string) *model.ResumeData {
	return &model.ResumeData{
		Version:   ledgerVersion,
		Endpoint:  endpoint,
		Completed: make(map[string]model.TileInfo),
		Failed:    make(map[string]string),
		SavedAt:   time.Now(),
	}
}

func (rm *ResumeManager) path() string {
	if filepath.IsAbs(rm.resumeFile) {
		return rm.resumeFile
	}
	return filepath.Join(rm.saveDir, rm.resumeFile)
}

// Enabled reports whether the ledger is persisted.
func (rm *ResumeManager) Enabled() bool {
	return rm.resumeFile != ""
}

// LoadResumeData 加载断点续传数据
func (rm *ResumeManager) LoadResumeData() error {
	if !rm.Enabled() {
		return nil
	}

	data, err := os.ReadFile(rm.path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read resume file: %w", err)
	}

	resumeData := newResumeData("")
	if err := json.Unmarshal(data, resumeData); err != nil {
		return fmt.Errorf("failed to parse resume file: %w", err)
	}
	if resumeData.Completed == nil {
		resumeData.Completed = make(map[string]model.TileInfo)
	}
	if resumeData.Failed == nil {
		resumeData.Failed = make(map[string]string)
	}

	rm.mu.Lock()
	rm.resumeData = resumeData
	rm.mu.Unlock()

	rm.logger.Infow("resume data loaded",
		"completed", len(resumeData.Completed),
		"failed", len(resumeData.Failed))
	return nil
}

// SaveResumeData 保存断点续传数据
func (rm *ResumeManager) SaveResumeData(endpoint string) error {
	if !rm.Enabled() {
		return nil
	}

	rm.mu.Lock()
	rm.resumeData.Version = ledgerVersion
	rm.resumeData.Endpoint = endpoint
	rm.resumeData.SavedAt = time.Now()
	data, err := json.MarshalIndent(rm.resumeData, "", "  ")
	rm.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode resume data: %w", err)
	}

	if err := util.EnsureDirExists(filepath.Dir(rm.path())); err != nil {
		return fmt.Errorf("failed to create resume directory: %w", err)
	}
	if err := os.WriteFile(rm.path(), data, 0644); err != nil {
		return fmt.Errorf("failed to write resume file: %w", err)
	}
	return nil
}

// IsTileDownloaded 检查瓦片是否已下载
func (rm *ResumeManager) IsTileDownloaded(key model.TileKey) (bool, *model.TileInfo) {
	id := util.GenerateTileKey(key)

	rm.mu.RLock()
	info, ok := rm.resumeData.Completed[id]
	rm.mu.RUnlock()
	if !ok {
		return false, nil
	}

	if stat, err := os.Stat(info.FilePath); err == nil && stat.Size() == info.FileSize {
		return true, &info
	}

	rm.mu.Lock()
	delete(rm.resumeData.Completed, id)
	rm.mu.Unlock()
	return false, nil
}

// MarkTileComplete 标记瓦片下载完成
func (rm *ResumeManager) MarkTileComplete(key model.TileKey, filePath string, fileSize int64) {
	id := util.GenerateTileKey(key)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.resumeData.Completed[id] = model.TileInfo{
		X:          key.Coordinates.X,
		Y:          key.Coordinates.Y,
		Z:          uint8(key.Zoom),
		Size:       key.Size.Pixels(),
		FilePath:   filePath,
		FileSize:   fileSize,
		Downloaded: time.Now(),
	}
	delete(rm.resumeData.Failed, id)
}

// MarkTileFailed 标记瓦片下载失败
func (rm *ResumeManager) MarkTileFailed(key model.TileKey, reason string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.resumeData.Failed[util.GenerateTileKey(key)] = reason
}

// FailedCount returns the number of tiles whose last attempt failed.
func (rm *ResumeManager) FailedCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.resumeData.Failed)
}

// FailedTiles returns the keys of all tiles whose last attempt failed.
// Entries that cannot be parsed are skipped.
func (rm *ResumeManager) FailedTiles() []model.TileKey {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	keys := make([]model.TileKey, 0, len(rm.resumeData.Failed))
	for id := range rm.resumeData.Failed {
		key, err := util.ParseTileKey(id)
		if err != nil {
			rm.logger.Warnw("skipping malformed ledger entry", "id", id, "error", err)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// GetResumeData 获取断点续传数据
func (rm *ResumeManager) GetResumeData() model.ResumeData {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	data := *rm.resumeData
	data.Completed = make(map[string]model.TileInfo, len(rm.resumeData.Completed))
	for k, v := range rm.resumeData.Completed {
		data.Completed[k] = v
	}
	data.Failed = make(map[string]string, len(rm.resumeData.Failed))
	for k, v := range rm.resumeData.Failed {
		data.Failed[k] = v
	}
	return data
}
