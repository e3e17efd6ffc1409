package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"imgharvest/pkg/batch"
	"imgharvest/pkg/category"
	"imgharvest/pkg/logger"
)

// Version is the current checkpoint file format
const Version = 1

// Checkpoint is the persisted state of one batch run
type Checkpoint struct {
	Key        string `json:"key"`
	RunID      string `json:"run_id"`
	Source     string `json:"source"`
	Engine     string `json:"engine"`
	Limit      int    `json:"limit"`
	OutputRoot string `json:"output_root"`
	// Completed maps "index:name" to the stored result
	Completed map[string]batch.CategoryResult `json:"completed"`
	CreatedAt time.Time                       `json:"created_at"`
	UpdatedAt time.Time                       `json:"updated_at"`
	Version   int                             `json:"version"`
}

// Key identifies the checkpoint of a run: the same source file, engine, limit
// and output root resume the same checkpoint.
func Key(source, engine string, limit int, outputRoot string) string {
	if abs, err := filepath.Abs(source); err == nil {
		source = abs
	}
	if abs, err := filepath.Abs(outputRoot); err == nil {
		outputRoot = abs
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{source, engine, strconv.Itoa(limit), outputRoot}, "\x00")))

	base := category.DirName(strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)))
	if base == "" {
		base = "run"
	}
	return base + "-" + hex.EncodeToString(sum[:8])
}

func entryKey(index int, name string) string {
	return strconv.Itoa(index) + ":" + name
}

// Manager handles checkpoint operations. It implements batch.Checkpoint.
type Manager struct {
	checkpointPath string
	logger         logger.Logger

	mu sync.Mutex
	cp *Checkpoint
}

// NewManager creates a checkpoint manager for key in the user data directory
func NewManager(key string) (*Manager, error) {
	dataDir, err := getDataDirectory()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}

	checkpointsDir := filepath.Join(dataDir, "checkpoints")
	if err := os.MkdirAll(checkpointsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	return &Manager{
		checkpointPath: filepath.Join(checkpointsDir, key+".json"),
		logger:         logger.GetLogger(),
	}, nil
}

// Path returns the checkpoint file path
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Begin starts a new checkpoint for the run described by cfg, unless one
// was loaded with Load.
func (m *Manager) Begin(key string, cfg batch.RunConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp != nil {
		return nil
	}

	now := time.Now()
	m.cp = &Checkpoint{
		Key:        key,
		RunID:      cfg.RunID,
		Source:     cfg.Source,
		Engine:     cfg.Engine,
		Limit:      cfg.ImagesPerCategory,
		OutputRoot: cfg.OutputRoot,
		Completed:  make(map[string]batch.CategoryResult),
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    Version,
	}
	if err := m.saveLocked(); err != nil {
		return fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint created", map[string]interface{}{
		"key":  key,
		"path": m.checkpointPath,
	})
	return nil
}

// Load reads an existing checkpoint. It returns nil when none exists.
func (m *Manager) Load() (*Checkpoint, error) {
	file, err := os.Open(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var cp Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Version > Version {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported version %d", cp.Version, Version)
	}
	if cp.Completed == nil {
		cp.Completed = make(map[string]batch.CategoryResult)
	}

	m.mu.Lock()
	m.cp = &cp
	m.mu.Unlock()

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"key":        cp.Key,
		"completed":  len(cp.Completed),
		"updated_at": cp.UpdatedAt,
	})
	return &cp, nil
}

// Lookup returns the stored result of a category completed earlier
func (m *Manager) Lookup(cat category.Category) (batch.CategoryResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp == nil {
		return batch.CategoryResult{}, false
	}
	res, ok := m.cp.Completed[entryKey(cat.Index, cat.Name)]
	return res, ok
}

// Record stores a completed category and saves the checkpoint
func (m *Manager) Record(res batch.CategoryResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp == nil {
		return fmt.Errorf("checkpoint not started")
	}
	res.Resumed = false
	m.cp.Completed[entryKey(res.Index, res.Name)] = res
	return m.saveLocked()
}

// Completed returns the number of stored categories
func (m *Manager) Completed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp == nil {
		return 0
	}
	return len(m.cp.Completed)
}

// Save writes the checkpoint to disk atomically
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if m.cp == nil {
		return nil
	}
	m.cp.UpdatedAt = time.Now()

	tempPath := m.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(m.cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"completed": len(m.cp.Completed),
	})
	return nil
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	m.mu.Lock()
	m.cp = nil
	m.mu.Unlock()

	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	m.logger.Debug("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// Summary describes a stored checkpoint
type Summary struct {
	Key       string
	Source    string
	Completed int
	Images    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary loads the stored checkpoint and summarizes it, or returns nil when
// there is none. Like Load, it makes the stored progress current.
func (m *Manager) Summary() (*Summary, error) {
	cp, err := m.Load()
	if err != nil || cp == nil {
		return nil, err
	}

	sum := &Summary{
		Key:       cp.Key,
		Source:    cp.Source,
		Completed: len(cp.Completed),
		CreatedAt: cp.CreatedAt,
		UpdatedAt: cp.UpdatedAt,
	}
	for _, res := range cp.Completed {
		sum.Images += res.Count
	}
	return sum, nil
}

// BackupCheckpoint copies the checkpoint file next to itself
func (m *Manager) BackupCheckpoint() error {
	if !m.Exists() {
		return nil
	}

	src, err := os.Open(m.checkpointPath)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(m.checkpointPath + ".backup")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy checkpoint to backup: %w", err)
	}
	return nil
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "imgharvest")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "imgharvest")
	default:
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "imgharvest")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "imgharvest")
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}
