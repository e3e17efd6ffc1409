package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// NameWidth is the zero padding of sequential file names (000001.jpg)
const NameWidth = 6

// Manager writes sequentially numbered images into one category directory
// and detects byte-identical duplicates within it.
type Manager struct {
	outputDir string
	next      int
	hashes    map[string]string
	mu        sync.Mutex
}

// NewManager creates a storage manager for dir. Numbering continues after the
// highest numbered file already present.
func NewManager(outputDir string) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	manager := &Manager{
		outputDir: outputDir,
		next:      1,
		hashes:    make(map[string]string),
	}
	if err := manager.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}
	return manager, nil
}

func (m *Manager) scanExistingFiles() error {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if !countable(entry) {
			continue
		}
		if n, ok := sequenceNumber(entry.Name()); ok && n >= m.next {
			m.next = n + 1
		}

		path := filepath.Join(m.outputDir, entry.Name())
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		m.hashes[sum] = entry.Name()
	}
	return nil
}

// sequenceNumber parses "000042.jpg" into 42
func sequenceNumber(name string) (int, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		return 0, false
	}
	n, err := strconv.Atoi(stem)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Save writes data under the next sequential name with extension ext (".jpg").
// The write goes through a hidden temporary file and an atomic rename.
func (m *Manager) Save(data []byte, ext string) (string, error) {
	if ext == "" {
		ext = ".jpg"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])

	m.mu.Lock()
	if existing, ok := m.hashes[key]; ok {
		m.mu.Unlock()
		return "", &DuplicateError{Existing: existing}
	}
	name := fmt.Sprintf("%0*d%s", NameWidth, m.next, ext)
	m.next++
	m.hashes[key] = name
	m.mu.Unlock()

	filename := filepath.Join(m.outputDir, name)
	if err := writeAtomic(filename, data); err != nil {
		m.mu.Lock()
		delete(m.hashes, key)
		m.mu.Unlock()
		return "", err
	}
	return filename, nil
}

func writeAtomic(filename string, data []byte) error {
	tempFile := filepath.Join(filepath.Dir(filename), "."+filepath.Base(filename)+".tmp")
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = out.Write(data)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write image data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// DuplicateError is returned by Save for content already in the directory
type DuplicateError struct {
	Existing string
}

func (e *DuplicateError) Error() string {
	return "duplicate of " + e.Existing
}

// CountFiles counts the regular, non-hidden files directly inside dir. A
// missing directory counts as zero.
func CountFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if countable(entry) {
			n++
		}
	}
	return n, nil
}

func countable(entry os.DirEntry) bool {
	return entry.Type().IsRegular() && !strings.HasPrefix(entry.Name(), ".")
}
