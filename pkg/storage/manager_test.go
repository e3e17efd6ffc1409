package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestManagerSequentialNames(t *testing.T) {
	tempDir := t.TempDir()

	manager, err := NewManager(tempDir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	first, err := manager.Save([]byte("first image"), ".jpg")
	if err != nil {
		t.Fatalf("Failed to save image: %v", err)
	}
	second, err := manager.Save([]byte("second image"), "png")
	if err != nil {
		t.Fatalf("Failed to save image: %v", err)
	}

	if filepath.Base(first) != "000001.jpg" {
		t.Errorf("Expected 000001.jpg, got %s", filepath.Base(first))
	}
	if filepath.Base(second) != "000002.png" {
		t.Errorf("Expected 000002.png, got %s", filepath.Base(second))
	}

	content, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	if string(content) != "first image" {
		t.Error("File content does not match expected data")
	}
	n, err := CountFiles(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Expected 2 saved files, got %d", n)
	}
}

func TestManagerContinuesNumbering(t *testing.T) {
	tempDir := t.TempDir()
	for name, body := range map[string]string{
		"000001.jpg": "a",
		"000007.jpg": "b",
		"notes.txt":  "c",
	} {
		if err := os.WriteFile(filepath.Join(tempDir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	manager, err := NewManager(tempDir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	path, err := manager.Save([]byte("new"), ".jpg")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "000008.jpg" {
		t.Errorf("Expected 000008.jpg, got %s", filepath.Base(path))
	}
}

func TestManagerDuplicates(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tempDir, "000001.jpg"), []byte("same bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	manager, err := NewManager(tempDir)
	if err != nil {
		t.Fatal(err)
	}

	_, err = manager.Save([]byte("same bytes"), ".jpg")
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected DuplicateError, got %v", err)
	}
	if dup.Existing != "000001.jpg" {
		t.Errorf("Expected duplicate of 000001.jpg, got %s", dup.Existing)
	}

	next, err := manager.Save([]byte("other bytes"), ".jpg")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(next) != "000002.jpg" {
		t.Errorf("A refused duplicate must not consume a sequence number, got %s", filepath.Base(next))
	}
}

func TestManagerConcurrentSaves(t *testing.T) {
	tempDir := t.TempDir()
	manager, err := NewManager(tempDir)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := manager.Save([]byte{byte(i), 'x'}, ".jpg"); err != nil {
				t.Errorf("save %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	n, err := CountFiles(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 20 {
		t.Errorf("Expected 20 files, got %d", n)
	}
	for i := 1; i <= 20; i++ {
		name := filepath.Join(tempDir, fmt.Sprintf("%06d.jpg", i))
		if _, err := os.Stat(name); err != nil {
			t.Errorf("Expected %s to exist", name)
		}
	}
}

func TestCountFiles(t *testing.T) {
	tempDir := t.TempDir()

	if n, err := CountFiles(filepath.Join(tempDir, "missing")); err != nil || n != 0 {
		t.Errorf("Missing directory should count as 0, got %d, %v", n, err)
	}

	for _, name := range []string{"000001.jpg", "000002.jpg", ".000003.jpg.tmp", ".DS_Store"} {
		if err := os.WriteFile(filepath.Join(tempDir, name), []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(tempDir, "nested"), 0755); err != nil {
		t.Fatal(err)
	}

	n, err := CountFiles(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Expected 2 countable files, got %d", n)
	}
}
