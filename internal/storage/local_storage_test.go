package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestLocalStorage(t *testing.T) {
	tmpDir := t.TempDir()
	storage, err := NewLocalStorage(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	t.Run("SaveFile", func(t *testing.T) {
		content := []byte("test video content")

		filename, err := storage.SaveFile(bytes.NewReader(content), FileInfo{
			Filename:    "dashcam.MP4",
			ContentType: "video/mp4",
			Size:        int64(len(content)),
		})
		if err != nil {
			t.Fatalf("Failed to save file: %v", err)
		}

		if filepath.Ext(filename) != ".mp4" {
			t.Errorf("Expected .mp4 extension, got %s", filepath.Ext(filename))
		}

		saved, err := os.ReadFile(filepath.Join(tmpDir, filename))
		if err != nil {
			t.Fatalf("File was not saved to expected location: %v", err)
		}
		if !bytes.Equal(saved, content) {
			t.Errorf("Saved content mismatch")
		}
	})

	t.Run("SaveFileWithoutExtension", func(t *testing.T) {
		filename, err := storage.SaveFile(bytes.NewReader([]byte("x")), FileInfo{Filename: "blob"})
		if err != nil {
			t.Fatalf("Failed to save file: %v", err)
		}
		if filepath.Ext(filename) != ".bin" {
			t.Errorf("Expected .bin extension, got %s", filepath.Ext(filename))
		}
	})

	t.Run("SaveFileReadError", func(t *testing.T) {
		before, _ := os.ReadDir(tmpDir)
		if _, err := storage.SaveFile(failingReader{}, FileInfo{Filename: "x.mp4"}); err == nil {
			t.Fatal("Expected error from failing reader")
		}
		after, _ := os.ReadDir(tmpDir)
		if len(after) != len(before) {
			t.Errorf("Partial file was left behind")
		}
	})

	t.Run("OpenFile", func(t *testing.T) {
		content := []byte("test video content")
		testFile := "test-file.mp4"
		if err := os.WriteFile(filepath.Join(tmpDir, testFile), content, 0644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}

		file, err := storage.OpenFile(testFile)
		if err != nil {
			t.Fatalf("Failed to open file: %v", err)
		}
		defer file.Close()

		got, err := io.ReadAll(file)
		if err != nil {
			t.Fatalf("Failed to read file: %v", err)
		}
		if !bytes.Equal(got, content) {
			t.Errorf("File content mismatch")
		}
	})

	t.Run("DeleteFile", func(t *testing.T) {
		testFile := "delete-test.mp4"
		fullPath := filepath.Join(tmpDir, testFile)
		if err := os.WriteFile(fullPath, []byte("test"), 0644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}

		if err := storage.DeleteFile(testFile); err != nil {
			t.Fatalf("Failed to delete file: %v", err)
		}
		if _, err := os.Stat(fullPath); !os.IsNotExist(err) {
			t.Errorf("File was not deleted")
		}

		if err := storage.DeleteFile(testFile); err == nil {
			t.Errorf("Deleting a missing file should fail")
		}
	})

	t.Run("PathTraversalPrevention", func(t *testing.T) {
		if _, err := storage.OpenFile("../../../etc/passwd"); err == nil {
			t.Errorf("Path traversal was not prevented")
		}
		if err := storage.DeleteFile("../../../etc/passwd"); err == nil {
			t.Errorf("Path traversal was not prevented in delete")
		}
		if _, err := storage.FilePath("/etc/passwd"); err == nil {
			t.Errorf("Absolute path was not rejected")
		}
	})
}
