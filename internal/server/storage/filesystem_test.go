package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testDigest = "a9993e364706816aba3e25717850c26c9cd0d89d"

func TestFileSystemStore_Save(t *testing.T) {
	t.Run("saves log to disk", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		n, err := store.Save(testDigest, bytes.NewReader([]byte("DATE=1.0\n")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 9 {
			t.Errorf("expected 9 bytes written, got %d", n)
		}

		content, err := os.ReadFile(filepath.Join(dir, testDigest+".log"))
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "DATE=1.0\n" {
			t.Errorf("unexpected content %q", content)
		}
	})

	t.Run("leaves no temporary files behind", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		if _, err := store.Save(testDigest, strings.NewReader(strings.Repeat("x", 1024*1024))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("expected exactly one file, got %d", len(entries))
		}
	})

	t.Run("overwrites an existing archive", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		store.Save(testDigest, strings.NewReader("old"))
		if _, err := store.Save(testDigest, strings.NewReader("new")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		content, _ := os.ReadFile(filepath.Join(dir, testDigest+".log"))
		if string(content) != "new" {
			t.Errorf("expected 'new', got %q", content)
		}
	})
}

func TestFileSystemStore_GetPath(t *testing.T) {
	t.Run("returns path for existing log", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		filePath := filepath.Join(dir, testDigest+".log")
		os.WriteFile(filePath, []byte("data"), 0644)

		path, err := store.GetPath(testDigest)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if path != filePath {
			t.Errorf("expected %s, got %s", filePath, path)
		}
	})

	t.Run("returns error for missing log", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if _, err := store.GetPath("nonexistent"); err == nil {
			t.Error("expected error for nonexistent log")
		}
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	t.Run("deletes existing log", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		filePath := filepath.Join(dir, testDigest+".log")
		os.WriteFile(filePath, []byte("data"), 0644)

		if err := store.Delete(testDigest); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(filePath); !os.IsNotExist(err) {
			t.Error("expected file to be deleted")
		}
	})

	t.Run("no error for missing log", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.Delete("nonexistent"); err != nil {
			t.Errorf("expected no error for missing log, got: %v", err)
		}
	})
}

func TestFileSystemStore_List(t *testing.T) {
	dir := t.TempDir()
	store := NewFileSystemStore(dir)

	now := time.Now()
	files := map[string]time.Time{
		"newer.log": now,
		"older.log": now.Add(-2 * time.Hour),
	}
	for name, mtime := range files {
		p := filepath.Join(dir, name)
		os.WriteFile(p, []byte("data"), 0644)
		os.Chtimes(p, mtime, mtime)
	}
	os.WriteFile(filepath.Join(dir, ".partial-123"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(dir, "sub.log"), 0755)

	entries, err := store.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Digest != "older" || entries[1].Digest != "newer" {
		t.Errorf("expected oldest first, got %s, %s", entries[0].Digest, entries[1].Digest)
	}
	if entries[0].Size != 4 {
		t.Errorf("expected size 4, got %d", entries[0].Size)
	}
}

func TestFileSystemStore_EnsureDir(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "archive", "path")
		store := NewFileSystemStore(dir)

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})

	t.Run("succeeds if directory exists", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
