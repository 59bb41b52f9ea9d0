package handler

import (
	"os"
	"path/filepath"
	"testing"

	"echoes/internal/config"
	"echoes/internal/control"
	"echoes/internal/dto"
	"echoes/internal/echo"
	"echoes/internal/logger"
	"echoes/internal/repository/sqlite"
	"echoes/internal/service"
)

// ========================================
// Test Setup Helpers
// ========================================

type fakeLoop struct {
	submitted []control.Command
	full      bool
	state     dto.State
}

func (f *fakeLoop) Submit(cmd control.Command) bool {
	if f.full {
		cmd.Release()
		return false
	}
	f.submitted = append(f.submitted, cmd)
	return true
}

func (f *fakeLoop) State() dto.State { return f.state }

type fakeImage struct{}

func (fakeImage) Close() error { return nil }

type fakeDecoder struct {
	err   error
	calls int
}

func (f *fakeDecoder) DecodeImage([]byte) (echo.Raster, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return fakeImage{}, nil
}

func newTestManager(loop *fakeLoop, decoder *fakeDecoder) *service.Manager {
	return service.NewManager(loop, decoder, nil, nil, nil, nil, logger.NewDiscardLogger())
}

func setupTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	snapshots := filepath.Join(dir, "snapshots")
	if err := os.MkdirAll(snapshots, 0755); err != nil {
		t.Fatalf("Failed to create snapshot directory: %v", err)
	}
	return &config.Config{
		Password:          "secret",
		SnapshotDirectory: snapshots,
		LogDirectory:      filepath.Join(dir, "logs"),
		MaxUploadBytes:    1 << 20,
		CameraNames:       map[string]string{"10.0.0.7": "door"},
	}
}

func setupTestRepo(t *testing.T) *sqlite.SnapshotRepository {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlite.NewSnapshotRepository(db)
}

func createTestSnapshotFile(t *testing.T, dir, filename string, content []byte) string {
	t.Helper()
	if content == nil {
		content = []byte{0xFF, 0xD8, 0xFF, 0xE0}
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to create test snapshot: %v", err)
	}
	return path
}

// ========================================
// Helper Function Tests
// ========================================

func TestAtoiDefault(t *testing.T) {
	tests := []struct {
		input    string
		def      int
		expected int
	}{
		{"10", 5, 10},
		{"1", 0, 1},
		{"", 5, 5},
		{"abc", 10, 10},
		{"-1", 5, 5},
		{"0", 5, 5},
		{"12.5", 5, 5},
	}

	for _, tt := range tests {
		result := atoiDefault(tt.input, tt.def)
		if result != tt.expected {
			t.Errorf("atoiDefault(%q, %d) = %d, expected %d", tt.input, tt.def, result, tt.expected)
		}
	}
}

func TestParseDate(t *testing.T) {
	if d := parseDate("2025-06-15"); d.Year() != 2025 || d.Month() != 6 || d.Day() != 15 {
		t.Errorf("Unexpected date %v", d)
	}
	for _, v := range []string{"", "15-06-2025", "garbage"} {
		if !parseDate(v).IsZero() {
			t.Errorf("Expected zero time for %q", v)
		}
	}
}

func TestIsPlainFilename(t *testing.T) {
	tests := map[string]bool{
		"a.jpg":            true,
		"../a.jpg":         false,
		"sub/a.jpg":        false,
		"..":               false,
		"/etc/passwd":      false,
		"2025-01-01_x.jpg": true,
	}
	for name, expected := range tests {
		if got := isPlainFilename(name); got != expected {
			t.Errorf("isPlainFilename(%q) = %v, expected %v", name, got, expected)
		}
	}
}
