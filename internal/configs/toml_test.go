package configs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadTOML(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test.toml")

	type TestStruct struct {
		Name string `toml:"name"`
		Age  int    `toml:"age"`
	}

	if err := os.WriteFile(testFile, []byte("name = \"hostA\"\nage = 30\n"), 0600); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loadedData := TestStruct{}
	if err := LoadTOML(testFile, &loadedData); err != nil {
		t.Fatalf("LoadTOML failed: %v", err)
	}

	if loadedData.Name != "hostA" {
		t.Errorf("Expected Name %q, got %q", "hostA", loadedData.Name)
	}

	if loadedData.Age != 30 {
		t.Errorf("Expected Age %d, got %d", 30, loadedData.Age)
	}
}

func TestLoadTOMLNonExistent(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "nonexistent.toml")

	type TestStruct struct {
		Name string
	}

	data := TestStruct{}
	err := LoadTOML(testFile, &data)
	if err == nil {
		t.Fatal("Expected error for non-existent file, got nil")
	}
	if !os.IsNotExist(err) {
		t.Errorf("Expected a not-exist error, got %v", err)
	}
}

func TestLoadTOMLUnknownKey(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "typo.toml")
	if err := os.WriteFile(testFile, []byte("name = \"a\"\nrecipents = [\"hostA\"]\n"), 0600); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	data := struct {
		Name string `toml:"name"`
	}{}
	err := LoadTOML(testFile, &data)
	if err == nil {
		t.Fatal("Expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "recipents") {
		t.Errorf("Expected error to name the unknown key, got %v", err)
	}
}
