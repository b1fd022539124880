package heapconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "heap.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadValidSchema(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"schema_version": "1.2.0",
		"backing": "contiguous",
		"heap_size": 65536,
		"alignment": 8,
		"compressed_pointer_width": 32,
		"desired_limit_step": 4096,
		"enable_debug_assertions": true
	}`)

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.HeapSize != 65536 {
		t.Fatalf("HeapSize = %d, want 65536", f.HeapSize)
	}
	opts := f.Options()
	if len(opts) == 0 {
		t.Fatalf("Options() returned no options")
	}
}

func TestLoadRejectsIncompatibleSchema(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"schema_version": "2.0.0", "backing": "contiguous"}`)

	if _, err := Load(path); err == nil {
		t.Fatalf("Load should reject schema_version 2.0.0 against constraint %q", schemaConstraint)
	}
}

func TestLoadRejectsMalformedSchema(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"schema_version": "not-a-version"}`)

	if _, err := Load(path); err == nil {
		t.Fatalf("Load should reject a malformed schema_version")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	f := File{SchemaVersion: "1.0.0", Backing: "segmented", SegmentSize: 8192, MaxSegments: 16}
	if err := f.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if got.SegmentSize != 8192 || got.MaxSegments != 16 {
		t.Fatalf("round-tripped File = %+v, want SegmentSize=8192 MaxSegments=16", got)
	}
}
