package runstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTranscriptStoreSave(t *testing.T) {
	store := NewTranscriptStore(t.TempDir())
	meta := TranscriptMeta{
		JobID:  "0199a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b",
		Status: "completed",
		Total:  2,
		Files: []TranscriptEntry{
			{Index: 0, VideoID: "aaaaaaaaaaa", OK: true},
			{Index: 1, VideoID: "bb/../bbbbb", OK: false, Error: "timed out"},
		},
	}
	dir, err := store.Save(meta, []TranscriptText{{Index: 0, VideoID: "aaaaaaaaaaa", Text: "hello world\n\n"}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if dir != store.JobDir(meta.JobID) {
		t.Fatalf("unexpected dir %s", dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, "001_aaaaaaaaaaa.txt"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if string(data) != "hello world\n" {
		t.Fatalf("unexpected transcript %q", data)
	}

	loaded, err := LoadMeta(dir)
	if err != nil {
		t.Fatalf("load meta: %v", err)
	}
	if loaded.Files[0].File != "001_aaaaaaaaaaa.txt" || loaded.Files[1].File != "" {
		t.Fatalf("unexpected files in meta: %+v", loaded.Files)
	}
	if loaded.GeneratedAt == "" {
		t.Fatalf("expected generated_at to be set")
	}
}

func TestWriteBytesLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	if err := WriteJSON(path, map[string]int{"a": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.json" {
		t.Fatalf("unexpected dir contents: %v", entries)
	}
	var got map[string]int
	if err := ReadJSON(path, &got); err != nil || got["a"] != 1 {
		t.Fatalf("read back: %v %v", got, err)
	}
}

func TestSanitizeName(t *testing.T) {
	if got := sanitizeName("a/b c"); got != "a_b_c" {
		t.Fatalf("unexpected %q", got)
	}
	if got := sanitizeName(""); got != "unknown" {
		t.Fatalf("unexpected %q", got)
	}
}
