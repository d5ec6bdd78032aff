// Package runstore holds the file system side of plugin-jobs: atomic writes,
// transcript artifacts and the data directory lock.
package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const transcriptsDirName = "transcripts"

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// TranscriptMeta is written next to the transcript files of one job.
type TranscriptMeta struct {
	JobID       string            `json:"job_id"`
	OwnerID     string            `json:"owner_id"`
	PluginName  string            `json:"plugin_name"`
	Title       string            `json:"title"`
	Status      string            `json:"status"`
	CreatedAt   string            `json:"created_at"`
	FinishedAt  string            `json:"finished_at"`
	Total       int               `json:"total"`
	Completed   int               `json:"completed"`
	Failed      int               `json:"failed"`
	Files       []TranscriptEntry `json:"files"`
	Summary     string            `json:"summary"`
	SourceURL   string            `json:"source_url,omitempty"`
	PlaylistID  string            `json:"playlist_id,omitempty"`
	GeneratedAt string            `json:"generated_at"`
}

type TranscriptEntry struct {
	Index   int    `json:"index"`
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	File    string `json:"file,omitempty"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// TranscriptText is one item's stitched transcript.
type TranscriptText struct {
	Index   int
	VideoID string
	Text    string
}

func Mkdir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

func WriteBytes(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".pj-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}

func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", path, err)
	}
	data = append(data, '\n')
	return WriteBytes(path, data)
}

func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse JSON %s: %w", path, err)
	}
	return nil
}

// TranscriptStore writes finished transcripts under <data_dir>/transcripts/<job_id>/.
type TranscriptStore struct {
	root string
}

func NewTranscriptStore(dataDir string) *TranscriptStore {
	return &TranscriptStore{root: filepath.Join(dataDir, transcriptsDirName)}
}

func (s *TranscriptStore) JobDir(jobID string) string {
	return filepath.Join(s.root, sanitizeName(jobID))
}

// Save writes one text file per transcript and a meta.json index, returning the job directory.
func (s *TranscriptStore) Save(meta TranscriptMeta, texts []TranscriptText) (string, error) {
	dir := s.JobDir(meta.JobID)
	if err := Mkdir(dir); err != nil {
		return "", err
	}
	files := map[int]string{}
	for _, t := range texts {
		name := fmt.Sprintf("%03d_%s.txt", t.Index+1, sanitizeName(t.VideoID))
		if err := WriteBytes(filepath.Join(dir, name), []byte(strings.TrimRight(t.Text, "\n")+"\n")); err != nil {
			return "", err
		}
		files[t.Index] = name
	}
	for i := range meta.Files {
		if name, ok := files[meta.Files[i].Index]; ok {
			meta.Files[i].File = name
		}
	}
	meta.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	if err := WriteJSON(MetaPath(dir), meta); err != nil {
		return "", err
	}
	return dir, nil
}

func MetaPath(jobDir string) string {
	return filepath.Join(jobDir, "meta.json")
}

func LoadMeta(jobDir string) (TranscriptMeta, error) {
	var meta TranscriptMeta
	if err := ReadJSON(MetaPath(jobDir), &meta); err != nil {
		return TranscriptMeta{}, err
	}
	return meta, nil
}

func sanitizeName(s string) string {
	s = unsafeNameChars.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" {
		return "unknown"
	}
	return s
}
