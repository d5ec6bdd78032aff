// Package ytdlp builds argument vectors for yt-dlp, ffprobe and ffmpeg.
// Execution goes through the sandbox executor; nothing here spawns processes
// except the dependency probe.
package ytdlp

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	Program  = "yt-dlp"
	FFmpeg   = "ffmpeg"
	FFprobe  = "ffprobe"
	audioExt = "mp3"
)

// Options are the yt-dlp flags shared by every invocation.
type Options struct {
	CookiesPath string
	ProxyURL    string
	JSRuntime   string
}

type DependencyReport struct {
	YTDLPFound   bool   `json:"yt_dlp_found"`
	YTDLPPath    string `json:"yt_dlp_path,omitempty"`
	FFmpegFound  bool   `json:"ffmpeg_found"`
	FFmpegPath   string `json:"ffmpeg_path,omitempty"`
	FFprobeFound bool   `json:"ffprobe_found"`
	FFprobePath  string `json:"ffprobe_path,omitempty"`
}

func CheckJSRuntime(raw string) (string, error) {
	runtime, ok := normalizeJSRuntime(raw)
	if !ok {
		return "", fmt.Errorf("invalid js runtime %q (expected auto, deno, node, quickjs, or bun)", strings.TrimSpace(raw))
	}
	if runtime == "auto" {
		return runtime, nil
	}
	candidates := jsRuntimeBinaryCandidates(runtime)
	for _, bin := range candidates {
		if _, err := exec.LookPath(bin); err == nil {
			return runtime, nil
		}
	}
	return "", fmt.Errorf("missing dependency for js runtime %q: install one of [%s] or set js runtime to auto", runtime, strings.Join(candidates, ", "))
}

func DependencyStatus() DependencyReport {
	report := DependencyReport{}
	if path, err := exec.LookPath(Program); err == nil {
		report.YTDLPFound = true
		report.YTDLPPath = path
	}
	if path, err := exec.LookPath(FFmpeg); err == nil {
		report.FFmpegFound = true
		report.FFmpegPath = path
	}
	if path, err := exec.LookPath(FFprobe); err == nil {
		report.FFprobeFound = true
		report.FFprobePath = path
	}
	return report
}

func CheckDependencies() error {
	report := DependencyStatus()
	if !report.YTDLPFound {
		return fmt.Errorf("missing dependency: yt-dlp is not installed or not on PATH")
	}
	if !report.FFmpegFound {
		return fmt.Errorf("missing dependency: ffmpeg is required to extract and split audio and was not found on PATH")
	}
	if !report.FFprobeFound {
		return fmt.Errorf("missing dependency: ffprobe is required to measure audio duration and was not found on PATH")
	}
	return nil
}

// FlatPlaylistArgs lists playlist members one JSON record per line without
// resolving each entry. maxItems > 0 is passed as --playlist-end.
func FlatPlaylistArgs(playlistURL string, maxItems int, opts Options) ([]string, error) {
	if strings.TrimSpace(playlistURL) == "" {
		return nil, fmt.Errorf("playlist URL is required")
	}
	args := []string{"--flat-playlist", "--dump-json", "--no-warnings", "--quiet"}
	if maxItems > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(maxItems))
	}
	args, err := appendCommonArgs(args, opts)
	if err != nil {
		return nil, err
	}
	return append(args, playlistURL), nil
}

// TitleArgs prints the title of one video without downloading it.
func TitleArgs(videoURL string, opts Options) ([]string, error) {
	if strings.TrimSpace(videoURL) == "" {
		return nil, fmt.Errorf("video URL is required")
	}
	args := []string{"--print", "title", "--skip-download", "--no-playlist", "--no-warnings", "--quiet"}
	args, err := appendCommonArgs(args, opts)
	if err != nil {
		return nil, err
	}
	return append(args, videoURL), nil
}

// AudioDownloadArgs extracts audio for one video into outputDir/audio.<ext>.
func AudioDownloadArgs(videoURL, outputDir string, opts Options) ([]string, error) {
	if strings.TrimSpace(videoURL) == "" {
		return nil, fmt.Errorf("video URL is required")
	}
	if strings.TrimSpace(outputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	args := []string{
		"-x",
		"--audio-format", audioExt,
		"--audio-quality", "5",
		"--newline",
		"-o", filepath.Join(outputDir, "audio.%(ext)s"),
		"--no-playlist",
		"--no-warnings",
	}
	args, err := appendCommonArgs(args, opts)
	if err != nil {
		return nil, err
	}
	return append(args, videoURL), nil
}

// ProbeDurationArgs prints the container duration in seconds and nothing else.
func ProbeDurationArgs(file string) []string {
	return []string{
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		file,
	}
}

// ParseProbeDuration reads ffprobe's duration output, truncated to whole seconds.
func ParseProbeDuration(out string) (int, error) {
	v := strings.TrimSpace(out)
	if v == "" || v == "N/A" {
		return 0, fmt.Errorf("ffprobe returned no duration")
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", v, err)
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative duration %q", v)
	}
	return int(secs), nil
}

// SegmentArgs splits input into windowSecs long stream-copied segments named
// chunk_000.mp3, chunk_001.mp3, ... inside outputDir.
func SegmentArgs(input, outputDir string, windowSecs int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-f", "segment",
		"-segment_time", strconv.Itoa(windowSecs),
		"-c", "copy",
		"-y",
		filepath.Join(outputDir, "chunk_%03d."+audioExt),
	}
}

// SegmentGlob matches the files SegmentArgs produces.
func SegmentGlob() string {
	return "chunk_*." + audioExt
}

// AudioGlob matches the file AudioDownloadArgs produces.
func AudioGlob() string {
	return "audio.*"
}

func appendCommonArgs(args []string, opts Options) ([]string, error) {
	if strings.TrimSpace(opts.CookiesPath) != "" {
		cookiesPath, err := resolveCookiesPath(opts.CookiesPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--cookies", cookiesPath)
	}
	if strings.TrimSpace(opts.ProxyURL) != "" {
		args = append(args, "--proxy", strings.TrimSpace(opts.ProxyURL))
	}
	return appendJSRuntimeArgs(args, opts.JSRuntime)
}

func appendJSRuntimeArgs(args []string, rawRuntime string) ([]string, error) {
	runtime, ok := normalizeJSRuntime(rawRuntime)
	if !ok {
		return nil, fmt.Errorf("invalid js runtime %q (expected auto, deno, node, quickjs, or bun)", strings.TrimSpace(rawRuntime))
	}
	if runtime == "auto" {
		return args, nil
	}
	return append(args, "--no-js-runtimes", "--js-runtimes", runtime), nil
}

func normalizeJSRuntime(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return "auto", true
	case "deno", "node", "quickjs", "bun":
		return strings.ToLower(strings.TrimSpace(raw)), true
	default:
		return "", false
	}
}

func jsRuntimeBinaryCandidates(runtime string) []string {
	switch runtime {
	case "quickjs":
		return []string{"quickjs", "qjs"}
	default:
		return []string{runtime}
	}
}

func resolveCookiesPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve cookies path %s: %w", p, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("cookies file %s: %w", abs, err)
	}
	return abs, nil
}
