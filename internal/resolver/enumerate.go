package resolver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"plugin-jobs/internal/logger"
	"plugin-jobs/internal/sandbox"
	"plugin-jobs/internal/ytdlp"
)

const (
	unknownTitle         = "Unknown Title"
	unknownPlaylistTitle = "Unknown Playlist"
	defaultEnumTimeout   = 120 * time.Second
)

var ErrEmptyPlaylist = errors.New("playlist is empty or unavailable")

// EnumerationError wraps a failed metadata tool run with its diagnostic output.
type EnumerationError struct {
	PlaylistID string
	Stderr     string
	Err        error
}

func (e *EnumerationError) Error() string {
	msg := fmt.Sprintf("yt-dlp failed to enumerate playlist %s: %v", e.PlaylistID, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" && !strings.Contains(msg, s) {
		msg += ": " + s
	}
	return msg
}

func (e *EnumerationError) Unwrap() error {
	return e.Err
}

type Item struct {
	VideoID      string `json:"video_id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	DurationSecs int    `json:"duration_secs,omitempty"`
	Index        int    `json:"index"`
	Description  string `json:"description,omitempty"`
}

// HasDuration reports whether the tool reported a duration for the item.
func (i Item) HasDuration() bool {
	return i.DurationSecs > 0
}

type PlaylistInfo struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Uploader   string `json:"uploader,omitempty"`
	VideoCount int    `json:"video_count"`
	Items      []Item `json:"items"`
}

// Runner is the part of the sandbox executor the enumerator needs.
type Runner interface {
	Run(ctx context.Context, c sandbox.Command) (sandbox.Output, error)
}

type Enumerator struct {
	runner  Runner
	opts    ytdlp.Options
	timeout time.Duration
	log     logger.Logger
}

type EnumeratorOption func(*Enumerator)

func WithToolOptions(opts ytdlp.Options) EnumeratorOption {
	return func(e *Enumerator) { e.opts = opts }
}

func WithTimeout(d time.Duration) EnumeratorOption {
	return func(e *Enumerator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLogger(l logger.Logger) EnumeratorOption {
	return func(e *Enumerator) { e.log = l }
}

func NewEnumerator(r Runner, opts ...EnumeratorOption) *Enumerator {
	e := &Enumerator{
		runner:  r,
		timeout: defaultEnumTimeout,
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enumerate lists playlist members in order. maxItems > 0 caps the result; the
// cap is passed to yt-dlp and enforced again on the parsed records.
func (e *Enumerator) Enumerate(ctx context.Context, playlistID string, maxItems int) (PlaylistInfo, error) {
	args, err := ytdlp.FlatPlaylistArgs(PlaylistURL(playlistID), maxItems, e.opts)
	if err != nil {
		return PlaylistInfo{}, &EnumerationError{PlaylistID: playlistID, Err: err}
	}

	e.log.Info("enumerating playlist", logger.String("playlist_id", playlistID), logger.Int("max_items", maxItems))
	out, err := e.runner.Run(ctx, sandbox.Command{
		Program: ytdlp.Program,
		Args:    args,
		Timeout: e.timeout,
	})
	if err != nil {
		return PlaylistInfo{}, &EnumerationError{PlaylistID: playlistID, Stderr: out.Stderr, Err: err}
	}

	info, err := ParseFlatPlaylist(playlistID, out.Stdout, maxItems)
	if err != nil {
		return PlaylistInfo{}, err
	}
	e.log.Info("enumerated playlist",
		logger.String("playlist_id", playlistID),
		logger.String("title", info.Title),
		logger.Int("videos", info.VideoCount),
	)
	return info, nil
}

// Title looks up the title of one video. An empty answer is an error so
// callers can fall back to a placeholder.
func (e *Enumerator) Title(ctx context.Context, videoID string) (string, error) {
	args, err := ytdlp.TitleArgs(VideoURL(videoID), e.opts)
	if err != nil {
		return "", err
	}
	out, err := e.runner.Run(ctx, sandbox.Command{
		Program: ytdlp.Program,
		Args:    args,
		Timeout: e.timeout,
	})
	if err != nil {
		return "", fmt.Errorf("look up title of %s: %w", videoID, err)
	}
	title, _, _ := strings.Cut(strings.TrimSpace(out.Stdout), "\n")
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("look up title of %s: no title reported", videoID)
	}
	return title, nil
}

type flatRecord struct {
	ID               string   `json:"id"`
	Title            *string  `json:"title"`
	Duration         *float64 `json:"duration"`
	Description      *string  `json:"description"`
	PlaylistTitle    *string  `json:"playlist_title"`
	PlaylistUploader *string  `json:"playlist_uploader"`
	Uploader         *string  `json:"uploader"`
}

// ParseFlatPlaylist reads yt-dlp --flat-playlist --dump-json output. Blank
// lines and records without an id are skipped; a malformed line fails the parse.
func ParseFlatPlaylist(playlistID, data string, maxItems int) (PlaylistInfo, error) {
	info := PlaylistInfo{ID: playlistID, Title: unknownPlaylistTitle}
	scanner := bufio.NewScanner(strings.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec flatRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return PlaylistInfo{}, &EnumerationError{PlaylistID: playlistID, Err: fmt.Errorf("parse yt-dlp JSON output: %w", err)}
		}
		if first {
			first = false
			if s := deref(rec.PlaylistTitle); s != "" {
				info.Title = s
			}
			if s := deref(rec.PlaylistUploader); s != "" {
				info.Uploader = s
			} else {
				info.Uploader = deref(rec.Uploader)
			}
		}
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			continue
		}
		if maxItems > 0 && len(info.Items) >= maxItems {
			break
		}
		item := Item{
			VideoID:     id,
			Title:       unknownTitle,
			URL:         VideoURL(id),
			Index:       len(info.Items),
			Description: deref(rec.Description),
		}
		if s := deref(rec.Title); s != "" {
			item.Title = s
		}
		if rec.Duration != nil && *rec.Duration > 0 {
			item.DurationSecs = int(*rec.Duration)
		}
		info.Items = append(info.Items, item)
	}
	if err := scanner.Err(); err != nil {
		return PlaylistInfo{}, &EnumerationError{PlaylistID: playlistID, Err: fmt.Errorf("read yt-dlp output: %w", err)}
	}
	if len(info.Items) == 0 {
		return PlaylistInfo{}, fmt.Errorf("enumerate playlist %s: %w", playlistID, ErrEmptyPlaylist)
	}
	info.VideoCount = len(info.Items)
	return info, nil
}

// SingleItem wraps one video as a one-item pseudo playlist.
func SingleItem(ref Reference, title string) PlaylistInfo {
	if strings.TrimSpace(title) == "" {
		title = "YouTube video " + ref.VideoID
	}
	return PlaylistInfo{
		ID:         ref.VideoID,
		Title:      title,
		VideoCount: 1,
		Items: []Item{{
			VideoID: ref.VideoID,
			Title:   title,
			URL:     ref.CanonicalVideoURL(),
			Index:   0,
		}},
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
