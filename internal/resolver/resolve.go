// Package resolver classifies YouTube references and enumerates playlists.
package resolver

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type Kind string

const (
	KindSingleVideo     Kind = "single_video"
	KindPlaylist        Kind = "playlist"
	KindVideoInPlaylist Kind = "video_in_playlist"
)

var ErrParse = errors.New("unrecognized media URL")

type ParseError struct {
	URL string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q (expected a YouTube video or playlist link)", ErrParse, e.URL)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// Matchers are tried in order; the first video match wins.
var (
	videoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`youtube\.com/watch\?(?:[^&]*&)*v=([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`youtube\.com/shorts/([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`youtu\.be/([a-zA-Z0-9_-]{11})`),
	}
	playlistPatterns = []*regexp.Regexp{
		regexp.MustCompile(`youtube\.com/playlist\?(?:[^&]*&)*list=([a-zA-Z0-9_-]+)`),
		regexp.MustCompile(`[?&]list=([a-zA-Z0-9_-]+)`),
	}
)

// Reference is the classification of one input URL.
type Reference struct {
	OriginalURL string `json:"original_url"`
	VideoID     string `json:"video_id,omitempty"`
	PlaylistID  string `json:"playlist_id,omitempty"`
	Kind        Kind   `json:"kind"`
}

func (r Reference) HasPlaylist() bool {
	return r.PlaylistID != ""
}

// CanonicalVideoURL never carries a list= parameter.
func (r Reference) CanonicalVideoURL() string {
	if r.VideoID == "" {
		return ""
	}
	return VideoURL(r.VideoID)
}

func (r Reference) PlaylistURL() string {
	if r.PlaylistID == "" {
		return ""
	}
	return PlaylistURL(r.PlaylistID)
}

func VideoURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

func PlaylistURL(playlistID string) string {
	return "https://www.youtube.com/playlist?list=" + playlistID
}

// Resolve classifies rawURL as a single video, a playlist, or a video inside a playlist.
func Resolve(rawURL string) (Reference, error) {
	u := strings.TrimSpace(rawURL)
	ref := Reference{OriginalURL: u}
	ref.VideoID = firstMatch(videoPatterns, u)
	ref.PlaylistID = firstMatch(playlistPatterns, u)

	switch {
	case ref.VideoID != "" && ref.PlaylistID != "":
		ref.Kind = KindVideoInPlaylist
	case ref.VideoID != "":
		ref.Kind = KindSingleVideo
	case ref.PlaylistID != "":
		ref.Kind = KindPlaylist
	default:
		return Reference{}, &ParseError{URL: u}
	}
	return ref, nil
}

func firstMatch(patterns []*regexp.Regexp, s string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(s); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}
