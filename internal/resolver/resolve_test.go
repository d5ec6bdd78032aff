package resolver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSingleVideo(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":           "dQw4w9WgXcQ",
		"https://youtube.com/watch?feature=share&v=dQw4w9WgXcQ": "dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s":     "dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/abcDEF12345":            "abcDEF12345",
		"https://youtu.be/dQw4w9WgXcQ":                          "dQw4w9WgXcQ",
		"  https://youtu.be/dQw4w9WgXcQ?si=xyz  ":               "dQw4w9WgXcQ",
	}
	for in, wantID := range cases {
		ref, err := Resolve(in)
		require.NoError(t, err, in)
		assert.Equal(t, KindSingleVideo, ref.Kind, in)
		assert.Equal(t, wantID, ref.VideoID, in)
		assert.Empty(t, ref.PlaylistID, in)
		assert.Equal(t, "https://www.youtube.com/watch?v="+wantID, ref.CanonicalVideoURL())
	}
}

func TestResolvePlaylist(t *testing.T) {
	ref, err := Resolve("https://www.youtube.com/playlist?list=PLrAXtmErZgOeiKm4sgNOknGvNjby9efdf")
	require.NoError(t, err)
	assert.Equal(t, KindPlaylist, ref.Kind)
	assert.Equal(t, "PLrAXtmErZgOeiKm4sgNOknGvNjby9efdf", ref.PlaylistID)
	assert.Empty(t, ref.VideoID)
	assert.Equal(t, "https://www.youtube.com/playlist?list=PLrAXtmErZgOeiKm4sgNOknGvNjby9efdf", ref.PlaylistURL())
	assert.Empty(t, ref.CanonicalVideoURL())
}

func TestResolveVideoInPlaylist(t *testing.T) {
	ref, err := Resolve("https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PLxyz")
	require.NoError(t, err)
	assert.Equal(t, KindVideoInPlaylist, ref.Kind)
	assert.Equal(t, "dQw4w9WgXcQ", ref.VideoID)
	assert.Equal(t, "PLxyz", ref.PlaylistID)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", ref.CanonicalVideoURL())
	assert.NotContains(t, ref.CanonicalVideoURL(), "list=")
}

func TestResolveListBeforeVideoParam(t *testing.T) {
	ref, err := Resolve("https://www.youtube.com/watch?list=PLabc&v=dQw4w9WgXcQ&index=2")
	require.NoError(t, err)
	assert.Equal(t, KindVideoInPlaylist, ref.Kind)
	assert.Equal(t, "dQw4w9WgXcQ", ref.VideoID)
	assert.Equal(t, "PLabc", ref.PlaylistID)
}

func TestResolveDirectPlaylistWinsOverGenericList(t *testing.T) {
	ref, err := Resolve("https://www.youtube.com/playlist?feature=x&list=PLdirect")
	require.NoError(t, err)
	assert.Equal(t, "PLdirect", ref.PlaylistID)
}

func TestResolveRejectsUnknownShapes(t *testing.T) {
	for _, in := range []string{
		"",
		"https://vimeo.com/12345",
		"https://www.youtube.com/watch?v=short",
		"not a url",
		"https://www.youtube.com/@somechannel",
	} {
		_, err := Resolve(in)
		require.Error(t, err, in)
		assert.ErrorIs(t, err, ErrParse, in)
		assert.True(t, strings.Contains(err.Error(), "unrecognized media URL"))
	}
}
