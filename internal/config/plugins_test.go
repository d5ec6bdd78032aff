package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalPlugins = `
plugins:
  - name: test
    description: Test plugin
    version: "1.0.0"
    command:
      name: test
      description: Test command
    execution:
      command: echo
      args:
        - "hello"
`

func TestParseMinimalPlugin(t *testing.T) {
	plugins, err := ParsePlugins([]byte(minimalPlugins))
	require.NoError(t, err)
	require.Len(t, plugins, 1)

	p := plugins[0]
	assert.Equal(t, "test", p.Name)
	assert.True(t, p.IsEnabled())
	assert.Equal(t, KindExternal, p.Kind)
	assert.Equal(t, 300*time.Second, p.Execution.Timeout())
	assert.Equal(t, 10*1024*1024, p.Execution.MaxOutputBytes)
	assert.Equal(t, 600*time.Second, p.Execution.Chunking.ChunkDuration())
	assert.Equal(t, 600, p.Execution.Chunking.ThresholdSecs)
	assert.Equal(t, 300*time.Second, p.Execution.Chunking.DownloadTimeout())
	assert.Equal(t, 120*time.Second, p.Execution.Chunking.SplitTimeout())
}

func TestParseTranscribePlugin(t *testing.T) {
	plugins, err := ParsePlugins([]byte(`
plugins:
  - name: transcribe
    description: Transcribe videos
    enabled: false
    version: "2.0.0"
    kind: transcribe
    command:
      name: transcribe
      description: Transcribe a video or playlist
      options:
        - name: url
          description: Video URL
          required: true
          validation:
            pattern: "^https?://"
            max_length: 200
        - name: language
          description: Spoken language
          default: en
          choices:
            - {name: English, value: en}
            - {name: German, value: de}
    execution:
      command: yt-dlp
      timeout_seconds: 900
      chunking:
        enabled: true
        chunk_duration_secs: 300
        file_command: whisper
        file_args: ["${file}", "--language", "${language}", "--output_dir", "${output_dir}"]
        max_playlist_items: 20
    security:
      cooldown_seconds: 60
      guild_only: true
`))
	require.NoError(t, err)
	p := plugins[0]
	assert.False(t, p.IsEnabled())
	assert.Equal(t, KindTranscribe, p.Kind)
	assert.Equal(t, 900*time.Second, p.Execution.Timeout())
	assert.Equal(t, 300, p.Execution.Chunking.ThresholdSecs)
	assert.Equal(t, 20, p.Execution.Chunking.MaxPlaylistItems)
	assert.Equal(t, 60, p.Security.CooldownSeconds)
	assert.True(t, p.Security.GuildOnly)
	require.Len(t, p.Command.Options, 2)
	assert.Equal(t, "string", p.Command.Options[0].Type)
	require.NotNil(t, p.Command.Options[1].Default)
	assert.Equal(t, "en", *p.Command.Options[1].Default)
	assert.Equal(t, 200, *p.Command.Options[0].Validation.MaxLength)
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]string{
		"uppercase name": `
plugins:
  - name: test
    command: {name: TestCommand, description: x}
    execution: {command: echo}
`,
		"missing command": `
plugins:
  - name: test
    command: {name: test, description: x}
    execution: {command: ""}
`,
		"bad regex": `
plugins:
  - name: test
    command:
      name: test
      description: x
      options:
        - name: input
          description: Input
          validation: {pattern: "[invalid"}
    execution: {command: echo}
`,
		"long name": `
plugins:
  - name: test
    command: {name: abcdefghijklmnopqrstuvwxyzabcdefg, description: x}
    execution: {command: echo}
`,
		"unknown kind": `
plugins:
  - name: test
    kind: webhook
    command: {name: test, description: x}
    execution: {command: echo}
`,
		"chunking without file command": `
plugins:
  - name: t
    kind: transcribe
    command: {name: t, description: x}
    execution:
      chunking: {enabled: true}
`,
		"duplicate command": `
plugins:
  - name: a
    command: {name: same, description: x}
    execution: {command: echo}
  - name: b
    command: {name: same, description: x}
    execution: {command: echo}
`,
	}
	for name, doc := range cases {
		_, err := ParsePlugins([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestVirtualPluginsNeedNoExecution(t *testing.T) {
	plugins, err := ParsePlugins([]byte(`
plugins:
  - name: transcribe_status
    kind: job_status
    command: {name: transcribe_status, description: Show your transcription jobs}
  - name: transcribe_cancel
    kind: job_cancel
    command:
      name: transcribe_cancel
      description: Cancel a transcription job
      options:
        - {name: job_id, description: Job id}
`))
	require.NoError(t, err)
	assert.Len(t, plugins, 2)
}

func TestLoadPluginsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalPlugins), 0o644))

	plugins, err := LoadPlugins(path)
	require.NoError(t, err)
	assert.Len(t, plugins, 1)

	_, err = LoadPlugins(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
