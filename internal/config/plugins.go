package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type PluginKind string

const (
	KindExternal   PluginKind = "external"
	KindTranscribe PluginKind = "transcribe"
	KindJobStatus  PluginKind = "job_status"
	KindJobCancel  PluginKind = "job_cancel"
)

const (
	defaultTimeoutSeconds      = 300
	defaultMaxOutputBytes      = 10 * 1024 * 1024
	defaultChunkDurationSecs   = 600
	defaultDownloadTimeoutSecs = 300
	defaultSplitTimeoutSecs    = 120
	defaultChunkTimeoutSecs    = 600
	defaultResultPreviewChars  = 1500
	maxCommandNameLen          = 32
	maxCommandDescriptionLen   = 100
)

var commandNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type PluginFile struct {
	Plugins []Plugin `yaml:"plugins"`
}

type Plugin struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Enabled     *bool             `yaml:"enabled"`
	Version     string            `yaml:"version"`
	Kind        PluginKind        `yaml:"kind"`
	Command     CommandDefinition `yaml:"command"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Security    SecurityConfig    `yaml:"security"`
	Output      OutputConfig      `yaml:"output"`
}

type CommandDefinition struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Options     []CommandOption `yaml:"options"`
}

type CommandOption struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Type        string          `yaml:"type"`
	Required    bool            `yaml:"required"`
	Default     *string         `yaml:"default"`
	Validation  *ValidationRule `yaml:"validation"`
	Choices     []Choice        `yaml:"choices"`
}

type ValidationRule struct {
	Pattern   string `yaml:"pattern"`
	MinLength *int   `yaml:"min_length"`
	MaxLength *int   `yaml:"max_length"`
	MinValue  *int64 `yaml:"min_value"`
	MaxValue  *int64 `yaml:"max_value"`
}

type Choice struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type ExecutionConfig struct {
	Command          string            `yaml:"command"`
	Args             []string          `yaml:"args"`
	TimeoutSeconds   int               `yaml:"timeout_seconds"`
	WorkingDirectory string            `yaml:"working_directory"`
	MaxOutputBytes   int               `yaml:"max_output_bytes"`
	Env              map[string]string `yaml:"env"`
	Chunking         ChunkingConfig    `yaml:"chunking"`
}

// ChunkingConfig controls the download, split and per-window transcription pipeline.
type ChunkingConfig struct {
	Enabled             bool     `yaml:"enabled"`
	ChunkDurationSecs   int      `yaml:"chunk_duration_secs"`
	ThresholdSecs       int      `yaml:"threshold_secs"`
	DownloadTimeoutSecs int      `yaml:"download_timeout_secs"`
	SplitTimeoutSecs    int      `yaml:"split_timeout_secs"`
	ChunkTimeoutSecs    int      `yaml:"chunk_timeout_secs"`
	FileCommand         string   `yaml:"file_command"`
	FileArgs            []string `yaml:"file_args"`
	MaxPlaylistItems    int      `yaml:"max_playlist_items"`
}

type SecurityConfig struct {
	AllowedRoles    []string `yaml:"allowed_roles"`
	AllowedUsers    []string `yaml:"allowed_users"`
	BlockedUsers    []string `yaml:"blocked_users"`
	CooldownSeconds int      `yaml:"cooldown_seconds"`
	GuildOnly       bool     `yaml:"guild_only"`
}

type OutputConfig struct {
	ResultPreviewChars int `yaml:"result_preview_chars"`
}

func (p Plugin) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

func (e ExecutionConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

func (c ChunkingConfig) ChunkDuration() time.Duration {
	return time.Duration(c.ChunkDurationSecs) * time.Second
}

func (c ChunkingConfig) Threshold() time.Duration {
	return time.Duration(c.ThresholdSecs) * time.Second
}

func (c ChunkingConfig) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSecs) * time.Second
}

func (c ChunkingConfig) SplitTimeout() time.Duration {
	return time.Duration(c.SplitTimeoutSecs) * time.Second
}

func (c ChunkingConfig) ChunkTimeout() time.Duration {
	return time.Duration(c.ChunkTimeoutSecs) * time.Second
}

// LoadPlugins reads, defaults and validates a plugin definitions file.
func LoadPlugins(path string) ([]Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugins file %s: %w", path, err)
	}
	plugins, err := ParsePlugins(data)
	if err != nil {
		return nil, fmt.Errorf("plugins file %s: %w", path, err)
	}
	return plugins, nil
}

func ParsePlugins(data []byte) ([]Plugin, error) {
	var file PluginFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	for i := range file.Plugins {
		file.Plugins[i].applyDefaults()
	}
	if err := ValidatePlugins(file.Plugins); err != nil {
		return nil, err
	}
	return file.Plugins, nil
}

func (p *Plugin) applyDefaults() {
	if p.Kind == "" {
		p.Kind = KindExternal
	}
	if p.Execution.TimeoutSeconds <= 0 {
		p.Execution.TimeoutSeconds = defaultTimeoutSeconds
	}
	if p.Execution.MaxOutputBytes <= 0 {
		p.Execution.MaxOutputBytes = defaultMaxOutputBytes
	}
	c := &p.Execution.Chunking
	if c.ChunkDurationSecs <= 0 {
		c.ChunkDurationSecs = defaultChunkDurationSecs
	}
	if c.ThresholdSecs <= 0 {
		c.ThresholdSecs = c.ChunkDurationSecs
	}
	if c.DownloadTimeoutSecs <= 0 {
		c.DownloadTimeoutSecs = defaultDownloadTimeoutSecs
	}
	if c.SplitTimeoutSecs <= 0 {
		c.SplitTimeoutSecs = defaultSplitTimeoutSecs
	}
	if c.ChunkTimeoutSecs <= 0 {
		c.ChunkTimeoutSecs = defaultChunkTimeoutSecs
	}
	for i := range p.Command.Options {
		if p.Command.Options[i].Type == "" {
			p.Command.Options[i].Type = "string"
		}
	}
	if p.Output.ResultPreviewChars <= 0 {
		p.Output.ResultPreviewChars = defaultResultPreviewChars
	}
}

// ValidatePlugins checks every definition and reports all problems at once.
func ValidatePlugins(plugins []Plugin) error {
	var errs []error
	seen := map[string]string{}
	for _, p := range plugins {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
		if prev, ok := seen[p.Command.Name]; ok {
			errs = append(errs, fmt.Errorf("command name %q used by plugins %q and %q", p.Command.Name, prev, p.Name))
		}
		seen[p.Command.Name] = p.Name
	}
	return errors.Join(errs...)
}

func (p Plugin) Validate() error {
	name := p.Command.Name
	switch {
	case !commandNameRegex.MatchString(name):
		return fmt.Errorf("command name must be lowercase: %q", name)
	case len(name) > maxCommandNameLen:
		return fmt.Errorf("command name too long (max %d chars): %s", maxCommandNameLen, name)
	case len(p.Command.Description) > maxCommandDescriptionLen:
		return fmt.Errorf("command description too long (max %d chars): %s", maxCommandDescriptionLen, p.Name)
	}

	switch p.Kind {
	case KindExternal:
		if strings.TrimSpace(p.Execution.Command) == "" {
			return fmt.Errorf("plugin %s has no execution command", p.Name)
		}
	case KindTranscribe:
		if p.Execution.Chunking.Enabled {
			if strings.TrimSpace(p.Execution.Chunking.FileCommand) == "" {
				return fmt.Errorf("plugin %s enables chunking without chunking.file_command", p.Name)
			}
		} else if strings.TrimSpace(p.Execution.Command) == "" {
			return fmt.Errorf("plugin %s has no execution command", p.Name)
		}
	case KindJobStatus, KindJobCancel:
	default:
		return fmt.Errorf("plugin %s has unknown kind %q", p.Name, p.Kind)
	}

	for _, opt := range p.Command.Options {
		if !commandNameRegex.MatchString(opt.Name) {
			return fmt.Errorf("option name must be lowercase: %s in plugin %s", opt.Name, p.Name)
		}
		if opt.Validation != nil && opt.Validation.Pattern != "" {
			if _, err := regexp.Compile(opt.Validation.Pattern); err != nil {
				return fmt.Errorf("invalid regex pattern for option %q in plugin %q: %w", opt.Name, p.Name, err)
			}
		}
	}
	return nil
}
