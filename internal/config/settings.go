// Package config loads runtime settings and plugin definitions.
//
// Settings come from, lowest priority first: built-in defaults, an optional
// YAML settings file, PLUGINJOBS_* environment variables (after .env files are
// loaded) and command line flags bound by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "PLUGINJOBS"

const (
	KeyLogLevel            = "log.level"
	KeyDataDir             = "data_dir"
	KeyPluginsFile         = "plugins_file"
	KeyAllowedPrograms     = "allowed_programs"
	KeyServerAddr          = "server.addr"
	KeyJournalEnabled      = "journal.enabled"
	KeyProgressMinInterval = "progress.min_interval"
	KeyCookiesPath         = "ytdlp.cookies_path"
	KeyProxy               = "ytdlp.proxy"
	KeyJSRuntime           = "ytdlp.js_runtime"
	KeyEnumerateTimeout    = "enumerate.timeout"
	KeyCleanupMaxAge       = "cleanup.max_age"
	KeyCleanupInterval     = "cleanup.interval"
)

type Settings struct {
	LogLevel            string        `json:"log_level"`
	DataDir             string        `json:"data_dir"`
	PluginsFile         string        `json:"plugins_file"`
	AllowedPrograms     []string      `json:"allowed_programs"`
	ServerAddr          string        `json:"server_addr"`
	JournalEnabled      bool          `json:"journal_enabled"`
	ProgressMinInterval time.Duration `json:"progress_min_interval"`
	CookiesPath         string        `json:"cookies_path,omitempty"`
	Proxy               string        `json:"proxy,omitempty"`
	JSRuntime           string        `json:"js_runtime"`
	EnumerateTimeout    time.Duration `json:"enumerate_timeout"`
	CleanupMaxAge       time.Duration `json:"cleanup_max_age"`
	CleanupInterval     time.Duration `json:"cleanup_interval"`
}

// NewViper returns a viper instance with defaults and environment binding set up.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyDataDir, "data")
	v.SetDefault(KeyPluginsFile, "plugins.yaml")
	v.SetDefault(KeyAllowedPrograms, []string{"yt-dlp", "ffmpeg", "ffprobe"})
	v.SetDefault(KeyServerAddr, ":8080")
	v.SetDefault(KeyJournalEnabled, true)
	v.SetDefault(KeyProgressMinInterval, 2*time.Second)
	v.SetDefault(KeyCookiesPath, "")
	v.SetDefault(KeyProxy, "")
	v.SetDefault(KeyJSRuntime, "auto")
	v.SetDefault(KeyEnumerateTimeout, 120*time.Second)
	v.SetDefault(KeyCleanupMaxAge, 24*time.Hour)
	v.SetDefault(KeyCleanupInterval, 10*time.Minute)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadEnvFiles loads ENV_FILE if set, otherwise .env.local then .env.
// Missing files are not an error.
func LoadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads the optional settings file into v and returns the effective settings.
func Load(v *viper.Viper, configFile string) (Settings, error) {
	if strings.TrimSpace(configFile) != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read settings file %s: %w", configFile, err)
		}
	}
	s := FromViper(v)
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func FromViper(v *viper.Viper) Settings {
	return Settings{
		LogLevel:            strings.TrimSpace(v.GetString(KeyLogLevel)),
		DataDir:             strings.TrimSpace(v.GetString(KeyDataDir)),
		PluginsFile:         strings.TrimSpace(v.GetString(KeyPluginsFile)),
		AllowedPrograms:     normalizeList(v.GetStringSlice(KeyAllowedPrograms)),
		ServerAddr:          strings.TrimSpace(v.GetString(KeyServerAddr)),
		JournalEnabled:      v.GetBool(KeyJournalEnabled),
		ProgressMinInterval: v.GetDuration(KeyProgressMinInterval),
		CookiesPath:         strings.TrimSpace(v.GetString(KeyCookiesPath)),
		Proxy:               strings.TrimSpace(v.GetString(KeyProxy)),
		JSRuntime:           strings.TrimSpace(v.GetString(KeyJSRuntime)),
		EnumerateTimeout:    v.GetDuration(KeyEnumerateTimeout),
		CleanupMaxAge:       v.GetDuration(KeyCleanupMaxAge),
		CleanupInterval:     v.GetDuration(KeyCleanupInterval),
	}
}

func (s Settings) Validate() error {
	var errs []error
	if s.DataDir == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyDataDir))
	}
	if len(s.AllowedPrograms) == 0 {
		errs = append(errs, fmt.Errorf("%s must name at least one program", KeyAllowedPrograms))
	}
	if s.ProgressMinInterval < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyProgressMinInterval))
	}
	if s.EnumerateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyEnumerateTimeout))
	}
	if s.CleanupMaxAge < 0 || s.CleanupInterval < 0 {
		errs = append(errs, fmt.Errorf("cleanup durations must not be negative"))
	}
	return errors.Join(errs...)
}

// normalizeList accepts both YAML lists and comma or space separated env values.
func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
			if p := strings.TrimSpace(part); p != "" && !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}
