// Package config holds the resolved configuration of a sync run and
// loads defaults from an optional config file and environment.
//
// Precedence is the usual viper stack: command-line flags override
// environment variables (TUNESYNC_*), which override the config file,
// which overrides built-in defaults. The rest of the program only ever
// sees the resolved Config value; no package reads flags or env on its
// own.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DefaultCacheFile is the hash-cache location used when none is
// configured.
const DefaultCacheFile = "sync_cache.sqlite"

// Config is the fully resolved configuration for one sync run.
type Config struct {
	// Mode is the equality mode: "quick" or "hash".
	Mode string `mapstructure:"mode"`

	// Conflict is the conflict policy: newer, left, right, skip or
	// duplicate.
	Conflict string `mapstructure:"conflict"`

	// MirrorDelete removes one-sided files after the comparison pass.
	MirrorDelete bool `mapstructure:"mirror_delete"`

	// IncludeAll disables the music-extension allowlist.
	IncludeAll bool `mapstructure:"include_all"`

	// SkipHidden suppresses dot-entries while indexing.
	SkipHidden bool `mapstructure:"skip_hidden"`

	// Excludes are extra glob patterns on top of the built-in junk set.
	Excludes []string `mapstructure:"excludes"`

	// ProtectLeft / ProtectRight forbid overwrites and deletes on the
	// named side. ProtectAndroid protects whichever side is an adb
	// endpoint.
	ProtectLeft    bool `mapstructure:"protect_left"`
	ProtectRight   bool `mapstructure:"protect_right"`
	ProtectAndroid bool `mapstructure:"protect_android"`

	// RewritePlaylist enables playlist rewriting on copy.
	RewritePlaylist bool `mapstructure:"rewrite_playlist"`

	// PlaylistExts is the comma-separated playlist extension set.
	PlaylistExts string `mapstructure:"playlist_exts"`

	// Apply performs mutations; without it the run is a dry run.
	Apply bool `mapstructure:"apply"`

	// Verbose narrates indexing and per-action decisions.
	Verbose bool `mapstructure:"verbose"`

	// CachePath is the hash-cache database file.
	CachePath string `mapstructure:"cache"`

	// LogFile, when set, routes the run log to a rotated file instead
	// of stderr.
	LogFile string `mapstructure:"log_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Mode:         "quick",
		Conflict:     "newer",
		SkipHidden:   true,
		PlaylistExts: ".m3u8,.m3u",
		CachePath:    DefaultCacheFile,
	}
}

// PlaylistExtSet parses the comma-separated extension list into the set
// form the filter and executor consume.
func (c Config) PlaylistExtSet() map[string]bool {
	set := map[string]bool{}
	for _, e := range strings.Split(c.PlaylistExts, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

// Load resolves a Config from defaults, an optional config file and the
// environment. file may be empty, in which case tunesync.yaml is looked
// up in the working directory and ignored when absent.
func Load(file string) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("mode", def.Mode)
	v.SetDefault("conflict", def.Conflict)
	v.SetDefault("skip_hidden", def.SkipHidden)
	v.SetDefault("playlist_exts", def.PlaylistExts)
	v.SetDefault("cache", def.CachePath)

	v.SetEnvPrefix("TUNESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", file, err)
		}
	} else {
		v.SetConfigName("tunesync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing configuration: %w", err)
	}
	return cfg, nil
}
