// Package config loads server settings from flags, TREESYNC_* environment
// variables and an optional JSON settings blob, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "TREESYNC"

const (
	DefaultProjectFile   = "default.project.json"
	DefaultSourcemapFile = "sourcemap.json"
	DefaultRojoCommand   = "rojo"
)

// DefaultIgnoreGlobs keeps installed packages out of the approximate tree.
var DefaultIgnoreGlobs = []string{"**/_Index/**"}

type Config struct {
	Autogenerate      bool     `json:"autogenerate" mapstructure:"autogenerate"`
	IncludeNonScripts bool     `json:"includeNonScripts" mapstructure:"includeNonScripts"`
	IgnoreGlobs       []string `json:"ignoreGlobs" mapstructure:"ignoreGlobs"`
	RojoProjectFile   string   `json:"rojoProjectFile" mapstructure:"rojoProjectFile"`
	SourcemapFile     string   `json:"sourcemapFile" mapstructure:"sourcemapFile"`
	RojoCommand       string   `json:"rojoCommand" mapstructure:"rojoCommand"`
	LogLevel          string   `json:"logLevel" mapstructure:"logLevel"`
}

// Flag names bound to config keys by Load.
var flagKeys = map[string]string{
	"autogenerate":        "autogenerate",
	"include-non-scripts": "includeNonScripts",
	"ignore-glob":         "ignoreGlobs",
	"project":             "rojoProjectFile",
	"sourcemap":           "sourcemapFile",
	"rojo":                "rojoCommand",
	"log-level":           "logLevel",
}

// RegisterFlags adds the flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Bool("autogenerate", true, "generate the sourcemap with the rojo tool when a project file exists")
	fs.Bool("include-non-scripts", true, "include non-script instances in generated sourcemaps")
	fs.StringSlice("ignore-glob", DefaultIgnoreGlobs, "glob of paths skipped when approximating the tree")
	fs.String("project", DefaultProjectFile, "rojo project file")
	fs.String("sourcemap", DefaultSourcemapFile, "sourcemap file")
	fs.String("rojo", DefaultRojoCommand, "rojo executable")
}

// Load resolves the configuration. flags may be nil; only flags that were
// set explicitly override other sources. Relative paths are resolved
// against the working directory.
func Load(flags *pflag.FlagSet, settingsJSON string) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	return load(flags, settingsJSON, cwd)
}

func load(flags *pflag.FlagSet, settingsJSON, cwd string) (*Config, error) {
	v := viper.New()

	v.SetDefault("autogenerate", true)
	v.SetDefault("includeNonScripts", true)
	v.SetDefault("ignoreGlobs", DefaultIgnoreGlobs)
	v.SetDefault("rojoProjectFile", DefaultProjectFile)
	v.SetDefault("sourcemapFile", DefaultSourcemapFile)
	v.SetDefault("rojoCommand", DefaultRojoCommand)
	v.SetDefault("logLevel", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if strings.TrimSpace(settingsJSON) != "" {
		v.SetConfigType("json")
		if err := v.ReadConfig(strings.NewReader(settingsJSON)); err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.RojoProjectFile = absClean(cwd, cfg.RojoProjectFile)
	cfg.SourcemapFile = absClean(cwd, cfg.SourcemapFile)
	return &cfg, nil
}

func absClean(cwd, path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	return filepath.Clean(path)
}

func (c *Config) IsSourcemapPath(path string) bool {
	return filepath.Clean(path) == c.SourcemapFile
}

func (c *Config) IsProjectPath(path string) bool {
	return filepath.Clean(path) == c.RojoProjectFile
}

// PathsToWatch lists the files the server reacts to. The project file only
// matters when the sourcemap is generated.
func (c *Config) PathsToWatch() []string {
	if c.Autogenerate {
		return []string{c.SourcemapFile, c.RojoProjectFile}
	}
	return []string{c.SourcemapFile}
}
