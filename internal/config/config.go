/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.

type EngineConfig struct {
	WasmPath         string `yaml:"wasm_path"`
	DefaultSource    string `yaml:"default_source"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"` // 64 KiB pages; 0 = runtime default
	CacheDir         string `yaml:"cache_dir"`
}

type ExportConfig struct {
	FileName     string `yaml:"file_name"`
	DownloadsDir string `yaml:"downloads_dir"`
	Format       string `yaml:"format"` // "png" | "pdf"
}

type HistoryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
	ThumbSize  int    `yaml:"thumb_size"`
}

type GeneralConfig struct {
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
	Theme          string `yaml:"theme"` // "system" | "light" | "dark"
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Engine        EngineConfig  `yaml:"engine"`
	Export        ExportConfig  `yaml:"export"`
	History       HistoryConfig `yaml:"history"`
	Logging       LoggingConfig `yaml:"logging"`
}

// DefaultSource is rendered once the engine is ready.
const DefaultSource = "Stupid Shader Language"

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false, Theme: "system"},
		Engine:        EngineConfig{WasmPath: "ssl.wasm", DefaultSource: DefaultSource},
		Export:        ExportConfig{FileName: "ssl-output.png", Format: "png"},
		History:       HistoryConfig{Enabled: true, MaxEntries: 200, ThumbSize: 128},
		Logging:       LoggingConfig{Level: "info", Format: "console", Source: false, File: ""},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath     = "SSL_CONFIG"
	EnvEngine         = "SSL_ENGINE"
	EnvEngineCache    = "SSL_ENGINE_CACHE"
	EnvExportDir      = "SSL_EXPORT_DIR"
	EnvExportFormat   = "SSL_EXPORT_FORMAT"
	EnvHistory        = "SSL_HISTORY"
	EnvHistoryPath    = "SSL_HISTORY_PATH"
	EnvTelemetryOptIn = "SSL_TELEMETRY_OPT_IN"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "SSL_LOG_LEVEL"
	EnvLogFormat = "SSL_LOG_FORMAT"
	EnvLogSource = "SSL_LOG_SOURCE"
	EnvLogFile   = "SSL_LOG_FILE"
)

// ErrInvalidFile wraps schema or YAML errors in the config file. The config
// returned alongside it holds defaults plus environment overrides.
var ErrInvalidFile = errors.New("invalid config file")

//go:embed schema.json
var schemaJSON []byte

// Dir returns the per-user configuration directory.
func Dir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "SSLStudio")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "SSLStudio")
	default: // linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "sslstudio")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "sslstudio")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return base, nil
}

// ConfigPath returns the per-user config file path; SSL_CONFIG wins.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the user config file (if present), applies defaults, and merges environment overrides.
func Load() (AppConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		cfg := Defaults()
		applyEnvOverrides(&cfg)
		return cfg, err
	}
	return LoadFrom(path)
}

// LoadFrom is Load for an explicit path. A missing file is not an error.
func LoadFrom(path string) (AppConfig, error) {
	cfg := Defaults()
	var fileErr error
	if data, err := os.ReadFile(path); err == nil {
		fileCfg, err := decode(data)
		if err != nil {
			fileErr = fmt.Errorf("%w %s: %v", ErrInvalidFile, path, err)
		} else {
			mergeInto(&cfg, &fileCfg)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		fileErr = fmt.Errorf("read config: %w", err)
	}
	applyEnvOverrides(&cfg)
	if cfg.History.Path == "" {
		if dir, err := Dir(); err == nil {
			cfg.History.Path = filepath.Join(dir, "history.sqlite")
		}
	}
	return cfg, fileErr
}

// decode validates data against the embedded schema and unmarshals it on
// top of the defaults. Keys absent from the file keep their default.
func decode(data []byte) (AppConfig, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return AppConfig{}, err
	}
	if doc == nil {
		return Defaults(), nil
	}
	if err := Validate(doc); err != nil {
		return AppConfig{}, err
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate checks a decoded YAML document against the config schema.
func Validate(doc any) error {
	res, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Save writes the user config YAML.
func Save(cfg AppConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// SaveTo writes cfg to path.
func SaveTo(path string, cfg AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if src.General.Theme != "" {
		dst.General.Theme = src.General.Theme
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	// engine
	if s := strings.TrimSpace(src.Engine.WasmPath); s != "" {
		dst.Engine.WasmPath = s
	}
	if src.Engine.DefaultSource != "" {
		dst.Engine.DefaultSource = src.Engine.DefaultSource
	}
	if src.Engine.MemoryLimitPages != 0 {
		dst.Engine.MemoryLimitPages = src.Engine.MemoryLimitPages
	}
	if s := strings.TrimSpace(src.Engine.CacheDir); s != "" {
		dst.Engine.CacheDir = s
	}
	// export
	if s := strings.TrimSpace(src.Export.FileName); s != "" {
		dst.Export.FileName = s
	}
	if s := strings.TrimSpace(src.Export.DownloadsDir); s != "" {
		dst.Export.DownloadsDir = s
	}
	if s := strings.TrimSpace(src.Export.Format); s != "" {
		dst.Export.Format = strings.ToLower(s)
	}
	// history
	dst.History.Enabled = src.History.Enabled
	if s := strings.TrimSpace(src.History.Path); s != "" {
		dst.History.Path = s
	}
	if src.History.MaxEntries > 0 {
		dst.History.MaxEntries = src.History.MaxEntries
	}
	if src.History.ThumbSize > 0 {
		dst.History.ThumbSize = src.History.ThumbSize
	}
	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

func truthy(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvEngine)); v != "" {
		cfg.Engine.WasmPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvEngineCache)); v != "" {
		cfg.Engine.CacheDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvExportDir)); v != "" {
		cfg.Export.DownloadsDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvExportFormat)); v != "" {
		cfg.Export.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvHistory)); v != "" {
		cfg.History.Enabled = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvHistoryPath)); v != "" {
		cfg.History.Path = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = truthy(v)
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

var overrideEnv = map[string]string{
	"engine.wasm_path":         EnvEngine,
	"engine.cache_dir":         EnvEngineCache,
	"export.downloads_dir":     EnvExportDir,
	"export.format":            EnvExportFormat,
	"history.enabled":          EnvHistory,
	"history.path":             EnvHistoryPath,
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := overrideEnv[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

// MemoryLimitString renders the engine memory limit for display.
func (e EngineConfig) MemoryLimitString() string {
	if e.MemoryLimitPages == 0 {
		return "default"
	}
	return strconv.FormatUint(uint64(e.MemoryLimitPages)*64, 10) + " KiB"
}
