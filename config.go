package slidebank

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a slidebank App.
type Config struct {
	// DataDir holds the database and the per-deck preview directories.
	// If empty, defaults to ~/.slidebank.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to <DataDir>/slides.db.
	DBPath string `json:"db_path" yaml:"db_path"`

	// Preview images
	PreviewLabel  string   `json:"preview_label" yaml:"preview_label"`   // file name prefix, e.g. "슬라이드" -> 슬라이드1.PNG
	PreviewHeader string   `json:"preview_header" yaml:"preview_header"` // header drawn on placeholder previews
	PreviewWidth  int      `json:"preview_width" yaml:"preview_width"`
	PreviewHeight int      `json:"preview_height" yaml:"preview_height"`
	Fonts         []string `json:"fonts" yaml:"fonts"` // TrueType fonts tried in order before the built-in face

	// Native export via LibreOffice + poppler
	SofficePath   string        `json:"soffice_path" yaml:"soffice_path"`
	PdftoppmPath  string        `json:"pdftoppm_path" yaml:"pdftoppm_path"`
	ExportTimeout time.Duration `json:"export_timeout" yaml:"export_timeout"`

	// Logging
	LogLevel  string `json:"log_level" yaml:"log_level"`   // debug, info, warn, error
	LogFormat string `json:"log_format" yaml:"log_format"` // text or json

	// LogFile receives every log record, appended across runs.
	// If empty, defaults to <DataDir>/logs.log.
	LogFile string `json:"log_file" yaml:"log_file"`

	// HTTP API listen address (cmd/server)
	Addr string `json:"addr" yaml:"addr"`
}

// DefaultConfig returns a Config with the defaults used by the desktop tool.
// Previews are named like PowerPoint's own export ("슬라이드1.PNG", ...).
func DefaultConfig() Config {
	return Config{
		PreviewLabel:  "슬라이드",
		PreviewHeader: "참고용 미리보기",
		PreviewWidth:  800,
		PreviewHeight: 600,
		Fonts:         []string{"malgun.ttf", "arialuni.ttf"},
		SofficePath:   "soffice",
		PdftoppmPath:  "pdftoppm",
		ExportTimeout: 5 * time.Minute,
		LogLevel:      "info",
		LogFormat:     "text",
		Addr:          "127.0.0.1:8765",
	}
}

// LoadConfig reads a YAML or JSON config file on top of DefaultConfig, then
// applies .env and SLIDEBANK_* environment overrides. An empty path skips the
// file step.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			err = json.Unmarshal(data, &cfg)
		default:
			err = yaml.Unmarshal(data, &cfg)
		}
		if err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SLIDEBANK_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("SLIDEBANK_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("SLIDEBANK_PREVIEW_LABEL"); v != "" {
		c.PreviewLabel = v
	}
	if v := os.Getenv("SLIDEBANK_FONTS"); v != "" {
		c.Fonts = strings.Split(v, string(os.PathListSeparator))
	}
	if v := os.Getenv("SLIDEBANK_SOFFICE"); v != "" {
		c.SofficePath = v
	}
	if v := os.Getenv("SLIDEBANK_PDFTOPPM"); v != "" {
		c.PdftoppmPath = v
	}
	if v := os.Getenv("SLIDEBANK_EXPORT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: SLIDEBANK_EXPORT_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		c.ExportTimeout = d
	}
	if v := os.Getenv("SLIDEBANK_PREVIEW_SIZE"); v != "" {
		w, h, ok := strings.Cut(v, "x")
		wi, err1 := strconv.Atoi(w)
		hi, err2 := strconv.Atoi(h)
		if !ok || err1 != nil || err2 != nil {
			return fmt.Errorf("%w: SLIDEBANK_PREVIEW_SIZE must look like 800x600", ErrInvalidConfig)
		}
		c.PreviewWidth, c.PreviewHeight = wi, hi
	}
	if v := os.Getenv("SLIDEBANK_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SLIDEBANK_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("SLIDEBANK_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("SLIDEBANK_ADDR"); v != "" {
		c.Addr = v
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a batch.
func (c *Config) Validate() error {
	if c.PreviewWidth <= 0 || c.PreviewHeight <= 0 {
		return fmt.Errorf("%w: preview size must be positive", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.PreviewLabel) == "" {
		return fmt.Errorf("%w: preview_label is required", ErrInvalidConfig)
	}
	if strings.ContainsAny(c.PreviewLabel, `/\`) {
		return fmt.Errorf("%w: preview_label must not contain path separators", ErrInvalidConfig)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps LogLevel to a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return lvl, fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	return lvl, nil
}

// NewLogger builds the process logger from LogLevel and LogFormat. Records
// are appended to the log file and also written to console when it is not
// nil. The caller closes the returned file.
func (c *Config) NewLogger(console io.Writer) (*slog.Logger, io.Closer, error) {
	path := c.resolveLogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	var w io.Writer = f
	if console != nil {
		w = io.MultiWriter(f, console)
	}

	lvl, _ := c.SlogLevel()
	opts := &slog.HandlerOptions{Level: lvl}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), f, nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), f, nil
}

// resolveDataDir computes the data directory from config fields.
func (c *Config) resolveDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".slidebank" // fallback to cwd
	}
	return filepath.Join(home, ".slidebank")
}

// resolveLogPath computes the log file path from config fields.
func (c *Config) resolveLogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.resolveDataDir(), "logs.log")
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.resolveDataDir(), "slides.db")
}
