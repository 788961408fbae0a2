package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// ICSConfig describes a single ICS subscription merged into the schedule feed.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url" validate:"required,url"`
	// ID is an internal identifier used for caching and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Category is used for events that carry no CATEGORIES property.
	Category string `yaml:"category" json:"category"`
}

// FeedConfig controls where the event list comes from.
type FeedConfig struct {
	// EventsFile is a JSON feed ({"periodo": ..., "eventos": [...]}).
	EventsFile string `yaml:"events_file" json:"events_file"`
	// Period overrides the period label of the loaded feed when set.
	Period string `yaml:"period" json:"period"`
	// ICS sources are fetched, expanded and appended after the file events.
	ICS []ICSConfig `yaml:"ics" json:"ics" validate:"dive"`
	// Refresh is a cron expression for reloading the feed.
	Refresh string `yaml:"refresh" json:"refresh"`
	// HorizonDays bounds recurring ICS expansion.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days" validate:"min=1,max=3660"`
	// CacheDir holds ETag/Last-Modified metadata and ICS bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// ExportConfig describes the printable document and the capture step.
type ExportConfig struct {
	Orientation string `yaml:"orientation" json:"orientation" validate:"oneof=landscape portrait"`
	Unit        string `yaml:"unit" json:"unit" validate:"oneof=mm pt cm in"`
	Format      string `yaml:"format" json:"format"`

	// Scale is the device scale factor used for captures.
	Scale           float64 `yaml:"scale" json:"scale" validate:"gt=0,lte=4"`
	CrossOrigin     bool    `yaml:"cross_origin" json:"cross_origin"`
	BackgroundColor string  `yaml:"background_color" json:"background_color" validate:"hexcolor"`

	// ViewportWidth is the CSS width of one page layout in pixels.
	ViewportWidth  int `yaml:"viewport_width" json:"viewport_width" validate:"min=320,max=8192"`
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// SettleMillis is the pause before the first capture so the layout
	// (fonts, remote images) can finish painting.
	SettleMillis int `yaml:"settle_ms" json:"settle_ms"`

	// Schedule, if set, is a cron expression for unattended exports of the
	// unfiltered view to OutputPath.
	Schedule   string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	OutputPath string `yaml:"output_path" json:"output_path"`
}

// BrandingConfig holds the fixed texts and images on every exported page.
type BrandingConfig struct {
	LogoURL      string `yaml:"logo_url" json:"logo_url" validate:"omitempty,url"`
	WatermarkURL string `yaml:"watermark_url" json:"watermark_url" validate:"omitempty,url"`
	Heading      string `yaml:"heading" json:"heading"`
	Subheading   string `yaml:"subheading" json:"subheading"`
	// Title is the base page title; the period label is appended to it.
	Title string `yaml:"title" json:"title"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone dates are interpreted in.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn warning error"`

	// MinYear is the smallest start-date year kept in the grouped view.
	MinYear int `yaml:"min_year" json:"min_year" validate:"min=1,max=9999"`

	// PageCapacity is the number of event cards per exported page.
	PageCapacity int `yaml:"page_capacity" json:"page_capacity" validate:"min=1,max=100"`
	// GridColumns is the number of card columns on an exported page.
	GridColumns int `yaml:"grid_columns" json:"grid_columns" validate:"min=1,max=6"`

	Feed     FeedConfig     `yaml:"feed" json:"feed"`
	Export   ExportConfig   `yaml:"export" json:"export"`
	Branding BrandingConfig `yaml:"branding" json:"branding"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "America/Sao_Paulo"
	defaultMinYear      = 1971
	defaultCapacity     = 12
	defaultColumns      = 3
	defaultRefresh      = "*/30 * * * *"
	defaultHorizonDays  = 180
	defaultCacheDir     = "./cache/ics-cache"
	defaultOrientation  = "landscape"
	defaultUnit         = "mm"
	defaultFormat       = "a3"
	defaultScale        = 2
	defaultBackground   = "#ffffff"
	defaultViewport     = 1600
	defaultTimeoutSec   = 120
	defaultSettleMillis = 300
	defaultOutputPath   = "./cronograma.pdf"
)

// DefaultBranding mirrors the course coordination header of the printed calendar.
func DefaultBranding() BrandingConfig {
	return BrandingConfig{
		LogoURL:      "https://cdn.cookielaw.org/logos/309bef31-1bad-4222-a8de-b66feda5e113/e1bda879-fe71-4686-b676-cc9fbc711aee/fcb85851-ec61-4efb-bae5-e72fdeacac0e/AFYA-FACULDADEMEDICAS-logo.png",
		WatermarkURL: "https://cdn.prod.website-files.com/65e07e5b264deb36f6e003d9/6883f05c26e613e478e32cd9_A.png",
		Heading:      "COORDENAÇÃO DO CURSO DE MEDICINA",
		Subheading:   "Coordenador do Curso: Prof. Kristhea Karyne | Coordenadora Adjunta: Prof. Roberya Viana",
		Title:        "Calendário de Eventos",
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Listen:       defaultListen,
		Timezone:     defaultTimezone,
		LogLevel:     "info",
		MinYear:      defaultMinYear,
		PageCapacity: defaultCapacity,
		GridColumns:  defaultColumns,
		Feed: FeedConfig{
			EventsFile:  "./events.json",
			ICS:         []ICSConfig{},
			Refresh:     defaultRefresh,
			HorizonDays: defaultHorizonDays,
			CacheDir:    defaultCacheDir,
		},
		Export: ExportConfig{
			Orientation:     defaultOrientation,
			Unit:            defaultUnit,
			Format:          defaultFormat,
			Scale:           defaultScale,
			CrossOrigin:     true,
			BackgroundColor: defaultBackground,
			ViewportWidth:   defaultViewport,
			TimeoutSeconds:  defaultTimeoutSec,
			SettleMillis:    defaultSettleMillis,
			OutputPath:      defaultOutputPath,
		},
		Branding:  DefaultBranding(),
		BasicAuth: nil,
	}
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MinYear <= 0 {
		c.MinYear = defaultMinYear
	}
	if c.PageCapacity <= 0 {
		c.PageCapacity = defaultCapacity
	}
	if c.GridColumns <= 0 {
		c.GridColumns = defaultColumns
	}

	if c.Feed.ICS == nil {
		c.Feed.ICS = []ICSConfig{}
	}
	if c.Feed.Refresh == "" {
		c.Feed.Refresh = defaultRefresh
	}
	if c.Feed.HorizonDays <= 0 {
		c.Feed.HorizonDays = defaultHorizonDays
	}
	if c.Feed.CacheDir == "" {
		c.Feed.CacheDir = defaultCacheDir
	}

	// Only landscape/portrait are meaningful to the document writer.
	switch c.Export.Orientation {
	case "landscape", "portrait":
	default:
		c.Export.Orientation = defaultOrientation
	}
	if c.Export.Unit == "" {
		c.Export.Unit = defaultUnit
	}
	if c.Export.Format == "" {
		c.Export.Format = defaultFormat
	}
	if c.Export.Scale <= 0 {
		c.Export.Scale = defaultScale
	}
	if c.Export.BackgroundColor == "" {
		c.Export.BackgroundColor = defaultBackground
	}
	if c.Export.ViewportWidth <= 0 {
		c.Export.ViewportWidth = defaultViewport
	}
	if c.Export.TimeoutSeconds <= 0 {
		c.Export.TimeoutSeconds = defaultTimeoutSec
	}
	if c.Export.SettleMillis < 0 {
		c.Export.SettleMillis = 0
	}
	if c.Export.OutputPath == "" {
		c.Export.OutputPath = defaultOutputPath
	}

	// Branding is filled field by field so a config can override just the title.
	def := DefaultBranding()
	if c.Branding.LogoURL == "" {
		c.Branding.LogoURL = def.LogoURL
	}
	if c.Branding.WatermarkURL == "" {
		c.Branding.WatermarkURL = def.WatermarkURL
	}
	if c.Branding.Heading == "" {
		c.Branding.Heading = def.Heading
	}
	if c.Branding.Subheading == "" {
		c.Branding.Subheading = def.Subheading
	}
	if c.Branding.Title == "" {
		c.Branding.Title = def.Title
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".schedexport-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Validate checks value ranges after Normalize has filled in defaults.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("config: invalid %s (%s=%s): %w", first.Namespace(), first.Tag(), first.Param(), err)
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
