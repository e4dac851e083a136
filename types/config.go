package types

import (
	"time"
)

const (
	MissingPolicyEmpty = "empty"
	MissingPolicyError = "error"

	UnsupportedPolicySkip = "skip"
	UnsupportedPolicyFail = "fail"
)

type EngineConfig struct {
	Name      string           `yaml:"name" json:"name" validate:"required"`
	Version   string           `yaml:"version" json:"version"`
	Logger    *LoggerConfig    `yaml:"logger" json:"logger" validate:"required"`
	Limits    *LimitsConfig    `yaml:"limits" json:"limits" validate:"required"`
	Templates *TemplatesConfig `yaml:"templates" json:"templates" validate:"required"`
	Fonts     *FontsConfig     `yaml:"fonts" json:"fonts" validate:"required"`
	Render    *RenderConfig    `yaml:"render" json:"render" validate:"required"`
	Encoder   *EncoderConfig   `yaml:"encoder" json:"encoder" validate:"required"`
	Cache     *CacheConfig     `yaml:"cache" json:"cache" validate:"required"`
	Generator *GeneratorConfig `yaml:"generator" json:"generator" validate:"required"`
	Server    *ServerConfig    `yaml:"server" json:"server"`
	Metrics   *MetricsConfig   `yaml:"metrics" json:"metrics"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn warning error fatal"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=console json"`
	Output string `yaml:"output" json:"output" validate:"omitempty,oneof=stdout stderr file"`
	File   string `yaml:"file" json:"file" validate:"required_if=Output file"`
}

type LimitsConfig struct {
	MaxWidth          int `yaml:"max_width" json:"max_width" validate:"min=1"`
	MaxHeight         int `yaml:"max_height" json:"max_height" validate:"min=1"`
	MaxPayloadBytes   int `yaml:"max_payload_bytes" json:"max_payload_bytes" validate:"min=0"`
	MaxLoopIterations int `yaml:"max_loop_iterations" json:"max_loop_iterations" validate:"min=1"`
}

type TemplatesConfig struct {
	Dir           string        `yaml:"dir" json:"dir"`
	Watch         bool          `yaml:"watch" json:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce" json:"watch_debounce"`
	MissingPolicy string        `yaml:"missing_policy" json:"missing_policy" validate:"oneof=empty error"`
	Minify        bool          `yaml:"minify" json:"minify"`
}

type FontsConfig struct {
	Dir           string   `yaml:"dir" json:"dir"`
	DefaultFamily string   `yaml:"default_family" json:"default_family" validate:"required"`
	FallbackChain []string `yaml:"fallback_chain" json:"fallback_chain"`
	RequireMatch  bool     `yaml:"require_match" json:"require_match"`
	Builtins      bool     `yaml:"builtins" json:"builtins"`
}

type RenderConfig struct {
	UnsupportedPolicy string  `yaml:"unsupported_policy" json:"unsupported_policy" validate:"oneof=skip fail"`
	DefaultBackground string  `yaml:"default_background" json:"default_background"`
	DefaultFontSize   float64 `yaml:"default_font_size" json:"default_font_size" validate:"gt=0"`
}

type EncoderConfig struct {
	JPEGQuality    int `yaml:"jpeg_quality" json:"jpeg_quality" validate:"min=1,max=100"`
	PNGCompression int `yaml:"png_compression" json:"png_compression" validate:"min=0,max=9"`
	WebPQuality    int `yaml:"webp_quality" json:"webp_quality" validate:"min=1,max=100"`
}

type CacheConfig struct {
	Memory     *MemoryCacheConfig     `yaml:"memory" json:"memory" validate:"required"`
	Persistent *PersistentCacheConfig `yaml:"persistent" json:"persistent"`
}

type MemoryCacheConfig struct {
	MaxEntries int           `yaml:"max_entries" json:"max_entries" validate:"min=1"`
	MaxBytes   int64         `yaml:"max_bytes" json:"max_bytes" validate:"min=0"`
	TTL        time.Duration `yaml:"ttl" json:"ttl" validate:"min=0"`
}

type PersistentCacheConfig struct {
	Type          string        `yaml:"type" json:"type" validate:"omitempty,oneof=none disk redis sqlite clover"`
	TTL           time.Duration `yaml:"ttl" json:"ttl" validate:"min=0"`
	SweepSchedule string        `yaml:"sweep_schedule" json:"sweep_schedule"`
	Config        interface{}   `yaml:"config" json:"config"`
}

type GeneratorConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
	Workers int           `yaml:"workers" json:"workers" validate:"min=0"`
}

type ServerConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxAge          int           `yaml:"max_age" json:"max_age" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled         bool              `yaml:"enabled" json:"enabled"`
	Namespace       string            `yaml:"namespace" json:"namespace"`
	Subsystem       string            `yaml:"subsystem" json:"subsystem"`
	Path            string            `yaml:"path" json:"path"`
	Labels          map[string]string `yaml:"labels" json:"labels"`
	EnableGoMetrics bool              `yaml:"enable_go_metrics" json:"enable_go_metrics"`
	CollectSchedule string            `yaml:"collect_schedule" json:"collect_schedule"`
}
