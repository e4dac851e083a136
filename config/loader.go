package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-og/types"
)

const readTimeout = 30 * time.Second

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadFromFile reads a YAML file over Defaults. ${VAR} references are
// expanded from the environment before parsing.
func (l *Loader) LoadFromFile(configPath string) (*types.EngineConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.Errorf(types.ErrConfigInvalidPath, "file not found: %s", configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.Errorf(types.ErrConfigLoadFailed, "%v", err)
	}

	return l.Load(data)
}

func (l *Loader) Load(data []byte) (*types.EngineConfig, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Validate(config *types.EngineConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}
	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}
	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.EngineConfig {
	return &types.EngineConfig{
		Name:    "sai-og",
		Version: "1.0.0",
		Logger: &types.LoggerConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Limits: &types.LimitsConfig{
			MaxWidth:          4096,
			MaxHeight:         4096,
			MaxPayloadBytes:   64 * 1024,
			MaxLoopIterations: 1000,
		},
		Templates: &types.TemplatesConfig{
			WatchDebounce: 200 * time.Millisecond,
			MissingPolicy: types.MissingPolicyEmpty,
		},
		Fonts: &types.FontsConfig{
			DefaultFamily: "Go",
			Builtins:      true,
		},
		Render: &types.RenderConfig{
			UnsupportedPolicy: types.UnsupportedPolicySkip,
			DefaultFontSize:   16,
		},
		Encoder: &types.EncoderConfig{
			JPEGQuality:    85,
			PNGCompression: 6,
			WebPQuality:    80,
		},
		Cache: &types.CacheConfig{
			Memory: &types.MemoryCacheConfig{
				MaxEntries: 1024,
				MaxBytes:   256 << 20,
				TTL:        time.Hour,
			},
			Persistent: &types.PersistentCacheConfig{
				Type:          "none",
				TTL:           24 * time.Hour,
				SweepSchedule: "0 */10 * * * *",
			},
		},
		Generator: &types.GeneratorConfig{
			Timeout: 10 * time.Second,
		},
		Server: &types.ServerConfig{
			Enabled:         true,
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxAge:          86400,
		},
		Metrics: &types.MetricsConfig{
			Enabled:         false,
			Namespace:       "sai_og",
			Path:            "/metrics",
			CollectSchedule: "*/15 * * * * *",
		},
	}
}
