// Package encoder serializes rendered buffers into PNG, JPEG and, when built
// with the webp tag, WebP byte streams.
package encoder

import (
	"bytes"
	"image"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-og/types"
)

const (
	DefaultJPEGQuality    = 85
	DefaultPNGCompression = 6
	DefaultWebPQuality    = 80
)

// Options are the per-request codec knobs. Nil fields use the configured
// defaults.
type Options struct {
	Quality     *int
	Compression *int
}

// EncodeFunc writes img to w. Implementations must be pure: the same input
// always yields the same bytes within a build.
type EncodeFunc func(w io.Writer, img image.Image, settings Settings) error

// Settings are resolved Options handed to an EncodeFunc.
type Settings struct {
	Quality     int
	Compression int
}

var (
	builtinMu sync.Mutex
	builtin   = map[types.Format]EncodeFunc{
		types.FormatPNG:  encodePNG,
		types.FormatJPEG: encodeJPEG,
	}
)

// registerBuiltin is used by codec files compiled in behind build tags.
func registerBuiltin(format types.Format, fn EncodeFunc) {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	builtin[format] = fn
}

type Encoder struct {
	logger   types.Logger
	config   *types.EncoderConfig
	mu       sync.RWMutex
	encoders map[types.Format]EncodeFunc
	pool     sync.Pool
}

func NewEncoder(logger types.Logger, config *types.EncoderConfig) *Encoder {
	if config == nil {
		config = &types.EncoderConfig{PNGCompression: DefaultPNGCompression}
	}
	if config.JPEGQuality == 0 {
		config.JPEGQuality = DefaultJPEGQuality
	}
	if config.WebPQuality == 0 {
		config.WebPQuality = DefaultWebPQuality
	}

	e := &Encoder{
		logger:   logger,
		config:   config,
		encoders: make(map[types.Format]EncodeFunc),
		pool: sync.Pool{
			New: func() interface{} { return new(bytes.Buffer) },
		},
	}

	builtinMu.Lock()
	for format, fn := range builtin {
		e.encoders[format] = fn
	}
	builtinMu.Unlock()

	logger.Debug("Encoder initialized", zap.Strings("formats", e.formatNames()))

	return e
}

// Register adds or replaces the codec for format.
func (e *Encoder) Register(format types.Format, fn EncodeFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.encoders[format] = fn
}

// Supported reports whether format has a compiled-in codec.
func (e *Encoder) Supported(format types.Format) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.encoders[format]
	return ok
}

func (e *Encoder) Formats() []types.Format {
	e.mu.RLock()
	defer e.mu.RUnlock()

	formats := make([]types.Format, 0, len(e.encoders))
	for f := range e.encoders {
		formats = append(formats, f)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })
	return formats
}

func (e *Encoder) formatNames() []string {
	formats := e.Formats()
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return names
}

// CheckFormat fails with UnsupportedFormat when no codec is compiled in.
func (e *Encoder) CheckFormat(format types.Format) error {
	if !e.Supported(format) {
		return types.NewError(types.KindUnsupportedFormat, "format %s is not compiled in", format)
	}
	return nil
}

func (e *Encoder) ContentType(format types.Format) string {
	return format.ContentType()
}

// Encode serializes img. It never falls back to another format.
func (e *Encoder) Encode(img image.Image, format types.Format, opts *Options) ([]byte, error) {
	e.mu.RLock()
	fn, ok := e.encoders[format]
	e.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.KindUnsupportedFormat, "format %s is not compiled in", format)
	}

	settings, err := e.settings(format, opts)
	if err != nil {
		return nil, err
	}

	buf := e.pool.Get().(*bytes.Buffer)
	buf.Reset()
	defer e.pool.Put(buf)

	if err := fn(buf, img, settings); err != nil {
		return nil, types.WrapKind(types.KindEncodeError, err, "encode %s", format)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (e *Encoder) settings(format types.Format, opts *Options) (Settings, error) {
	s := Settings{Compression: e.config.PNGCompression}

	switch format {
	case types.FormatWebP:
		s.Quality = e.config.WebPQuality
	default:
		s.Quality = e.config.JPEGQuality
	}

	if opts == nil {
		return s, nil
	}

	if opts.Quality != nil {
		if *opts.Quality < 1 || *opts.Quality > 100 {
			return s, types.NewError(types.KindInvalidParams, "quality %d is outside 1..100", *opts.Quality)
		}
		s.Quality = *opts.Quality
	}
	if opts.Compression != nil {
		if *opts.Compression < 0 || *opts.Compression > 9 {
			return s, types.NewError(types.KindInvalidParams, "compression %d is outside 0..9", *opts.Compression)
		}
		s.Compression = *opts.Compression
	}

	return s, nil
}
