package encoder

import (
	"image"
	"image/png"
	"io"
	"sync"
)

type bufferPool struct {
	pool sync.Pool
}

func (p *bufferPool) Get() *png.EncoderBuffer {
	b, _ := p.pool.Get().(*png.EncoderBuffer)
	return b
}

func (p *bufferPool) Put(b *png.EncoderBuffer) {
	p.pool.Put(b)
}

var pngBuffers = &bufferPool{}

// pngLevel maps a 0-9 compression knob onto image/png's four levels.
func pngLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

func encodePNG(w io.Writer, img image.Image, s Settings) error {
	enc := &png.Encoder{
		CompressionLevel: pngLevel(s.Compression),
		BufferPool:       pngBuffers,
	}
	return enc.Encode(w, img)
}
