//go:build webp

package encoder

import (
	"image"
	"io"

	"github.com/chai2010/webp"

	"github.com/saiset-co/sai-og/types"
)

func init() {
	registerBuiltin(types.FormatWebP, encodeWebP)
}

func encodeWebP(w io.Writer, img image.Image, s Settings) error {
	return webp.Encode(w, img, &webp.Options{Quality: float32(s.Quality)})
}
