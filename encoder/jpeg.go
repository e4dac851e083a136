package encoder

import (
	"image"
	"image/jpeg"
	"io"
)

func encodeJPEG(w io.Writer, img image.Image, s Settings) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: s.Quality})
}
