package render

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/saiset-co/sai-og/types"
)

const maxEmbeddedPixels = 4096 * 4096

// decodeDataURI decodes an embedded raster image. Only data: URIs are
// accepted; fetching remote assets does not belong in the render path.
func decodeDataURI(uri string) (image.Image, error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, "data:") {
		return nil, types.NewError(types.KindUnsupportedElement, "image href %.32q is not a data URI", uri)
	}

	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, types.NewError(types.KindRenderError, "malformed data URI")
	}

	meta, payload := uri[5:comma], uri[comma+1:]

	var raw []byte
	if strings.HasSuffix(meta, ";base64") {
		cleaned := strings.Map(func(r rune) rune {
			if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
				return -1
			}
			return r
		}, payload)

		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, types.WrapKind(types.KindRenderError, err, "invalid base64 image data")
		}
		raw = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, types.WrapKind(types.KindRenderError, err, "invalid image data")
		}
		raw = []byte(unescaped)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, types.WrapKind(types.KindRenderError, err, "unrecognized embedded image")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxEmbeddedPixels {
		return nil, types.NewError(types.KindSizeLimitExceeded, "embedded image %dx%d is too large", cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, types.WrapKind(types.KindRenderError, err, "failed to decode embedded image")
	}
	return img, nil
}

// drawImage places img into the user-space box (x, y, w, h) under ctm,
// honoring preserveAspectRatio.
func (c *canvas) drawImage(img image.Image, x, y, w, h float64, par string, ctm matrix, opacity float64) {
	b := img.Bounds()
	if b.Empty() || w <= 0 || h <= 0 || opacity <= 0 {
		return
	}

	vb := [4]float64{float64(b.Min.X), float64(b.Min.Y), float64(b.Dx()), float64(b.Dy())}
	placement := translate(x, y).mul(viewBoxTransform(vb, w, h, par))
	s2d := ctm.mul(placement)

	opts := &draw.Options{}
	if opacity < 1 {
		opts.SrcMask = image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	}

	if strings.Contains(par, "slice") {
		clip := c.deviceRect(ctm, x, y, w, h)
		dst, ok := c.dst.SubImage(clip).(*image.RGBA)
		if !ok {
			return
		}
		draw.CatmullRom.Transform(dst, s2d.aff3(), img, b, draw.Over, opts)
		return
	}

	draw.CatmullRom.Transform(c.dst, s2d.aff3(), img, b, draw.Over, opts)
}

func (c *canvas) deviceRect(ctm matrix, x, y, w, h float64) image.Rectangle {
	corners := []point{
		ctm.apply(point{x, y}),
		ctm.apply(point{x + w, y}),
		ctm.apply(point{x, y + h}),
		ctm.apply(point{x + w, y + h}),
	}

	min, max := corners[0], corners[0]
	for _, p := range corners[1:] {
		if p.x < min.x {
			min.x = p.x
		}
		if p.y < min.y {
			min.y = p.y
		}
		if p.x > max.x {
			max.x = p.x
		}
		if p.y > max.y {
			max.y = p.y
		}
	}

	return image.Rect(int(min.x), int(min.y), int(max.x+0.999), int(max.y+0.999)).Intersect(c.dst.Bounds())
}
