package render

import (
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/saiset-co/sai-og/types"
)

type gradientStop struct {
	offset float64
	color  color.NRGBA
}

type gradient struct {
	radial    bool
	userSpace bool
	transform matrix
	attrs     map[string]string
	stops     []gradientStop
}

// resolveGradient follows href chains for inherited stops and attributes.
func (c *canvas) resolveGradient(el *element) (*gradient, error) {
	g := &gradient{
		radial:    el.name == "radialGradient",
		transform: identity(),
		attrs:     make(map[string]string),
	}

	seen := make(map[*element]bool)
	for cur := el; cur != nil && !seen[cur]; {
		seen[cur] = true

		for k, v := range cur.attrs {
			if _, ok := g.attrs[k]; !ok {
				g.attrs[k] = v
			}
		}
		if len(g.stops) == 0 {
			g.stops = parseStops(cur)
		}

		href, ok := cur.attr("href")
		if !ok || !strings.HasPrefix(href, "#") {
			break
		}
		cur = c.ids[href[1:]]
	}

	g.userSpace = g.attrs["gradientUnits"] == "userSpaceOnUse"
	if t, ok := g.attrs["gradientTransform"]; ok {
		m, err := parseTransform(t)
		if err != nil {
			return nil, err
		}
		g.transform = m
	}

	return g, nil
}

func parseStops(el *element) []gradientStop {
	var stops []gradientStop
	last := 0.0

	for _, child := range el.children {
		if child.name != "stop" {
			continue
		}
		props := properties(child)

		offset := 0.0
		if v, ok := props["offset"]; ok {
			if strings.HasSuffix(v, "%") {
				f, _ := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
				offset = f / 100
			} else {
				offset, _ = strconv.ParseFloat(v, 64)
			}
		}
		offset = math.Max(clamp01(offset), last)
		last = offset

		col := types.Color{A: 255}
		if v, ok := props["stop-color"]; ok {
			if parsed, err := types.ParseColor(v); err == nil {
				col = parsed
			}
		}
		nrgba := col.NRGBA()
		if v, ok := props["stop-opacity"]; ok {
			nrgba.A = uint8(math.Round(float64(nrgba.A) * parseOpacity(v)))
		}

		stops = append(stops, gradientStop{offset: offset, color: nrgba})
	}

	return stops
}

func (g *gradient) length(name, fallback string, ref float64) float64 {
	v, ok := parseLength(g.attrs[name], ref, 0)
	if !ok {
		v, _ = parseLength(fallback, ref, 0)
	}
	return v
}

// gradientImage is an image.Image sampling a gradient in device space.
type gradientImage struct {
	radial bool
	p1, p2 point
	center point
	radius float64
	inv    matrix
	lut    [256]color.RGBA
	bounds image.Rectangle
}

// gradientSource builds the device-space paint for a shape with user-space bounding
// box [min, max] drawn under ctm.
func (c *canvas) gradientSource(g *gradient, min, max point, ctm matrix, opacity float64) (image.Image, bool) {
	if len(g.stops) == 0 {
		return nil, false
	}
	if len(g.stops) == 1 {
		col := premultiply(g.stops[0].color, opacity)
		return image.NewUniform(col), true
	}

	var space matrix
	refW, refH := 1.0, 1.0
	if g.userSpace {
		space = ctm.mul(g.transform)
		refW, refH = c.viewportW, c.viewportH
	} else {
		w, h := max.x-min.x, max.y-min.y
		if w <= 0 || h <= 0 {
			return nil, false
		}
		space = ctm.mul(matrix{a: w, d: h, e: min.x, f: min.y}).mul(g.transform)
	}

	inv, ok := space.invert()
	if !ok {
		return nil, false
	}

	img := &gradientImage{
		radial: g.radial,
		inv:    inv,
		bounds: c.dst.Bounds(),
	}

	if g.radial {
		refR := math.Sqrt((refW*refW + refH*refH) / 2)
		img.center = point{g.length("cx", "50%", refW), g.length("cy", "50%", refH)}
		img.radius = g.length("r", "50%", refR)
		if img.radius <= 0 {
			return image.NewUniform(premultiply(g.stops[len(g.stops)-1].color, opacity)), true
		}
	} else {
		img.p1 = point{g.length("x1", "0%", refW), g.length("y1", "0%", refH)}
		img.p2 = point{g.length("x2", "100%", refW), g.length("y2", "0%", refH)}
	}

	img.buildLUT(g.stops, opacity)
	return img, true
}

// Stop offsets are non-decreasing, parseStops enforces it.
func (gi *gradientImage) buildLUT(stops []gradientStop, opacity float64) {
	for i := range gi.lut {
		t := float64(i) / 255
		gi.lut[i] = premultiply(sampleStops(stops, t), opacity)
	}
}

func sampleStops(stops []gradientStop, t float64) color.NRGBA {
	if t <= stops[0].offset {
		return stops[0].color
	}
	last := stops[len(stops)-1]
	if t >= last.offset {
		return last.color
	}

	for i := 1; i < len(stops); i++ {
		a, b := stops[i-1], stops[i]
		if t > b.offset {
			continue
		}
		span := b.offset - a.offset
		if span <= 0 {
			return b.color
		}
		f := (t - a.offset) / span
		return color.NRGBA{
			R: lerp8(a.color.R, b.color.R, f),
			G: lerp8(a.color.G, b.color.G, f),
			B: lerp8(a.color.B, b.color.B, f),
			A: lerp8(a.color.A, b.color.A, f),
		}
	}
	return last.color
}

func lerp8(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}

func premultiply(c color.NRGBA, opacity float64) color.RGBA {
	a := float64(c.A) * clamp01(opacity) / 255
	return color.RGBA{
		R: uint8(math.Round(float64(c.R) * a)),
		G: uint8(math.Round(float64(c.G) * a)),
		B: uint8(math.Round(float64(c.B) * a)),
		A: uint8(math.Round(255 * a)),
	}
}

func (gi *gradientImage) ColorModel() color.Model {
	return color.RGBAModel
}

func (gi *gradientImage) Bounds() image.Rectangle {
	return gi.bounds
}

func (gi *gradientImage) At(x, y int) color.Color {
	p := gi.inv.apply(point{float64(x) + 0.5, float64(y) + 0.5})

	var t float64
	if gi.radial {
		t = math.Hypot(p.x-gi.center.x, p.y-gi.center.y) / gi.radius
	} else {
		dx, dy := gi.p2.x-gi.p1.x, gi.p2.y-gi.p1.y
		den := dx*dx + dy*dy
		if den > 0 {
			t = ((p.x-gi.p1.x)*dx + (p.y-gi.p1.y)*dy) / den
		}
	}

	return gi.lut[int(math.Round(clamp01(t)*255))]
}
