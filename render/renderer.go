// Package render rasterizes a constrained SVG subset onto RGBA buffers.
//
// Supported: svg, g, a, use, rect, circle, ellipse, line, polyline, polygon,
// path, text, tspan, image (data URIs), linearGradient and radialGradient.
// Anything else is handled by the configured unsupported-element policy.
package render

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/vector"

	"github.com/saiset-co/sai-og/fonts"
	"github.com/saiset-co/sai-og/types"
)

const (
	defaultFontSize = 16
	maxUseDepth     = 16
	curveTolerance  = 1.0
)

// Options carries per-request overrides.
type Options struct {
	Background *types.Color
	TextColor  *types.Color
}

type Renderer struct {
	logger     types.Logger
	config     *types.RenderConfig
	fonts      *fonts.Manager
	background *types.Color
}

func NewRenderer(logger types.Logger, config *types.RenderConfig, fontManager *fonts.Manager) (*Renderer, error) {
	if config == nil {
		config = &types.RenderConfig{UnsupportedPolicy: types.UnsupportedPolicySkip, DefaultFontSize: defaultFontSize}
	}
	if config.DefaultFontSize <= 0 {
		config.DefaultFontSize = defaultFontSize
	}

	r := &Renderer{
		logger: logger,
		config: config,
		fonts:  fontManager,
	}

	if config.DefaultBackground != "" {
		bg, err := types.ParseColor(config.DefaultBackground)
		if err != nil {
			return nil, types.Errorf(types.ErrConfigValidateFailed, "render.default_background: %v", err)
		}
		r.background = &bg
	}

	return r, nil
}

// Rasterize draws markup onto a new width×height buffer. ctx is only checked
// before work starts; rasterization itself runs to completion.
func (r *Renderer) Rasterize(ctx context.Context, markup string, width, height int, opts *Options) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.WrapKind(types.KindTimeoutError, err, "render cancelled before start")
	}
	if width <= 0 || height <= 0 {
		return nil, types.NewError(types.KindSizeLimitExceeded, "canvas %dx%d", width, height)
	}
	if opts == nil {
		opts = &Options{}
	}

	root, err := parseDocument(markup)
	if err != nil {
		return nil, err
	}

	c := &canvas{
		r:      r,
		dst:    image.NewRGBA(image.Rect(0, 0, width, height)),
		raster: vector.NewRasterizer(width, height),
		ids:    make(map[string]*element),
		faces:  make(map[faceCacheKey]font.Face),
		opts:   opts,
		warned: make(map[string]bool),
	}
	defer c.release()

	collectIDs(root, c.ids)

	background := r.background
	if opts.Background != nil {
		background = opts.Background
	}
	if background != nil {
		draw.Draw(c.dst, c.dst.Bounds(), image.NewUniform(background.NRGBA()), image.Point{}, draw.Src)
	}

	if err := c.renderRoot(root, float64(width), float64(height)); err != nil {
		return nil, err
	}

	return c.dst, nil
}

type faceCacheKey struct {
	font *opentype.Font
	size int
}

type canvas struct {
	r         *Renderer
	dst       *image.RGBA
	raster    *vector.Rasterizer
	ids       map[string]*element
	faces     map[faceCacheKey]font.Face
	opts      *Options
	warned    map[string]bool
	viewportW float64
	viewportH float64
	useDepth  int
}

func (c *canvas) release() {
	for _, face := range c.faces {
		_ = face.Close()
	}
}

// unsupported applies the unsupported-element policy: an error under "fail",
// otherwise one warning per distinct construct.
func (c *canvas) unsupported(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)

	if c.r.config.UnsupportedPolicy == types.UnsupportedPolicyFail {
		return types.NewError(types.KindUnsupportedElement, "%s", msg)
	}

	if !c.warned[msg] {
		c.warned[msg] = true
		c.r.logger.Warn("Skipping unsupported markup", zap.String("construct", msg))
	}
	return nil
}

func (c *canvas) diagonal() float64 {
	return math.Sqrt((c.viewportW*c.viewportW + c.viewportH*c.viewportH) / 2)
}

func (c *canvas) renderRoot(root *element, width, height float64) error {
	vb, ok := parseViewBox(root.attrOr("viewBox", ""))
	if !ok {
		vb = [4]float64{0, 0, width, height}
		w, okW := parseLength(root.attrOr("width", ""), width, 0)
		h, okH := parseLength(root.attrOr("height", ""), height, 0)
		if okW && okH && w > 0 && h > 0 {
			vb[2], vb[3] = w, h
		}
	}

	c.viewportW, c.viewportH = vb[2], vb[3]
	ctm := viewBoxTransform(vb, width, height, root.attrOr("preserveAspectRatio", ""))

	st, err := c.cascade(defaultStyle(c.r.config.DefaultFontSize), properties(root))
	if err != nil {
		return err
	}

	return c.renderChildren(root, st, ctm)
}

func (c *canvas) renderChildren(el *element, st style, ctm matrix) error {
	for _, child := range el.children {
		if err := c.render(child, st, ctm); err != nil {
			return err
		}
	}
	return nil
}

func (c *canvas) render(el *element, parent style, ctm matrix) error {
	switch el.name {
	case textNodeName, "title", "desc", "metadata", "defs", "linearGradient", "radialGradient", "stop", "symbol":
		return nil
	}

	props := properties(el)
	if props["display"] == "none" {
		return nil
	}

	st, err := c.cascade(parent, props)
	if err != nil {
		return err
	}

	if t, ok := el.attr("transform"); ok {
		m, err := parseTransform(t)
		if err != nil {
			if err := c.unsupported("transform %q", t); err != nil {
				return err
			}
		} else {
			ctm = ctm.mul(m)
		}
	}

	switch el.name {
	case "g", "a":
		return c.renderChildren(el, st, ctm)
	case "svg":
		return c.renderNested(el, st, ctm)
	case "use":
		return c.renderUse(el, st, ctm)
	case "text":
		if st.hidden {
			return nil
		}
		return c.drawText(el, st, ctm)
	case "image":
		if st.hidden {
			return nil
		}
		return c.renderImage(el, st, ctm)
	}

	p, fillable, known, err := c.shape(el, st)
	if err != nil {
		return err
	}
	if !known {
		return c.unsupported("element <%s>", el.name)
	}
	if st.hidden {
		return nil
	}

	return c.drawShape(p, fillable, st, ctm)
}

func (c *canvas) renderNested(el *element, st style, ctm matrix) error {
	x := c.length(el, "x", c.viewportW, st)
	y := c.length(el, "y", c.viewportH, st)
	w, okW := parseLength(el.attrOr("width", "100%"), c.viewportW, st.fontSize)
	h, okH := parseLength(el.attrOr("height", "100%"), c.viewportH, st.fontSize)
	if !okW || !okH || w <= 0 || h <= 0 {
		return nil
	}

	vb, ok := parseViewBox(el.attrOr("viewBox", ""))
	if !ok {
		vb = [4]float64{0, 0, w, h}
	}

	savedW, savedH := c.viewportW, c.viewportH
	c.viewportW, c.viewportH = vb[2], vb[3]
	defer func() { c.viewportW, c.viewportH = savedW, savedH }()

	inner := ctm.mul(translate(x, y)).mul(viewBoxTransform(vb, w, h, el.attrOr("preserveAspectRatio", "")))
	return c.renderChildren(el, st, inner)
}

func (c *canvas) renderUse(el *element, st style, ctm matrix) error {
	href := el.attrOr("href", "")
	if len(href) < 2 || href[0] != '#' {
		return c.unsupported("use href %q", href)
	}

	target, ok := c.ids[href[1:]]
	if !ok {
		return c.unsupported("use of missing #%s", href[1:])
	}
	if c.useDepth >= maxUseDepth {
		return types.NewError(types.KindRenderError, "use nesting deeper than %d", maxUseDepth)
	}

	c.useDepth++
	defer func() { c.useDepth-- }()

	ctm = ctm.mul(translate(c.length(el, "x", c.viewportW, st), c.length(el, "y", c.viewportH, st)))
	if target.name == "symbol" {
		return c.renderChildren(target, st, ctm)
	}
	return c.render(target, st, ctm)
}

func (c *canvas) renderImage(el *element, st style, ctm matrix) error {
	href := el.attrOr("href", "")
	img, err := decodeDataURI(href)
	if err != nil {
		if types.KindOf(err) == types.KindUnsupportedElement {
			return c.unsupported("%s", err.Error())
		}
		return err
	}

	b := img.Bounds()
	x := c.length(el, "x", c.viewportW, st)
	y := c.length(el, "y", c.viewportH, st)

	w, ok := parseLength(el.attrOr("width", ""), c.viewportW, st.fontSize)
	if !ok {
		w = float64(b.Dx())
	}
	h, ok := parseLength(el.attrOr("height", ""), c.viewportH, st.fontSize)
	if !ok {
		h = float64(b.Dy())
	}

	c.drawImage(img, x, y, w, h, el.attrOr("preserveAspectRatio", ""), ctm, st.opacity)
	return nil
}

func (c *canvas) length(el *element, name string, ref float64, st style) float64 {
	v, _ := parseLength(el.attrOr(name, ""), ref, st.fontSize)
	return v
}

// shape builds user-space geometry for basic shapes. known is false for
// element names that are not shapes.
func (c *canvas) shape(el *element, st style) (p path, fillable, known bool, err error) {
	switch el.name {
	case "rect":
		x := c.length(el, "x", c.viewportW, st)
		y := c.length(el, "y", c.viewportH, st)
		w := c.length(el, "width", c.viewportW, st)
		h := c.length(el, "height", c.viewportH, st)
		rx := c.length(el, "rx", c.viewportW, st)
		ry := c.length(el, "ry", c.viewportH, st)
		if w <= 0 || h <= 0 {
			return nil, true, true, nil
		}
		return rectPath(x, y, w, h, rx, ry), true, true, nil

	case "circle":
		r := c.length(el, "r", c.diagonal(), st)
		if r <= 0 {
			return nil, true, true, nil
		}
		return ellipsePath(c.length(el, "cx", c.viewportW, st), c.length(el, "cy", c.viewportH, st), r, r), true, true, nil

	case "ellipse":
		rx := c.length(el, "rx", c.viewportW, st)
		ry := c.length(el, "ry", c.viewportH, st)
		if rx <= 0 || ry <= 0 {
			return nil, true, true, nil
		}
		return ellipsePath(c.length(el, "cx", c.viewportW, st), c.length(el, "cy", c.viewportH, st), rx, ry), true, true, nil

	case "line":
		var l path
		l.moveTo(point{c.length(el, "x1", c.viewportW, st), c.length(el, "y1", c.viewportH, st)})
		l.lineTo(point{c.length(el, "x2", c.viewportW, st), c.length(el, "y2", c.viewportH, st)})
		return l, false, true, nil

	case "polyline", "polygon":
		nums, err := parseNumberList(el.attrOr("points", ""))
		if err != nil {
			return nil, false, true, err
		}
		return polyPath(nums, el.name == "polygon"), true, true, nil

	case "path":
		p, err := parsePathData(el.attrOr("d", ""))
		if err != nil {
			return nil, false, true, err
		}
		return p, true, true, nil
	}

	return nil, false, false, nil
}

func (c *canvas) drawShape(p path, fillable bool, st style, ctm matrix) error {
	if len(p) == 0 {
		return nil
	}

	min, max, ok := p.bounds()
	if !ok {
		return nil
	}
	device := p.transform(ctm)

	if fillable && st.fill.kind != paintNone {
		src, ok, err := c.paintSource(st.fill, st.fillOpacity*st.opacity, min, max, ctm)
		if err != nil {
			return err
		}
		if ok {
			c.fill(device, 0, src)
		}
	}

	if st.stroke.kind != paintNone && st.strokeWidth > 0 {
		src, ok, err := c.paintSource(st.stroke, st.strokeOpacity*st.opacity, min, max, ctm)
		if err != nil {
			return err
		}
		if ok {
			c.stroke(device, st.strokeWidth*ctm.scaleFactor(), st.lineCap, src)
		}
	}

	return nil
}

// area returns the device rectangle covering p grown by pad pixels.
func (c *canvas) area(p path, pad float64) image.Rectangle {
	min, max, ok := p.bounds()
	if !ok {
		return image.Rectangle{}
	}
	r := image.Rect(
		int(math.Floor(min.x-pad)), int(math.Floor(min.y-pad)),
		int(math.Ceil(max.x+pad))+1, int(math.Ceil(max.y+pad))+1,
	)
	return r.Intersect(c.dst.Bounds())
}

func (c *canvas) fill(device path, pad float64, src image.Image) {
	r := c.area(device, pad)
	if r.Empty() {
		return
	}

	local := device.transform(translate(-float64(r.Min.X), -float64(r.Min.Y)))

	c.raster.Reset(r.Dx(), r.Dy())
	for _, seg := range local {
		switch seg.kind {
		case segMove:
			c.raster.MoveTo(float32(seg.pts[0].x), float32(seg.pts[0].y))
		case segLine:
			c.raster.LineTo(float32(seg.pts[0].x), float32(seg.pts[0].y))
		case segQuad:
			c.raster.QuadTo(float32(seg.pts[0].x), float32(seg.pts[0].y), float32(seg.pts[1].x), float32(seg.pts[1].y))
		case segCubic:
			c.raster.CubeTo(float32(seg.pts[0].x), float32(seg.pts[0].y), float32(seg.pts[1].x), float32(seg.pts[1].y), float32(seg.pts[2].x), float32(seg.pts[2].y))
		case segClose:
			c.raster.ClosePath()
		}
	}
	c.raster.Draw(c.dst, r, src, r.Min)
}

func (c *canvas) stroke(device path, width float64, lc lineCap, src image.Image) {
	r := c.area(device, width+1)
	if r.Empty() {
		return
	}

	local := device.transform(translate(-float64(r.Min.X), -float64(r.Min.Y)))

	c.raster.Reset(r.Dx(), r.Dy())
	strokeOutline(c.raster, local.flatten(curveTolerance), width, lc)
	c.raster.Draw(c.dst, r, src, r.Min)
}

func (c *canvas) paintSource(p paint, opacity float64, min, max point, ctm matrix) (image.Image, bool, error) {
	if opacity <= 0 {
		return nil, false, nil
	}

	switch p.kind {
	case paintColor:
		return image.NewUniform(premultiply(p.color.NRGBA(), opacity)), true, nil

	case paintRef:
		el, ok := c.ids[p.ref]
		if !ok || (el.name != "linearGradient" && el.name != "radialGradient") {
			return nil, false, c.unsupported("paint server #%s", p.ref)
		}
		g, err := c.resolveGradient(el)
		if err != nil {
			return nil, false, c.unsupported("gradient #%s: %v", p.ref, err)
		}
		src, ok := c.gradientSource(g, min, max, ctm, opacity)
		return src, ok, nil
	}

	return nil, false, nil
}
