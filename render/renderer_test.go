package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"golang.org/x/image/font"

	"github.com/saiset-co/sai-og/fonts"
	"github.com/saiset-co/sai-og/logger"
	"github.com/saiset-co/sai-og/types"
)

var white = types.Color{R: 255, G: 255, B: 255, A: 255}

func newTestRenderer(t *testing.T, policy string) *Renderer {
	t.Helper()

	fm := fonts.NewManager(logger.NewNop(), &types.FontsConfig{DefaultFamily: fonts.BuiltinFamily})
	if err := fm.RegisterBuiltins(); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	r, err := NewRenderer(logger.NewNop(), &types.RenderConfig{UnsupportedPolicy: policy, DefaultFontSize: 16}, fm)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return r
}

func rasterize(t *testing.T, r *Renderer, markup string, w, h int, opts *Options) *image.RGBA {
	t.Helper()

	img, err := r.Rasterize(context.Background(), markup, w, h, opts)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	return img
}

func TestRasterizeExactDimensions(t *testing.T) {
	r := newTestRenderer(t, types.UnsupportedPolicySkip)

	img := rasterize(t, r, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 1200 630"><text x="10" y="40">Hello</text></svg>`, 1200, 630, nil)
	if b := img.Bounds(); b.Dx() != 1200 || b.Dy() != 630 {
		t.Fatalf("bounds = %v, want 1200x630", b)
	}
}

func TestRasterizeFillsShapes(t *testing.T) {
	r := newTestRenderer(t, types.UnsupportedPolicySkip)

	img := rasterize(t, r, `<svg viewBox="0 0 100 50">
		<rect x="0" y="0" width="50" height="25" fill="#ff0000"/>
		<circle cx="75" cy="37" r="10" style="fill: rgb(0, 0, 255)"/>
	</svg>`, 200, 100, nil)

	tests := []struct {
		x, y int
		want color.RGBA
	}{
		{x: 90, y: 40, want: color.RGBA{R: 255, A: 255}},
		{x: 150, y: 74, want: color.RGBA{B: 255, A: 255}},
		{x: 110, y: 60, want: color.RGBA{}},
	}

	for _, tt := range tests {
		if got := img.RGBAAt(tt.x, tt.y); got != tt.want {
			t.Errorf("pixel (%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestRasterizeBackgroundAndStroke(t *testing.T) {
	r := newTestRenderer(t, types.UnsupportedPolicySkip)

	img := rasterize(t, r, `<svg viewBox="0 0 100 100">
		<line x1="10" y1="50" x2="90" y2="50" stroke="black" stroke-width="10"/>
	</svg>`, 100, 100, &Options{Background: &white})

	if got := img.RGBAAt(50, 50); got != (color.RGBA{A: 255}) {
		t.Errorf("stroke pixel = %v, want opaque black", got)
	}
	if got := img.RGBAAt(50, 20); got != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("background pixel = %v, want white", got)
	}
}

func TestRasterizeDeterministic(t *testing.T) {
	r := newTestRenderer(t, types.UnsupportedPolicySkip)

	markup := `<svg viewBox="0 0 400 200">
		<defs><linearGradient id="g"><stop offset="0" stop-color="#123456"/><stop offset="1" stop-color="#abcdef"/></linearGradient></defs>
		<rect width="400" height="200" fill="url(#g)"/>
		<path d="M20 20 C 60 0, 100 80, 140 40 S 200 10, 240 60" stroke="white" stroke-width="4" fill="none"/>
		<text x="200" y="120" font-size="32" font-weight="bold" text-anchor="middle">Deterministic</text>
	</svg>`

	a := rasterize(t, r, markup, 400, 200, nil)
	b := rasterize(t, r, markup, 400, 200, nil)
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Fatal("two rasterizations of the same markup differ")
	}
}

func TestRasterizeLinearGradient(t *testing.T) {
	r := newTestRenderer(t, types.UnsupportedPolicySkip)

	img := rasterize(t, r, `<svg viewBox="0 0 100 10">
		<linearGradient id="g"><stop offset="0%" stop-color="red"/><stop offset="100%" stop-color="blue"/></linearGradient>
		<rect width="100" height="10" fill="url(#g)"/>
	</svg>`, 100, 10, nil)

	left, right := img.RGBAAt(1, 5), img.RGBAAt(98, 5)
	if left.R < 240 || left.B > 15 {
		t.Errorf("left pixel = %v, want red", left)
	}
	if right.B < 240 || right.R > 15 {
		t.Errorf("right pixel = %v, want blue", right)
	}
}

func TestRasterizeText(t *testing.T) {
	r := newTestRenderer(t, types.UnsupportedPolicySkip)
	markup := `<svg viewBox="0 0 300 100"><text x="10" y="60" font-size="40">Hello</text></svg>`

	dark := func(img *image.RGBA) int {
		n := 0
		for y := 0; y < 100; y++ {
			for x := 0; x < 300; x++ {
				if c := img.RGBAAt(x, y); c.R < 128 && c.G < 128 {
					n++
				}
			}
		}
		return n
	}

	img := rasterize(t, r, markup, 300, 100, &Options{Background: &white})
	if dark(img) == 0 {
		t.Fatal("text produced no ink")
	}

	red := types.Color{R: 255, A: 255}
	img = rasterize(t, r, markup, 300, 100, &Options{Background: &white, TextColor: &red})
	if dark(img) != 0 {
		t.Fatal("text color override left dark pixels")
	}
}

func TestRasterizeImageDataURI(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i+1], src.Pix[i+3] = 255, 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	r := newTestRenderer(t, types.UnsupportedPolicySkip)
	img := rasterize(t, r, `<svg viewBox="0 0 20 20"><image x="0" y="0" width="10" height="10" href="`+uri+`"/></svg>`, 20, 20, nil)

	if got := img.RGBAAt(5, 5); got.G < 250 || got.R > 5 || got.A < 250 {
		t.Errorf("image pixel = %v, want green", got)
	}
	if got := img.RGBAAt(15, 15); got.A != 0 {
		t.Errorf("outside pixel = %v, want transparent", got)
	}
}

func TestUnsupportedPolicy(t *testing.T) {
	markup := `<svg viewBox="0 0 10 10"><foreignObject/><rect width="10" height="10" fill="red"/></svg>`

	img := rasterize(t, newTestRenderer(t, types.UnsupportedPolicySkip), markup, 10, 10, nil)
	if got := img.RGBAAt(5, 5); got.R != 255 {
		t.Errorf("skip policy dropped supported content, pixel = %v", got)
	}

	_, err := newTestRenderer(t, types.UnsupportedPolicyFail).Rasterize(context.Background(), markup, 10, 10, nil)
	if types.KindOf(err) != types.KindUnsupportedElement {
		t.Fatalf("err = %v, want UnsupportedElement", err)
	}
	if !errors.Is(err, types.ErrUnsupportedElement) {
		t.Fatalf("errors.Is(err, ErrUnsupportedElement) = false")
	}
}

func TestRasterizeErrors(t *testing.T) {
	r := newTestRenderer(t, types.UnsupportedPolicySkip)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name   string
		ctx    context.Context
		markup string
		w, h   int
		kind   types.ErrorKind
	}{
		{name: "malformed", ctx: context.Background(), markup: `<svg><rect></svg>`, w: 10, h: 10, kind: types.KindRenderError},
		{name: "not svg", ctx: context.Background(), markup: `<html/>`, w: 10, h: 10, kind: types.KindRenderError},
		{name: "empty", ctx: context.Background(), markup: ``, w: 10, h: 10, kind: types.KindRenderError},
		{name: "zero width", ctx: context.Background(), markup: `<svg/>`, w: 0, h: 10, kind: types.KindSizeLimitExceeded},
		{name: "cancelled", ctx: cancelled, markup: `<svg/>`, w: 10, h: 10, kind: types.KindTimeoutError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Rasterize(tt.ctx, tt.markup, tt.w, tt.h, nil)
			if got := types.KindOf(err); got != tt.kind {
				t.Fatalf("kind = %q (%v), want %q", got, err, tt.kind)
			}
		})
	}
}

func TestMissingFontStrictPolicy(t *testing.T) {
	fm := fonts.NewManager(logger.NewNop(), &types.FontsConfig{DefaultFamily: fonts.BuiltinFamily, RequireMatch: true})
	if err := fm.RegisterBuiltins(); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	r, err := NewRenderer(logger.NewNop(), &types.RenderConfig{UnsupportedPolicy: types.UnsupportedPolicySkip}, fm)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	_, err = r.Rasterize(context.Background(), `<svg><text font-family="Nope" y="20">x</text></svg>`, 50, 50, nil)
	if types.KindOf(err) != types.KindFontNotFound {
		t.Fatalf("err = %v, want FontNotFound", err)
	}
}

func TestParsePathData(t *testing.T) {
	p, err := parsePathData("M10 10 h 20 v20 H10 z m5 5 l2 2")
	if err != nil {
		t.Fatalf("parsePathData: %v", err)
	}

	end := p[len(p)-1].pts[0]
	if end != (point{17, 17}) {
		t.Fatalf("last point = %v, want {17 17}", end)
	}

	arc, err := parsePathData("M0 0 A10 10 0 0 1 20 0")
	if err != nil {
		t.Fatalf("parsePathData arc: %v", err)
	}
	last := arc[len(arc)-1]
	if last.kind != segCubic {
		t.Fatalf("arc emitted %v, want cubic", last.kind)
	}
	if math.Abs(last.pts[2].x-20) > 1e-6 || math.Abs(last.pts[2].y) > 1e-6 {
		t.Fatalf("arc end = %v, want {20 0}", last.pts[2])
	}

	if _, err := parsePathData("M0 0 X5"); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}

func TestParseTransform(t *testing.T) {
	m, err := parseTransform("translate(10 20) scale(2)")
	if err != nil {
		t.Fatalf("parseTransform: %v", err)
	}
	if got := m.apply(point{1, 1}); got != (point{12, 22}) {
		t.Fatalf("apply = %v, want {12 22}", got)
	}

	m, err = parseTransform("rotate(90)")
	if err != nil {
		t.Fatalf("parseTransform: %v", err)
	}
	got := m.apply(point{1, 0})
	if math.Abs(got.x) > 1e-9 || math.Abs(got.y-1) > 1e-9 {
		t.Fatalf("rotate(90) (1,0) = %v, want (0,1)", got)
	}
}

func TestWrapText(t *testing.T) {
	r := newTestRenderer(t, types.UnsupportedPolicySkip)
	root, err := parseDocument(`<svg><text x="0" y="20" font-size="20" data-max-width="120" data-max-lines="2">one two three four five six seven eight</text></svg>`)
	if err != nil {
		t.Fatalf("parseDocument: %v", err)
	}

	c := &canvas{r: r, dst: image.NewRGBA(image.Rect(0, 0, 200, 200)), faces: make(map[faceCacheKey]font.Face), warned: map[string]bool{}, viewportW: 200, viewportH: 200, opts: &Options{}}
	defer c.release()

	el := root.children[0]
	st, err := c.cascade(defaultStyle(16), properties(el))
	if err != nil {
		t.Fatalf("cascade: %v", err)
	}

	var runs []textRun
	if err := c.collectRuns(el, st, &runs, true); err != nil {
		t.Fatalf("collectRuns: %v", err)
	}
	collapseWhitespace(runs)

	pieces, err := c.wrapText(el, runs, st, 0, 20, 120, 1)
	if err != nil {
		t.Fatalf("wrapText: %v", err)
	}

	lines := map[float64]bool{}
	for _, p := range pieces {
		lines[p.y] = true
		if p.x+p.width > 120.01 {
			t.Errorf("piece %q overflows: x=%v width=%v", p.text, p.x, p.width)
		}
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if last := pieces[len(pieces)-1]; last.text != textEllipsis {
		t.Fatalf("last piece = %q, want ellipsis", last.text)
	}
	if !lines[20] || !lines[20+24] {
		t.Fatalf("line baselines = %v, want 20 and 44", lines)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	runs := []textRun{{text: "  Hello \n\t"}, {text: "  world  "}}
	collapseWhitespace(runs)

	got := runs[0].text + "|" + runs[1].text
	if got != "Hello |world" {
		t.Fatalf("collapsed = %q", got)
	}
	if strings.Contains(got, "  ") {
		t.Fatal("double space survived")
	}
}
