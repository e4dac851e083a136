package render

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/math/f64"

	"github.com/saiset-co/sai-og/types"
)

type point struct {
	x, y float64
}

// matrix maps (x, y) to (a*x + c*y + e, b*x + d*y + f).
type matrix struct {
	a, b, c, d, e, f float64
}

func identity() matrix {
	return matrix{a: 1, d: 1}
}

func translate(tx, ty float64) matrix {
	return matrix{a: 1, d: 1, e: tx, f: ty}
}

func scale(sx, sy float64) matrix {
	return matrix{a: sx, d: sy}
}

func rotate(deg float64) matrix {
	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	return matrix{a: cos, b: sin, c: -sin, d: cos}
}

// mul returns m·n: n is applied first.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		a: m.a*n.a + m.c*n.b,
		b: m.b*n.a + m.d*n.b,
		c: m.a*n.c + m.c*n.d,
		d: m.b*n.c + m.d*n.d,
		e: m.a*n.e + m.c*n.f + m.e,
		f: m.b*n.e + m.d*n.f + m.f,
	}
}

func (m matrix) apply(p point) point {
	return point{m.a*p.x + m.c*p.y + m.e, m.b*p.x + m.d*p.y + m.f}
}

func (m matrix) invert() (matrix, bool) {
	det := m.a*m.d - m.b*m.c
	if det == 0 || math.IsNaN(det) {
		return matrix{}, false
	}
	return matrix{
		a: m.d / det,
		b: -m.b / det,
		c: -m.c / det,
		d: m.a / det,
		e: (m.c*m.f - m.d*m.e) / det,
		f: (m.b*m.e - m.a*m.f) / det,
	}, true
}

// scaleFactor is the mean linear scale, used for stroke widths and font sizes.
func (m matrix) scaleFactor() float64 {
	return math.Sqrt(math.Abs(m.a*m.d - m.b*m.c))
}

func (m matrix) rotated() bool {
	const eps = 1e-9
	return math.Abs(m.b) > eps || math.Abs(m.c) > eps || m.a < 0 || m.d < 0
}

func (m matrix) aff3() f64.Aff3 {
	return f64.Aff3{m.a, m.c, m.e, m.b, m.d, m.f}
}

func parseTransform(s string) (matrix, error) {
	m := identity()
	rest := strings.TrimSpace(s)

	for rest != "" {
		open := strings.IndexByte(rest, '(')
		closing := strings.IndexByte(rest, ')')
		if open < 0 || closing < open {
			return identity(), types.NewError(types.KindRenderError, "malformed transform %q", s)
		}

		name := strings.TrimSpace(strings.Trim(rest[:open], ", \t\n"))
		args, err := parseNumberList(rest[open+1 : closing])
		if err != nil {
			return identity(), err
		}
		rest = strings.TrimSpace(strings.TrimLeft(rest[closing+1:], ", \t\n"))

		var t matrix
		switch {
		case name == "matrix" && len(args) == 6:
			t = matrix{args[0], args[1], args[2], args[3], args[4], args[5]}
		case name == "translate" && len(args) == 1:
			t = translate(args[0], 0)
		case name == "translate" && len(args) == 2:
			t = translate(args[0], args[1])
		case name == "scale" && len(args) == 1:
			t = scale(args[0], args[0])
		case name == "scale" && len(args) == 2:
			t = scale(args[0], args[1])
		case name == "rotate" && len(args) == 1:
			t = rotate(args[0])
		case name == "rotate" && len(args) == 3:
			t = translate(args[1], args[2]).mul(rotate(args[0])).mul(translate(-args[1], -args[2]))
		case name == "skewX" && len(args) == 1:
			t = matrix{a: 1, c: math.Tan(args[0] * math.Pi / 180), d: 1}
		case name == "skewY" && len(args) == 1:
			t = matrix{a: 1, b: math.Tan(args[0] * math.Pi / 180), d: 1}
		default:
			return identity(), types.NewError(types.KindUnsupportedElement, "transform %s with %d arguments", name, len(args))
		}

		m = m.mul(t)
	}

	return m, nil
}

func parseNumberList(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})

	out := make([]float64, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, types.NewError(types.KindRenderError, "invalid number %q", field)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseLength reads a length in user units. Percentages resolve against ref;
// em against fontSize. Unknown units are treated as user units.
func parseLength(s string, ref, fontSize float64) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	unitScale := 1.0
	switch {
	case strings.HasSuffix(s, "%"):
		unitScale = ref / 100
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "px"):
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "em"):
		unitScale = fontSize
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "pt"):
		unitScale = 4.0 / 3.0
		s = s[:len(s)-2]
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v * unitScale, true
}

// viewBoxTransform maps a viewBox onto a viewport of size w×h following
// preserveAspectRatio (none, xMinYMin … xMaxYMax, meet | slice).
func viewBoxTransform(vb [4]float64, w, h float64, par string) matrix {
	if vb[2] <= 0 || vb[3] <= 0 {
		return identity()
	}

	sx := w / vb[2]
	sy := h / vb[3]

	fields := strings.Fields(par)
	align := "xMidYMid"
	slice := false
	if len(fields) > 0 {
		align = fields[0]
	}
	if len(fields) > 1 && fields[1] == "slice" {
		slice = true
	}

	if align == "none" {
		return scale(sx, sy).mul(translate(-vb[0], -vb[1]))
	}

	s := math.Min(sx, sy)
	if slice {
		s = math.Max(sx, sy)
	}

	tx := -vb[0] * s
	ty := -vb[1] * s
	extraX := w - vb[2]*s
	extraY := h - vb[3]*s

	switch {
	case strings.HasPrefix(align, "xMid"):
		tx += extraX / 2
	case strings.HasPrefix(align, "xMax"):
		tx += extraX
	}
	switch {
	case strings.HasSuffix(align, "YMid"):
		ty += extraY / 2
	case strings.HasSuffix(align, "YMax"):
		ty += extraY
	}

	return translate(tx, ty).mul(scale(s, s))
}

func parseViewBox(s string) ([4]float64, bool) {
	nums, err := parseNumberList(s)
	if err != nil || len(nums) != 4 || nums[2] <= 0 || nums[3] <= 0 {
		return [4]float64{}, false
	}
	return [4]float64{nums[0], nums[1], nums[2], nums[3]}, true
}
