package render

import (
	"math"
	"strconv"

	"github.com/saiset-co/sai-og/types"
)

type segKind uint8

const (
	segMove segKind = iota
	segLine
	segQuad
	segCubic
	segClose
)

// segment points: Move/Line use pts[0], Quad pts[0..1], Cubic pts[0..2].
type segment struct {
	kind segKind
	pts  [3]point
}

type path []segment

func (p *path) moveTo(a point)       { *p = append(*p, segment{kind: segMove, pts: [3]point{a}}) }
func (p *path) lineTo(a point)       { *p = append(*p, segment{kind: segLine, pts: [3]point{a}}) }
func (p *path) quadTo(a, b point)    { *p = append(*p, segment{kind: segQuad, pts: [3]point{a, b}}) }
func (p *path) cubeTo(a, b, c point) { *p = append(*p, segment{kind: segCubic, pts: [3]point{a, b, c}}) }
func (p *path) close()               { *p = append(*p, segment{kind: segClose}) }

func (p path) transform(m matrix) path {
	out := make(path, len(p))
	for i, seg := range p {
		out[i].kind = seg.kind
		for j := range seg.pts {
			out[i].pts[j] = m.apply(seg.pts[j])
		}
	}
	return out
}

func (p path) pointCount(kind segKind) int {
	switch kind {
	case segMove, segLine:
		return 1
	case segQuad:
		return 2
	case segCubic:
		return 3
	}
	return 0
}

// bounds is the box around every on-curve and control point.
func (p path) bounds() (min, max point, ok bool) {
	min = point{math.Inf(1), math.Inf(1)}
	max = point{math.Inf(-1), math.Inf(-1)}

	for _, seg := range p {
		for i := 0; i < p.pointCount(seg.kind); i++ {
			pt := seg.pts[i]
			min.x = math.Min(min.x, pt.x)
			min.y = math.Min(min.y, pt.y)
			max.x = math.Max(max.x, pt.x)
			max.y = math.Max(max.y, pt.y)
			ok = true
		}
	}
	return min, max, ok
}

type polyline struct {
	pts    []point
	closed bool
}

// flatten approximates curves with line segments no longer than tol.
func (p path) flatten(tol float64) []polyline {
	var lines []polyline
	var cur *polyline
	var pen, start point

	ensure := func() {
		if cur == nil {
			lines = append(lines, polyline{pts: []point{pen}})
			cur = &lines[len(lines)-1]
		}
	}

	for _, seg := range p {
		switch seg.kind {
		case segMove:
			cur = nil
			pen, start = seg.pts[0], seg.pts[0]
		case segLine:
			ensure()
			cur.pts = append(cur.pts, seg.pts[0])
			pen = seg.pts[0]
		case segQuad:
			ensure()
			n := curveSteps(tol, pen, seg.pts[0], seg.pts[1])
			for i := 1; i <= n; i++ {
				t := float64(i) / float64(n)
				mt := 1 - t
				cur.pts = append(cur.pts, point{
					mt*mt*pen.x + 2*mt*t*seg.pts[0].x + t*t*seg.pts[1].x,
					mt*mt*pen.y + 2*mt*t*seg.pts[0].y + t*t*seg.pts[1].y,
				})
			}
			pen = seg.pts[1]
		case segCubic:
			ensure()
			n := curveSteps(tol, pen, seg.pts[0], seg.pts[1], seg.pts[2])
			for i := 1; i <= n; i++ {
				t := float64(i) / float64(n)
				mt := 1 - t
				a, b, c, d := mt*mt*mt, 3*mt*mt*t, 3*mt*t*t, t*t*t
				cur.pts = append(cur.pts, point{
					a*pen.x + b*seg.pts[0].x + c*seg.pts[1].x + d*seg.pts[2].x,
					a*pen.y + b*seg.pts[0].y + c*seg.pts[1].y + d*seg.pts[2].y,
				})
			}
			pen = seg.pts[2]
		case segClose:
			if cur != nil {
				cur.closed = true
				cur = nil
			}
			pen = start
		}
	}

	return lines
}

func curveSteps(tol float64, pts ...point) int {
	length := 0.0
	for i := 1; i < len(pts); i++ {
		length += math.Hypot(pts[i].x-pts[i-1].x, pts[i].y-pts[i-1].y)
	}
	n := int(math.Ceil(length / tol))
	if n < 1 {
		return 1
	}
	if n > 256 {
		return 256
	}
	return n
}

// kappa places cubic control points for a quarter ellipse.
const kappa = 0.5522847498307936

func ellipsePath(cx, cy, rx, ry float64) path {
	var p path
	kx, ky := rx*kappa, ry*kappa

	p.moveTo(point{cx + rx, cy})
	p.cubeTo(point{cx + rx, cy + ky}, point{cx + kx, cy + ry}, point{cx, cy + ry})
	p.cubeTo(point{cx - kx, cy + ry}, point{cx - rx, cy + ky}, point{cx - rx, cy})
	p.cubeTo(point{cx - rx, cy - ky}, point{cx - kx, cy - ry}, point{cx, cy - ry})
	p.cubeTo(point{cx + kx, cy - ry}, point{cx + rx, cy - ky}, point{cx + rx, cy})
	p.close()
	return p
}

func rectPath(x, y, w, h, rx, ry float64) path {
	var p path

	if rx <= 0 && ry <= 0 {
		p.moveTo(point{x, y})
		p.lineTo(point{x + w, y})
		p.lineTo(point{x + w, y + h})
		p.lineTo(point{x, y + h})
		p.close()
		return p
	}

	if rx <= 0 {
		rx = ry
	}
	if ry <= 0 {
		ry = rx
	}
	rx = math.Min(rx, w/2)
	ry = math.Min(ry, h/2)
	kx, ky := rx*kappa, ry*kappa

	p.moveTo(point{x + rx, y})
	p.lineTo(point{x + w - rx, y})
	p.cubeTo(point{x + w - rx + kx, y}, point{x + w, y + ry - ky}, point{x + w, y + ry})
	p.lineTo(point{x + w, y + h - ry})
	p.cubeTo(point{x + w, y + h - ry + ky}, point{x + w - rx + kx, y + h}, point{x + w - rx, y + h})
	p.lineTo(point{x + rx, y + h})
	p.cubeTo(point{x + rx - kx, y + h}, point{x, y + h - ry + ky}, point{x, y + h - ry})
	p.lineTo(point{x, y + ry})
	p.cubeTo(point{x, y + ry - ky}, point{x + rx - kx, y}, point{x + rx, y})
	p.close()
	return p
}

func polyPath(nums []float64, closed bool) path {
	var p path
	for i := 0; i+1 < len(nums); i += 2 {
		pt := point{nums[i], nums[i+1]}
		if i == 0 {
			p.moveTo(pt)
		} else {
			p.lineTo(pt)
		}
	}
	if closed && len(p) > 0 {
		p.close()
	}
	return p
}

// parsePathData reads SVG path data (M L H V C S Q T A Z, absolute and
// relative) into absolute segments.
func parsePathData(d string) (path, error) {
	s := &pathScanner{src: d}
	var p path
	var pen, start, lastCtrl point
	var prev byte

	for {
		s.skipSeparators()
		if s.done() {
			break
		}

		cmd := s.src[s.pos]
		if isCommand(cmd) {
			s.pos++
		} else if prev != 0 && prev != 'Z' && prev != 'z' {
			// implicit repeat; a repeated moveto becomes lineto
			cmd = prev
			if cmd == 'M' {
				cmd = 'L'
			} else if cmd == 'm' {
				cmd = 'l'
			}
		} else {
			return nil, types.NewError(types.KindRenderError, "path data: expected command at %d", s.pos)
		}

		rel := cmd >= 'a'
		base := point{}
		if rel {
			base = pen
		}
		upper := cmd
		if rel {
			upper -= 'a' - 'A'
		}

		switch upper {
		case 'M':
			pt, err := s.point(base)
			if err != nil {
				return nil, err
			}
			p.moveTo(pt)
			pen, start, lastCtrl = pt, pt, pt

		case 'L':
			pt, err := s.point(base)
			if err != nil {
				return nil, err
			}
			p.lineTo(pt)
			pen, lastCtrl = pt, pt

		case 'H':
			x, err := s.number()
			if err != nil {
				return nil, err
			}
			pt := point{x + base.x, pen.y}
			p.lineTo(pt)
			pen, lastCtrl = pt, pt

		case 'V':
			y, err := s.number()
			if err != nil {
				return nil, err
			}
			pt := point{pen.x, y + base.y}
			p.lineTo(pt)
			pen, lastCtrl = pt, pt

		case 'C':
			pts, err := s.points(base, 3)
			if err != nil {
				return nil, err
			}
			p.cubeTo(pts[0], pts[1], pts[2])
			lastCtrl, pen = pts[1], pts[2]

		case 'S':
			pts, err := s.points(base, 2)
			if err != nil {
				return nil, err
			}
			c1 := pen
			if prev == 'C' || prev == 'c' || prev == 'S' || prev == 's' {
				c1 = mirror(lastCtrl, pen)
			}
			p.cubeTo(c1, pts[0], pts[1])
			lastCtrl, pen = pts[0], pts[1]

		case 'Q':
			pts, err := s.points(base, 2)
			if err != nil {
				return nil, err
			}
			p.quadTo(pts[0], pts[1])
			lastCtrl, pen = pts[0], pts[1]

		case 'T':
			pt, err := s.point(base)
			if err != nil {
				return nil, err
			}
			ctrl := pen
			if prev == 'Q' || prev == 'q' || prev == 'T' || prev == 't' {
				ctrl = mirror(lastCtrl, pen)
			}
			p.quadTo(ctrl, pt)
			lastCtrl, pen = ctrl, pt

		case 'A':
			nums := make([]float64, 0, 5)
			for i := 0; i < 5; i++ {
				var v float64
				var err error
				if i == 3 || i == 4 {
					v, err = s.flag()
				} else {
					v, err = s.number()
				}
				if err != nil {
					return nil, err
				}
				nums = append(nums, v)
			}
			end, err := s.point(base)
			if err != nil {
				return nil, err
			}
			arcTo(&p, pen, nums[0], nums[1], nums[2], nums[3] != 0, nums[4] != 0, end)
			pen, lastCtrl = end, end

		case 'Z':
			p.close()
			pen, lastCtrl = start, start

		default:
			return nil, types.NewError(types.KindRenderError, "path data: unknown command %q", cmd)
		}

		prev = cmd
	}

	return p, nil
}

func mirror(ctrl, about point) point {
	return point{2*about.x - ctrl.x, 2*about.y - ctrl.y}
}

// arcTo appends an elliptical arc as cubic segments, using the endpoint to
// center conversion from the SVG implementation notes.
func arcTo(p *path, from point, rx, ry, phiDeg float64, large, sweep bool, to point) {
	if from == to {
		return
	}
	rx, ry = math.Abs(rx), math.Abs(ry)
	if rx == 0 || ry == 0 {
		p.lineTo(to)
		return
	}

	phi := phiDeg * math.Pi / 180
	sinPhi, cosPhi := math.Sincos(phi)

	dx := (from.x - to.x) / 2
	dy := (from.y - to.y) / 2
	x1 := cosPhi*dx + sinPhi*dy
	y1 := -sinPhi*dx + cosPhi*dy

	lambda := (x1*x1)/(rx*rx) + (y1*y1)/(ry*ry)
	if lambda > 1 {
		s := math.Sqrt(lambda)
		rx *= s
		ry *= s
	}

	num := rx*rx*ry*ry - rx*rx*y1*y1 - ry*ry*x1*x1
	den := rx*rx*y1*y1 + ry*ry*x1*x1
	coef := 0.0
	if den != 0 && num > 0 {
		coef = math.Sqrt(num / den)
	}
	if large == sweep {
		coef = -coef
	}

	cxp := coef * rx * y1 / ry
	cyp := -coef * ry * x1 / rx

	cx := cosPhi*cxp - sinPhi*cyp + (from.x+to.x)/2
	cy := sinPhi*cxp + cosPhi*cyp + (from.y+to.y)/2

	theta1 := vectorAngle(1, 0, (x1-cxp)/rx, (y1-cyp)/ry)
	delta := vectorAngle((x1-cxp)/rx, (y1-cyp)/ry, (-x1-cxp)/rx, (-y1-cyp)/ry)

	if !sweep && delta > 0 {
		delta -= 2 * math.Pi
	} else if sweep && delta < 0 {
		delta += 2 * math.Pi
	}

	n := int(math.Ceil(math.Abs(delta) / (math.Pi / 2)))
	step := delta / float64(n)
	t := 4.0 / 3.0 * math.Tan(step/4)

	ellipse := func(angle float64) (point, point) {
		sin, cos := math.Sincos(angle)
		pt := point{
			cx + rx*cos*cosPhi - ry*sin*sinPhi,
			cy + rx*cos*sinPhi + ry*sin*cosPhi,
		}
		deriv := point{
			-rx*sin*cosPhi - ry*cos*sinPhi,
			-rx*sin*sinPhi + ry*cos*cosPhi,
		}
		return pt, deriv
	}

	angle := theta1
	startPt, startD := ellipse(angle)
	for i := 0; i < n; i++ {
		next := angle + step
		endPt, endD := ellipse(next)
		if i == n-1 {
			endPt = to
		}
		p.cubeTo(
			point{startPt.x + t*startD.x, startPt.y + t*startD.y},
			point{endPt.x - t*endD.x, endPt.y - t*endD.y},
			endPt,
		)
		angle, startPt, startD = next, endPt, endD
	}
}

func vectorAngle(ux, uy, vx, vy float64) float64 {
	return math.Atan2(ux*vy-uy*vx, ux*vx+uy*vy)
}

func isCommand(c byte) bool {
	switch c {
	case 'M', 'm', 'L', 'l', 'H', 'h', 'V', 'v', 'C', 'c', 'S', 's', 'Q', 'q', 'T', 't', 'A', 'a', 'Z', 'z':
		return true
	}
	return false
}

type pathScanner struct {
	src string
	pos int
}

func (s *pathScanner) done() bool {
	return s.pos >= len(s.src)
}

func (s *pathScanner) skipSeparators() {
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case ' ', '\t', '\n', '\r', ',':
			s.pos++
		default:
			return
		}
	}
}

func (s *pathScanner) number() (float64, error) {
	s.skipSeparators()
	start := s.pos

	if s.pos < len(s.src) && (s.src[s.pos] == '+' || s.src[s.pos] == '-') {
		s.pos++
	}

	seenDot, seenDigit := false, false
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
			s.pos++
			continue
		case c == '.' && !seenDot:
			seenDot = true
			s.pos++
			continue
		case (c == 'e' || c == 'E') && seenDigit:
			if s.pos+1 < len(s.src) {
				next := s.src[s.pos+1]
				if next == '-' || next == '+' || (next >= '0' && next <= '9') {
					s.pos += 2
					for s.pos < len(s.src) && s.src[s.pos] >= '0' && s.src[s.pos] <= '9' {
						s.pos++
					}
				}
			}
		}
		break
	}

	if !seenDigit {
		return 0, types.NewError(types.KindRenderError, "path data: expected number at %d", start)
	}

	v, err := strconv.ParseFloat(s.src[start:s.pos], 64)
	if err != nil {
		return 0, types.NewError(types.KindRenderError, "path data: invalid number %q", s.src[start:s.pos])
	}
	return v, nil
}

// flag reads an arc flag, which may be packed without separators ("a1 1 0 01 5 5").
func (s *pathScanner) flag() (float64, error) {
	s.skipSeparators()
	if s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '0':
			s.pos++
			return 0, nil
		case '1':
			s.pos++
			return 1, nil
		}
	}
	return 0, types.NewError(types.KindRenderError, "path data: expected flag at %d", s.pos)
}

func (s *pathScanner) point(base point) (point, error) {
	x, err := s.number()
	if err != nil {
		return point{}, err
	}
	y, err := s.number()
	if err != nil {
		return point{}, err
	}
	return point{base.x + x, base.y + y}, nil
}

func (s *pathScanner) points(base point, n int) ([]point, error) {
	pts := make([]point, n)
	for i := range pts {
		pt, err := s.point(base)
		if err != nil {
			return nil, err
		}
		pts[i] = pt
	}
	return pts, nil
}
