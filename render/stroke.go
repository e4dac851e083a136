package render

import (
	"math"

	"golang.org/x/image/vector"
)

// strokeOutline adds the outline of each device-space polyline to z as a set
// of overlapping polygons: one quad per segment, round joins, and the
// requested caps. Every polygon is wound the same way so the rasterizer's
// accumulated coverage saturates instead of cancelling where they overlap.
func strokeOutline(z *vector.Rasterizer, lines []polyline, width float64, lc lineCap) {
	half := width / 2
	if half <= 0 {
		return
	}

	for _, line := range lines {
		pts := dedupe(line.pts)
		if len(pts) == 1 {
			if lc == capRound {
				addPolygon(z, circlePolygon(pts[0], half))
			} else if lc == capSquare {
				p := pts[0]
				addPolygon(z, []point{{p.x - half, p.y - half}, {p.x + half, p.y - half}, {p.x + half, p.y + half}, {p.x - half, p.y + half}})
			}
			continue
		}

		if line.closed && pts[0] != pts[len(pts)-1] {
			pts = append(pts, pts[0])
		}

		last := len(pts) - 2
		for i := 0; i < len(pts)-1; i++ {
			a, b := pts[i], pts[i+1]

			if !line.closed && lc == capSquare {
				dx, dy := unit(a, b)
				if i == 0 {
					a = point{a.x - dx*half, a.y - dy*half}
				}
				if i == last {
					b = point{b.x + dx*half, b.y + dy*half}
				}
			}

			addPolygon(z, segmentQuad(a, b, half))
		}

		joins := pts[1 : len(pts)-1]
		if line.closed {
			joins = pts[:len(pts)-1]
		}
		for _, p := range joins {
			addPolygon(z, circlePolygon(p, half))
		}

		if !line.closed && lc == capRound {
			addPolygon(z, circlePolygon(pts[0], half))
			addPolygon(z, circlePolygon(pts[len(pts)-1], half))
		}
	}
}

func dedupe(pts []point) []point {
	out := make([]point, 0, len(pts))
	for _, p := range pts {
		if len(out) > 0 && math.Abs(out[len(out)-1].x-p.x) < 1e-9 && math.Abs(out[len(out)-1].y-p.y) < 1e-9 {
			continue
		}
		out = append(out, p)
	}
	return out
}

func unit(a, b point) (float64, float64) {
	dx, dy := b.x-a.x, b.y-a.y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return 0, 0
	}
	return dx / l, dy / l
}

func segmentQuad(a, b point, half float64) []point {
	dx, dy := unit(a, b)
	nx, ny := -dy*half, dx*half
	return []point{
		{a.x + nx, a.y + ny},
		{b.x + nx, b.y + ny},
		{b.x - nx, b.y - ny},
		{a.x - nx, a.y - ny},
	}
}

func circlePolygon(c point, r float64) []point {
	n := int(math.Ceil(2 * math.Pi * r / 2))
	if n < 8 {
		n = 8
	}
	if n > 64 {
		n = 64
	}

	pts := make([]point, n)
	for i := range pts {
		sin, cos := math.Sincos(2 * math.Pi * float64(i) / float64(n))
		pts[i] = point{c.x + r*cos, c.y + r*sin}
	}
	return pts
}

// addPolygon appends a closed polygon with positive signed area.
func addPolygon(z *vector.Rasterizer, pts []point) {
	if len(pts) < 3 {
		return
	}

	area := 0.0
	for i := range pts {
		j := (i + 1) % len(pts)
		area += pts[i].x*pts[j].y - pts[j].x*pts[i].y
	}

	if area < 0 {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}

	z.MoveTo(float32(pts[0].x), float32(pts[0].y))
	for _, p := range pts[1:] {
		z.LineTo(float32(p.x), float32(p.y))
	}
	z.ClosePath()
}
