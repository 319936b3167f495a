// Package render draws journey summaries: the sub-areas a player crossed
// with their path overlaid.
package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"golang.org/x/image/vector"
	"golang.org/x/xerrors"

	"github.com/borderwatch/borderwatch/borderd/geo"
	"github.com/borderwatch/borderwatch/borderd/world"
)

// ContentType is the MIME type of rendered summaries.
const ContentType = "image/png"

// Options tune the rendered image. Zero values take defaults.
type Options struct {
	// Size is the length in pixels of the longer image side.
	Size        int
	Background  color.Color
	AreaFill    color.Color
	AreaBorder  color.Color
	JourneyLine color.Color
	JourneyDot  color.Color
}

func (o Options) withDefaults() Options {
	if o.Size <= 0 {
		o.Size = 800
	}
	if o.Background == nil {
		o.Background = color.NRGBA{R: 0x2f, G: 0x31, B: 0x36, A: 0xff}
	}
	if o.AreaFill == nil {
		o.AreaFill = color.NRGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0x40}
	}
	if o.AreaBorder == nil {
		o.AreaBorder = color.NRGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}
	}
	if o.JourneyLine == nil {
		o.JourneyLine = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xd0}
	}
	if o.JourneyDot == nil {
		o.JourneyDot = color.NRGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
	}
	return o
}

// PNGRenderer rasterizes summaries to PNG.
type PNGRenderer struct {
	opts Options
}

func New(opts Options) *PNGRenderer {
	return &PNGRenderer{opts: opts.withDefaults()}
}

// RenderSummary draws areas filled and outlined, then the journey as a
// polyline with a dot per sample.
func (r *PNGRenderer) RenderSummary(ctx context.Context, areas []world.Area, journey []geo.Point) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bounds := geo.EmptyRect()
	for _, a := range areas {
		bounds = bounds.Union(a.Polygon.Bounds())
	}
	for _, p := range journey {
		bounds = bounds.Extend(p)
	}
	if bounds.Empty() {
		return nil, xerrors.New("nothing to render")
	}
	// Keep single points and flat lines visible.
	span := math.Max(bounds.Width(), bounds.Height())
	bounds = bounds.Pad(math.Max(span*0.05, 16))

	vp := newViewport(bounds, r.opts.Size)
	img := image.NewRGBA(image.Rect(0, 0, vp.width, vp.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(r.opts.Background), image.Point{}, draw.Src)

	for _, a := range areas {
		if len(a.Polygon) < 3 {
			continue
		}
		vp.fillPolygon(img, a.Polygon, r.opts.AreaFill)
		outline := make([]geo.Point, 0, len(a.Polygon)+1)
		outline = append(outline, a.Polygon...)
		vp.strokePolyline(img, append(outline, a.Polygon[0]), 1.5, r.opts.AreaBorder)
	}
	if len(journey) > 1 {
		vp.strokePolyline(img, journey, 2, r.opts.JourneyLine)
	}
	for _, p := range journey {
		vp.dot(img, p, 3, r.opts.JourneyDot)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, xerrors.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// viewport maps world (x, z) onto image pixels; z grows downwards.
type viewport struct {
	origin        geo.Point
	scale         float64
	width, height int
}

func newViewport(bounds geo.Rect, size int) viewport {
	span := math.Max(bounds.Width(), bounds.Height())
	scale := float64(size) / span
	return viewport{
		origin: bounds.Min,
		scale:  scale,
		width:  max(1, int(math.Round(bounds.Width()*scale))),
		height: max(1, int(math.Round(bounds.Height()*scale))),
	}
}

func (v viewport) project(p geo.Point) (float32, float32) {
	return float32((p.X - v.origin.X) * v.scale), float32((p.Z - v.origin.Z) * v.scale)
}

func (v viewport) rasterizer() *vector.Rasterizer {
	z := vector.NewRasterizer(v.width, v.height)
	z.DrawOp = draw.Over
	return z
}

func (v viewport) fillPolygon(dst draw.Image, poly geo.Polygon, c color.Color) {
	z := v.rasterizer()
	x, y := v.project(poly[0])
	z.MoveTo(x, y)
	for _, p := range poly[1:] {
		x, y := v.project(p)
		z.LineTo(x, y)
	}
	z.ClosePath()
	z.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
}

// strokePolyline draws each segment as a quad of the given pixel width.
func (v viewport) strokePolyline(dst draw.Image, pts []geo.Point, width float32, c color.Color) {
	z := v.rasterizer()
	half := width / 2
	for i := 1; i < len(pts); i++ {
		ax, ay := v.project(pts[i-1])
		bx, by := v.project(pts[i])
		dx, dy := bx-ax, by-ay
		length := float32(math.Hypot(float64(dx), float64(dy)))
		if length == 0 {
			continue
		}
		nx, ny := -dy/length*half, dx/length*half
		z.MoveTo(ax+nx, ay+ny)
		z.LineTo(bx+nx, by+ny)
		z.LineTo(bx-nx, by-ny)
		z.LineTo(ax-nx, ay-ny)
		z.ClosePath()
	}
	z.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
}

// dot draws a filled circle approximated by a 16-gon.
func (v viewport) dot(dst draw.Image, p geo.Point, radius float64, c color.Color) {
	const sides = 16
	z := v.rasterizer()
	cx, cy := v.project(p)
	for i := 0; i < sides; i++ {
		angle := 2 * math.Pi * float64(i) / sides
		x := cx + float32(radius*math.Cos(angle))
		y := cy + float32(radius*math.Sin(angle))
		if i == 0 {
			z.MoveTo(x, y)
			continue
		}
		z.LineTo(x, y)
	}
	z.ClosePath()
	z.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
}
